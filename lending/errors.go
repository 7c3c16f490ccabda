package lending

import (
	"errors"
	"fmt"
)

// Kind classifies a lending failure so callers can render it.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotAuthenticated
	KindToolNotFound
	KindToolUnavailable
	KindPastPickupDate
	KindReturnBeforePickup
	KindLoanTooLong
	KindValidationFailed
	KindExternalServiceFailure
	KindReservationNotFound
	KindInvalidTransition
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindNotAuthenticated:       "not authenticated",
	KindToolNotFound:           "tool not found",
	KindToolUnavailable:        "tool unavailable",
	KindPastPickupDate:         "pickup date cannot be in the past",
	KindReturnBeforePickup:     "return date must be after pickup date",
	KindLoanTooLong:            "maximum loan period is 14 days",
	KindValidationFailed:       "validation failed",
	KindExternalServiceFailure: "external service failure",
	KindReservationNotFound:    "reservation not found",
	KindInvalidTransition:      "invalid status transition",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the tagged failure returned by policy and Store operations.
type Error struct {
	Kind  Kind
	Field string // set for KindValidationFailed
	Msg   string
	Err   error // upstream cause for KindExternalServiceFailure
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrLoanTooLong) works
// regardless of message or field.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotAuthenticated       = &Error{Kind: KindNotAuthenticated}
	ErrToolNotFound           = &Error{Kind: KindToolNotFound}
	ErrToolUnavailable        = &Error{Kind: KindToolUnavailable}
	ErrPastPickupDate         = &Error{Kind: KindPastPickupDate}
	ErrReturnBeforePickup     = &Error{Kind: KindReturnBeforePickup}
	ErrLoanTooLong            = &Error{Kind: KindLoanTooLong}
	ErrValidationFailed       = &Error{Kind: KindValidationFailed}
	ErrExternalServiceFailure = &Error{Kind: KindExternalServiceFailure}
	ErrReservationNotFound    = &Error{Kind: KindReservationNotFound}
	ErrInvalidTransition      = &Error{Kind: KindInvalidTransition}
)

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ValidationError reports a field-level problem.
func ValidationError(field, msg string) error {
	return &Error{Kind: KindValidationFailed, Field: field, Msg: msg}
}

// ExternalFailure wraps an identity-provider or record-API failure. Errors that
// already carry a Kind pass through unchanged.
func ExternalFailure(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindExternalServiceFailure, Err: err}
}
