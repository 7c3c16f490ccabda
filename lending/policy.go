package lending

import (
	"math"
	"sort"
	"time"
)

// MaxLoanDays is the longest span a single reservation may cover.
const MaxLoanDays = 14

const dateLayout = "2006-01-02"

const day = 24 * time.Hour

// ParseDate parses a YYYY-MM-DD calendar date into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, ValidationError("date", "expected YYYY-MM-DD")
	}
	return t, nil
}

// FormatDate renders a calendar date as YYYY-MM-DD.
func FormatDate(t time.Time) string { return t.Format(dateLayout) }

// DateOf drops the time of day, keeping t's calendar date at UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidateReservationWindow checks a requested pickup/return pair against now.
// Pickup is compared by calendar date only.
func ValidateReservationWindow(start, end, now time.Time) error {
	start, end = DateOf(start), DateOf(end)
	if start.Before(DateOf(now)) {
		return &Error{Kind: KindPastPickupDate}
	}
	if !end.After(start) {
		return &Error{Kind: KindReturnBeforePickup}
	}
	if days := int(math.Ceil(end.Sub(start).Hours() / 24)); days > MaxLoanDays {
		return &Error{Kind: KindLoanTooLong}
	}
	return nil
}

// ComputeAvailability reports whether no pending or active reservation references tool.
func ComputeAvailability(tool Tool, reservations []Reservation) bool {
	for _, r := range reservations {
		if r.ToolID == tool.ID && r.Status.Holding() {
			return false
		}
	}
	return true
}

// DaysRemaining returns the whole days left until an active reservation's
// return date, rounded up. Negative values mean overdue. ok is false for any
// status other than active.
func DaysRemaining(r Reservation, now time.Time) (days int, ok bool) {
	if r.Status != StatusActive {
		return 0, false
	}
	return int(math.Ceil(float64(r.EndDate.Sub(now)) / float64(day))), true
}

var transitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusCancelled},
	StatusActive:  {StatusCompleted},
}

// CanTransition reports whether a reservation may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var statusOrder = map[Status]int{
	StatusActive:    0,
	StatusPending:   1,
	StatusCompleted: 2,
	StatusCancelled: 3,
}

// SortReservations orders reservations active first, then pending, completed
// and cancelled; within a status the newest comes first.
func SortReservations(rs []Reservation) {
	sort.SliceStable(rs, func(i, j int) bool {
		if oi, oj := statusOrder[rs[i].Status], statusOrder[rs[j].Status]; oi != oj {
			return oi < oj
		}
		return rs[i].Created.After(rs[j].Created)
	})
}
