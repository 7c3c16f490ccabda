// Package identity is a local identity provider: email/password accounts with
// bcrypt hashes, sign-up validation and a session-change event stream.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// EventType names a session change.
type EventType string

const (
	SignedIn  EventType = "SIGNED_IN"
	SignedOut EventType = "SIGNED_OUT"
)

// Event is delivered to subscribers on every session change.
type Event struct {
	Type   EventType
	UserID string
}

// Profile is the public part of an account.
type Profile struct {
	ID           string
	Name         string
	Email        string
	Neighborhood string
	AreaCode     string
	AvatarURL    string
	CreatedAt    time.Time
}

// Account is a stored profile plus its password hash.
type Account struct {
	Profile
	PasswordHash []byte
}

// AccountStore persists accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, a Account) error
	AccountByEmail(ctx context.Context, email string) (Account, error)
	AccountByID(ctx context.Context, id string) (Account, error)
}

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid login credentials")
)

// ValidationError reports a sign-up or sign-in field that failed its rules.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

// SignUpRequest carries the credentials and profile fields of a new account.
type SignUpRequest struct {
	Email        string `validate:"required,email"`
	Password     string `validate:"required,min=6"`
	Name         string `validate:"required"`
	Neighborhood string `validate:"required"`
	AreaCode     string `validate:"required,areacode"`
}

var areaCodePattern = regexp.MustCompile(`^[0-9]{5}$`)

var identityValidate *validator.Validate

func init() {
	identityValidate = validator.New()
	_ = identityValidate.RegisterValidation("areacode", func(fl validator.FieldLevel) bool {
		return areaCodePattern.MatchString(fl.Field().String())
	})
}

func validateSignUp(req SignUpRequest) error {
	err := identityValidate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Msg: err.Error()}
	}
	fe := verrs[0]
	switch {
	case fe.Tag() == "required":
		return &ValidationError{Field: fe.Field(), Msg: "please fill in all fields"}
	case fe.Field() == "Password":
		return &ValidationError{Field: fe.Field(), Msg: "password must be at least 6 characters long"}
	case fe.Field() == "AreaCode":
		return &ValidationError{Field: fe.Field(), Msg: "area code must be 5 digits"}
	case fe.Field() == "Email":
		return &ValidationError{Field: fe.Field(), Msg: "please enter a valid email address"}
	}
	return &ValidationError{Field: fe.Field(), Msg: fmt.Sprintf("%s failed %q check", fe.Field(), fe.Tag())}
}

// Provider authenticates accounts and tracks the single active session.
type Provider struct {
	accounts AccountStore
	now      func() time.Time
	newID    func() string
	cost     int

	mu      sync.Mutex
	current string
	subs    map[int]chan Event
	nextSub int
}

// Option configures a Provider.
type Option func(*Provider)

// WithBcryptCost overrides the hashing cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option { return func(p *Provider) { p.cost = cost } }

func WithClock(now func() time.Time) Option { return func(p *Provider) { p.now = now } }

// NewProvider returns a Provider backed by accounts.
func NewProvider(accounts AccountStore, opts ...Option) *Provider {
	p := &Provider{
		accounts: accounts,
		now:      time.Now,
		newID:    uuid.NewString,
		cost:     bcrypt.DefaultCost,
		subs:     make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignUp creates an account and signs it in.
func (p *Provider) SignUp(ctx context.Context, req SignUpRequest) (Profile, error) {
	req.Email = normalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	req.Neighborhood = strings.TrimSpace(req.Neighborhood)
	req.AreaCode = strings.TrimSpace(req.AreaCode)
	if err := validateSignUp(req); err != nil {
		return Profile{}, err
	}

	if _, err := p.accounts.AccountByEmail(ctx, req.Email); err == nil {
		return Profile{}, ErrEmailTaken
	} else if !errors.Is(err, ErrAccountNotFound) {
		return Profile{}, fmt.Errorf("lookup account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), p.cost)
	if err != nil {
		return Profile{}, fmt.Errorf("hash password: %w", err)
	}
	acct := Account{
		Profile: Profile{
			ID:           p.newID(),
			Name:         req.Name,
			Email:        req.Email,
			Neighborhood: req.Neighborhood,
			AreaCode:     req.AreaCode,
			CreatedAt:    p.now(),
		},
		PasswordHash: hash,
	}
	if err := p.accounts.CreateAccount(ctx, acct); err != nil {
		return Profile{}, fmt.Errorf("create account: %w", err)
	}
	slog.Info("Account created", "user_id", acct.ID)
	p.setSession(acct.ID)
	return acct.Profile, nil
}

// SignIn verifies credentials and starts a session.
func (p *Provider) SignIn(ctx context.Context, email, password string) (Profile, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Profile{}, &ValidationError{Msg: "please enter both email and password"}
	}
	acct, err := p.accounts.AccountByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return Profile{}, ErrInvalidCredentials
	}
	if err != nil {
		return Profile{}, fmt.Errorf("lookup account: %w", err)
	}
	if len(acct.PasswordHash) == 0 || bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(password)) != nil {
		return Profile{}, ErrInvalidCredentials
	}
	p.setSession(acct.ID)
	return acct.Profile, nil
}

// SignOut ends the active session, if any.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	id := p.current
	p.current = ""
	p.mu.Unlock()
	if id != "" {
		p.publish(Event{Type: SignedOut, UserID: id})
	}
	return nil
}

// Profile looks up the profile of userID.
func (p *Provider) Profile(ctx context.Context, userID string) (Profile, error) {
	acct, err := p.accounts.AccountByID(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return acct.Profile, nil
}

// CurrentUserID returns the signed-in account ID.
func (p *Provider) CurrentUserID() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.current != ""
}

// Subscribe returns a channel of session events and a func that closes it.
func (p *Provider) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
}

func (p *Provider) setSession(id string) {
	p.mu.Lock()
	prev := p.current
	p.current = id
	p.mu.Unlock()
	if prev != "" && prev != id {
		p.publish(Event{Type: SignedOut, UserID: prev})
	}
	p.publish(Event{Type: SignedIn, UserID: id})
}

// publish never blocks; a subscriber that stops draining misses events.
func (p *Provider) publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("Dropping session event for slow subscriber", "subscriber", id, "event", ev.Type)
		}
	}
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
