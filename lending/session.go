package lending

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"toolshare/internal/identity"
)

// ProfileSource resolves identity profiles for session events.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (identity.Profile, error)
}

// sessionReporter is implemented by sources that know who is signed in now.
type sessionReporter interface {
	CurrentUserID() (string, bool)
}

// SessionAdapter keeps the Store's current user in step with an identity
// provider's session events.
type SessionAdapter struct {
	store    *Store
	profiles ProfileSource
	lookups  singleflight.Group
	log      *slog.Logger
}

// NewSessionAdapter binds store to profiles.
func NewSessionAdapter(store *Store, profiles ProfileSource) *SessionAdapter {
	return &SessionAdapter{store: store, profiles: profiles, log: slog.Default().With("component", "session")}
}

// OnExternalSignIn maps profile to a User and signs it into the Store.
func (a *SessionAdapter) OnExternalSignIn(p identity.Profile) {
	a.store.SignIn(UserFromProfile(p))
}

// OnExternalSignOut clears the Store's session. The provider already ended
// its own session, so the Store's invalidator is not called again.
func (a *SessionAdapter) OnExternalSignOut() {
	a.store.ExpireSession()
}

// ApplySignIn resolves userID's profile and signs it into the Store. A call
// that races the event loop's lookup for the same user joins that lookup.
func (a *SessionAdapter) ApplySignIn(ctx context.Context, userID string) (User, error) {
	p, err := a.lookup(ctx, userID)
	if err != nil {
		return User{}, err
	}
	a.OnExternalSignIn(p)
	return UserFromProfile(p), nil
}

// Run applies events until ctx is done or the channel closes. Profile lookups
// that fail leave the Store untouched and are logged.
func (a *SessionAdapter) Run(ctx context.Context, events <-chan identity.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			a.handle(ctx, ev)
		}
	}
}

func (a *SessionAdapter) handle(ctx context.Context, ev identity.Event) {
	switch ev.Type {
	case identity.SignedIn:
		if r, ok := a.profiles.(sessionReporter); ok {
			if id, ok := r.CurrentUserID(); !ok || id != ev.UserID {
				a.log.Debug("dropping stale sign-in", "user_id", ev.UserID)
				return
			}
		}
		p, err := a.lookup(ctx, ev.UserID)
		if err != nil {
			a.log.Warn("profile lookup failed", "user_id", ev.UserID, "error", err)
			return
		}
		a.OnExternalSignIn(p)
	case identity.SignedOut:
		// The user signed back in after this event was queued.
		if r, ok := a.profiles.(sessionReporter); ok {
			if id, ok := r.CurrentUserID(); ok && id == ev.UserID {
				a.log.Debug("dropping stale sign-out", "user_id", ev.UserID)
				return
			}
		}
		if !a.store.expireSession(ev.UserID) {
			a.log.Debug("sign-out for a user without the session", "user_id", ev.UserID)
		}
	default:
		a.log.Debug("ignoring session event", "type", ev.Type)
	}
}

func (a *SessionAdapter) lookup(ctx context.Context, userID string) (identity.Profile, error) {
	v, err, _ := a.lookups.Do(userID, func() (any, error) {
		return a.profiles.Profile(ctx, userID)
	})
	if err != nil {
		return identity.Profile{}, ExternalFailure(err)
	}
	return v.(identity.Profile), nil
}

// UserFromProfile maps an identity profile onto the User shape.
func UserFromProfile(p identity.Profile) User {
	return User{
		ID:           p.ID,
		Name:         p.Name,
		Email:        p.Email,
		Neighborhood: p.Neighborhood,
		AvatarURL:    p.AvatarURL,
		MemberSince:  DateOf(p.CreatedAt),
	}
}
