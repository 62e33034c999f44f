package auth

import (
	"context"

	"github.com/iliyamo/marketplace-auth/internal/model"
)

// EventKind is the kind of a session-change notification.
type EventKind string

const (
	EventSignedIn       EventKind = "signed_in"
	EventSignedOut      EventKind = "signed_out"
	EventTokenRefreshed EventKind = "token_refreshed"
)

// Event is a session-change notification emitted by a Gateway.  Session
// is nil for a signed_out event that does not name the user.
type Event struct {
	Kind    EventKind
	Session *model.Session
}

// UserID returns the user the event is about, or "".
func (e Event) UserID() string {
	if e.Session == nil {
		return ""
	}
	return e.Session.UserID
}

// Gateway is the credential/session backend consumed by the role
// contexts.  GetProfile returns (nil, nil) when no profile of the given
// type exists for the user.  Errors should be *Error values so the
// contexts can classify them.
type Gateway interface {
	GetSession(ctx context.Context) (*model.Session, error)
	GetProfile(ctx context.Context, userID string, userType model.UserType) (model.Identity, error)
	UpdateProfile(ctx context.Context, userID string, userType model.UserType, upd model.ProfileUpdate) (model.Identity, error)
	SignInWithPassword(ctx context.Context, creds model.Credentials) (*model.Session, error)
	SignInWithOAuthToken(ctx context.Context, creds model.OAuthCredentials) (*model.Session, error)
	SignUp(ctx context.Context, reg model.Registration) (*model.Session, error)
	SignOut(ctx context.Context) error
	// Subscribe registers fn for every session-change notification and
	// returns a function that removes it.
	Subscribe(fn func(Event)) (unsubscribe func())
}
