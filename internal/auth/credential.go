package auth

import (
	"sync"

	"github.com/iliyamo/marketplace-auth/internal/model"
)

// CredentialSink is the outbound API client whose requests carry the
// signed-in user's bearer token.
type CredentialSink interface {
	SetBearer(token string)
	ClearBearer()
}

// SharedCredential hands the process-wide CredentialSink to whichever
// role context currently owns the authenticated identity.  A context can
// only clear the credential while it is the owner, so a stale sign-out in
// one role never strips the token another role just installed.
type SharedCredential struct {
	mu    sync.Mutex
	sink  CredentialSink
	owner model.UserType
}

// NewSharedCredential wraps sink.  A nil sink yields a no-op credential.
func NewSharedCredential(sink CredentialSink) *SharedCredential {
	return &SharedCredential{sink: sink}
}

func (s *SharedCredential) set(owner model.UserType, token string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = owner
	if s.sink != nil {
		s.sink.SetBearer(token)
	}
}

// refresh replaces the token only if owner still holds the credential.
func (s *SharedCredential) refresh(owner model.UserType, token string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != owner {
		return
	}
	if s.sink != nil {
		s.sink.SetBearer(token)
	}
}

func (s *SharedCredential) clear(owner model.UserType) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != owner {
		return
	}
	s.owner = ""
	if s.sink != nil {
		s.sink.ClearBearer()
	}
}

// Owner returns the role currently holding the credential, or "".
func (s *SharedCredential) Owner() model.UserType {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}
