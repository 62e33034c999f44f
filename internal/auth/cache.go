package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iliyamo/marketplace-auth/internal/model"
)

// Cache is a durable, device-scoped key-value store.  Get reports
// ok=false for a missing key.
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// BatchRemover is implemented by caches that can remove several keys in
// one atomic step.
type BatchRemover interface {
	RemoveAll(ctx context.Context, keys ...string) error
}

// CachedSession is what a role context persisted on its last successful
// reconciliation.  Identity is kept raw so the context can decode it into
// its own identity type.
type CachedSession struct {
	Identity    json.RawMessage
	AccessToken string
	UserType    model.UserType
}

var allUserTypes = []model.UserType{model.UserTypeCustomer, model.UserTypeProvider}

// SessionCache scopes a Cache to one role: identity blob, access token and
// user-type tag.  The role's keys are written and cleared together, and
// saving one role's session removes every other role's keys so only one
// identity is persisted at a time.
type SessionCache struct {
	store Cache
	role  model.UserType
}

// NewSessionCache returns a role-scoped view over store.
func NewSessionCache(store Cache, role model.UserType) *SessionCache {
	return &SessionCache{store: store, role: role}
}

func identityKey(r model.UserType) string { return string(r) + ":identity" }
func tokenKey(r model.UserType) string    { return string(r) + ":access_token" }
func typeKey(r model.UserType) string     { return string(r) + ":user_type" }

func roleKeys(r model.UserType) []string {
	return []string{identityKey(r), tokenKey(r), typeKey(r)}
}

// Load returns the cached session when all three keys are present and
// structurally consistent.  A partial or mismatched set reports ok=false.
func (s *SessionCache) Load(ctx context.Context) (CachedSession, bool, error) {
	blob, ok, err := s.store.Get(ctx, identityKey(s.role))
	if err != nil || !ok || blob == "" {
		return CachedSession{}, false, err
	}
	token, ok, err := s.store.Get(ctx, tokenKey(s.role))
	if err != nil || !ok || token == "" {
		return CachedSession{}, false, err
	}
	tag, ok, err := s.store.Get(ctx, typeKey(s.role))
	if err != nil || !ok || model.UserType(tag) != s.role {
		return CachedSession{}, false, err
	}
	if !json.Valid([]byte(blob)) {
		return CachedSession{}, false, nil
	}
	return CachedSession{
		Identity:    json.RawMessage(blob),
		AccessToken: token,
		UserType:    s.role,
	}, true, nil
}

// Save overwrites the role's keys with identity and token and removes
// the keys of every other role.
func (s *SessionCache) Save(ctx context.Context, identity model.Identity, token string) error {
	blob, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	for _, r := range allUserTypes {
		if r == s.role {
			continue
		}
		if err := s.removeKeys(ctx, roleKeys(r)); err != nil {
			return err
		}
	}
	if err := s.store.Set(ctx, identityKey(s.role), string(blob)); err != nil {
		return err
	}
	if err := s.store.Set(ctx, tokenKey(s.role), token); err != nil {
		return err
	}
	return s.store.Set(ctx, typeKey(s.role), string(s.role))
}

// SaveToken replaces only the cached access token.
func (s *SessionCache) SaveToken(ctx context.Context, token string) error {
	return s.store.Set(ctx, tokenKey(s.role), token)
}

// Clear removes the role's keys.
func (s *SessionCache) Clear(ctx context.Context) error {
	return s.removeKeys(ctx, roleKeys(s.role))
}

func (s *SessionCache) removeKeys(ctx context.Context, keys []string) error {
	if br, ok := s.store.(BatchRemover); ok {
		return br.RemoveAll(ctx, keys...)
	}
	var errs []error
	for _, k := range keys {
		if err := s.store.Remove(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
