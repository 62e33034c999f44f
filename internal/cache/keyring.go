package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	DefaultKeyringService = "marketplace-auth"
	keyringUser           = "session"
)

// Keyring keeps every key in one OS keyring entry as a JSON object, so
// a role's keys are always written and removed together.
type Keyring struct {
	mu      sync.Mutex
	service string
}

// NewKeyring returns a store backed by the keyring entry of service.
func NewKeyring(service string) *Keyring {
	if service == "" {
		service = DefaultKeyringService
	}
	return &Keyring{service: service}
}

func (k *Keyring) load() (map[string]string, error) {
	raw, err := keyring.Get(k.service, keyringUser)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	entries := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		// Unreadable entry: drop it so the user can sign in again.
		return map[string]string{}, k.delete()
	}
	return entries, nil
}

func (k *Keyring) save(entries map[string]string) error {
	if len(entries) == 0 {
		return k.delete()
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return keyring.Set(k.service, keyringUser, string(raw))
}

func (k *Keyring) delete() error {
	err := keyring.Delete(k.service, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

func (k *Keyring) Get(_ context.Context, key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entries, err := k.load()
	if err != nil {
		return "", false, err
	}
	v, ok := entries[key]
	return v, ok, nil
}

func (k *Keyring) Set(_ context.Context, key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	entries, err := k.load()
	if err != nil {
		return err
	}
	entries[key] = value
	return k.save(entries)
}

func (k *Keyring) Remove(ctx context.Context, key string) error {
	return k.RemoveAll(ctx, key)
}

func (k *Keyring) RemoveAll(_ context.Context, keys ...string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	entries, err := k.load()
	if err != nil {
		return err
	}
	changed := false
	for _, key := range keys {
		if _, ok := entries[key]; ok {
			delete(entries, key)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return k.save(entries)
}
