// Package tokens holds the two session credentials (identity and gateway
// tokens) and the session profile on top of a pluggable key-value backend.
package tokens

import (
	"encoding/json"
	"fmt"
)

//go:generate mockgen -destination=mock_backend_test.go -package=tokens . Backend

// Kind names a stored credential. The string value is the durable key.
type Kind string

const (
	Identity Kind = "identity_token"
	Gateway  Kind = "gateway_token"
)

// profileKey is the durable key of the session profile.
const profileKey = "profile"

// Backend is the synchronous key-value storage behind a Store. Get
// reports a missing key (or an unreadable one) as absent.
type Backend interface {
	Get(key string) (string, bool)
	Put(key, value string) error
	Delete(key string) error
}

// Store reads and writes session credentials. It is safe for concurrent
// use as long as the backend is; concurrent writers race with
// last-write-wins semantics.
type Store struct {
	backend Backend
}

// NewStore returns a Store over the given backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Get returns the token of the given kind. Empty values read as absent.
func (s *Store) Get(kind Kind) (string, bool) {
	v, ok := s.backend.Get(string(kind))
	if !ok || v == "" {
		return "", false
	}

	return v, true
}

// Set stores a token, replacing any previous one of the same kind.
// Setting an empty token is the same as clearing it.
func (s *Store) Set(kind Kind, token string) error {
	if token == "" {
		return s.Clear(kind)
	}

	if err := s.backend.Put(string(kind), token); err != nil {
		return fmt.Errorf("storing %s: %w", kind, err)
	}

	return nil
}

// Clear removes a token. Clearing the identity token also clears the
// gateway token, which was issued against it.
func (s *Store) Clear(kind Kind) error {
	if kind == Identity {
		if err := s.delete(string(Gateway)); err != nil {
			return err
		}
	}

	return s.delete(string(kind))
}

// ClearAll removes both tokens and the session profile. Every key is
// attempted even if an earlier delete fails; the first error is returned.
func (s *Store) ClearAll() error {
	var first error

	for _, key := range []string{string(Gateway), string(Identity), profileKey} {
		if err := s.delete(key); err != nil && first == nil {
			first = err
		}
	}

	return first
}

// Profile returns the raw JSON profile of the logged-in principal.
func (s *Store) Profile() (json.RawMessage, bool) {
	v, ok := s.backend.Get(profileKey)
	if !ok || v == "" {
		return nil, false
	}

	return json.RawMessage(v), true
}

// SetProfile stores the raw JSON profile of the logged-in principal.
func (s *Store) SetProfile(raw json.RawMessage) error {
	if len(raw) == 0 {
		return s.delete(profileKey)
	}

	if err := s.backend.Put(profileKey, string(raw)); err != nil {
		return fmt.Errorf("storing profile: %w", err)
	}

	return nil
}

func (s *Store) delete(key string) error {
	if err := s.backend.Delete(key); err != nil {
		return fmt.Errorf("clearing %s: %w", key, err)
	}

	return nil
}
