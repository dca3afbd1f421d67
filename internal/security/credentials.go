// Package security centralizes secret handling for the daemon: the
// credential store holding gateway API keys, log redaction, payload
// validation, rate limiting, subprocess environment sanitization, and
// path containment checks.
package security

import (
	"sync"
)

// CredentialStore is a thread-safe store for sensitive values loaded at
// startup (gateway bearer keys, exporter headers). It is the single
// source of truth for secrets at runtime; nothing else re-reads the
// environment for them.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]string
}

// NewCredentialStore creates an empty credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		creds: make(map[string]string),
	}
}

// Set stores a credential, overwriting any existing value under name.
func (s *CredentialStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[name] = value
}

// Get returns the credential value and true, or "" and false if not found.
func (s *CredentialStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.creds[name]
	return v, ok
}

// Has returns true if a credential with the given name exists.
func (s *CredentialStore) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.creds[name]
	return ok
}

// Values returns all non-empty credential values. Order is not
// guaranteed. This is intended for registering values with a Redactor
// and for constant-time key comparison in the gateway.
func (s *CredentialStore) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := make([]string, 0, len(s.creds))
	for _, v := range s.creds {
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}

// Delete removes a credential by name. It is a no-op if the credential
// does not exist.
func (s *CredentialStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, name)
}

// Len returns the number of stored credentials.
func (s *CredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds)
}
