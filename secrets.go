package gamify

import (
	"fmt"
	"os"
	"sync"
)

// SecretStore holds sensitive values (API keys, webhook signing secrets)
// resolved from explicit sets or the environment. Values are zeroed by
// Clear at the end of shutdown.
type SecretStore struct {
	mu         sync.RWMutex
	values     map[string]string
	production bool
}

// NewSecretStore creates a store. In production mode a missing required
// secret is an error rather than a warning.
func NewSecretStore(production bool) *SecretStore {
	return &SecretStore{
		values:     make(map[string]string),
		production: production,
	}
}

// Set stores a secret explicitly, overriding the environment.
func (s *SecretStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// Get resolves a secret: explicit values first, then the environment
// variable of the same name.
func (s *SecretStore) Get(name string) (string, bool) {
	s.mu.RLock()
	value, ok := s.values[name]
	s.mu.RUnlock()
	if ok && value != "" {
		return value, true
	}
	if env := os.Getenv(name); env != "" {
		return env, true
	}
	return "", false
}

// Require resolves a secret that must be present in production. Outside
// production a missing secret returns an empty value and no error so local
// development stays unblocked.
func (s *SecretStore) Require(name string) (string, error) {
	value, ok := s.Get(name)
	if ok {
		return value, nil
	}
	if s.production {
		return "", fmt.Errorf("%w: %s", ErrSecretMissing, name)
	}
	return "", nil
}

// Clear zeroes and drops every explicitly stored secret.
func (s *SecretStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.values {
		s.values[name] = ""
		delete(s.values, name)
	}
}
