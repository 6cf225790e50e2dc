// Package security holds the process-wide protections shared by every
// channel: secret redaction in logs, outbound media URL filtering, rate
// limits, webhook payload checks and the audit log.
package security

import (
	"cmp"
	"slices"
	"sync"
)

// CredentialStore maps credential names to secret values. Channel modules
// register their tokens under "<channel id>.<field>" while provisioning,
// and the log redactor is synced from the store afterwards.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]string
}

// NewCredentialStore creates an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[string]string)}
}

// Set stores value under name. An empty value removes the credential.
func (s *CredentialStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		delete(s.creds, name)
		return
	}
	s.creds[name] = value
}

// Get returns the credential stored under name.
func (s *CredentialStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.creds[name]
	return v, ok
}

// Names returns the credential names in sorted order.
func (s *CredentialStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.creds))
	for name := range s.creds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Values returns the distinct secret values, longest first, so that a
// secret containing another one is replaced as a whole.
func (s *CredentialStore) Values() []string {
	s.mu.RLock()
	values := make([]string, 0, len(s.creds))
	for _, v := range s.creds {
		values = append(values, v)
	}
	s.mu.RUnlock()

	slices.SortFunc(values, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return slices.Compact(values)
}
