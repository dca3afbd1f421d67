// Package securitytest provides test doubles for the security package,
// intended for use by other packages' tests.
package securitytest

import (
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/security"
)

// NewTestRedactor creates a Redactor with no patterns. This avoids
// false positives in tests that use strings matching production secret
// patterns. Direct instantiation is safe: the zero mutex is valid and
// nil slices work with range/append.
func NewTestRedactor() *security.Redactor {
	return &security.Redactor{}
}

// NewTestCredentialStore creates a CredentialStore pre-populated with
// the given key-value pairs. Panics on an odd number of args.
func NewTestCredentialStore(kvs ...string) *security.CredentialStore {
	if len(kvs)%2 != 0 {
		panic("securitytest: NewTestCredentialStore requires key, value pairs")
	}
	store := security.NewCredentialStore()
	for i := 0; i < len(kvs); i += 2 {
		store.Set(kvs[i], kvs[i+1])
	}
	return store
}

// NewTestAuditLogger creates an AuditLogger that collects events in
// memory. Returns the logger and a function returning the events logged
// so far.
func NewTestAuditLogger() (*security.AuditLogger, func() []security.AuditEvent) {
	var events []security.AuditEvent
	logger := security.NewAuditLogger(security.AuditLoggerConfig{
		OnEvent: func(e security.AuditEvent) {
			events = append(events, e)
		},
	})
	return logger, func() []security.AuditEvent {
		return events
	}
}
