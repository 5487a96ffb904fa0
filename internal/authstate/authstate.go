// Package authstate tracks the process-wide authentication record for the
// target portal.
package authstate

import (
	"sync"
	"time"

	"github.com/shehryarbajwa/checkin-mini/pkg/models"
)

// Record is the single authentication state, mutated only by the
// orchestrator as login outcomes are observed.
type Record struct {
	mu            sync.Mutex
	authenticated bool
	lastLogin     time.Time
	lastToken     string
	window        time.Duration
	now           func() time.Time
}

// New creates a record with the given freshness window. While the window is
// active, callers may skip re-authentication.
func New(window time.Duration) *Record {
	return &Record{
		window: window,
		now:    time.Now,
	}
}

// MarkLoggedIn records a successful login and the session token observed
// with it (may be empty when the cookie is not readable).
func (r *Record) MarkLoggedIn(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.authenticated = true
	r.lastLogin = r.now()
	if token != "" {
		r.lastToken = token
	}
}

// Invalidate clears the authenticated flag, e.g. after an observed 401.
func (r *Record) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.authenticated = false
}

// Query returns the current state. CooldownActive is true only while the
// last login is still inside the freshness window; IsAuthenticated may
// remain true after the window has lapsed, and the caller applies its own
// policy to the raw timestamp.
func (r *Record) Query() models.AuthState {
	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := r.authenticated && r.now().Sub(r.lastLogin) <= r.window

	return models.AuthState{
		IsAuthenticated: r.authenticated,
		Timestamp:       r.lastLogin,
		CooldownActive:  fresh,
	}
}
