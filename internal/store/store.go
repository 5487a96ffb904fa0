// Package store tracks click sessions through their lifecycle. It replaces
// the module-level session map of earlier designs with an explicit object so
// the orchestrator can be unit tested without a live browser.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shehryarbajwa/checkin-mini/pkg/models"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// Store holds all click sessions. Mutating methods are only called by the
// orchestrator (single writer); reads are safe from anywhere.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.ClickSession
	ttl      time.Duration
	now      func() time.Time
}

// New creates a session store. Non-terminal sessions older than ttl are
// moved to ERROR by SweepExpired.
func New(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*models.ClickSession),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create registers a new session in PROCESSING with no tab attached yet.
func (s *Store) Create(id, processID, source string) *models.ClickSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := &models.ClickSession{
		ID:        id,
		ProcessID: processID,
		TabID:     -1,
		Status:    models.StatusProcessing,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[id] = sess

	return copySession(sess)
}

// Get returns a copy of the session with the given id.
func (s *Store) Get(id string) (*models.ClickSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(sess), nil
}

// List returns copies of all sessions, optionally filtered by status.
func (s *Store) List(status models.ClickStatus) []*models.ClickSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ClickSession
	for _, sess := range s.sessions {
		if status != "" && sess.Status != status {
			continue
		}
		out = append(out, copySession(sess))
	}
	return out
}

// AttachTab records the tab a session runs in.
func (s *Store) AttachTab(id string, tabID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.TabID = tabID
	sess.UpdatedAt = s.now()
	return nil
}

// Transition moves a session to the given status only if its current status
// is one of from. The compare-and-set is what makes check-in dispatch
// single-fire when the tab-lifecycle signal and the agent's ready
// announcement race: exactly one caller wins, the other sees false.
func (s *Store) Transition(id string, to models.ClickStatus, from ...models.ClickStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}

	allowed := len(from) == 0
	for _, f := range from {
		if sess.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}

	sess.Status = to
	sess.UpdatedAt = s.now()
	return true
}

// Complete moves a session to its terminal status and records the reason.
func (s *Store) Complete(id string, success bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if sess.Status.Terminal() {
		return fmt.Errorf("session %s already terminal (%s)", id, sess.Status)
	}

	if success {
		sess.Status = models.StatusCompletedSuccess
	} else {
		sess.Status = models.StatusCompletedError
	}
	sess.Reason = reason
	sess.UpdatedAt = s.now()
	return nil
}

// FindWaitingByTab returns the id of the session on the given tab that is
// waiting for a page-ready signal, if any.
func (s *Store) FindWaitingByTab(tabID int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, sess := range s.sessions {
		if sess.TabID == tabID && sess.Status.Waiting() {
			return id, true
		}
	}
	return "", false
}

// ActiveByTab reports whether any non-terminal session exists for the tab.
// Guards the at-most-one-run-per-tab invariant.
func (s *Store) ActiveByTab(tabID int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.TabID == tabID && !sess.Status.Terminal() {
			return true
		}
	}
	return false
}

// SweepExpired moves non-terminal sessions older than the TTL to ERROR and
// returns their ids. A tab closed externally before its completion report
// would otherwise leave its session stuck in PROCESSING forever.
func (s *Store) SweepExpired() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	var swept []string
	for id, sess := range s.sessions {
		if sess.Status.Terminal() {
			continue
		}
		if sess.UpdatedAt.Before(cutoff) {
			sess.Status = models.StatusError
			sess.Reason = "session expired before completion"
			sess.UpdatedAt = s.now()
			swept = append(swept, id)
		}
	}
	return swept
}

func copySession(sess *models.ClickSession) *models.ClickSession {
	c := *sess
	return &c
}
