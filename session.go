package anonchat

import (
	"context"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	"github.com/X-Irrelevant-X/AnonChat/audit"
)

// SessionManager is the process-wide session cache: it holds the decrypted
// key pair for the current authenticated user and enforces the
// single-active-session invariant. The session itself is an explicit object
// handed to callers, constructed on login and destroyed on logout or
// timeout, never ambient global state.
type SessionManager struct {
	keys    *KeyService
	audit   audit.Logger
	timeout time.Duration

	mu      sync.Mutex
	current *Session
}

// Session is the bounded-lifetime, in-memory-only period during which a
// user's decrypted private key is available. It is never serialized, never
// written to disk or any store; its absence after process restart is an
// invariant, not a bug.
//
// The session exclusively owns its key pair. Callers must not retain a
// second reference to the private key beyond the duration of a single
// operation.
type Session struct {
	manager   *SessionManager
	userID    string
	startedAt time.Time

	mu sync.Mutex
	// keyPair is cleared by a single assignment on eviction. A key access
	// that began before eviction may still complete with the reference it
	// already read (the key was valid when read), but any access after
	// eviction observes ErrNoActiveSession.
	keyPair      *KeyPair
	lastActivity time.Time
	timer        *time.Timer
}

// NewSessionManager creates a session cache over the given key custody
// service. A nil audit logger disables auditing.
func NewSessionManager(keys *KeyService, auditLogger audit.Logger, options Options) (*SessionManager, error) {
	if err := validateOptions(options); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}
	return &SessionManager{
		keys:    keys,
		audit:   auditLogger,
		timeout: options.SessionTimeout,
	}, nil
}

// StartSession moves the cache from Empty to Active by loading the user's
// keys with their password. On failure the cache remains Empty and the
// error propagates. On success the returned session owns the key pair and
// an inactivity timer is running; any previously active session is ended
// first.
func (m *SessionManager) StartSession(ctx context.Context, userID, password string) (*Session, error) {
	pair, err := m.keys.LoadUserKeys(ctx, userID, password)
	if err != nil {
		m.logSession("start_session", userID, err)
		return nil, err
	}

	session := &Session{
		manager:      m,
		userID:       userID,
		startedAt:    time.Now().UTC(),
		keyPair:      pair,
		lastActivity: time.Now().UTC(),
	}
	session.timer = time.AfterFunc(m.timeout, func() { m.expire(session) })

	m.mu.Lock()
	previous := m.current
	m.current = session
	m.mu.Unlock()

	if previous != nil {
		previous.end()
	}

	m.logSession("start_session", userID, nil)
	return session, nil
}

// Current returns the active session, or nil if the cache is Empty.
func (m *SessionManager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// EndSession ends the active session, if any. It is idempotent, and is what
// call sites invoke on any unrecoverable decrypt failure, since a decrypt
// failure signals the cached key may be stale or invalid.
func (m *SessionManager) EndSession() {
	m.mu.Lock()
	session := m.current
	m.current = nil
	m.mu.Unlock()

	if session != nil {
		session.end()
		m.logSession("end_session", session.userID, nil)
	}
}

// expire is the inactivity-timeout transition. The timer can fire
// concurrently with a key access that just slid the deadline; re-check the
// deadline before evicting and reschedule if there was fresh activity.
func (m *SessionManager) expire(session *Session) {
	session.mu.Lock()
	if session.keyPair != nil {
		deadline := session.lastActivity.Add(m.timeout)
		if remaining := time.Until(deadline); remaining > 0 {
			session.timer = time.AfterFunc(remaining, func() { m.expire(session) })
			session.mu.Unlock()
			return
		}
	}
	session.mu.Unlock()

	m.mu.Lock()
	if m.current == session {
		m.current = nil
	}
	m.mu.Unlock()

	session.end()
	m.logSession("session_timeout", session.userID, nil)
}

func (m *SessionManager) logSession(action, userID string, opErr error) {
	metadata := map[string]interface{}{"user_id": userID}
	if opErr != nil {
		metadata["error"] = opErr.Error()
	}
	if err := m.audit.Log(action, opErr == nil, metadata); err != nil {
		fmt.Printf("WARNING: failed to log %s: %v\n", action, err)
	}
}

// UserID returns the authenticated user this session belongs to.
func (s *Session) UserID() string { return s.userID }

// StartedAt returns when the session was established.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Active reports whether the session still holds its key pair.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyPair != nil
}

// LastActivityAt returns the time of the most recent key access.
func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// PrivateKey returns the session's private key for decryption operations.
// Each call slides the inactivity deadline forward by the full timeout.
// Fails with ErrNoActiveSession once the session has ended.
func (s *Session) PrivateKey() (*rsa.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keyPair == nil {
		return nil, ErrNoActiveSession
	}
	s.touchLocked()
	return s.keyPair.Private, nil
}

// PublicKey returns the session's public key for encryption operations.
// Each call slides the inactivity deadline like PrivateKey.
func (s *Session) PublicKey() (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keyPair == nil {
		return nil, ErrNoActiveSession
	}
	s.touchLocked()
	return s.keyPair.Public, nil
}

// KeyPair returns both halves for a single composite operation.
func (s *Session) KeyPair() (*KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keyPair == nil {
		return nil, ErrNoActiveSession
	}
	s.touchLocked()
	return s.keyPair, nil
}

// End ends this session. Idempotent; equivalent to
// SessionManager.EndSession when this session is the current one.
func (s *Session) End() {
	s.manager.mu.Lock()
	if s.manager.current == s {
		s.manager.current = nil
	}
	s.manager.mu.Unlock()
	s.end()
}

// touchLocked records activity and fully replaces the inactivity timer;
// each reset cancels the previous timer handle rather than leaking it.
func (s *Session) touchLocked() {
	s.lastActivity = time.Now().UTC()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.manager.timeout, func() { s.manager.expire(s) })
}

// end discards the key pair reference and cancels the timer. The key pair
// is dropped in one assignment so concurrent readers observe either the
// valid pair or ErrNoActiveSession, never a partial teardown.
func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyPair = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
