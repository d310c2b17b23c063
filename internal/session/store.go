package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// tokenBytes is the number of random bytes in a session token (256 bits).
const tokenBytes = 32

// Unlimited disables the per-principal session cap. The sentinel is
// compared exactly; any non-negative value is a real cap (including 0,
// which refuses all logins under either policy).
const Unlimited = -1

// Concurrency policies for a principal at capacity.
const (
	// PolicyPrevent rejects the new login and keeps existing sessions.
	PolicyPrevent = "prevent"

	// PolicyEvictOldest removes the principal's oldest session (by
	// creation time) to make room for the new one.
	PolicyEvictOldest = "evict_oldest"
)

// Sentinel errors for session operations.
var (
	ErrSessionLimit    = errors.New("session limit reached")
	ErrSessionExpired  = errors.New("session has expired")
	ErrSessionNotFound = errors.New("session not found")
)

// Config contains session store settings.
type Config struct {
	// MaxPerPrincipal caps concurrent sessions per principal.
	// Unlimited (-1) skips the capacity check entirely.
	MaxPerPrincipal int

	// Policy decides what happens at capacity: PolicyPrevent or
	// PolicyEvictOldest.
	Policy string

	// IdleTimeout is how long a session may go unused before it
	// expires. The window slides: every successful Validate refreshes it.
	IdleTimeout time.Duration

	// SweepInterval is how often the background sweeper scans for
	// expired sessions.
	SweepInterval time.Duration
}

// Session is a caller-visible snapshot of a tracked session.
type Session struct {
	Token        string
	PrincipalID  string
	Roles        []string
	CreatedAt    time.Time
	LastAccessAt time.Time
}

// Event types emitted on session lifecycle transitions.
const (
	EventCreated     = "created"
	EventExpired     = "expired"
	EventEvicted     = "evicted"
	EventInvalidated = "invalidated"
	EventRevoked     = "revoked"
)

// Event describes a session lifecycle transition.
type Event struct {
	Type        string
	Token       string
	PrincipalID string
	At          time.Time
}

// record is the internal mutable session state.
// lastAccess is unix nanoseconds, touched atomically so concurrent
// Validate calls never need the write lock.
type record struct {
	token       string
	principalID string
	roles       []string
	createdAt   time.Time
	lastAccess  atomic.Int64
}

// Store tracks active sessions in memory.
//
// Concurrency model:
//   - Creates and removals take the write lock, so the capacity check
//     and insert are a single atomic step.
//   - Validates take only the read lock; the sliding last-access update
//     is an atomic store on the record.
//   - The sweeper collects candidates from a snapshot and re-checks
//     each one under the write lock before removing it, so it never
//     holds the write lock across the whole sweep.
type Store struct {
	cfg Config

	mu          sync.RWMutex
	sessions    map[string]*record
	byPrincipal map[string]map[string]*record

	// now is replaceable for tests.
	now func() time.Time

	// onEvent, when set, is called after each lifecycle transition,
	// outside the store's locks. It must not block for long.
	onEvent func(Event)
}

// NewStore creates a session store with the given settings.
func NewStore(cfg Config) (*Store, error) {
	if cfg.MaxPerPrincipal < Unlimited {
		return nil, fmt.Errorf("max sessions per principal %d is below the unlimited sentinel", cfg.MaxPerPrincipal)
	}
	switch cfg.Policy {
	case PolicyPrevent, PolicyEvictOldest:
	default:
		return nil, fmt.Errorf("unknown concurrency policy %q", cfg.Policy)
	}
	if cfg.IdleTimeout <= 0 {
		return nil, fmt.Errorf("idle timeout must be positive")
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive")
	}

	return &Store{
		cfg:         cfg,
		sessions:    make(map[string]*record),
		byPrincipal: make(map[string]map[string]*record),
		now:         time.Now,
	}, nil
}

// OnEvent registers a lifecycle event callback. Call before the store
// is shared between goroutines.
func (s *Store) OnEvent(fn func(Event)) {
	s.onEvent = fn
}

// Create registers a new session for the principal and returns it.
//
// The capacity check and the insert happen under one write lock, so
// two concurrent logins for the same principal at capacity can never
// both slip through. Returns ErrSessionLimit when the principal is at
// capacity under PolicyPrevent, or when the cap is 0 (no eviction can
// make room).
func (s *Store) Create(principalID string, roles []string) (*Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	var events []Event

	s.mu.Lock()
	if s.cfg.MaxPerPrincipal != Unlimited {
		existing := s.byPrincipal[principalID]
		if len(existing) >= s.cfg.MaxPerPrincipal {
			// A cap of 0 refuses every login; eviction cannot make room.
			if s.cfg.Policy == PolicyPrevent || s.cfg.MaxPerPrincipal == 0 {
				s.mu.Unlock()
				return nil, ErrSessionLimit
			}
			// Evict the oldest sessions by creation time until the new
			// one fits within the cap.
			for len(s.byPrincipal[principalID]) >= s.cfg.MaxPerPrincipal {
				var oldest *record
				for _, r := range s.byPrincipal[principalID] {
					if oldest == nil || r.createdAt.Before(oldest.createdAt) {
						oldest = r
					}
				}
				s.removeLocked(oldest.token)
				events = append(events, Event{
					Type:        EventEvicted,
					Token:       oldest.token,
					PrincipalID: oldest.principalID,
					At:          now,
				})
			}
		}
	}

	rec := &record{
		token:       token,
		principalID: principalID,
		roles:       append([]string(nil), roles...),
		createdAt:   now,
	}
	rec.lastAccess.Store(now.UnixNano())

	s.sessions[token] = rec
	if s.byPrincipal[principalID] == nil {
		s.byPrincipal[principalID] = make(map[string]*record)
	}
	s.byPrincipal[principalID][token] = rec
	s.mu.Unlock()

	events = append(events, Event{
		Type:        EventCreated,
		Token:       token,
		PrincipalID: principalID,
		At:          now,
	})
	s.emit(events)

	return rec.snapshot(), nil
}

// Validate checks a token and, if the session is live, slides its idle
// window forward.
//
// Returns the session on success, ErrSessionExpired when the idle
// window has lapsed (the session is removed on detection), and
// ErrSessionNotFound for unknown or already-invalidated tokens.
func (s *Store) Validate(token string) (*Session, error) {
	now := s.now()

	s.mu.RLock()
	rec, ok := s.sessions[token]
	if !ok {
		s.mu.RUnlock()
		return nil, ErrSessionNotFound
	}

	last := time.Unix(0, rec.lastAccess.Load())
	if now.Sub(last) > s.cfg.IdleTimeout {
		s.mu.RUnlock()
		s.expire(token, now)
		return nil, ErrSessionExpired
	}

	rec.lastAccess.Store(now.UnixNano())
	snap := rec.snapshot()
	s.mu.RUnlock()

	return snap, nil
}

// Invalidate removes a session and reports whether one was removed.
// Removing an unknown or already-removed token is a no-op; logout
// never fails.
func (s *Store) Invalidate(token string) bool {
	now := s.now()

	s.mu.Lock()
	rec, ok := s.sessions[token]
	if ok {
		s.removeLocked(token)
	}
	s.mu.Unlock()

	if ok {
		s.emit([]Event{{
			Type:        EventInvalidated,
			Token:       token,
			PrincipalID: rec.principalID,
			At:          now,
		}})
	}
	return ok
}

// InvalidateAll removes every session belonging to the principal and
// returns how many were removed. Used on password change, deactivation,
// and administrative revocation.
func (s *Store) InvalidateAll(principalID string) int {
	now := s.now()
	var events []Event

	s.mu.Lock()
	for token, rec := range s.byPrincipal[principalID] {
		s.removeLocked(token)
		events = append(events, Event{
			Type:        EventRevoked,
			Token:       rec.token,
			PrincipalID: principalID,
			At:          now,
		})
	}
	s.mu.Unlock()

	s.emit(events)
	return len(events)
}

// Count returns the number of live sessions across all principals.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CountForPrincipal returns the number of live sessions for one principal.
func (s *Store) CountForPrincipal(principalID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPrincipal[principalID])
}

// Run sweeps expired sessions until the context is cancelled.
// Intended to be started as a goroutine at service startup.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep removes every session whose idle window has lapsed and returns
// how many were removed.
//
// Candidates are collected from a read-locked snapshot; each removal
// re-checks the record under the write lock, so a session validated
// between snapshot and removal survives.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.RLock()
	var candidates []string
	for token, rec := range s.sessions {
		last := time.Unix(0, rec.lastAccess.Load())
		if now.Sub(last) > s.cfg.IdleTimeout {
			candidates = append(candidates, token)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, token := range candidates {
		if s.expire(token, now) {
			removed++
		}
	}
	return removed
}

// expire removes a session if it is still present and still expired.
// Returns true if the session was removed.
func (s *Store) expire(token string, now time.Time) bool {
	s.mu.Lock()
	rec, ok := s.sessions[token]
	if !ok {
		s.mu.Unlock()
		return false
	}
	// Re-check: a concurrent Validate may have touched it.
	last := time.Unix(0, rec.lastAccess.Load())
	if now.Sub(last) <= s.cfg.IdleTimeout {
		s.mu.Unlock()
		return false
	}
	s.removeLocked(token)
	s.mu.Unlock()

	s.emit([]Event{{
		Type:        EventExpired,
		Token:       token,
		PrincipalID: rec.principalID,
		At:          now,
	}})
	return true
}

// removeLocked deletes a session from both indexes.
// Caller must hold the write lock.
func (s *Store) removeLocked(token string) {
	rec, ok := s.sessions[token]
	if !ok {
		return
	}
	delete(s.sessions, token)

	perPrincipal := s.byPrincipal[rec.principalID]
	delete(perPrincipal, token)
	if len(perPrincipal) == 0 {
		delete(s.byPrincipal, rec.principalID)
	}
}

// emit delivers events to the callback, outside the store's locks.
func (s *Store) emit(events []Event) {
	if s.onEvent == nil {
		return
	}
	for _, e := range events {
		s.onEvent(e)
	}
}

// snapshot returns a caller-safe copy of the record.
func (r *record) snapshot() *Session {
	return &Session{
		Token:        r.token,
		PrincipalID:  r.principalID,
		Roles:        append([]string(nil), r.roles...),
		CreatedAt:    r.createdAt,
		LastAccessAt: time.Unix(0, r.lastAccess.Load()),
	}
}

// generateToken returns a 256-bit random token, hex encoded.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
