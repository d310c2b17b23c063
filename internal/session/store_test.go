package session

import (
	"sync"
	"testing"
	"time"
)

// testConfig returns a store config suitable for direct-call tests.
func testConfig() Config {
	return Config{
		MaxPerPrincipal: Unlimited,
		Policy:          PolicyPrevent,
		IdleTimeout:     30 * time.Minute,
		SweepInterval:   time.Minute,
	}
}

// fakeClock lets tests move time forward explicitly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, cfg Config) (*Store, *fakeClock) {
	t.Helper()
	store, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	clock := newFakeClock()
	store.now = clock.Now
	return store, clock
}

func TestNewStore_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "cap of zero is valid",
			mutate:  func(c *Config) { c.MaxPerPrincipal = 0 },
			wantErr: false,
		},
		{
			name:    "cap below sentinel",
			mutate:  func(c *Config) { c.MaxPerPrincipal = -2 },
			wantErr: true,
		},
		{
			name:    "unknown policy",
			mutate:  func(c *Config) { c.Policy = "newest" },
			wantErr: true,
		},
		{
			name:    "zero idle timeout",
			mutate:  func(c *Config) { c.IdleTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero sweep interval",
			mutate:  func(c *Config) { c.SweepInterval = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := NewStore(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewStore() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStore_CreateAndValidate(t *testing.T) {
	store, _ := newTestStore(t, testConfig())

	sess, err := store.Create("prn-1", []string{"user"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if len(sess.Token) != tokenBytes*2 {
		t.Errorf("token length = %d, want %d hex chars", len(sess.Token), tokenBytes*2)
	}
	if sess.PrincipalID != "prn-1" {
		t.Errorf("PrincipalID = %q, want %q", sess.PrincipalID, "prn-1")
	}

	got, err := store.Validate(sess.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.PrincipalID != "prn-1" {
		t.Errorf("validated PrincipalID = %q, want %q", got.PrincipalID, "prn-1")
	}
	if len(got.Roles) != 1 || got.Roles[0] != "user" {
		t.Errorf("validated Roles = %v, want [user]", got.Roles)
	}
}

func TestStore_ValidateUnknownToken(t *testing.T) {
	store, _ := newTestStore(t, testConfig())

	if _, err := store.Validate("no-such-token"); err != ErrSessionNotFound {
		t.Errorf("Validate() error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_PreventPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPerPrincipal = 2
	store, _ := newTestStore(t, cfg)

	s1, err := store.Create("prn-1", nil)
	if err != nil {
		t.Fatalf("Create() #1 error = %v", err)
	}
	if _, err := store.Create("prn-1", nil); err != nil {
		t.Fatalf("Create() #2 error = %v", err)
	}

	// Third session for the same principal is rejected.
	if _, err := store.Create("prn-1", nil); err != ErrSessionLimit {
		t.Errorf("Create() #3 error = %v, want ErrSessionLimit", err)
	}

	// Other principals are unaffected.
	if _, err := store.Create("prn-2", nil); err != nil {
		t.Errorf("Create() for other principal error = %v", err)
	}

	// Existing sessions stay valid after a rejected login.
	if _, err := store.Validate(s1.Token); err != nil {
		t.Errorf("Validate() after rejected login error = %v", err)
	}

	// Freeing a slot allows a new login.
	store.Invalidate(s1.Token)
	if _, err := store.Create("prn-1", nil); err != nil {
		t.Errorf("Create() after freeing a slot error = %v", err)
	}
}

func TestStore_ZeroCapRefusesLogin(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPerPrincipal = 0
	store, _ := newTestStore(t, cfg)

	if _, err := store.Create("prn-1", nil); err != ErrSessionLimit {
		t.Errorf("Create() error = %v, want ErrSessionLimit", err)
	}
}

// A cap of 0 refuses logins under the evict policy too: there is no
// oldest session whose removal could make room, so the login must be
// rejected rather than tracked past the cap.
func TestStore_ZeroCapRefusesLoginUnderEvictPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPerPrincipal = 0
	cfg.Policy = PolicyEvictOldest
	store, _ := newTestStore(t, cfg)

	if _, err := store.Create("prn-1", nil); err != ErrSessionLimit {
		t.Errorf("Create() error = %v, want ErrSessionLimit", err)
	}
	if got := store.CountForPrincipal("prn-1"); got != 0 {
		t.Errorf("CountForPrincipal() = %d, want 0", got)
	}
}

func TestStore_UnlimitedSentinel(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPerPrincipal = Unlimited
	store, _ := newTestStore(t, cfg)

	for i := 0; i < 50; i++ {
		if _, err := store.Create("prn-1", nil); err != nil {
			t.Fatalf("Create() #%d error = %v", i+1, err)
		}
	}
	if got := store.CountForPrincipal("prn-1"); got != 50 {
		t.Errorf("CountForPrincipal() = %d, want 50", got)
	}
}

func TestStore_EvictOldest(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPerPrincipal = 2
	cfg.Policy = PolicyEvictOldest
	store, clock := newTestStore(t, cfg)

	var events []Event
	store.OnEvent(func(e Event) { events = append(events, e) })

	s1, _ := store.Create("prn-1", nil)
	clock.Advance(time.Minute)
	s2, _ := store.Create("prn-1", nil)
	clock.Advance(time.Minute)

	s3, err := store.Create("prn-1", nil)
	if err != nil {
		t.Fatalf("Create() at capacity error = %v", err)
	}

	// The oldest session is gone; the two newest survive.
	if _, err := store.Validate(s1.Token); err != ErrSessionNotFound {
		t.Errorf("Validate(oldest) error = %v, want ErrSessionNotFound", err)
	}
	if _, err := store.Validate(s2.Token); err != nil {
		t.Errorf("Validate(second) error = %v", err)
	}
	if _, err := store.Validate(s3.Token); err != nil {
		t.Errorf("Validate(newest) error = %v", err)
	}
	if got := store.CountForPrincipal("prn-1"); got != 2 {
		t.Errorf("CountForPrincipal() = %d, want 2", got)
	}

	var evicted []string
	for _, e := range events {
		if e.Type == EventEvicted {
			evicted = append(evicted, e.Token)
		}
	}
	if len(evicted) != 1 || evicted[0] != s1.Token {
		t.Errorf("evicted tokens = %v, want [%s]", evicted, s1.Token)
	}
}

func TestStore_InvalidateIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t, testConfig())

	sess, _ := store.Create("prn-1", nil)

	if !store.Invalidate(sess.Token) {
		t.Error("first Invalidate() = false, want true")
	}
	if store.Invalidate(sess.Token) {
		t.Error("second Invalidate() = true, want no-op false")
	}
	if store.Invalidate("never-existed") {
		t.Error("Invalidate(unknown) = true, want false")
	}

	if _, err := store.Validate(sess.Token); err != ErrSessionNotFound {
		t.Errorf("Validate() after Invalidate error = %v, want ErrSessionNotFound", err)
	}
	if got := store.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

func TestStore_InvalidateAll(t *testing.T) {
	store, _ := newTestStore(t, testConfig())

	for i := 0; i < 3; i++ {
		if _, err := store.Create("prn-1", nil); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	other, _ := store.Create("prn-2", nil)

	if got := store.InvalidateAll("prn-1"); got != 3 {
		t.Errorf("InvalidateAll() = %d, want 3", got)
	}
	if got := store.CountForPrincipal("prn-1"); got != 0 {
		t.Errorf("CountForPrincipal() = %d, want 0", got)
	}

	// Other principals keep their sessions.
	if _, err := store.Validate(other.Token); err != nil {
		t.Errorf("Validate() for other principal error = %v", err)
	}

	// Revoking a principal with no sessions is a no-op.
	if got := store.InvalidateAll("prn-1"); got != 0 {
		t.Errorf("second InvalidateAll() = %d, want 0", got)
	}
}

func TestStore_IdleExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 10 * time.Minute
	store, clock := newTestStore(t, cfg)

	sess, _ := store.Create("prn-1", nil)

	clock.Advance(10*time.Minute + time.Second)

	if _, err := store.Validate(sess.Token); err != ErrSessionExpired {
		t.Fatalf("Validate() after idle error = %v, want ErrSessionExpired", err)
	}

	// Expiry removes the session; a retry sees NotFound.
	if _, err := store.Validate(sess.Token); err != ErrSessionNotFound {
		t.Errorf("Validate() after expiry error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_SlidingWindow(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 10 * time.Minute
	store, clock := newTestStore(t, cfg)

	sess, _ := store.Create("prn-1", nil)

	// Touch the session every 8 minutes; it outlives several timeouts.
	for i := 0; i < 5; i++ {
		clock.Advance(8 * time.Minute)
		if _, err := store.Validate(sess.Token); err != nil {
			t.Fatalf("Validate() on touch #%d error = %v", i+1, err)
		}
	}
}

func TestStore_Sweep(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 10 * time.Minute
	store, clock := newTestStore(t, cfg)

	var events []Event
	store.OnEvent(func(e Event) { events = append(events, e) })

	stale, _ := store.Create("prn-1", nil)
	clock.Advance(8 * time.Minute)
	fresh, _ := store.Create("prn-2", nil)
	clock.Advance(3 * time.Minute) // stale is now 11m idle, fresh 3m

	if removed := store.Sweep(); removed != 1 {
		t.Errorf("Sweep() = %d, want 1", removed)
	}

	if _, err := store.Validate(stale.Token); err != ErrSessionNotFound {
		t.Errorf("Validate(stale) error = %v, want ErrSessionNotFound", err)
	}
	if _, err := store.Validate(fresh.Token); err != nil {
		t.Errorf("Validate(fresh) error = %v", err)
	}

	var expired int
	for _, e := range events {
		if e.Type == EventExpired {
			expired++
		}
	}
	if expired != 1 {
		t.Errorf("expired events = %d, want 1", expired)
	}

	// A second sweep finds nothing.
	if removed := store.Sweep(); removed != 0 {
		t.Errorf("second Sweep() = %d, want 0", removed)
	}
}

func TestStore_ConcurrentCreatesRespectCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPerPrincipal = 5
	store, _ := newTestStore(t, cfg)

	const attempts = 40
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Create("prn-1", nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, limited int
	for err := range results {
		switch err {
		case nil:
			ok++
		case ErrSessionLimit:
			limited++
		default:
			t.Errorf("unexpected Create() error = %v", err)
		}
	}

	if ok != 5 {
		t.Errorf("successful creates = %d, want exactly 5", ok)
	}
	if limited != attempts-5 {
		t.Errorf("limited creates = %d, want %d", limited, attempts-5)
	}
	if got := store.CountForPrincipal("prn-1"); got != 5 {
		t.Errorf("CountForPrincipal() = %d, want 5", got)
	}
}

func TestStore_ConcurrentValidates(t *testing.T) {
	store, _ := newTestStore(t, testConfig())

	sess, _ := store.Create("prn-1", nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Validate(sess.Token); err != nil {
				t.Errorf("concurrent Validate() error = %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestStore_CreatedEventEmitted(t *testing.T) {
	store, _ := newTestStore(t, testConfig())

	var events []Event
	store.OnEvent(func(e Event) { events = append(events, e) })

	sess, _ := store.Create("prn-1", nil)
	store.Invalidate(sess.Token)

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Type != EventCreated || events[0].Token != sess.Token {
		t.Errorf("events[0] = %+v, want created for session token", events[0])
	}
	if events[1].Type != EventInvalidated {
		t.Errorf("events[1].Type = %q, want %q", events[1].Type, EventInvalidated)
	}
}
