package errorlimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
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

func testConfig() Config {
	cfg := DefaultConfig
	cfg.ClientLimit = 3
	cfg.CategoryLimit = 5
	cfg.MinSamples = 0 // disable signature detection unless a test opts in
	cfg.FanoutLimit = 0
	return cfg
}

func TestAdmit_CleanClientPassesWithoutDelay(t *testing.T) {
	l := New(testConfig())

	d := l.Admit("client-1", "provider", "op-1")
	if !d.Allowed || d.Delay != 0 {
		t.Fatalf("clean client should pass: %+v", d)
	}
}

func TestAdmit_DelayGrowsWithOccurrences(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	l := New(cfg)
	l.SetClock(clock.Now)
	l.randF = func() float64 { return 0.5 } // neutral jitter

	for i := 0; i < 3; i++ {
		l.RecordError("client-1", "timeout", "provider")
	}
	d3 := l.Admit("client-1", "provider", "")
	if !d3.Allowed || d3.Delay == 0 {
		t.Fatalf("exceeded client budget should delay: %+v", d3)
	}

	for i := 0; i < 4; i++ {
		l.RecordError("client-1", "timeout", "provider")
	}
	d7 := l.Admit("client-1", "provider", "")
	if d7.Delay <= d3.Delay {
		t.Errorf("delay should grow with occurrences: %v then %v", d3.Delay, d7.Delay)
	}
}

func TestAdmit_GlobalKindBudgetDelaysEveryClient(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.GlobalLimit = 5
	cfg.ClientLimit = 100
	cfg.CategoryLimit = 100
	l := New(cfg)
	l.SetClock(clock.Now)
	l.randF = func() float64 { return 0.5 }

	// The flood is spread across clients and categories so only the
	// per-kind window fills.
	clients := []string{"c1", "c2", "c3", "c4", "c5"}
	for _, c := range clients {
		l.RecordError(c, "timeout", "cat-"+c)
	}

	d := l.Admit("fresh-client", "fresh-category", "")
	if !d.Allowed || d.Delay == 0 {
		t.Fatalf("global kind budget exceeded, expected delayed admission: %+v", d)
	}

	clock.Advance(2 * time.Minute)
	if d := l.Admit("fresh-client", "fresh-category", ""); d.Delay != 0 {
		t.Fatalf("window slid, expected clean pass: %+v", d)
	}
}

func TestAdmit_DelayCapped(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MaxDelay = 2 * time.Second
	l := New(cfg)
	l.SetClock(clock.Now)
	l.randF = func() float64 { return 0 } // jitter low end

	for i := 0; i < 100; i++ {
		l.RecordError("client-1", "timeout", "provider")
	}
	d := l.Admit("client-1", "provider", "")
	if d.Delay > 2*time.Second {
		t.Errorf("delay must be capped: %v", d.Delay)
	}
}

func TestAdmit_ZeroToleranceRejects(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.CategoryLimit = 2
	l := New(cfg)
	l.SetClock(clock.Now)

	for i := 0; i < 2; i++ {
		l.RecordError("client-1", "unauthorized", "auth")
	}
	d := l.Admit("client-1", "auth", "")
	if d.Allowed {
		t.Fatalf("auth category is zero-tolerance, should reject: %+v", d)
	}
}

func TestAdmit_WindowSlides(t *testing.T) {
	clock := newFakeClock()
	l := New(testConfig())
	l.SetClock(clock.Now)

	for i := 0; i < 3; i++ {
		l.RecordError("client-1", "timeout", "provider")
	}
	if d := l.Admit("client-1", "provider", ""); d.Delay == 0 {
		t.Fatal("budget exceeded, expected delay")
	}

	clock.Advance(2 * time.Minute)
	if d := l.Admit("client-1", "provider", ""); d.Delay != 0 {
		t.Fatalf("window slid, expected clean pass: %+v", d)
	}
}

func TestSuspicious_RegularTiming(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MinSamples = 10
	cfg.RegularityCV = 0.05
	l := New(cfg)
	l.SetClock(clock.Now)

	// Metronome client: identical 1s gaps.
	for i := 0; i < 10; i++ {
		l.Admit("bot-1", "provider", "")
		clock.Advance(time.Second)
	}

	d := l.Admit("bot-1", "provider", "")
	if d.Delay != cfg.MaxDelay {
		t.Fatalf("flagged client should get maximal delay, got %+v", d)
	}

	suspects := l.Suspects()
	if len(suspects) != 1 || suspects[0] != "bot-1" {
		t.Errorf("expected bot-1 flagged, got %v", suspects)
	}
}

func TestSuspicious_IdentifierFanout(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.FanoutLimit = 5
	l := New(cfg)
	l.SetClock(clock.Now)

	ids := []string{"a", "b", "c", "d", "e", "f"}
	for i, id := range ids {
		clock.Advance(time.Duration(i*i+1) * 731 * time.Millisecond) // irregular
		l.Admit("scanner", "provider", id)
	}

	if d := l.Admit("scanner", "provider", "g"); d.Delay != cfg.MaxDelay {
		t.Fatalf("fan-out beyond limit should flag the client, got %+v", d)
	}
}

func TestClearSuspect_RestoresClient(t *testing.T) {
	l := New(testConfig())

	l.MarkSuspect("client-1")
	if d := l.Admit("client-1", "provider", ""); d.Delay == 0 {
		t.Fatal("flagged client should be delayed")
	}

	l.ClearSuspect("client-1")
	if d := l.Admit("client-1", "provider", ""); d.Delay != 0 {
		t.Fatalf("cleared client should pass: %+v", d)
	}
}

func TestFlaggedHook_FiresOnce(t *testing.T) {
	l := New(testConfig())

	var mu sync.Mutex
	var fired []string
	l.Flagged = func(id string) {
		mu.Lock()
		fired = append(fired, id)
		mu.Unlock()
	}

	l.MarkSuspect("client-1")
	l.MarkSuspect("client-1")

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 {
		t.Errorf("hook should fire once per transition, got %v", fired)
	}
}
