package ratelimit

import (
	"testing"
	"time"
)

// fakeClock advances manually so window boundaries are exact.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limits Limits) (*Limiter, *fakeClock) {
	l := New(limits)
	clock := newFakeClock()
	l.SetClock(clock.now)
	return l, clock
}

func TestMinuteWindow(t *testing.T) {
	l, clock := newTestLimiter(Limits{RequestsPerMinute: 3, RequestsPerHour: 100, RequestsPerDay: 100})

	for i := 0; i < 3; i++ {
		if !l.Allow("u1") {
			t.Fatalf("request %d should be allowed", i)
		}
		l.Record("u1", 0.5)
	}
	if l.Allow("u1") {
		t.Error("4th request inside the minute should be refused")
	}

	// Window slides: after 61s the minute count resets.
	clock.advance(61 * time.Second)
	if !l.Allow("u1") {
		t.Error("request after the minute window slid should be allowed")
	}
}

func TestHourAndDayWindows(t *testing.T) {
	l, clock := newTestLimiter(Limits{RequestsPerMinute: 100, RequestsPerHour: 5, RequestsPerDay: 8})

	for i := 0; i < 5; i++ {
		if !l.Allow("u1") {
			t.Fatalf("request %d should be allowed", i)
		}
		l.Record("u1", 0)
		clock.advance(2 * time.Minute)
	}
	if l.Allow("u1") {
		t.Error("6th request inside the hour should be refused")
	}

	clock.advance(time.Hour)
	for i := 0; i < 3; i++ {
		if !l.Allow("u1") {
			t.Fatalf("request %d in new hour should be allowed", i)
		}
		l.Record("u1", 0)
	}
	if l.Allow("u1") {
		t.Error("9th request inside the day should be refused")
	}

	clock.advance(25 * time.Hour)
	if !l.Allow("u1") {
		t.Error("request after the day window slid should be allowed")
	}
}

func TestCostCeiling(t *testing.T) {
	l, _ := newTestLimiter(Limits{RequestsPerDay: 100, CostCeiling: 10})

	l.Record("u1", 6)
	if !l.Allow("u1") {
		t.Error("under ceiling should be allowed")
	}
	l.Record("u1", 4)
	if l.Allow("u1") {
		t.Error("at ceiling should be refused")
	}
}

func TestUsersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(Limits{RequestsPerMinute: 1})

	l.Record("u1", 0)
	if l.Allow("u1") {
		t.Error("u1 should be at its limit")
	}
	if !l.Allow("u2") {
		t.Error("u2 must be unaffected by u1's usage")
	}
}

func TestAllowDoesNotConsume(t *testing.T) {
	l, _ := newTestLimiter(Limits{RequestsPerMinute: 2})

	for i := 0; i < 10; i++ {
		if !l.Allow("u1") {
			t.Fatal("Allow alone must not consume quota")
		}
	}
}

func TestRemaining(t *testing.T) {
	l, clock := newTestLimiter(Limits{RequestsPerDay: 5, CostCeiling: 10})

	q := l.Remaining("u1")
	if q.RequestsRemaining != 5 || q.CostRemaining != 10 {
		t.Fatalf("fresh user quota = %+v", q)
	}

	l.Record("u1", 3)
	l.Record("u1", 4)
	q = l.Remaining("u1")
	if q.RequestsRemaining != 3 {
		t.Errorf("RequestsRemaining = %d, want 3", q.RequestsRemaining)
	}
	if q.CostRemaining != 3 {
		t.Errorf("CostRemaining = %v, want 3", q.CostRemaining)
	}

	// Over-recording clamps at zero rather than going negative.
	l.Record("u1", 100)
	q = l.Remaining("u1")
	if q.CostRemaining != 0 {
		t.Errorf("CostRemaining = %v, want 0", q.CostRemaining)
	}

	// Requests fall out of the day window; cost does not.
	clock.advance(25 * time.Hour)
	q = l.Remaining("u1")
	if q.RequestsRemaining != 5 {
		t.Errorf("RequestsRemaining after window slid = %d, want 5", q.RequestsRemaining)
	}
	if q.CostRemaining != 0 {
		t.Errorf("cost ceiling is cumulative, got %v remaining", q.CostRemaining)
	}
}

func TestPruneBoundsHistory(t *testing.T) {
	l, clock := newTestLimiter(Limits{RequestsPerDay: 1000})

	for i := 0; i < 10; i++ {
		l.Record("u1", 0)
		clock.advance(3 * time.Hour)
	}

	// After 30h of spaced admissions only the last 24h survive.
	l.Allow("u1")
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.windows["u1"].timestamps); n >= 10 {
		t.Errorf("expected pruned history, got %d timestamps", n)
	}
	for _, ts := range l.windows["u1"].timestamps {
		if clock.now().Sub(ts) > 24*time.Hour {
			t.Errorf("timestamp %v older than the 24h lookback survived", ts)
		}
	}
}
