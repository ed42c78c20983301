// Package ratelimit provides per-user sliding-window admission control for
// one provider: minute/hour/day request windows plus a cumulative cost
// ceiling.
package ratelimit

import (
	"sync"
	"time"

	"vidgate/internal/core"
)

// lookback bounds the retained timestamp history. Nothing older than this
// survives a prune, so windows stay bounded without explicit destruction.
const lookback = 24 * time.Hour

// Limits is a provider's static per-user policy table.
type Limits struct {
	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int
	CostCeiling       float64
}

// userWindow tracks one user's admissions against one provider.
type userWindow struct {
	timestamps []time.Time
	cost       float64
}

// Limiter enforces one provider's Limits across its users. Safe for
// concurrent use.
type Limiter struct {
	mu      sync.Mutex
	limits  Limits
	windows map[string]*userWindow
	now     func() time.Time
}

// New creates a limiter for the given policy table.
func New(limits Limits) *Limiter {
	return &Limiter{
		limits:  limits,
		windows: make(map[string]*userWindow),
		now:     time.Now,
	}
}

// prune drops timestamps older than the 24h lookback. Caller holds l.mu.
func (w *userWindow) prune(now time.Time) {
	cutoff := now.Add(-lookback)
	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[i:]...)
	}
}

// counts returns the request counts inside the minute, hour, and day
// windows. Caller holds l.mu and has pruned.
func (w *userWindow) counts(now time.Time) (minute, hour, day int) {
	minuteCutoff := now.Add(-time.Minute)
	hourCutoff := now.Add(-time.Hour)
	for _, ts := range w.timestamps {
		day++
		if ts.After(hourCutoff) {
			hour++
		}
		if ts.After(minuteCutoff) {
			minute++
		}
	}
	return minute, hour, day
}

func (l *Limiter) window(userID string) *userWindow {
	w, ok := l.windows[userID]
	if !ok {
		w = &userWindow{}
		l.windows[userID] = w
	}
	return w
}

// Allow reports whether the user still has quota. Admission is refused when
// any window count has reached its limit or the accumulated cost has reached
// the ceiling. Allow never mutates the window beyond pruning.
func (l *Limiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.window(userID)
	w.prune(now)

	minute, hour, day := w.counts(now)
	if l.limits.RequestsPerMinute > 0 && minute >= l.limits.RequestsPerMinute {
		return false
	}
	if l.limits.RequestsPerHour > 0 && hour >= l.limits.RequestsPerHour {
		return false
	}
	if l.limits.RequestsPerDay > 0 && day >= l.limits.RequestsPerDay {
		return false
	}
	if l.limits.CostCeiling > 0 && w.cost >= l.limits.CostCeiling {
		return false
	}
	return true
}

// Record charges one admitted request and its cost against the user's
// windows. Called only on the path that actually dispatches to the provider.
func (l *Limiter) Record(userID string, cost float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.window(userID)
	w.timestamps = append(w.timestamps, now)
	w.cost += cost
	w.prune(now)
}

// Remaining reports the user's remaining daily request count and cost
// allowance, clamped at zero.
func (l *Limiter) Remaining(userID string) core.Quota {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.window(userID)
	w.prune(now)

	_, _, day := w.counts(now)
	q := core.Quota{
		RequestsRemaining: l.limits.RequestsPerDay - day,
		CostRemaining:     l.limits.CostCeiling - w.cost,
	}
	if q.RequestsRemaining < 0 {
		q.RequestsRemaining = 0
	}
	if q.CostRemaining < 0 {
		q.CostRemaining = 0
	}
	return q
}

// SetClock replaces the limiter's time source. Test hook.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
