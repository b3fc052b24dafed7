// Package ratelimit blocks client keys that accumulate too many failed
// authentication attempts inside a sliding window.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultWindow    = 15 * time.Minute
	DefaultThreshold = 5

	// PendingRetry is reported when a key is held back only by attempts
	// still being checked.
	PendingRetry = time.Second
)

// Limiter tracks failures per client key. Keys are independent: each has
// its own lock, and the index lock is only held to find or create it.
type Limiter struct {
	window    time.Duration
	threshold int
	now       func() time.Time

	mu      sync.RWMutex
	windows map[string]*failureWindow
}

type failureWindow struct {
	mu sync.Mutex
	// failures is ordered oldest first and holds at most threshold entries;
	// older ones cannot affect the outcome.
	failures []time.Time
	// inflight counts attempts handed out by Acquire and not yet settled.
	inflight int
	// removed is set once the window has left the index.
	removed bool
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindow sets the sliding window length. Non-positive values are ignored.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithThreshold sets how many failures inside the window block a key.
// Values below 1 are ignored.
func WithThreshold(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.threshold = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		window:    DefaultWindow,
		threshold: DefaultThreshold,
		now:       time.Now,
		windows:   make(map[string]*failureWindow),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordFailure appends a failed attempt for key.
func (l *Limiter) RecordFailure(key string) {
	w := l.lock(key)
	defer w.mu.Unlock()

	l.fail(w)
}

// Acquire reserves an attempt for key. Attempts still in flight count
// toward the threshold together with recorded failures, so concurrent
// requests cannot all slip past the check. When key is blocked, the
// returned Attempt is nil and retry is positive.
func (l *Limiter) Acquire(key string) (*Attempt, bool, time.Duration) {
	w := l.lock(key)
	defer w.mu.Unlock()

	now := l.now()
	w.prune(now, l.window)

	if len(w.failures) >= l.threshold {
		oldest := w.failures[len(w.failures)-l.threshold]
		return nil, true, oldest.Add(l.window).Sub(now)
	}
	if len(w.failures)+w.inflight >= l.threshold {
		return nil, true, PendingRetry
	}

	w.inflight++
	return &Attempt{l: l, key: key, w: w}, false, 0
}

// IsBlocked reports whether key has reached the threshold and, if so, how
// long until the oldest counted failure leaves the window. The duration is
// always positive when blocked and zero otherwise.
func (l *Limiter) IsBlocked(key string) (bool, time.Duration) {
	w := l.get(key)
	if w == nil {
		return false, 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	w.prune(now, l.window)
	if len(w.failures) < l.threshold {
		return false, 0
	}

	oldest := w.failures[len(w.failures)-l.threshold]
	return true, oldest.Add(l.window).Sub(now)
}

// Reset forgets all failures for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.failures = w.failures[:0]
	if w.inflight == 0 {
		w.removed = true
		delete(l.windows, key)
	}
}

// Prune drops keys whose failures have all left the window and returns how
// many were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		w.mu.Lock()
		w.prune(now, l.window)
		idle := len(w.failures) == 0 && w.inflight == 0
		if idle {
			w.removed = true
			delete(l.windows, key)
			removed++
		}
		w.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}

func (l *Limiter) get(key string) *failureWindow {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.windows[key]
}

func (l *Limiter) getOrCreate(key string) *failureWindow {
	if w := l.get(key); w != nil {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &failureWindow{}
		l.windows[key] = w
	}
	return w
}

// lock returns the live window for key with w.mu held.
func (l *Limiter) lock(key string) *failureWindow {
	for {
		w := l.getOrCreate(key)
		w.mu.Lock()
		if !w.removed {
			return w
		}
		w.mu.Unlock()
	}
}

// dropIdle removes w from the index if it tracks nothing.
func (l *Limiter) dropIdle(key string, w *failureWindow) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.windows[key] != w {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.failures) == 0 && w.inflight == 0 {
		w.removed = true
		delete(l.windows, key)
	}
}

// fail records a failure at the current time. Caller holds w.mu.
func (l *Limiter) fail(w *failureWindow) {
	now := l.now()
	w.prune(now, l.window)
	w.failures = append(w.failures, now)
	if extra := len(w.failures) - l.threshold; extra > 0 {
		w.failures = append(w.failures[:0], w.failures[extra:]...)
	}
}

// prune drops failures at or before now-window. Caller holds w.mu.
func (w *failureWindow) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(w.failures) && !w.failures[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.failures = append(w.failures[:0], w.failures[i:]...)
	}
}

// Attempt is a reservation handed out by Acquire. Exactly one of Fail,
// Succeed or Release takes effect; later calls are no-ops. Attempt is safe
// for concurrent use.
type Attempt struct {
	l    *Limiter
	key  string
	w    *failureWindow
	once sync.Once
}

// Fail settles the attempt as a failed one.
func (a *Attempt) Fail() {
	a.settle(func() { a.l.fail(a.w) })
}

// Succeed settles the attempt and forgets every failure for the key.
func (a *Attempt) Succeed() {
	a.settle(func() { a.w.failures = a.w.failures[:0] })
}

// Release gives the reservation back without recording anything. It is
// meant to be deferred right after Acquire.
func (a *Attempt) Release() {
	a.settle(func() {})
}

func (a *Attempt) settle(fn func()) {
	if a == nil {
		return
	}
	a.once.Do(func() {
		a.w.mu.Lock()
		a.w.inflight--
		fn()
		a.w.mu.Unlock()

		a.l.dropIdle(a.key, a.w)
	})
}
