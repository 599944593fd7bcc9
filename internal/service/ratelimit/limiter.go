package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBudgetExhausted is returned when a call would have to wait longer than
// the caller allows for a slot in the window.
var ErrBudgetExhausted = errors.New("rate budget exhausted")

type window struct {
	budget int
	size   time.Duration
	calls  []time.Time // ascending
}

func (w *window) prune(now time.Time) {
	cut := now.Add(-w.size)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cut) {
		i++
	}
	w.calls = w.calls[i:]
}

// Limiter keeps a sliding log of call timestamps per key. No key ever sees
// more than its budget of calls inside any window-length interval.
type Limiter struct {
	mu  sync.Mutex
	m   map[string]*window
	now func() time.Time
}

func New() *Limiter { return &Limiter{m: make(map[string]*window), now: time.Now} }

// NewWithClock is New with an injectable clock.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{m: make(map[string]*window), now: now}
}

// Configure sets the budget for key. Existing call history is kept.
func (l *Limiter) Configure(key string, budget int, size time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.m[key]; ok {
		w.budget, w.size = budget, size
		return
	}
	l.m[key] = &window{budget: budget, size: size}
}

// Reserve records a call for key if a slot is free now. Otherwise it returns
// how long until the oldest call leaves the window.
func (l *Limiter) Reserve(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.m[key]
	if !ok || w.budget <= 0 {
		return 0, true
	}
	now := l.now()
	w.prune(now)
	if len(w.calls) < w.budget {
		w.calls = append(w.calls, now)
		return 0, true
	}
	return w.calls[0].Add(w.size).Sub(now), false
}

// Acquire blocks until key has a free slot, as long as the wait stays within
// maxWait. It fails fast with ErrBudgetExhausted otherwise.
func (l *Limiter) Acquire(ctx context.Context, key string, maxWait time.Duration) error {
	deadline := l.now().Add(maxWait)
	for {
		wait, ok := l.Reserve(key)
		if ok {
			return nil
		}
		if l.now().Add(wait).After(deadline) {
			return fmt.Errorf("%w: %s needs %s", ErrBudgetExhausted, key, wait.Round(time.Millisecond))
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Remaining returns the unused budget for key in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.m[key]
	if !ok {
		return 0
	}
	w.prune(l.now())
	return w.budget - len(w.calls)
}
