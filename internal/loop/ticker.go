// Package loop drives polling loops at a fixed cadence.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type entry struct {
	name string
	fn   func()
}

// Ticker runs registered callbacks at a fixed interval on a single goroutine,
// in registration order. Callbacks therefore never run concurrently with
// each other, which makes each one a single-threaded polling loop.
//
// Invariant: every registered callback is invoked at most once per interval.
type Ticker struct {
	interval time.Duration
	mu       sync.Mutex
	entries  []entry
	ticks    atomic.Int64
}

// NewTicker returns a Ticker that fires every interval.
//
// Precondition: interval must be > 0.
func NewTicker(interval time.Duration) *Ticker {
	if interval <= 0 {
		panic("loop.NewTicker: interval must be > 0")
	}
	return &Ticker{interval: interval}
}

// Interval returns the configured cadence.
func (t *Ticker) Interval() time.Duration { return t.interval }

// Register adds fn under name, replacing any callback already registered
// under that name while keeping its position.
func (t *Ticker) Register(name string, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].name == name {
			t.entries[i].fn = fn
			return
		}
	}
	t.entries = append(t.entries, entry{name: name, fn: fn})
}

// Unregister removes the callback registered under name.
func (t *Ticker) Unregister(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].name == name {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// Names returns the registered callback names in firing order.
func (t *Ticker) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, len(t.entries))
	for i, e := range t.entries {
		names[i] = e.name
	}
	return names
}

// Ticks returns how many intervals have fired.
func (t *Ticker) Ticks() int64 { return t.ticks.Load() }

// Fire runs every callback once, synchronously.
func (t *Ticker) Fire() {
	t.mu.Lock()
	fns := make([]func(), len(t.entries))
	for i, e := range t.entries {
		fns[i] = e.fn
	}
	t.mu.Unlock()
	t.ticks.Add(1)
	for _, fn := range fns {
		fn()
	}
}

// Run fires callbacks every interval until ctx is cancelled.
//
// Postcondition: Returns ctx.Err() once cancelled; no callback runs after Run returns.
func (t *Ticker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Fire()
		}
	}
}

// Start runs the loop on its own goroutine and returns a channel closed when it exits.
func (t *Ticker) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = t.Run(ctx)
	}()
	return done
}
