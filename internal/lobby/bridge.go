package lobby

import "sync"

// Bridge hands completion results from provider goroutines to the single
// polling goroutine. It is an unbounded FIFO: Submit never blocks on the
// consumer and never drops a value.
type Bridge struct {
	mu    sync.Mutex
	queue []Result
	head  int
}

// NewBridge creates an empty Bridge.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Submit enqueues r. Safe for concurrent use by any number of producers.
//
// Postcondition: r is retrievable by a later TryTake, after every value
// submitted before it by the same goroutine.
func (b *Bridge) Submit(r Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, r)
}

// TryTake dequeues the oldest unconsumed result without blocking.
// Only the polling goroutine may call TryTake.
//
// Postcondition: Returns (result, true) if one was queued, or (Result{}, false).
func (b *Bridge) TryTake() (Result, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.head >= len(b.queue) {
		return Result{}, false
	}
	r := b.queue[b.head]
	b.queue[b.head] = Result{}
	b.head++

	// Reclaim the consumed prefix once the queue drains.
	if b.head == len(b.queue) {
		b.queue = b.queue[:0]
		b.head = 0
	}
	return r, true
}

// Len returns the number of queued results.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) - b.head
}
