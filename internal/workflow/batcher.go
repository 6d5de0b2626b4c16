package workflow

import (
	"sync"
	"time"
)

// FlushFunc receives the queued chunks of one flush, in push order.
type FlushFunc func(chunks []string)

// Batcher coalesces high-frequency output fragments into periodic
// flushes so downstream observers see a bounded event rate. Chunks are
// never delivered individually and never reordered.
type Batcher struct {
	mu       sync.Mutex
	interval time.Duration
	flushFn  FlushFunc
	pending  []string
	timer    *time.Timer
	stopped  bool

	// deliverMu serializes flushFn calls: a timer flush and an explicit
	// Flush must not deliver concurrently or chunks could reorder. It is
	// acquired before mu, never the other way around.
	deliverMu sync.Mutex
}

// NewBatcher creates a batcher flushing at most once per interval.
func NewBatcher(interval time.Duration, fn FlushFunc) *Batcher {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Batcher{
		interval: interval,
		flushFn:  fn,
	}
}

// Push queues a chunk and arms the flush timer if idle. A timer armed
// by an earlier Push is left running, so a steady stream flushes once
// per interval rather than once per chunk.
func (b *Batcher) Push(chunk string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}
	b.pending = append(b.pending, chunk)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.interval, b.flushTimer)
	}
}

func (b *Batcher) flushTimer() {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	b.timer = nil
	chunks := b.take()
	b.mu.Unlock()

	if len(chunks) > 0 {
		b.flushFn(chunks)
	}
}

// Flush synchronously delivers everything queued and disarms the
// timer. Flushing an empty batcher is a no-op.
func (b *Batcher) Flush() {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	b.disarm()
	chunks := b.take()
	b.mu.Unlock()

	if len(chunks) > 0 {
		b.flushFn(chunks)
	}
}

// Destroy disarms the timer and discards queued chunks. The batcher
// accepts no further pushes.
func (b *Batcher) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.disarm()
	b.pending = nil
	b.stopped = true
}

// take hands the pending slice to the caller; must hold b.mu.
func (b *Batcher) take() []string {
	chunks := b.pending
	b.pending = nil
	return chunks
}

// disarm stops a pending timer; must hold b.mu.
func (b *Batcher) disarm() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
