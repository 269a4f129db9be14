package rate

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// bucket is a per-host token bucket with FIFO hand-out. Capacity tokens
// refill at capacity/period. Waiters are queued so that tokens are granted
// in arrival order even when many goroutines contend.
type bucket struct {
	mu       sync.Mutex
	capacity float64
	refill   float64 // tokens per second
	tokens   float64
	last     time.Time
	waiters  *list.List // of chan struct{}
}

func newBucket(capacity int, period time.Duration) *bucket {
	if capacity < 1 {
		capacity = 1
	}
	if period <= 0 {
		period = time.Second
	}
	return &bucket{
		capacity: float64(capacity),
		refill:   float64(capacity) / period.Seconds(),
		tokens:   float64(capacity),
		last:     time.Now(),
		waiters:  list.New(),
	}
}

func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.last = now
	b.tokens += elapsed * b.refill
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// acquire blocks until a token is available or ctx is done. FIFO: a caller
// only takes a token when it is at the head of the waiter queue.
func (b *bucket) acquire(ctx context.Context) error {
	b.mu.Lock()
	b.refillLocked(time.Now())
	if b.waiters.Len() == 0 && b.tokens >= 1 {
		b.tokens--
		b.mu.Unlock()
		return nil
	}
	ready := make(chan struct{}, 1)
	elem := b.waiters.PushBack(ready)
	b.scheduleLocked()
	b.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		// The token may have been granted between ctx.Done and the lock;
		// return it to the pool in that case.
		select {
		case <-ready:
			b.tokens++
			b.scheduleLocked()
		default:
			b.waiters.Remove(elem)
		}
		b.mu.Unlock()
		return ctx.Err()
	}
}

// scheduleLocked grants tokens to queued waiters in order, arming a timer
// for the next refill when tokens run out.
func (b *bucket) scheduleLocked() {
	b.refillLocked(time.Now())
	for b.waiters.Len() > 0 && b.tokens >= 1 {
		front := b.waiters.Front()
		b.waiters.Remove(front)
		b.tokens--
		front.Value.(chan struct{}) <- struct{}{}
	}
	if b.waiters.Len() == 0 {
		return
	}
	wait := time.Duration((1 - b.tokens) / b.refill * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	time.AfterFunc(wait, func() {
		b.mu.Lock()
		b.scheduleLocked()
		b.mu.Unlock()
	})
}
