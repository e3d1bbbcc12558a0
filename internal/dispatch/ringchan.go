package dispatch

import (
	"sync/atomic"
	"time"
)

// RingChannel is a bounded channel-like buffer for cross-context event
// delivery. Producers never block: TrySend fails fast when the buffer is
// full (drop-newest), DropOldestSend evicts the head to make room
// (drop-oldest). Which policy applies is the caller's choice per queue.
//
// Readers use C() for a normal <-chan T, or TryReceive for non-blocking
// drains.
type RingChannel[T any] struct {
	ch      chan T
	dropped atomic.Int64
	written atomic.Int64
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("dispatch: ring channel capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// TrySend attempts to insert without blocking.
// Returns false if the buffer is full; the value is discarded.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		rc.written.Add(1)
		return true
	default:
		rc.dropped.Add(1)
		return false
	}
}

// DropOldestSend inserts v, evicting the oldest buffered element if the
// buffer is full. It never blocks. Returns true if an element was evicted.
func (rc *RingChannel[T]) DropOldestSend(v T) bool {
	evicted := false
	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch:
			rc.dropped.Add(1)
			evicted = true
		default:
		}
		rc.ch <- v
	}
	rc.written.Add(1)
	return evicted
}

// TrySendTimeout inserts v, waiting up to d for buffer space. Returns false
// if the buffer stayed full for the whole window. A non-positive d degrades
// to TrySend.
func (rc *RingChannel[T]) TrySendTimeout(v T, d time.Duration) bool {
	if d <= 0 {
		return rc.TrySend(v)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case rc.ch <- v:
		rc.written.Add(1)
		return true
	case <-timer.C:
		rc.dropped.Add(1)
		return false
	}
}

// TryReceive attempts a non-blocking receive.
// Returns (zero, false) if no value is ready.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Dropped returns the number of elements discarded so far, either by a
// failed TrySend or by DropOldestSend eviction.
func (rc *RingChannel[T]) Dropped() int64 {
	return rc.dropped.Load()
}

// Written returns the number of elements accepted so far.
func (rc *RingChannel[T]) Written() int64 {
	return rc.written.Load()
}
