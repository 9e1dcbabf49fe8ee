// Package buffer provides the bounded per-session outbound queue.
package buffer

import (
	"sync"
)

// FrameQueue is a thread-safe bounded FIFO of encoded frames. When the
// queue is full the oldest frame is discarded to make room, so a slow
// consumer can never block a producer; broadcasts to many sessions stay
// non-blocking regardless of any single session's backpressure.
//
// A write pump drains the queue by waiting on Ready and calling Pop
// until it returns false.
type FrameQueue struct {
	frames   [][]byte
	capacity int
	dropped  int64
	closed   bool
	ready    chan struct{}
	mu       sync.Mutex
}

// NewFrameQueue creates a FrameQueue with the given capacity.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameQueue{
		frames:   make([][]byte, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push enqueues an encoded frame. If the queue is full the oldest frame
// is discarded and the dropped counter incremented. Push on a closed
// queue is a no-op and returns false.
func (q *FrameQueue) Push(frame []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if len(q.frames) >= q.capacity {
		copy(q.frames, q.frames[1:])
		q.frames = q.frames[:len(q.frames)-1]
		q.dropped++
	}
	q.frames = append(q.frames, frame)
	q.mu.Unlock()

	q.signal()
	return true
}

// Pop removes and returns the oldest frame. The second return is false
// when the queue is empty or closed.
func (q *FrameQueue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return nil, false
	}
	frame := q.frames[0]
	q.frames = q.frames[1:]
	return frame, true
}

// Ready returns a channel that receives a signal whenever frames are
// available or the queue is closed.
func (q *FrameQueue) Ready() <-chan struct{} {
	return q.ready
}

// Close marks the queue closed, discards pending frames and wakes the
// consumer. Queued outbound work is cancelled immediately.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.frames = nil
	q.mu.Unlock()

	q.signal()
}

// Closed reports whether the queue has been closed.
func (q *FrameQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped returns the number of frames discarded due to overflow.
func (q *FrameQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Cap returns the queue capacity.
func (q *FrameQueue) Cap() int {
	return q.capacity
}

func (q *FrameQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
