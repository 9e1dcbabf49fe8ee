package buffer

import (
	"fmt"
	"testing"
	"time"
)

func TestFrameQueueFIFO(t *testing.T) {
	q := NewFrameQueue(4)

	q.Push([]byte("a"))
	q.Push([]byte("b"))
	q.Push([]byte("c"))

	for _, want := range []string{"a", "b", "c"} {
		frame, ok := q.Pop()
		if !ok {
			t.Fatalf("expected frame %q, queue empty", want)
		}
		if string(frame) != want {
			t.Errorf("expected %q, got %q", want, frame)
		}
	}

	if _, ok := q.Pop(); ok {
		t.Error("expected empty queue")
	}
}

func TestFrameQueueDropsOldestOnOverflow(t *testing.T) {
	q := NewFrameQueue(3)

	for i := 0; i < 5; i++ {
		q.Push([]byte(fmt.Sprintf("frame-%d", i)))
	}

	if q.Dropped() != 2 {
		t.Errorf("expected 2 dropped frames, got %d", q.Dropped())
	}

	// Oldest two were discarded; the newest three remain in order.
	for _, want := range []string{"frame-2", "frame-3", "frame-4"} {
		frame, ok := q.Pop()
		if !ok {
			t.Fatalf("expected frame %q, queue empty", want)
		}
		if string(frame) != want {
			t.Errorf("expected %q, got %q", want, frame)
		}
	}
}

func TestFrameQueueReadySignal(t *testing.T) {
	q := NewFrameQueue(8)

	select {
	case <-q.Ready():
		t.Fatal("unexpected ready signal on empty queue")
	default:
	}

	q.Push([]byte("x"))

	select {
	case <-q.Ready():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected ready signal after push")
	}
}

func TestFrameQueueClose(t *testing.T) {
	q := NewFrameQueue(8)
	q.Push([]byte("pending"))

	q.Close()

	if !q.Closed() {
		t.Error("expected queue to be closed")
	}
	if _, ok := q.Pop(); ok {
		t.Error("expected queued frames to be discarded on close")
	}
	if q.Push([]byte("late")) {
		t.Error("expected push on closed queue to be rejected")
	}

	// Close wakes the consumer so a blocked write pump can exit.
	select {
	case <-q.Ready():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected ready signal after close")
	}

	// Idempotent.
	q.Close()
}
