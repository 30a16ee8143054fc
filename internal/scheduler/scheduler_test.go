package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingBroadcaster) Broadcast(names []string, msgType string, data any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(names) > 0 {
		r.calls = append(r.calls, names[0])
	}
	return 0
}

func (r *recordingBroadcaster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingBroadcaster) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return ""
	}
	return r.calls[len(r.calls)-1]
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestSchedulerFiresAtDeadline(t *testing.T) {
	b := &recordingBroadcaster{}
	s := New(b, zerolog.Nop())

	s.Add("prices", "hello", time.Now().Add(20*time.Millisecond))

	waitFor(t, func() bool { return b.count() == 1 }, time.Second)
	if s.Pending() != 0 {
		t.Fatalf("got %d pending, want 0 after fire", s.Pending())
	}
}

func TestSchedulerPreemptsOnEarlierArrival(t *testing.T) {
	b := &recordingBroadcaster{}
	s := New(b, zerolog.Nop())

	s.Add("late", nil, time.Now().Add(200*time.Millisecond))
	s.Add("early", nil, time.Now().Add(20*time.Millisecond))

	waitFor(t, func() bool { return b.count() == 1 }, time.Second)
	if got := b.last(); got != "early" {
		t.Fatalf("got %q fired first, want early", got)
	}

	waitFor(t, func() bool { return b.count() == 2 }, time.Second)
	if got := b.last(); got != "late" {
		t.Fatalf("got %q fired second, want late", got)
	}
}

func TestSchedulerOrdersByExecTimestampThenInsertion(t *testing.T) {
	b := &recordingBroadcaster{}
	s := New(b, zerolog.Nop())

	now := time.Now().Add(30 * time.Millisecond)
	s.Add("first", nil, now)
	s.Add("second", nil, now)

	waitFor(t, func() bool { return b.count() == 2 }, time.Second)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.calls[0] != "first" || b.calls[1] != "second" {
		t.Fatalf("got order %v, want [first second]", b.calls)
	}
}

func TestSchedulerPendingReflectsQueueDepth(t *testing.T) {
	b := &recordingBroadcaster{}
	s := New(b, zerolog.Nop())

	s.Add("a", nil, time.Now().Add(time.Hour))
	s.Add("b", nil, time.Now().Add(2*time.Hour))

	if s.Pending() != 2 {
		t.Fatalf("got %d pending, want 2", s.Pending())
	}
}
