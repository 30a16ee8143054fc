// Package scheduler implements the time-event scheduler: a sorted
// earliest-deadline-first sequence served by a single preemptible timer.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/arlonorlan/chanhub/internal/chanerrors"
	"github.com/arlonorlan/chanhub/internal/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Broadcaster is the subset of the channel registry the scheduler needs to
// deliver a fired event. Kept as an interface to avoid an import cycle with
// the channel package and to ease testing. Returns the number of subscriber
// deliveries that failed.
type Broadcaster interface {
	Broadcast(names []string, msgType string, data any) int
}

// Event is one scheduled broadcast.
type Event struct {
	ID               string
	Channel          string
	Data             any
	ExecTimestamp    time.Time
	CreatedTimestamp time.Time

	seq uint64 // insertion order, breaks exec_timestamp ties
}

// task is the single outstanding timer bound to the current head event.
type task struct {
	event   *Event
	cancel  chan struct{}
	skipped bool
}

// Scheduler holds the sorted event sequence and the one active timer task.
//
// Lock order is fixed: execMu before eventsMu. reseatTimer takes execMu
// and, while holding it, briefly takes eventsMu to read the head. Add and
// fire release eventsMu before calling reseatTimer, so eventsMu is never
// held while acquiring execMu.
type Scheduler struct {
	log         zerolog.Logger
	broadcaster Broadcaster

	eventsMu sync.Mutex
	events   []*Event
	nextSeq  uint64

	execMu  sync.Mutex
	current *task
}

// New constructs an empty Scheduler bound to broadcaster.
func New(broadcaster Broadcaster, log zerolog.Logger) *Scheduler {
	return &Scheduler{broadcaster: broadcaster, log: log}
}

// Add inserts a new time event in sorted order and reseats the timer.
func (s *Scheduler) Add(channelName string, data any, execTimestamp time.Time) *Event {
	ev := &Event{
		ID:               uuid.New().String(),
		Channel:          channelName,
		Data:             data,
		ExecTimestamp:    execTimestamp,
		CreatedTimestamp: time.Now(),
	}

	s.eventsMu.Lock()
	ev.seq = s.nextSeq
	s.nextSeq++
	s.events = insertSorted(s.events, ev)
	s.eventsMu.Unlock()

	s.reseatTimer()
	return ev
}

// Pending returns the number of events still in the sequence.
func (s *Scheduler) Pending() int {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	return len(s.events)
}

func insertSorted(events []*Event, ev *Event) []*Event {
	i := 0
	for i < len(events) {
		e := events[i]
		if ev.ExecTimestamp.Before(e.ExecTimestamp) {
			break
		}
		if ev.ExecTimestamp.Equal(e.ExecTimestamp) && ev.seq < e.seq {
			break
		}
		i++
	}
	events = append(events, nil)
	copy(events[i+1:], events[i:])
	events[i] = ev
	return events
}

func (s *Scheduler) head() *Event {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[0]
}

// reseatTimer ensures exactly one timer goroutine is armed for the current
// head event, cancelling and replacing a stale one if the head changed.
func (s *Scheduler) reseatTimer() {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	head := s.head()

	if s.current != nil && head != nil && s.current.event.ID == head.ID {
		return
	}

	if s.current != nil {
		s.current.skipped = true
		close(s.current.cancel)
		s.current = nil
	}

	if head == nil {
		return
	}

	t := &task{event: head, cancel: make(chan struct{})}
	s.current = t
	go s.runTimer(t)
}

func (s *Scheduler) runTimer(t *task) {
	defer logging.RecoverPanic(s.log, "scheduler_timer", map[string]any{"event_id": t.event.ID})

	delay := time.Until(t.event.ExecTimestamp)
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-t.cancel:
			return
		}
	}

	if t.skipped {
		return
	}
	s.fire(t.event)
}

// fire broadcasts event if it is still the head, then advances the
// sequence. The event is removed after broadcasting even when some
// subscriber deliveries failed; those failures are logged as a
// TimeEventBroadcastError and the event is not retried.
func (s *Scheduler) fire(event *Event) {
	s.eventsMu.Lock()

	if len(s.events) == 0 || s.events[0].ID != event.ID {
		s.eventsMu.Unlock()
		return
	}

	payload := map[string]any{
		"id":             event.ID,
		"channel_name":   event.Channel,
		"timestamp":      epochSeconds(event.CreatedTimestamp),
		"exec_timestamp": epochSeconds(event.ExecTimestamp),
		"data":           event.Data,
	}

	failures := s.broadcaster.Broadcast([]string{event.Channel}, "time_event", payload)
	if failures > 0 {
		s.log.Warn().Err(&chanerrors.TimeEventBroadcastError{
			EventID: event.ID,
			Err:     fmt.Errorf("%d subscriber deliveries failed", failures),
		}).Msg("time event broadcast had delivery failures")
	}

	s.events = s.events[1:]
	s.eventsMu.Unlock()

	s.reseatTimer()
}

// epochSeconds renders t as floating-point seconds since the Unix epoch,
// matching the wire protocol's numeric timestamp fields.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
