// Package channel implements the pub/sub topic (Channel) and its registry
// (Registry), chanhub's subscription and broadcast core.
package channel

import (
	"sync"

	"github.com/arlonorlan/chanhub/internal/chanerrors"
	"github.com/arlonorlan/chanhub/internal/logging"
	"github.com/rs/zerolog"
)

// Subscriber is anything a Channel can deliver messages to. Client Session
// implements this; tests use lightweight fakes.
type Subscriber interface {
	ID() int64
	Send(msgType string, data any) error
}

// Channel holds the subscriber list for one topic and broadcasts to it
// under a single lock. Subscribe is additive on every call: a session that
// subscribes twice receives every broadcast twice until it unsubscribes
// once (§9 design note — this mirrors the original behavior rather than
// deduplicating).
type Channel struct {
	name string
	log  zerolog.Logger

	mu          sync.Mutex
	subscribers []Subscriber
}

// New constructs an empty Channel.
func New(name string, log zerolog.Logger) *Channel {
	return &Channel{name: name, log: logging.WithChannel(log, name)}
}

// Name returns the channel's topic name.
func (c *Channel) Name() string { return c.name }

// Subscribe appends sub to the subscriber list.
func (c *Channel) Subscribe(sub Subscriber) {
	c.mu.Lock()
	c.subscribers = append(c.subscribers, sub)
	c.mu.Unlock()
}

// Unsubscribe removes the first occurrence of sub. Returns
// chanerrors.ErrNotSubscribed if sub is not present.
func (c *Channel) Unsubscribe(sub Subscriber) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.subscribers {
		if s.ID() == sub.ID() {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			return nil
		}
	}
	return chanerrors.ErrNotSubscribed
}

// Broadcast delivers (msgType, data) to every subscriber in subscription
// order, holding the channel lock for the whole fan-out. A failed send is
// logged and does not interrupt delivery to the remaining subscribers.
// Returns the number of subscribers whose send failed.
func (c *Channel) Broadcast(msgType string, data any) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	failures := 0
	for _, sub := range c.subscribers {
		if err := sub.Send(msgType, data); err != nil {
			c.log.Warn().Err(&chanerrors.BroadcastDeliveryError{Channel: c.name, Err: err}).
				Int64("session_id", sub.ID()).Msg("broadcast delivery failed")
			failures++
		}
	}
	return failures
}

// Subscribers returns a point-in-time copy of the subscriber list.
func (c *Channel) Subscribers() []Subscriber {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Subscriber, len(c.subscribers))
	copy(out, c.subscribers)
	return out
}

// Count returns the number of subscribers, counting duplicate
// subscriptions of the same session separately.
func (c *Channel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}
