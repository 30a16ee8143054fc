package channel

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry maps channel name to Channel, creating entries lazily on first
// subscribe and destroying them once their last subscriber leaves.
//
// Lock order: the registry mutex is always acquired before any Channel's
// own mutex, never the reverse. Callers outside this package (notably
// Client Registry's Remove) must respect the same order when they hold
// both locks across a call.
type Registry struct {
	log zerolog.Logger

	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{log: log, channels: make(map[string]*Channel)}
}

// Subscribe lazily creates the named channel if absent, then subscribes sub
// to it.
func (r *Registry) Subscribe(name string, sub Subscriber) {
	r.mu.Lock()
	ch, ok := r.channels[name]
	if !ok {
		ch = New(name, r.log)
		r.channels[name] = ch
	}
	r.mu.Unlock()

	ch.Subscribe(sub)
}

// Unsubscribe removes sub from the named channel, if it exists, and drops
// the channel entry once it has no remaining subscribers.
func (r *Registry) Unsubscribe(name string, sub Subscriber) error {
	r.mu.Lock()
	ch, ok := r.channels[name]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	err := ch.Unsubscribe(sub)

	r.mu.Lock()
	if ch.Count() == 0 {
		delete(r.channels, name)
	}
	r.mu.Unlock()

	return err
}

// Broadcast delivers (msgType, data) to every live channel named in names.
// Names without a live channel are silently skipped. Returns the total
// number of subscriber deliveries that failed across all named channels.
func (r *Registry) Broadcast(names []string, msgType string, data any) int {
	failures := 0
	for _, name := range names {
		r.mu.RLock()
		ch, ok := r.channels[name]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		failures += ch.Broadcast(msgType, data)
	}
	return failures
}

// SubscriberCount returns the number of subscribers on the named channel, or
// 0 if no such channel is currently live.
func (r *Registry) SubscriberCount(name string) int {
	r.mu.RLock()
	ch, ok := r.channels[name]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return ch.Count()
}

// ChannelsOf returns the names of every channel sub currently subscribes
// to. Used by Client Registry to clean up on disconnect.
func (r *Registry) ChannelsOf(sub Subscriber) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, ch := range r.channels {
		for _, s := range ch.Subscribers() {
			if s.ID() == sub.ID() {
				names = append(names, name)
				break
			}
		}
	}
	return names
}

// Names returns every live channel name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}

// Count returns the number of live channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
