package session

import (
	"context"
	"net"
	"sync"

	"github.com/arlonorlan/chanhub/internal/chanerrors"
	"github.com/arlonorlan/chanhub/internal/logging"
	"github.com/rs/zerolog"
)

// Guard reports whether the resource guard currently has headroom to
// accept another connection. Satisfied by *platform.Guard.
type Guard interface {
	Allow() (bool, string)
}

// Registry is the Client Registry / Admission controller (C5): it owns
// the live session set and the admission gate the Listener blocks on
// before every accept.
//
// Concurrency: a single mutex guards Add and Remove; channel cleanup in
// Remove happens inside that lock, relying on the Channel Registry's own
// lock-ordering rule (registry-mutex before channel-mutex).
type Registry struct {
	hub   Hub
	guard Guard
	log   zerolog.Logger

	maxClients int

	mu       sync.Mutex
	sessions map[int64]*Session
	nextID   int64
	ready    chan struct{} // closed while admission is open

	newSession func(id int64, conn net.Conn) (*Session, error)
}

// NewRegistry constructs a Registry. newSession builds a Session for a
// freshly accepted connection — injected so the server controls codec,
// read size, and rate-limiter construction.
func NewRegistry(hub Hub, guard Guard, maxClients int, log zerolog.Logger, newSession func(id int64, conn net.Conn) (*Session, error)) *Registry {
	ready := make(chan struct{})
	close(ready)
	return &Registry{
		hub:        hub,
		guard:      guard,
		log:        log,
		maxClients: maxClients,
		sessions:   make(map[int64]*Session),
		ready:      ready,
		newSession: newSession,
	}
}

// Add creates a Session for conn, inserts it into the live set, and spawns
// its read-loop goroutine. It re-evaluates the admission gate before
// returning.
func (r *Registry) Add(conn net.Conn) (*Session, error) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++

	sess, err := r.newSession(id, conn)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.sessions[id] = sess
	r.reevaluateGateLocked()
	r.mu.Unlock()

	go func() {
		defer r.Remove(sess)
		defer logging.RecoverPanic(r.log, "session_read_loop", map[string]any{"session_id": sess.ID()})

		if err := sess.Run(); err != nil {
			if chanerrors.IsConnectionLost(err) {
				r.log.Debug().Err(err).Int64("session_id", sess.ID()).Msg("session read loop ended")
			} else {
				r.log.Warn().Err(err).Int64("session_id", sess.ID()).Msg("session read loop ended with error")
			}
		}
	}()

	return sess, nil
}

// Remove unsubscribes sess from every channel it belongs to, drops it from
// the live set, closes its connection, and re-evaluates the admission
// gate. Idempotent: removing an already-removed session is a no-op.
func (r *Registry) Remove(sess *Session) {
	r.mu.Lock()
	if _, ok := r.sessions[sess.ID()]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sess.ID())

	for _, name := range r.hub.ChannelsOf(sess) {
		_ = r.hub.Unsubscribe(name, sess)
	}

	r.reevaluateGateLocked()
	r.mu.Unlock()

	_ = sess.Close()
}

// reevaluateGateLocked opens or closes the admission gate based on the
// current session count and resource guard state. Must be called with mu
// held.
func (r *Registry) reevaluateGateLocked() {
	allow := len(r.sessions) < r.maxClients
	if allow && r.guard != nil {
		if ok, _ := r.guard.Allow(); !ok {
			allow = false
		}
	}

	select {
	case <-r.ready:
		// Gate is currently open (ready closed). Shut it if we no longer
		// have headroom.
		if !allow {
			r.ready = make(chan struct{})
		}
	default:
		// Gate is currently closed (ready is a fresh, open channel).
		// Open it once headroom is available again.
		if allow {
			close(r.ready)
		}
	}
}

// Wait blocks until the admission gate is open or ctx is cancelled.
func (r *Registry) Wait(ctx context.Context) error {
	r.mu.Lock()
	ready := r.ready
	r.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
