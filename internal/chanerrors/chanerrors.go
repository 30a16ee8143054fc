// Package chanerrors defines the typed error kinds used across chanhub's
// core subsystems so callers can classify failures with errors.As instead
// of matching on strings.
package chanerrors

import (
	"errors"
	"fmt"
)

// CodecError wraps a failure to encode or decode a framed payload.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("codec error: %s", e.Op)
	}
	return fmt.Sprintf("codec error: %s: %v", e.Op, e.Err)
}
func (e *CodecError) Unwrap() error { return e.Err }

// ErrNotSubscribed is returned by Channel.Unsubscribe when the session is
// not a member of the channel's subscriber set.
var ErrNotSubscribed = errors.New("not subscribed to channel")

// ConnectionLostError indicates the peer closed the socket or a network
// error occurred during a read or write.
type ConnectionLostError struct {
	Op  string
	Err error
}

func (e *ConnectionLostError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection lost: %s", e.Op)
	}
	return fmt.Sprintf("connection lost: %s: %v", e.Op, e.Err)
}
func (e *ConnectionLostError) Unwrap() error { return e.Err }

// BindError indicates the listener failed to bind its socket. Fatal.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind error: %s: %v", e.Addr, e.Err)
}
func (e *BindError) Unwrap() error { return e.Err }

// UnknownActionError is returned by the dispatcher when a request's action
// verb does not match any entry in the closed verb table.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action: %s", e.Action)
}

// BroadcastDeliveryError wraps a failure sending to a single subscriber
// during a channel broadcast. Non-fatal: the broadcast continues with the
// remaining subscribers.
type BroadcastDeliveryError struct {
	Channel string
	Err     error
}

func (e *BroadcastDeliveryError) Error() string {
	return fmt.Sprintf("broadcast delivery error on channel %q: %v", e.Channel, e.Err)
}
func (e *BroadcastDeliveryError) Unwrap() error { return e.Err }

// TimeEventBroadcastError wraps a failure broadcasting a fired time event.
// The scheduler logs it and still removes the event (see Scheduler.fire).
type TimeEventBroadcastError struct {
	EventID string
	Err     error
}

func (e *TimeEventBroadcastError) Error() string {
	return fmt.Sprintf("time event broadcast error for %s: %v", e.EventID, e.Err)
}
func (e *TimeEventBroadcastError) Unwrap() error { return e.Err }

// IsConnectionLost reports whether err is (or wraps) a ConnectionLostError.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	var cl *ConnectionLostError
	return errors.As(err, &cl)
}
