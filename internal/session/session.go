// Package session implements the Client Session (C4): one connected peer's
// request dispatch and outgoing message framing.
package session

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/arlonorlan/chanhub/internal/chanerrors"
	"github.com/arlonorlan/chanhub/internal/codec"
	"github.com/arlonorlan/chanhub/internal/frame"
	"github.com/arlonorlan/chanhub/internal/logging"
	"github.com/arlonorlan/chanhub/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Action verbs accepted from the wire, bit-exact with the original
// protocol.
const (
	ActionPing         = "ping"
	ActionSubscribe    = "subscribe"
	ActionUnsubscribe  = "unsubscribe"
	ActionInfo         = "info"
	ActionPublish      = "publish"
	ActionAddTimeEvent = "add_time_event"
)

// Server → client message types.
const (
	MsgTypeMessage        = "message"
	MsgTypePublishedEvent = "published_event"
	MsgTypeTimeEvent      = "time_event"
	MsgTypeErrorMessage   = "error_message"
)

// Request is the decoded shape of every client → server frame. Fields not
// used by a given action are left zero.
type Request struct {
	Action        string  `json:"action"`
	ChannelName   string  `json:"channel_name"`
	Data          any     `json:"data"`
	ExecTimestamp float64 `json:"exec_timestamp"`
}

// Hub is the set of dependencies a Session dispatches requests to. The
// server wires its real Channel Registry and Scheduler into this
// interface; tests use fakes.
type Hub interface {
	Subscribe(channelName string, sub Sender)
	Unsubscribe(channelName string, sub Sender) error
	Broadcast(channelNames []string, msgType string, data any)
	ChannelsOf(sub Sender) []string
	AddTimeEvent(channelName string, data any, execTimestamp time.Time)
	Info() InfoSnapshot
}

// Sender is the narrow interface the channel package's Subscriber also
// satisfies; Session implements it so the Channel Registry can deliver to
// it without an import cycle.
type Sender interface {
	ID() int64
	Send(msgType string, data any) error
}

// InfoSnapshot is the data returned for the "info" action.
type InfoSnapshot struct {
	StartedTime   float64  `json:"started_time"`
	Uptime        float64  `json:"uptime"`
	Clients       int      `json:"clients"`
	ChannelsNum   int      `json:"channels_num"`
	Channels      []string `json:"channels"`
	TimeEventsNum int      `json:"time_events_num"`
}

// Session owns one accepted connection's framing, rate limiting, and
// request dispatch.
type Session struct {
	id      int64
	conn    net.Conn
	hub     Hub
	framer  *frame.Framer
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     zerolog.Logger

	readSize int
}

// New constructs a Session bound to conn. codecName selects the wire
// codec (MESSAGE_PARSER_CLASS); readSize bounds each raw Read. m may be nil
// in tests that don't care about metrics.
func New(id int64, conn net.Conn, hub Hub, codecName codec.Name, readSize int, limiter *rate.Limiter, m *metrics.Metrics, log zerolog.Logger) (*Session, error) {
	c, err := codec.Lookup(codecName)
	if err != nil {
		return nil, err
	}
	peerAddr := ""
	if addr := conn.RemoteAddr(); addr != nil {
		peerAddr = addr.String()
	}
	return &Session{
		id:       id,
		conn:     conn,
		hub:      hub,
		framer:   frame.New(c),
		limiter:  limiter,
		metrics:  m,
		log:      logging.WithSession(log, id, peerAddr),
		readSize: readSize,
	}, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() int64 { return s.id }

// Close shuts down the underlying connection. Safe to call after Run has
// already returned due to a read error.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Send frame-encodes {type, data} and writes it as a single whole-message
// write. Send takes no per-session lock: broadcasts from different
// channels and replies written on the session's own read goroutine can
// reach one session concurrently, and each frame goes out as one Write on
// the net.Conn, which accepts concurrent callers.
func (s *Session) Send(msgType string, data any) error {
	encoded, err := s.framer.EncodeFrame(map[string]any{"type": msgType, "data": data})
	if err != nil {
		return err
	}
	if _, err := s.conn.Write(encoded); err != nil {
		return &chanerrors.ConnectionLostError{Op: "write", Err: err}
	}
	return nil
}

// Run executes the session's read loop until the peer disconnects or a
// connection error occurs. It never returns an error for a clean
// disconnect (EOF or zero-length read); any other failure is returned so
// the caller can log it.
func (s *Session) Run() error {
	buf := make([]byte, s.readSize)
	var residual []byte

	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			var payloads [][]byte
			payloads, residual = frame.Split(residual, buf[:n])
			for _, payload := range payloads {
				s.handlePayload(payload)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &chanerrors.ConnectionLostError{Op: "read", Err: err}
		}
		if n == 0 {
			return nil
		}
	}
}

func (s *Session) handlePayload(payload []byte) {
	var req Request
	if err := s.framer.DecodeFrame(payload, &req); err != nil {
		s.log.Error().Err(err).Msg("discarding unparsable request")
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		if s.metrics != nil {
			s.metrics.RequestsRateLimitedTotal.Inc()
		}
		s.sendError("rate limit exceeded")
		return
	}

	s.Dispatch(req)
}

// Dispatch executes one decoded request against the session's Hub.
// Exported so verb handling can be tested directly, without going through
// Run's read loop.
func (s *Session) Dispatch(req Request) {
	switch req.Action {
	case ActionPing:
		s.safeSend(MsgTypeMessage, "PONG")
	case ActionSubscribe:
		s.hub.Subscribe(req.ChannelName, s)
	case ActionUnsubscribe:
		if err := s.hub.Unsubscribe(req.ChannelName, s); err != nil {
			s.log.Debug().Err(err).Str("channel", req.ChannelName).Msg("unsubscribe failed")
		}
	case ActionInfo:
		s.safeSend(MsgTypeMessage, s.hub.Info())
	case ActionPublish:
		s.hub.Broadcast([]string{req.ChannelName}, MsgTypePublishedEvent, req.Data)
	case ActionAddTimeEvent:
		s.hub.AddTimeEvent(req.ChannelName, req.Data, time.Unix(0, int64(req.ExecTimestamp*float64(time.Second))))
	default:
		err := &chanerrors.UnknownActionError{Action: req.Action}
		s.log.Debug().Err(err).Msg("rejecting request")
		s.sendError(err.Error())
	}
}

func (s *Session) safeSend(msgType string, data any) {
	if err := s.Send(msgType, data); err != nil {
		s.log.Warn().Err(err).Msg("send failed")
	}
}

func (s *Session) sendError(message string) {
	s.safeSend(MsgTypeErrorMessage, map[string]string{"message": message})
}
