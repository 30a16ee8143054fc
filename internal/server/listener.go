package server

import (
	"context"
	"errors"
	"net"
	"strconv"

	"github.com/arlonorlan/chanhub/internal/chanerrors"
	"github.com/arlonorlan/chanhub/internal/logging"
	"github.com/arlonorlan/chanhub/internal/metrics"
	"github.com/arlonorlan/chanhub/internal/session"
	"github.com/rs/zerolog"
)

var errNoBindTarget = errors.New("server: neither HOST+PORT nor UNIX_SOCKET_PATH is configured")

// Listener is the Listener (C7): it binds either an IP+port socket or a
// Unix domain socket and runs the accept loop, gating each accept on the
// Client Registry's admission gate.
type Listener struct {
	ln       net.Listener
	sessions *session.Registry
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

// Bind opens a TCP listener when host is set (taking precedence over the
// Unix socket). A port of 0 is valid and lets the OS assign an ephemeral
// port. Binding failure is wrapped in chanerrors.BindError.
func Bind(host string, port int, unixSocketPath string) (net.Listener, error) {
	if host != "" {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, &chanerrors.BindError{Addr: addr, Err: err}
		}
		return ln, nil
	}
	if unixSocketPath != "" {
		ln, err := net.Listen("unix", unixSocketPath)
		if err != nil {
			return nil, &chanerrors.BindError{Addr: unixSocketPath, Err: err}
		}
		return ln, nil
	}
	return nil, &chanerrors.BindError{Addr: "", Err: errNoBindTarget}
}

// NewListener wraps an already-bound net.Listener with the accept loop's
// dependencies.
func NewListener(ln net.Listener, sessions *session.Registry, m *metrics.Metrics, log zerolog.Logger) *Listener {
	return &Listener{ln: ln, sessions: sessions, log: log, metrics: m}
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Each accept blocks on the admission gate first.
func (l *Listener) Serve(ctx context.Context) error {
	defer logging.RecoverPanic(l.log, "accept_loop", nil)

	for {
		if err := l.sessions.Wait(ctx); err != nil {
			return nil
		}

		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.log.Error().Err(err).Msg("accept failed")
			continue
		}

		if l.metrics != nil {
			l.metrics.ConnectionsTotal.Inc()
		}

		if _, err := l.sessions.Add(conn); err != nil {
			l.log.Error().Err(err).Msg("failed to admit connection")
			_ = conn.Close()
			continue
		}

		if l.metrics != nil {
			l.metrics.ConnectionsActive.Set(float64(l.sessions.Count()))
		}
	}
}

// Close closes the underlying listener.
func (l *Listener) Close() error {
	return l.ln.Close()
}
