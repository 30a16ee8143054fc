package server

import (
	"context"
	"net"
	"time"

	"github.com/arlonorlan/chanhub/internal/channel"
	"github.com/arlonorlan/chanhub/internal/codec"
	"github.com/arlonorlan/chanhub/internal/config"
	"github.com/arlonorlan/chanhub/internal/metrics"
	"github.com/arlonorlan/chanhub/internal/platform"
	"github.com/arlonorlan/chanhub/internal/scheduler"
	"github.com/arlonorlan/chanhub/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Server owns every core component's lifecycle: Channel Registry,
// Scheduler, Client Registry, Resource Guard, the pub/sub Listener, and
// the metrics HTTP server.
type Server struct {
	cfg     *config.Config
	log     zerolog.Logger
	metrics *metrics.Metrics

	channels  *channel.Registry
	scheduler *scheduler.Scheduler
	guard     *platform.Guard
	sessions  *session.Registry
	listener  *Listener
	metricsrv *metrics.Server

	bound chan struct{} // closed once the pub/sub listener is bound
}

// New builds a Server from cfg without binding any socket yet.
func New(cfg *config.Config, log zerolog.Logger) *Server {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	channels := channel.NewRegistry(log)
	guard := platform.NewGuard(cfg.CPURejectThreshold, log)

	h := &hub{channels: channels, metrics: m, startedTime: time.Now()}
	sched := scheduler.New(&schedulerBroadcaster{channels: channels, metrics: m}, log)
	h.scheduler = sched

	newSession := func(id int64, conn net.Conn) (*session.Session, error) {
		limiter := rate.NewLimiter(rate.Limit(cfg.RequestRatePerSec), cfg.RequestRateBurst)
		return session.New(id, conn, h, codec.Name(cfg.MessageParserClass), cfg.ReadSize, limiter, m, log)
	}

	sessions := session.NewRegistry(h, guard, cfg.MaxClients, log, newSession)
	h.sessions = sessions

	return &Server{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		channels:  channels,
		scheduler: sched,
		guard:     guard,
		sessions:  sessions,
		metricsrv: metrics.NewServer(cfg.MetricsAddr, reg),
		bound:     make(chan struct{}),
	}
}

// Addr blocks until the pub/sub listener is bound, then returns its
// address. Intended for tests that start the server against an ephemeral
// port (PORT=0).
func (s *Server) Addr() net.Addr {
	<-s.bound
	return s.listener.ln.Addr()
}

// Start binds the pub/sub listener, starts the resource guard's sampling
// ticker, the metrics HTTP server, and runs the accept loop until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := Bind(s.cfg.Host, s.cfg.Port, s.cfg.UnixSocketPath)
	if err != nil {
		return err
	}
	s.listener = NewListener(ln, s.sessions, s.metrics, s.log)
	close(s.bound)

	s.guard.StartSampling(ctx, 15*time.Second)

	errc := make(chan error, 1)
	s.metricsrv.Start(errc)

	go func() {
		select {
		case err := <-errc:
			s.log.Error().Err(err).Msg("metrics server failed")
		case <-ctx.Done():
		}
	}()

	return s.listener.Serve(ctx)
}

// Shutdown closes the pub/sub listener and the metrics HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return s.metricsrv.Stop(ctx)
}

// schedulerBroadcaster adapts the Channel Registry to scheduler.Broadcaster
// and records fired and broadcast-error time-event metrics.
type schedulerBroadcaster struct {
	channels *channel.Registry
	metrics  *metrics.Metrics
}

func (b *schedulerBroadcaster) Broadcast(names []string, msgType string, data any) int {
	failures := b.channels.Broadcast(names, msgType, data)
	b.metrics.TimeEventsFiredTotal.Inc()
	if failures > 0 {
		b.metrics.TimeEventsBroadcastErrorsTotal.Add(float64(failures))
	}
	return failures
}
