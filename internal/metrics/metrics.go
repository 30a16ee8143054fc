// Package metrics defines chanhub's Prometheus instrumentation, served on
// its own HTTP listener independent of the pub/sub socket.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter, gauge, and vector chanhub exposes.
type Metrics struct {
	ConnectionsTotal         prometheus.Counter
	ConnectionsActive        prometheus.Gauge
	ConnectionsRejectedTotal *prometheus.CounterVec

	ChannelsActive     prometheus.Gauge
	ChannelSubscribers *prometheus.GaugeVec

	MessagesPublishedTotal         prometheus.Counter
	TimeEventsPending              prometheus.Gauge
	TimeEventsFiredTotal           prometheus.Counter
	TimeEventsBroadcastErrorsTotal prometheus.Counter

	RequestsRateLimitedTotal prometheus.Counter
}

// New registers and returns chanhub's metric set against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chanhub_connections_total",
			Help: "Total accepted connections since process start.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chanhub_connections_active",
			Help: "Currently live client sessions.",
		}),
		ConnectionsRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chanhub_connections_rejected_total",
			Help: "Connections rejected at admission, labeled by reason.",
		}, []string{"reason"}),
		ChannelsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chanhub_channels_active",
			Help: "Currently live channels.",
		}),
		ChannelSubscribers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chanhub_channel_subscribers",
			Help: "Subscriber count per channel.",
		}, []string{"channel"}),
		MessagesPublishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chanhub_messages_published_total",
			Help: "Total publish requests broadcast to a channel.",
		}),
		TimeEventsPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chanhub_time_events_pending",
			Help: "Time events currently queued in the scheduler.",
		}),
		TimeEventsFiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chanhub_time_events_fired_total",
			Help: "Total time events that reached their broadcast.",
		}),
		TimeEventsBroadcastErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chanhub_time_events_broadcast_errors_total",
			Help: "Time event broadcasts that failed delivery.",
		}),
		RequestsRateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chanhub_requests_rate_limited_total",
			Help: "Requests dropped by the per-session rate limiter.",
		}),
	}
}

// Server serves /metrics on its own listener, independent of the pub/sub
// socket, so scraping it never touches the framed wire protocol.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics HTTP server bound to addr. If addr is empty
// the metrics endpoint is disabled and Start/Stop are no-ops.
func NewServer(addr string, reg *prometheus.Registry) *Server {
	if addr == "" {
		return &Server{}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the metrics listener in the background. errc receives a
// non-nil error if the listener fails for a reason other than a clean
// shutdown.
func (s *Server) Start(errc chan<- error) {
	if s.httpServer == nil {
		return
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
}

// Stop gracefully shuts the metrics listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
