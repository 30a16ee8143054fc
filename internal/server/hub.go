// Package server wires chanhub's core components — Channel Registry,
// Scheduler, Client Registry, and the Listener — into one running process.
package server

import (
	"time"

	"github.com/arlonorlan/chanhub/internal/channel"
	"github.com/arlonorlan/chanhub/internal/metrics"
	"github.com/arlonorlan/chanhub/internal/scheduler"
	"github.com/arlonorlan/chanhub/internal/session"
)

// hub adapts the Channel Registry and Scheduler to session.Hub, the
// narrow interface a Session dispatches against.
type hub struct {
	channels    *channel.Registry
	scheduler   *scheduler.Scheduler
	metrics     *metrics.Metrics
	startedTime time.Time
	sessions    *session.Registry // set after construction; see server.go
}

// Subscribe, Unsubscribe, and ChannelsOf pass sub straight through:
// session.Sender and channel.Subscriber declare the same method set, so a
// session.Sender value already satisfies channel.Subscriber.

func (h *hub) Subscribe(channelName string, sub session.Sender) {
	h.channels.Subscribe(channelName, sub)
	h.metrics.ChannelsActive.Set(float64(h.channels.Count()))
	h.metrics.ChannelSubscribers.WithLabelValues(channelName).Set(float64(h.channels.SubscriberCount(channelName)))
}

func (h *hub) Unsubscribe(channelName string, sub session.Sender) error {
	err := h.channels.Unsubscribe(channelName, sub)
	h.metrics.ChannelsActive.Set(float64(h.channels.Count()))
	if count := h.channels.SubscriberCount(channelName); count > 0 {
		h.metrics.ChannelSubscribers.WithLabelValues(channelName).Set(float64(count))
	} else {
		h.metrics.ChannelSubscribers.DeleteLabelValues(channelName)
	}
	return err
}

func (h *hub) Broadcast(channelNames []string, msgType string, data any) {
	h.channels.Broadcast(channelNames, msgType, data)
	if msgType == session.MsgTypePublishedEvent {
		h.metrics.MessagesPublishedTotal.Inc()
	}
}

func (h *hub) ChannelsOf(sub session.Sender) []string {
	return h.channels.ChannelsOf(sub)
}

func (h *hub) AddTimeEvent(channelName string, data any, execTimestamp time.Time) {
	h.scheduler.Add(channelName, data, execTimestamp)
	h.metrics.TimeEventsPending.Set(float64(h.scheduler.Pending()))
}

func (h *hub) Info() session.InfoSnapshot {
	return session.InfoSnapshot{
		StartedTime:   float64(h.startedTime.Unix()),
		Uptime:        roundTo4(time.Since(h.startedTime).Seconds()),
		Clients:       h.sessions.Count(),
		ChannelsNum:   h.channels.Count(),
		Channels:      h.channels.Names(),
		TimeEventsNum: h.scheduler.Pending(),
	}
}

func roundTo4(v float64) float64 {
	const scale = 10000
	return float64(int64(v*scale+0.5)) / scale
}
