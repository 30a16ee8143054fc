package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/arlonorlan/chanhub/internal/codec"
	"github.com/rs/zerolog"
)

type fakeHub struct {
	mu         sync.Mutex
	subscribed []string
	published  []string
	timeEvents int
}

func (f *fakeHub) Subscribe(channelName string, sub Sender) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, channelName)
}

func (f *fakeHub) Unsubscribe(channelName string, sub Sender) error { return nil }

func (f *fakeHub) Broadcast(channelNames []string, msgType string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, channelNames...)
}

func (f *fakeHub) ChannelsOf(sub Sender) []string { return nil }

func (f *fakeHub) AddTimeEvent(channelName string, data any, execTimestamp time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeEvents++
}

func (f *fakeHub) Info() InfoSnapshot {
	return InfoSnapshot{Clients: 1}
}

func newTestSession(t *testing.T, hub Hub) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	sess, err := New(1, server, hub, codec.JSON, 4096, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sess, client
}

func TestDispatchPingRepliesPong(t *testing.T) {
	hub := &fakeHub{}
	sess, client := newTestSession(t, hub)
	defer client.Close()

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 256)
		n, _ := client.Read(buf)
		_ = n
		close(done)
	}()

	sess.Dispatch(Request{Action: ActionPing})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PONG reply")
	}
}

func TestDispatchSubscribeCallsHub(t *testing.T) {
	hub := &fakeHub{}
	sess, client := newTestSession(t, hub)
	defer client.Close()

	sess.Dispatch(Request{Action: ActionSubscribe, ChannelName: "prices"})

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.subscribed) != 1 || hub.subscribed[0] != "prices" {
		t.Fatalf("got %v, want [prices]", hub.subscribed)
	}
}

func TestDispatchPublishBroadcasts(t *testing.T) {
	hub := &fakeHub{}
	sess, client := newTestSession(t, hub)
	defer client.Close()

	sess.Dispatch(Request{Action: ActionPublish, ChannelName: "prices", Data: map[string]any{"x": 1}})

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.published) != 1 || hub.published[0] != "prices" {
		t.Fatalf("got %v, want [prices]", hub.published)
	}
}

func TestDispatchAddTimeEvent(t *testing.T) {
	hub := &fakeHub{}
	sess, client := newTestSession(t, hub)
	defer client.Close()

	sess.Dispatch(Request{Action: ActionAddTimeEvent, ChannelName: "prices", ExecTimestamp: float64(time.Now().Unix())})

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.timeEvents != 1 {
		t.Fatalf("got %d time events, want 1", hub.timeEvents)
	}
}

func TestDispatchUnknownActionSendsError(t *testing.T) {
	hub := &fakeHub{}
	sess, client := newTestSession(t, hub)
	defer client.Close()

	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 512)
		n, _ := client.Read(buf)
		received <- buf[:n]
	}()

	sess.Dispatch(Request{Action: "explode"})

	select {
	case data := <-received:
		if len(data) == 0 {
			t.Fatal("expected an error_message frame")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error reply")
	}
}

func TestSessionIDStable(t *testing.T) {
	hub := &fakeHub{}
	sess, client := newTestSession(t, hub)
	defer client.Close()

	if sess.ID() != 1 {
		t.Fatalf("got ID %d, want 1", sess.ID())
	}
}
