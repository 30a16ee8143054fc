package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/arlonorlan/chanhub/internal/config"
	"github.com/rs/zerolog"
)

func testConfig() *config.Config {
	return &config.Config{
		Host:               "127.0.0.1",
		Port:               0,
		ReadSize:           4096,
		MaxClients:         10,
		MessageParserClass: "json",
		LogLevel:           "error",
		LogFormat:          "json",
		MetricsAddr:        "",
		CPURejectThreshold: 95.0,
		RequestRateBurst:   100,
		RequestRatePerSec:  100,
	}
}

func startTestServer(t *testing.T) (*Server, net.Addr, func()) {
	t.Helper()
	srv := New(testConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Start(ctx)
		close(done)
	}()

	addr := srv.Addr()

	cleanup := func() {
		cancel()
		_ = srv.Shutdown(context.Background())
		<-done
	}
	return srv, addr, cleanup
}

func dialAndExchange(t *testing.T, addr net.Addr, request map[string]any) map[string]any {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	encoded, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	encoded = append(encoded, '\n')
	if _, err := conn.Write(encoded); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	var resp map[string]any
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("unmarshal response %q: %v", line, err)
	}
	return resp
}

func TestServerPing(t *testing.T) {
	_, addr, cleanup := startTestServer(t)
	defer cleanup()

	resp := dialAndExchange(t, addr, map[string]any{"action": "ping"})
	if resp["type"] != "message" || resp["data"] != "PONG" {
		t.Fatalf("got %v, want message/PONG", resp)
	}
}

func TestServerUnknownActionRepliesError(t *testing.T) {
	_, addr, cleanup := startTestServer(t)
	defer cleanup()

	resp := dialAndExchange(t, addr, map[string]any{"action": "explode"})
	if resp["type"] != "error_message" {
		t.Fatalf("got %v, want error_message", resp)
	}
}

func TestServerInfoReflectsState(t *testing.T) {
	_, addr, cleanup := startTestServer(t)
	defer cleanup()

	resp := dialAndExchange(t, addr, map[string]any{"action": "info"})
	if resp["type"] != "message" {
		t.Fatalf("got %v, want message", resp)
	}
	data, ok := resp["data"].(map[string]any)
	if !ok {
		t.Fatalf("got data %v, want object", resp["data"])
	}
	if _, ok := data["uptime"]; !ok {
		t.Fatal("expected uptime field in info response")
	}
	if data["clients"] != float64(1) {
		t.Fatalf("got clients %v, want 1 (the querying session)", data["clients"])
	}
	if data["channels_num"] != float64(0) {
		t.Fatalf("got channels_num %v, want 0", data["channels_num"])
	}
}

func TestServerPublishSubscribe(t *testing.T) {
	_, addr, cleanup := startTestServer(t)
	defer cleanup()

	subConn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		t.Fatalf("dial subscriber: %v", err)
	}
	defer subConn.Close()

	sub := append(mustJSON(t, map[string]any{"action": "subscribe", "channel_name": "prices"}), '\n')
	if _, err := subConn.Write(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the subscribe land before publishing

	// publish has no reply, so the publisher only writes.
	pubConn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		t.Fatalf("dial publisher: %v", err)
	}
	defer pubConn.Close()
	pub := append(mustJSON(t, map[string]any{"action": "publish", "channel_name": "prices", "data": "hello"}), '\n')
	if _, err := pubConn.Write(pub); err != nil {
		t.Fatalf("write publish: %v", err)
	}

	subConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(subConn).ReadString('\n')
	if err != nil {
		t.Fatalf("read published event: %v", err)
	}
	var resp map[string]any
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["type"] != "published_event" || resp["data"] != "hello" {
		t.Fatalf("got %v, want published_event/hello", resp)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
