package wppbridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cassio-all/generic-wpp-chatbot/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingListener struct {
	mu      sync.Mutex
	inbound []transport.Inbound
	human   []string
}

func (l *recordingListener) OnInbound(ev transport.Inbound) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inbound = append(l.inbound, ev)
}

func (l *recordingListener) OnHumanReply(threadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.human = append(l.human, threadID)
}

func (l *recordingListener) snapshot() ([]transport.Inbound, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]transport.Inbound(nil), l.inbound...), append([]string(nil), l.human...)
}

// fakeBridge is a websocket server standing in for the Node.js bridge.
type fakeBridge struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received [][]byte
	connCh   chan struct{}
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	b := &fakeBridge{connCh: make(chan struct{}, 4)}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		b.connCh <- struct{}{}
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			b.mu.Lock()
			b.received = append(b.received, raw)
			b.mu.Unlock()
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBridge) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *fakeBridge) send(t *testing.T, frame any) {
	t.Helper()
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		t.Fatal("no bridge connection")
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func (b *fakeBridge) waitForFrames(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		got := len(b.received)
		b.mu.Unlock()
		if got >= n {
			b.mu.Lock()
			defer b.mu.Unlock()
			return append([][]byte(nil), b.received...)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("bridge did not receive %d frames", n)
	return nil
}

func startClient(t *testing.T, b *fakeBridge, l transport.Listener) *Client {
	t.Helper()
	c, err := New(b.url(), l, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(func() { _ = c.Close() })

	select {
	case <-b.connCh:
	case <-time.After(3 * time.Second):
		t.Fatal("client did not connect")
	}
	return c
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClient_DeliversIncomingMessages(t *testing.T) {
	bridge := newFakeBridge(t)
	listener := &recordingListener{}
	startClient(t, bridge, listener)

	bridge.send(t, map[string]any{
		"type": "incoming_message",
		"message": map[string]any{
			"id":        "m1",
			"from":      "5511999@c.us",
			"body":      "oi",
			"timestamp": 1_700_000_000,
			"contact":   map[string]string{"name": "Cássio"},
		},
	})

	waitFor(t, func() bool {
		in, _ := listener.snapshot()
		return len(in) == 1
	}, "inbound delivery")

	in, _ := listener.snapshot()
	if in[0].ThreadID != "5511999@c.us" || in[0].Text != "oi" {
		t.Fatalf("inbound = %+v", in[0])
	}
	if in[0].TimestampUnixMs != 1_700_000_000_000 {
		t.Fatalf("timestamp = %d, want seconds converted to ms", in[0].TimestampUnixMs)
	}
	if in[0].ContactName != "Cássio" {
		t.Fatalf("contact = %q", in[0].ContactName)
	}
}

func TestClient_FiltersGroupsAndBroadcasts(t *testing.T) {
	bridge := newFakeBridge(t)
	listener := &recordingListener{}
	startClient(t, bridge, listener)

	frames := []map[string]any{
		{"type": "incoming_message", "message": map[string]any{"id": "b1", "from": "status@broadcast", "body": "story"}},
		{"type": "incoming_message", "message": map[string]any{"id": "g1", "from": "123@g.us", "body": "group"}},
		{"type": "incoming_message", "message": map[string]any{"id": "g2", "from": "456@c.us", "isGroup": true, "body": "grouped"}},
		{"type": "incoming_message", "message": map[string]any{"id": "ok", "from": "789@c.us", "body": "real"}},
	}
	for _, f := range frames {
		bridge.send(t, f)
	}

	waitFor(t, func() bool {
		in, _ := listener.snapshot()
		return len(in) == 1
	}, "filtered delivery")

	in, _ := listener.snapshot()
	if in[0].ThreadID != "789@c.us" {
		t.Fatalf("inbound = %+v", in)
	}
}

func TestClient_HumanReplySignal(t *testing.T) {
	bridge := newFakeBridge(t)
	listener := &recordingListener{}
	startClient(t, bridge, listener)

	// fromMe on message_create means the operator replied from the phone.
	bridge.send(t, map[string]any{
		"type":    "message_create",
		"message": map[string]any{"id": "h1", "to": "5511999@c.us", "fromMe": true, "body": "deixa comigo"},
	})
	// Without fromMe it is not a handoff signal.
	bridge.send(t, map[string]any{
		"type":    "message_create",
		"message": map[string]any{"id": "h2", "to": "5511999@c.us", "fromMe": false},
	})

	waitFor(t, func() bool {
		_, human := listener.snapshot()
		return len(human) == 1
	}, "human reply signal")

	_, human := listener.snapshot()
	if human[0] != "5511999@c.us" {
		t.Fatalf("human = %v", human)
	}
}

func TestClient_SendTextAfterReady(t *testing.T) {
	bridge := newFakeBridge(t)
	listener := &recordingListener{}
	c := startClient(t, bridge, listener)

	// Not ready until the bridge reports an authenticated session.
	if err := c.SendText(context.Background(), "5511999@c.us", "oi"); err == nil {
		t.Fatal("expected error before ready status")
	}

	bridge.send(t, map[string]any{"type": "status", "status": "ready"})
	waitFor(t, c.Ready, "ready status")

	if err := c.SendText(context.Background(), "5511999@c.us", "olá!"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := c.SendTyping(context.Background(), "5511999@c.us"); err != nil {
		t.Fatalf("SendTyping: %v", err)
	}

	frames := bridge.waitForFrames(t, 2)
	var first outboundFrame
	if err := json.Unmarshal(frames[0], &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Type != "send_message" || first.Data.To != "5511999@c.us" || first.Data.Text != "olá!" {
		t.Fatalf("frame = %+v", first)
	}
	var second outboundFrame
	if err := json.Unmarshal(frames[1], &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if second.Type != "send_typing" || second.Data.To != "5511999@c.us" {
		t.Fatalf("frame = %+v", second)
	}
}

func TestNormalizeTimestampMs(t *testing.T) {
	t.Parallel()

	if got := normalizeTimestampMs(1_700_000_000); got != 1_700_000_000_000 {
		t.Fatalf("seconds: got %d", got)
	}
	if got := normalizeTimestampMs(1_700_000_000_000); got != 1_700_000_000_000 {
		t.Fatalf("millis: got %d", got)
	}
	if got := normalizeTimestampMs(0); got <= 0 {
		t.Fatalf("zero: got %d", got)
	}
}
