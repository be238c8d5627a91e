package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cassio-all/generic-wpp-chatbot/internal/auditlog"
	"github.com/cassio-all/generic-wpp-chatbot/internal/handlers"
	"github.com/cassio-all/generic-wpp-chatbot/internal/handoff"
	"github.com/cassio-all/generic-wpp-chatbot/internal/memory"
	"github.com/cassio-all/generic-wpp-chatbot/internal/router"
	"github.com/cassio-all/generic-wpp-chatbot/internal/transport"
)

type sentText struct {
	threadID string
	text     string
}

type recordingSender struct {
	mu     sync.Mutex
	texts  []sentText
	typing []string
}

func (s *recordingSender) SendText(ctx context.Context, threadID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, sentText{threadID: threadID, text: text})
	return nil
}

func (s *recordingSender) SendTyping(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, threadID)
	return nil
}

func (s *recordingSender) sent() []sentText {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentText, len(s.texts))
	copy(out, s.texts)
	return out
}

type handlerFunc func(ctx context.Context, req handlers.Request) (handlers.Response, error)

func (f handlerFunc) Handle(ctx context.Context, req handlers.Request) (handlers.Response, error) {
	return f(ctx, req)
}

type testEngine struct {
	engine *Engine
	store  *memory.Store
	sender *recordingSender
	audit  *auditlog.Store
}

func newTestEngine(t *testing.T, fallback handlers.Handler, opts Options) *testEngine {
	t.Helper()

	store, err := memory.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if fallback == nil {
		fallback = handlerFunc(func(ctx context.Context, req handlers.Request) (handlers.Response, error) {
			return handlers.Response{Text: "ok: " + req.Message, AgentUsed: "chat"}, nil
		})
	}
	registry := handlers.NewRegistry(fallback)
	rt := router.New(nil, router.DefaultKeywords(), true, router.DefaultConfidenceThreshold, log)
	hc := handoff.New(store, handoff.DefaultPauseWindow, log)
	sender := &recordingSender{}

	audit, err := auditlog.New(auditlog.Options{Logger: log, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	opts.Audit = audit

	engine, err := New(store, nil, hc, rt, registry, nil, sender, log, opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{engine: engine, store: store, sender: sender, audit: audit}
}

func waitFor(t *testing.T, what string, cond func() bool) {
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

func inbound(threadID, text string) transport.Inbound {
	return transport.Inbound{
		ThreadID:        threadID,
		Text:            text,
		TimestampUnixMs: time.Now().UnixMilli(),
	}
}

func TestEngine_ProcessesMessageEndToEnd(t *testing.T) {
	t.Parallel()

	te := newTestEngine(t, nil, Options{})
	te.engine.OnInbound(inbound("5511999990000@c.us", "oi, tudo bem?"))

	waitFor(t, "reply", func() bool { return len(te.sender.sent()) == 1 })

	got := te.sender.sent()[0]
	if got.threadID != "5511999990000@c.us" {
		t.Fatalf("reply thread = %q, want %q", got.threadID, "5511999990000@c.us")
	}
	if got.text != "ok: oi, tudo bem?" {
		t.Fatalf("reply text = %q, want %q", got.text, "ok: oi, tudo bem?")
	}

	history, err := te.store.History(context.Background(), "5511999990000@c.us", 0)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].Role != memory.RoleUser || history[0].Content != "oi, tudo bem?" {
		t.Fatalf("first turn = %q/%q, want user turn", history[0].Role, history[0].Content)
	}
	if history[1].Role != memory.RoleAssistant || history[1].AgentUsed != "chat" {
		t.Fatalf("second turn = %q/%q, want assistant turn from chat agent", history[1].Role, history[1].AgentUsed)
	}

	entries, err := te.audit.List(10)
	if err != nil {
		t.Fatalf("audit List() error: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != auditlog.ActionReplySent {
		t.Fatalf("audit entries = %+v, want one reply_sent", entries)
	}
	if entries[0].ThreadID != "5511999990000@c.us" || entries[0].Agent != "chat" {
		t.Fatalf("audit entry = %+v, want thread and agent recorded", entries[0])
	}
}

func TestEngine_SequentialWithinThread(t *testing.T) {
	t.Parallel()

	var active atomic.Int32
	var maxActive atomic.Int32
	var mu sync.Mutex
	var order []string

	handler := handlerFunc(func(ctx context.Context, req handlers.Request) (handlers.Response, error) {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		order = append(order, req.Message)
		mu.Unlock()
		active.Add(-1)
		return handlers.Response{Text: "ok", AgentUsed: "chat"}, nil
	})

	te := newTestEngine(t, handler, Options{})
	base := time.Now().UnixMilli()
	for i := 0; i < 5; i++ {
		te.engine.OnInbound(transport.Inbound{
			ThreadID:        "thread-a",
			Text:            string(rune('a' + i)),
			TimestampUnixMs: base + int64(i),
		})
	}

	waitFor(t, "all replies", func() bool { return len(te.sender.sent()) == 5 })

	if got := maxActive.Load(); got != 1 {
		t.Fatalf("max concurrent handlers for one thread = %d, want 1", got)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, msg := range order {
		if want := string(rune('a' + i)); msg != want {
			t.Fatalf("order[%d] = %q, want %q", i, msg, want)
		}
	}
}

func TestEngine_ConcurrentAcrossThreads(t *testing.T) {
	t.Parallel()

	entered := make(chan string, 2)
	release := make(chan struct{})

	handler := handlerFunc(func(ctx context.Context, req handlers.Request) (handlers.Response, error) {
		entered <- req.ThreadID
		select {
		case <-release:
		case <-ctx.Done():
		}
		return handlers.Response{Text: "ok", AgentUsed: "chat"}, nil
	})

	te := newTestEngine(t, handler, Options{})
	te.engine.OnInbound(inbound("thread-a", "primeira"))
	te.engine.OnInbound(inbound("thread-b", "segunda"))

	// Both handlers must be in flight at the same time; if threads shared a
	// lane the second would block behind the first.
	seen := make(map[string]bool)
	timeout := time.After(3 * time.Second)
	for len(seen) < 2 {
		select {
		case id := <-entered:
			seen[id] = true
		case <-timeout:
			t.Fatalf("only %d threads entered their handler concurrently, want 2", len(seen))
		}
	}
	close(release)

	waitFor(t, "both replies", func() bool { return len(te.sender.sent()) == 2 })
}

func TestEngine_DropsDuplicateEvents(t *testing.T) {
	t.Parallel()

	te := newTestEngine(t, nil, Options{})
	ev := inbound("thread-a", "mesma mensagem")
	te.engine.OnInbound(ev)
	te.engine.OnInbound(ev)

	waitFor(t, "first reply", func() bool { return len(te.sender.sent()) >= 1 })
	time.Sleep(100 * time.Millisecond)

	if got := len(te.sender.sent()); got != 1 {
		t.Fatalf("replies = %d, want 1 (duplicate should be dropped)", got)
	}
	n, err := te.store.CountTurns(context.Background(), "thread-a")
	if err != nil {
		t.Fatalf("CountTurns() error: %v", err)
	}
	if n != 2 {
		t.Fatalf("turns = %d, want 2", n)
	}
}

func TestEngine_DropsStaleEvents(t *testing.T) {
	t.Parallel()

	te := newTestEngine(t, nil, Options{})
	te.engine.OnInbound(transport.Inbound{
		ThreadID:        "thread-a",
		Text:            "mensagem antiga",
		TimestampUnixMs: time.Now().Add(-2 * time.Minute).UnixMilli(),
	})

	time.Sleep(100 * time.Millisecond)
	if got := len(te.sender.sent()); got != 0 {
		t.Fatalf("replies = %d, want 0 for a stale event", got)
	}
	n, err := te.store.CountTurns(context.Background(), "thread-a")
	if err != nil {
		t.Fatalf("CountTurns() error: %v", err)
	}
	if n != 0 {
		t.Fatalf("turns = %d, want 0", n)
	}
}

func TestEngine_PauseSuppressesReply(t *testing.T) {
	t.Parallel()

	te := newTestEngine(t, nil, Options{})
	te.engine.OnHumanReply("thread-a")
	te.engine.OnInbound(inbound("thread-a", "ainda estou esperando"))

	waitFor(t, "user turn persisted", func() bool {
		n, err := te.store.CountTurns(context.Background(), "thread-a")
		return err == nil && n == 1
	})
	time.Sleep(100 * time.Millisecond)

	if got := len(te.sender.sent()); got != 0 {
		t.Fatalf("replies = %d, want 0 while paused", got)
	}
	history, err := te.store.History(context.Background(), "thread-a", 0)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(history) != 1 || history[0].Role != memory.RoleUser {
		t.Fatalf("history = %+v, want only the user turn on record", history)
	}

	entries, err := te.audit.List(10)
	if err != nil {
		t.Fatalf("audit List() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("audit entries = %+v, want thread_paused then reply_suppressed", entries)
	}
	if entries[0].Action != auditlog.ActionReplySuppressed || entries[1].Action != auditlog.ActionThreadPaused {
		t.Fatalf("audit actions = [%s, %s], want [reply_suppressed, thread_paused]", entries[0].Action, entries[1].Action)
	}
}

func TestEngine_HandlerErrorSendsRetryReply(t *testing.T) {
	t.Parallel()

	handler := handlerFunc(func(ctx context.Context, req handlers.Request) (handlers.Response, error) {
		return handlers.Response{}, errors.New("boom")
	})

	te := newTestEngine(t, handler, Options{})
	te.engine.OnInbound(inbound("thread-a", "oi"))

	waitFor(t, "retry reply", func() bool { return len(te.sender.sent()) == 1 })

	if got := te.sender.sent()[0].text; got != retryReply {
		t.Fatalf("reply = %q, want retry reply %q", got, retryReply)
	}
	history, err := te.store.History(context.Background(), "thread-a", 0)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(history) != 2 || history[1].Content != retryReply {
		t.Fatalf("history = %+v, want the retry reply persisted as the assistant turn", history)
	}
}

func TestEngine_DeadlineExpirySendsRetryReply(t *testing.T) {
	t.Parallel()

	handler := handlerFunc(func(ctx context.Context, req handlers.Request) (handlers.Response, error) {
		<-ctx.Done()
		return handlers.Response{Text: "resposta atrasada", AgentUsed: "chat"}, nil
	})

	te := newTestEngine(t, handler, Options{CycleTimeout: 50 * time.Millisecond})
	te.engine.OnInbound(inbound("thread-a", "oi"))

	waitFor(t, "retry reply", func() bool { return len(te.sender.sent()) == 1 })

	// The partial handler result is discarded once the cycle deadline fires.
	if got := te.sender.sent()[0].text; got != retryReply {
		t.Fatalf("reply = %q, want retry reply %q", got, retryReply)
	}
}

func TestEngine_PersistenceFailureWithholdsReply(t *testing.T) {
	t.Parallel()

	var store *memory.Store
	handler := handlerFunc(func(ctx context.Context, req handlers.Request) (handlers.Response, error) {
		// Simulate storage dying mid-cycle, after the user turn landed.
		_ = store.Close()
		return handlers.Response{Text: "resposta", AgentUsed: "chat"}, nil
	})

	te := newTestEngine(t, handler, Options{})
	store = te.store
	te.engine.OnInbound(inbound("thread-a", "oi"))

	time.Sleep(200 * time.Millisecond)
	if got := len(te.sender.sent()); got != 0 {
		t.Fatalf("replies = %d, want 0 when the assistant turn cannot be persisted", got)
	}
}

func TestEngine_RedeliveryRecoversDroppedEvent(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	handler := handlerFunc(func(ctx context.Context, req handlers.Request) (handlers.Response, error) {
		entered <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return handlers.Response{Text: "ok: " + req.Message, AgentUsed: "chat"}, nil
	})

	te := newTestEngine(t, handler, Options{LaneInboxSize: 1})
	base := time.Now().UnixMilli()
	ev := func(i int) transport.Inbound {
		return transport.Inbound{
			ThreadID:        "thread-a",
			Text:            string(rune('a' + i)),
			TimestampUnixMs: base + int64(i),
		}
	}

	// First event occupies the handler, second fills the size-1 inbox, third
	// has nowhere to go and is dropped.
	te.engine.OnInbound(ev(0))
	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never entered")
	}
	te.engine.OnInbound(ev(1))
	te.engine.OnInbound(ev(2))

	close(release)
	waitFor(t, "the two accepted replies", func() bool { return len(te.sender.sent()) == 2 })

	// The bridge redelivers the dropped event inside the dedup window; it
	// must not be mistaken for a duplicate of something already processed.
	te.engine.OnInbound(ev(2))
	waitFor(t, "the redelivered reply", func() bool { return len(te.sender.sent()) == 3 })

	if got := te.sender.sent()[2].text; got != "ok: c" {
		t.Fatalf("redelivered reply = %q, want %q", got, "ok: c")
	}
}

func TestEngine_NoHandlerBoundSendsRetryReply(t *testing.T) {
	t.Parallel()

	store, err := memory.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := router.New(nil, router.DefaultKeywords(), true, router.DefaultConfidenceThreshold, log)
	sender := &recordingSender{}

	// A registry with no fallback resolves unbound intents to nil.
	engine, err := New(store, nil, nil, rt, handlers.NewRegistry(nil), nil, sender, log, Options{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(engine.Close)

	engine.OnInbound(inbound("thread-a", "oi"))

	waitFor(t, "retry reply", func() bool { return len(sender.sent()) == 1 })
	if got := sender.sent()[0].text; got != retryReply {
		t.Fatalf("reply = %q, want retry reply %q", got, retryReply)
	}
}

func TestEngine_IgnoresBlankInbound(t *testing.T) {
	t.Parallel()

	te := newTestEngine(t, nil, Options{})
	te.engine.OnInbound(transport.Inbound{ThreadID: "thread-a", Text: "   ", TimestampUnixMs: time.Now().UnixMilli()})
	te.engine.OnInbound(transport.Inbound{ThreadID: "  ", Text: "oi", TimestampUnixMs: time.Now().UnixMilli()})

	time.Sleep(100 * time.Millisecond)
	if got := len(te.sender.sent()); got != 0 {
		t.Fatalf("replies = %d, want 0 for blank inbound events", got)
	}
}
