package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cassio-all/generic-wpp-chatbot/internal/auditlog"
	"github.com/cassio-all/generic-wpp-chatbot/internal/automation"
	"github.com/cassio-all/generic-wpp-chatbot/internal/handlers"
	"github.com/cassio-all/generic-wpp-chatbot/internal/handoff"
	"github.com/cassio-all/generic-wpp-chatbot/internal/memory"
	"github.com/cassio-all/generic-wpp-chatbot/internal/router"
	"github.com/cassio-all/generic-wpp-chatbot/internal/transport"
)

const (
	// DefaultCycleTimeout bounds a full message cycle; past it the user gets a
	// retry message instead of silence.
	DefaultCycleTimeout = 30 * time.Second

	// DefaultDedupWindow is how long an inbound (thread, timestamp) pair is
	// remembered for duplicate suppression, and also the maximum age an
	// inbound event may have before it is treated as a stale replay.
	DefaultDedupWindow = 30 * time.Second

	historyContextLimit = 30
)

const retryReply = "Desculpe, não consegui processar sua mensagem a tempo. Pode tentar de novo?"

// cycle states, logged as each message moves through the engine.
const (
	stateReceived   = "received"
	stateRouted     = "routed"
	stateDispatched = "dispatched"
	stateResponded  = "responded"
	statePersisted  = "persisted"
	stateErrored    = "errored"
)

// Options tune the Engine. Zero values fall back to defaults.
type Options struct {
	CycleTimeout  time.Duration
	DedupWindow   time.Duration
	LaneInboxSize int

	// Audit, when set, records reply/suppression/failure events per thread.
	Audit *auditlog.Store
}

// Engine drives the message lifecycle: one inbound event is routed to an
// intent, dispatched to a handler, the exchange is persisted and the reply
// goes back out. Messages for the same thread are processed strictly in
// order; distinct threads run concurrently on their own lanes.
type Engine struct {
	store      *memory.Store
	summarizer *memory.Summarizer
	handoff    *handoff.Controller
	router     *router.Router
	registry   *handlers.Registry
	bus        *automation.Bus
	sender     transport.Sender
	audit      *auditlog.Store
	log        *slog.Logger

	cycleTimeout time.Duration
	dedupWindow  time.Duration
	now          func() time.Time

	lanes *laneManager

	mu   sync.Mutex
	seen map[dedupKey]time.Time
}

type dedupKey struct {
	threadID    string
	timestampMs int64
}

// New wires an Engine. Store, router, registry, sender and logger are
// required; summarizer, handoff controller and bus may be nil and the
// corresponding steps are skipped.
func New(store *memory.Store, summarizer *memory.Summarizer, hc *handoff.Controller, rt *router.Router, registry *handlers.Registry, bus *automation.Bus, sender transport.Sender, log *slog.Logger, opts Options) (*Engine, error) {
	if store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if rt == nil {
		return nil, errors.New("orchestrator: router is required")
	}
	if registry == nil {
		return nil, errors.New("orchestrator: handler registry is required")
	}
	if sender == nil {
		return nil, errors.New("orchestrator: sender is required")
	}
	if log == nil {
		return nil, errors.New("orchestrator: logger is required")
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = DefaultCycleTimeout
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}

	e := &Engine{
		store:        store,
		summarizer:   summarizer,
		handoff:      hc,
		router:       rt,
		registry:     registry,
		bus:          bus,
		sender:       sender,
		audit:        opts.Audit,
		log:          log,
		cycleTimeout: opts.CycleTimeout,
		dedupWindow:  opts.DedupWindow,
		now:          time.Now,
		seen:         make(map[dedupKey]time.Time),
	}
	e.lanes = newLaneManager(opts.LaneInboxSize, e.processCycle)
	return e, nil
}

// Close stops all lanes, draining messages already accepted.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.lanes.Close()
}

// OnInbound accepts a message from the transport. Stale and duplicate events
// are dropped here, before any lane work happens.
func (e *Engine) OnInbound(ev transport.Inbound) {
	if e == nil {
		return
	}
	ev.ThreadID = strings.TrimSpace(ev.ThreadID)
	ev.Text = strings.TrimSpace(ev.Text)
	if ev.ThreadID == "" || ev.Text == "" {
		return
	}

	now := e.now()
	if ev.TimestampUnixMs > 0 {
		age := now.Sub(time.UnixMilli(ev.TimestampUnixMs))
		if age > e.dedupWindow {
			e.log.Debug("Dropping stale inbound event", "thread_id", ev.ThreadID, "age", age)
			return
		}
	}
	if !e.markSeen(ev, now) {
		e.log.Debug("Dropping duplicate inbound event", "thread_id", ev.ThreadID, "timestamp_ms", ev.TimestampUnixMs)
		return
	}

	if !e.lanes.Enqueue(ev) {
		// Forget the event so the transport's redelivery is not mistaken
		// for a duplicate of something we actually processed.
		e.forgetSeen(ev)
		e.log.Warn("Inbound event dropped, lane inbox full", "thread_id", ev.ThreadID)
	}
}

// OnHumanReply pauses automated replies for the thread a human operator just
// answered on.
func (e *Engine) OnHumanReply(threadID string) {
	if e == nil || e.handoff == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.handoff.NotifyHumanReply(ctx, threadID); err != nil {
		e.log.Warn("Failed to pause thread after human reply", "thread_id", threadID, "error", err.Error())
		return
	}
	e.audit.Append(auditlog.Entry{Action: auditlog.ActionThreadPaused, ThreadID: strings.TrimSpace(threadID)})
}

// markSeen records the event's identity, returning false for a duplicate
// inside the dedup window. Expired entries are pruned opportunistically.
func (e *Engine) markSeen(ev transport.Inbound, now time.Time) bool {
	if ev.TimestampUnixMs <= 0 {
		return true
	}
	key := dedupKey{threadID: ev.ThreadID, timestampMs: ev.TimestampUnixMs}

	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := now.Add(-e.dedupWindow)
	for k, at := range e.seen {
		if at.Before(cutoff) {
			delete(e.seen, k)
		}
	}
	if _, dup := e.seen[key]; dup {
		return false
	}
	e.seen[key] = now
	return true
}

func (e *Engine) forgetSeen(ev transport.Inbound) {
	if ev.TimestampUnixMs <= 0 {
		return
	}
	e.mu.Lock()
	delete(e.seen, dedupKey{threadID: ev.ThreadID, timestampMs: ev.TimestampUnixMs})
	e.mu.Unlock()
}

// processCycle runs one full message cycle on the thread's lane goroutine.
func (e *Engine) processCycle(ev transport.Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cycleTimeout)
	defer cancel()

	log := e.log.With("thread_id", ev.ThreadID)
	log.Debug("Message cycle started", "state", stateReceived)

	paused, err := e.isPaused(ctx, ev.ThreadID)
	if err != nil {
		log.Warn("Pause check failed, treating thread as active", "error", err.Error())
	}

	userTurn := memory.Turn{
		Role:    memory.RoleUser,
		Content: ev.Text,
	}
	if _, err := e.store.Append(ctx, ev.ThreadID, userTurn); err != nil {
		if errors.Is(err, memory.ErrDuplicateTurn) {
			log.Debug("User turn already persisted, skipping cycle")
			return
		}
		log.Error("Failed to persist user turn", "state", stateErrored, "error", err.Error())
		return
	}

	if paused {
		// A human operator owns this thread. The message is on record, but
		// no automated reply goes out.
		log.Info("Thread paused for human handoff, reply suppressed")
		e.audit.Append(auditlog.Entry{Action: auditlog.ActionReplySuppressed, ThreadID: ev.ThreadID})
		return
	}

	state, err := e.store.Load(ctx, ev.ThreadID)
	if err != nil {
		log.Warn("Failed to load conversation state", "error", err.Error())
	}
	history, err := e.store.History(ctx, ev.ThreadID, historyContextLimit)
	if err != nil {
		log.Warn("Failed to load history", "error", err.Error())
	}

	decision := e.router.Classify(ctx, ev.Text, history)
	log.Info("Message routed",
		"state", stateRouted,
		"intent", decision.Intent,
		"confidence", fmt.Sprintf("%.2f", decision.Confidence),
		"source", decision.Source,
	)

	if err := e.sender.SendTyping(ctx, ev.ThreadID); err != nil {
		log.Debug("Typing indicator failed", "error", err.Error())
	}

	var resp handlers.Response
	if handler := e.registry.ForIntent(decision.Intent); handler == nil {
		// A registry with no fallback bound leaves intents unhandled.
		err = errors.New("no handler bound for intent")
	} else {
		log.Debug("Dispatching to handler", "state", stateDispatched, "intent", decision.Intent)
		resp, err = handler.Handle(ctx, handlers.Request{
			ThreadID: ev.ThreadID,
			Message:  ev.Text,
			State:    state,
			History:  history,
		})
	}
	if err != nil || ctx.Err() != nil {
		if err == nil {
			err = ctx.Err()
		}
		log.Error("Handler cycle failed", "state", stateErrored, "intent", decision.Intent, "error", err.Error())
		e.audit.Append(auditlog.Entry{
			Action:   auditlog.ActionCycleFailed,
			Status:   "failure",
			Error:    err.Error(),
			ThreadID: ev.ThreadID,
			Intent:   decision.Intent,
		})
		resp = handlers.Response{Text: retryReply, AgentUsed: decision.Intent}
	}
	if strings.TrimSpace(resp.Text) == "" {
		log.Warn("Handler produced an empty reply", "intent", decision.Intent)
		resp.Text = retryReply
	}
	log.Debug("Handler responded", "state", stateResponded, "agent", resp.AgentUsed)

	assistantTurn := memory.Turn{
		Role:      memory.RoleAssistant,
		AgentUsed: resp.AgentUsed,
		Content:   resp.Text,
	}
	persistCtx := ctx
	if persistCtx.Err() != nil {
		// The cycle deadline may have fired mid-handler; the exchange still
		// has to land on disk before anything goes out.
		var pcancel context.CancelFunc
		persistCtx, pcancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer pcancel()
	}
	if _, err := e.store.Append(persistCtx, ev.ThreadID, assistantTurn); err != nil {
		// Never send a reply that is not on record.
		log.Error("Failed to persist assistant turn, reply withheld", "state", stateErrored, "error", err.Error())
		return
	}
	log.Debug("Exchange persisted", "state", statePersisted)

	if err := e.sender.SendText(persistCtx, ev.ThreadID, resp.Text); err != nil {
		log.Error("Failed to send reply", "error", err.Error())
		return
	}
	e.audit.Append(auditlog.Entry{
		Action:   auditlog.ActionReplySent,
		ThreadID: ev.ThreadID,
		Intent:   decision.Intent,
		Agent:    resp.AgentUsed,
	})

	if e.bus != nil {
		for _, event := range resp.Events {
			e.bus.Publish(event)
		}
	}

	if e.summarizer != nil {
		if _, err := e.summarizer.CompactIfNeeded(persistCtx, ev.ThreadID); err != nil {
			log.Warn("History compaction failed", "error", err.Error())
		}
	}
}

func (e *Engine) isPaused(ctx context.Context, threadID string) (bool, error) {
	if e.handoff == nil {
		return false, nil
	}
	return e.handoff.IsPaused(ctx, threadID)
}
