package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cassio-all/generic-wpp-chatbot/internal/auditlog"
	"github.com/cassio-all/generic-wpp-chatbot/internal/automation"
	"github.com/cassio-all/generic-wpp-chatbot/internal/capability"
	"github.com/cassio-all/generic-wpp-chatbot/internal/config"
	"github.com/cassio-all/generic-wpp-chatbot/internal/handlers"
	"github.com/cassio-all/generic-wpp-chatbot/internal/handoff"
	"github.com/cassio-all/generic-wpp-chatbot/internal/knowledge"
	"github.com/cassio-all/generic-wpp-chatbot/internal/llm"
	"github.com/cassio-all/generic-wpp-chatbot/internal/llm/embedding"
	"github.com/cassio-all/generic-wpp-chatbot/internal/memory"
	"github.com/cassio-all/generic-wpp-chatbot/internal/orchestrator"
	"github.com/cassio-all/generic-wpp-chatbot/internal/router"
	"github.com/cassio-all/generic-wpp-chatbot/internal/settings"
	"github.com/cassio-all/generic-wpp-chatbot/internal/tasks"
	"github.com/cassio-all/generic-wpp-chatbot/internal/transport"
)

// app holds everything a subcommand needs after wiring: stores, capabilities
// and (when a sender is supplied) a running engine.
type app struct {
	cfg     *config.Config
	cfgPath string
	log     *slog.Logger

	secrets *settings.SecretsStore

	memoryStore *memory.Store
	taskStore   *tasks.Store
	calendar    *capability.SQLiteCalendar
	knowledge   *knowledge.Store

	model    llm.Completer
	embedder embedding.Embedder

	bus    *automation.Bus
	engine *orchestrator.Engine

	closers []func()
}

func (a *app) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func loadApp(cfgPath string) (*app, error) {
	cfgPath = resolveConfigPath(cfgPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no config at %s (run `chatbot init` first)", cfgPath)
		}
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		cfgPath: cfgPath,
		log:     log,
		secrets: settings.NewSecretsStore(settings.DefaultSecretsPath(cfgPath)),
	}, nil
}

// secretValue resolves a key from the environment first (both prefixed and
// bare names), then from the secrets file. Empty means not configured.
func (a *app) secretValue(name string, envNames ...string) string {
	for _, env := range envNames {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	v, ok, err := a.secrets.Get(name)
	if err != nil {
		a.log.Warn("Failed to read secrets file", "error", err.Error())
		return ""
	}
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func (a *app) llmAPIKey() string {
	switch strings.TrimSpace(a.cfg.LLM.Provider) {
	case config.ProviderOpenAI:
		return a.secretValue(settings.KeyOpenAIAPIKey, "WPPBOT_OPENAI_API_KEY", "OPENAI_API_KEY")
	default:
		return a.secretValue(settings.KeyAnthropicAPIKey, "WPPBOT_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	}
}

func (a *app) openModel() error {
	model, err := llm.New(a.cfg.LLM, a.llmAPIKey())
	if err != nil {
		return fmt.Errorf("init llm: %w", err)
	}
	a.model = model
	return nil
}

func (a *app) openStores() error {
	dataDir := a.dataDir()
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("init data dir: %w", err)
	}

	mem, err := memory.Open(filepath.Join(dataDir, "memory.db"))
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	a.memoryStore = mem
	a.closers = append(a.closers, func() { _ = mem.Close() })

	ts, err := tasks.Open(filepath.Join(dataDir, "tasks.db"))
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	a.taskStore = ts
	a.closers = append(a.closers, func() { _ = ts.Close() })

	cal, err := capability.OpenCalendar(filepath.Join(dataDir, "calendar.db"))
	if err != nil {
		return fmt.Errorf("open calendar: %w", err)
	}
	a.calendar = cal
	a.closers = append(a.closers, func() { _ = cal.Close() })

	return nil
}

func (a *app) openKnowledge() error {
	apiKey := a.secretValue(settings.KeyOpenAIAPIKey, "WPPBOT_OPENAI_API_KEY", "OPENAI_API_KEY")
	inner, err := embedding.New(a.cfg.Embedding, apiKey)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}
	cached, err := embedding.NewCached(inner)
	if err != nil {
		return fmt.Errorf("init embedding cache: %w", err)
	}
	a.embedder = cached

	ks, err := knowledge.Open(filepath.Join(a.dataDir(), "knowledge"), cached, knowledge.Options{
		TopK:         a.cfg.Knowledge.TopK,
		MinScore:     a.cfg.Knowledge.MinScore,
		ChunkSize:    a.cfg.Knowledge.ChunkSize,
		ChunkOverlap: a.cfg.Knowledge.ChunkOverlap,
	}, a.log)
	if err != nil {
		return fmt.Errorf("open knowledge index: %w", err)
	}
	a.knowledge = ks
	return nil
}

func (a *app) dataDir() string {
	dataDir := strings.TrimSpace(a.cfg.DataDir)
	if dataDir == "" {
		dataDir = filepath.Dir(a.cfgPath)
	}
	return dataDir
}

func (a *app) openAudit() (*auditlog.Store, error) {
	audit, err := auditlog.New(auditlog.Options{
		Logger:  a.log,
		DataDir: a.dataDir(),
	})
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return audit, nil
}

// buildEngine wires the router, the handlers and the orchestrator on top of
// the already-opened stores. The sender decides where replies go: the bridge
// in `run`, the terminal in `chat`.
func (a *app) buildEngine(sender transport.Sender) error {
	braveKey := a.secretValue(settings.KeyBraveAPIKey, "WPPBOT_BRAVE_API_KEY", "BRAVE_API_KEY")
	searcher, err := capability.NewWebSearcher(a.cfg.WebSearchProvider, braveKey)
	if err != nil {
		return fmt.Errorf("init web search: %w", err)
	}

	sendgridKey := a.secretValue(settings.KeySendgridAPIKey, "WPPBOT_SENDGRID_API_KEY", "SENDGRID_API_KEY")
	email := capability.NewSendGridEmail(sendgridKey, a.cfg.SenderEmail)

	keywords, err := router.LoadKeywords(a.cfg.Router.KeywordsPath)
	if err != nil {
		return fmt.Errorf("load router keywords: %w", err)
	}
	lexical := true
	if a.cfg.Router.LexicalEnabled != nil {
		lexical = *a.cfg.Router.LexicalEnabled
	}
	rt := router.New(a.model, keywords, lexical, a.cfg.Router.ConfidenceThreshold, a.log)

	registry := handlers.NewRegistry(handlers.NewChatHandler(a.model, a.log))
	registry.Bind(router.IntentKnowledgeQuery, handlers.NewKnowledgeHandler(a.knowledge, searcher, a.model, a.log))
	registry.Bind(router.IntentSchedule, handlers.NewCalendarHandler(a.calendar, a.model, a.log))
	registry.Bind(router.IntentSendMail, handlers.NewEmailHandler(email, a.model, a.log))
	registry.Bind(router.IntentSearch, handlers.NewSearchHandler(searcher, a.model, a.log))
	registry.Bind(router.IntentTask, handlers.NewTaskHandler(a.taskStore, a.model, a.log))

	a.bus = automation.NewBus(0, a.log)
	a.closers = append(a.closers, a.bus.Close)
	automation.NewReminderRule(a.calendar, a.log).Register(a.bus)

	var summarizer *memory.Summarizer
	summaryEnabled := true
	if a.cfg.Memory.SummaryEnabled != nil {
		summaryEnabled = *a.cfg.Memory.SummaryEnabled
	}
	if summaryEnabled {
		summarizer = memory.NewSummarizer(a.memoryStore, a.model, a.cfg.Memory.MaxHistoryTokens, a.cfg.Memory.KeepRecentTurns, a.log)
	}

	hc := handoff.New(a.memoryStore, time.Duration(a.cfg.Handoff.PauseSeconds)*time.Second, a.log)

	audit, err := a.openAudit()
	if err != nil {
		return err
	}

	engine, err := orchestrator.New(a.memoryStore, summarizer, hc, rt, registry, a.bus, sender, a.log, orchestrator.Options{
		CycleTimeout:  time.Duration(a.cfg.Engine.CycleTimeoutSeconds) * time.Second,
		DedupWindow:   time.Duration(a.cfg.Engine.DedupWindowSeconds) * time.Second,
		LaneInboxSize: a.cfg.Engine.LaneInboxSize,
		Audit:         audit,
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	a.engine = engine
	a.closers = append(a.closers, engine.Close)
	return nil
}
