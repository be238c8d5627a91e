package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the on-disk configuration for the chatbot engine.
//
// Secrets (API keys) must never be stored here. They live in a separate
// secrets.json managed by internal/settings.
type Config struct {
	// BridgeURL is the websocket URL of the Node.js WhatsApp bridge.
	BridgeURL string `json:"bridge_url"`

	// DataDir holds the SQLite databases and the knowledge index.
	// If empty, it defaults to the directory of the config file.
	DataDir string `json:"data_dir,omitempty"`

	// KnowledgeDir is the directory of plain-text source documents.
	KnowledgeDir string `json:"knowledge_dir,omitempty"`

	LLM       LLMConfig       `json:"llm"`
	Embedding EmbeddingConfig `json:"embedding"`
	Router    RouterConfig    `json:"router"`
	Memory    MemoryConfig    `json:"memory"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Handoff   HandoffConfig   `json:"handoff"`
	Engine    EngineConfig    `json:"engine"`

	// WebSearchProvider is "brave" or "disabled".
	WebSearchProvider string `json:"web_search_provider,omitempty"`

	// SenderEmail is the from-address used by the email capability.
	SenderEmail string `json:"sender_email,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`
}

// LLMConfig selects the completion provider.
type LLMConfig struct {
	// Provider is "anthropic" or "openai".
	Provider string `json:"provider"`
	Model    string `json:"model"`
	// BaseURL overrides the provider endpoint. Empty means provider default.
	BaseURL string `json:"base_url,omitempty"`
	// MaxRetries bounds transient-error retries per call. Defaults to 3.
	MaxRetries int `json:"max_retries,omitempty"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai" or "local". "local" is a deterministic
	// feature-hashing embedder for offline/dev use.
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

type RouterConfig struct {
	// KeywordsPath points to a YAML file of per-intent keyword sets.
	// Empty means built-in defaults.
	KeywordsPath string `json:"keywords_path,omitempty"`
	// LexicalEnabled gates the cheap keyword pass. Defaults to true.
	LexicalEnabled *bool `json:"lexical_enabled,omitempty"`
	// ConfidenceThreshold forces general_chat below it. Defaults to 0.6.
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
}

type MemoryConfig struct {
	// MaxHistoryTokens triggers summarization when exceeded. Defaults to 2000.
	MaxHistoryTokens int `json:"max_history_tokens,omitempty"`
	// KeepRecentTurns are never compacted. Defaults to 4.
	KeepRecentTurns int `json:"keep_recent_turns,omitempty"`
	// SummaryEnabled gates auto-summarization. Defaults to true.
	SummaryEnabled *bool `json:"summary_enabled,omitempty"`
}

type KnowledgeConfig struct {
	// TopK is the default result count. Defaults to 3.
	TopK int `json:"top_k,omitempty"`
	// MinScore filters weak matches. Defaults to 0.5.
	MinScore float64 `json:"min_score,omitempty"`
	// ChunkSize/ChunkOverlap control document windowing. Defaults 1000/200.
	ChunkSize    int `json:"chunk_size,omitempty"`
	ChunkOverlap int `json:"chunk_overlap,omitempty"`
}

type HandoffConfig struct {
	// PauseSeconds is how long automated replies stay suspended after a
	// human reply on the thread. Defaults to 60.
	PauseSeconds int `json:"pause_seconds,omitempty"`
}

type EngineConfig struct {
	// CycleTimeoutSeconds bounds one message's processing. Defaults to 30.
	CycleTimeoutSeconds int `json:"cycle_timeout_seconds,omitempty"`
	// DedupWindowSeconds discards redelivered/stale inbound events. Defaults to 30.
	DedupWindowSeconds int `json:"dedup_window_seconds,omitempty"`
	// LaneInboxSize bounds the per-thread inbound queue. Defaults to 64.
	LaneInboxSize int `json:"lane_inbox_size,omitempty"`
}

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	EmbeddingOpenAI = "openai"
	EmbeddingLocal  = "local"

	WebSearchBrave    = "brave"
	WebSearchDisabled = "disabled"
)

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.BridgeURL) == "" {
		return errors.New("missing bridge_url")
	}
	switch strings.TrimSpace(c.LLM.Provider) {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return errors.New("missing llm model")
	}
	switch strings.TrimSpace(c.Embedding.Provider) {
	case "", EmbeddingOpenAI, EmbeddingLocal:
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	switch strings.TrimSpace(c.WebSearchProvider) {
	case "", WebSearchBrave, WebSearchDisabled:
	default:
		return fmt.Errorf("unknown web_search_provider %q", c.WebSearchProvider)
	}
	if c.Router.ConfidenceThreshold < 0 || c.Router.ConfidenceThreshold > 1 {
		return errors.New("router confidence_threshold must be in [0, 1]")
	}
	if c.Knowledge.ChunkOverlap > 0 && c.Knowledge.ChunkSize > 0 && c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		return errors.New("knowledge chunk_overlap must be smaller than chunk_size")
	}
	return nil
}

// DefaultConfigPath returns the default config path:
//
//	~/.generic-wpp-chatbot/config.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "generic-wpp-chatbot.config.json"
	}
	return filepath.Join(home, ".generic-wpp-chatbot", "config.json")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = filepath.Dir(path)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
