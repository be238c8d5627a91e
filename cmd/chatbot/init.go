package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cassio-all/generic-wpp-chatbot/internal/config"
)

func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)

	bridgeURL := fs.String("bridge-url", "ws://localhost:8765/ws", "Websocket URL of the WhatsApp bridge")
	provider := fs.String("llm-provider", config.ProviderAnthropic, "LLM provider: anthropic|openai")
	model := fs.String("llm-model", "claude-sonnet-4-5", "LLM model name")
	embeddingProvider := fs.String("embedding-provider", config.EmbeddingLocal, "Embedding provider: openai|local")
	knowledgeDir := fs.String("knowledge-dir", "", "Directory of plain-text knowledge documents")
	senderEmail := fs.String("sender-email", "", "From-address for the email capability")
	webSearch := fs.String("web-search", config.WebSearchDisabled, "Web search provider: brave|disabled")
	logFormat := fs.String("log-format", "json", "Log format: json|text")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")
	configPath := fs.String("config-path", "", "Config path (default: ~/.generic-wpp-chatbot/config.json)")
	force := fs.Bool("force", false, "Overwrite an existing config")

	_ = fs.Parse(args)

	cfgPath := resolveConfigPath(*configPath)
	if !*force {
		if _, err := os.Stat(cfgPath); err == nil {
			fatalf("config already exists at %s (use --force to overwrite)", cfgPath)
		}
	}

	cfg := &config.Config{
		BridgeURL:    *bridgeURL,
		KnowledgeDir: *knowledgeDir,
		LLM: config.LLMConfig{
			Provider: *provider,
			Model:    *model,
		},
		Embedding: config.EmbeddingConfig{
			Provider: *embeddingProvider,
		},
		WebSearchProvider: *webSearch,
		SenderEmail:       *senderEmail,
		LogFormat:         *logFormat,
		LogLevel:          *logLevel,
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		fatalf("failed to write config: %v", err)
	}

	fmt.Printf("Config written to %s\n", cfgPath)
	fmt.Printf("Next: `chatbot secret set anthropic_api_key <key>` then `chatbot run`.\n")
}
