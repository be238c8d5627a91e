package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cassio-all/generic-wpp-chatbot/internal/config"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		initCmd(os.Args[2:])
	case "run":
		runCmd(os.Args[2:])
	case "ingest":
		ingestCmd(os.Args[2:])
	case "chat":
		chatCmd(os.Args[2:])
	case "status":
		statusCmd(os.Args[2:])
	case "audit":
		auditCmd(os.Args[2:])
	case "resume":
		resumeCmd(os.Args[2:])
	case "secret":
		secretCmd(os.Args[2:])
	case "version":
		fmt.Printf("chatbot %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `chatbot

Usage:
  chatbot init [flags]
  chatbot run [flags]
  chatbot ingest [flags]
  chatbot chat [flags]
  chatbot status [flags]
  chatbot audit [flags]
  chatbot resume <thread-id>
  chatbot secret set <name> <value>
  chatbot version

Commands:
  init      Write a default config file.
  run       Connect to the WhatsApp bridge and answer messages.
  ingest    (Re)index the knowledge directory.
  chat      Talk to the bot on the terminal, without the bridge.
  status    Print a health snapshot.
  audit     Show the per-thread action trail, newest first.
  resume    Lift the human-handoff pause on a thread.
  secret    Manage API keys in the local secrets file.
  version   Print build information.

`)
}

func resolveConfigPath(raw string) string {
	p := strings.TrimSpace(raw)
	if p == "" {
		p = config.DefaultConfigPath()
	}
	return filepath.Clean(p)
}

func newLogger(format string, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		h = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	return slog.New(h), nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
