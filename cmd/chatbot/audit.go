package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cassio-all/generic-wpp-chatbot/internal/handoff"
)

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	configPath := fs.String("config-path", "", "Config path (default: ~/.generic-wpp-chatbot/config.json)")
	limit := fs.Int("limit", 50, "Number of entries to show, newest first")
	format := fs.String("format", "text", "Output format: json|text")
	_ = fs.Parse(args)

	a, err := loadApp(*configPath)
	if err != nil {
		fatalf("%v", err)
	}
	defer a.Close()

	audit, err := a.openAudit()
	if err != nil {
		fatalf("%v", err)
	}

	entries, err := audit.List(*limit)
	if err != nil {
		fatalf("read audit log: %v", err)
	}

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "json":
		b, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			fatalf("encode entries: %v", err)
		}
		fmt.Printf("%s\n", string(b))
	case "", "text":
		for _, e := range entries {
			line := fmt.Sprintf("%s  %-18s %-8s %s", e.CreatedAt, e.Action, e.Status, e.ThreadID)
			if e.Intent != "" {
				line += "  intent=" + e.Intent
			}
			if e.Agent != "" {
				line += "  agent=" + e.Agent
			}
			if e.Error != "" {
				line += "  error=" + e.Error
			}
			fmt.Println(line)
		}
	default:
		fmt.Fprintf(os.Stderr, "invalid --format: %q (want json|text)\n", *format)
		os.Exit(2)
	}
}

// resumeCmd lifts the human-handoff pause on a thread so the bot answers
// again before the pause window runs out on its own.
func resumeCmd(args []string) {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	configPath := fs.String("config-path", "", "Config path (default: ~/.generic-wpp-chatbot/config.json)")
	_ = fs.Parse(args)

	threadID := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if threadID == "" {
		fmt.Fprintf(os.Stderr, "usage: chatbot resume <thread-id>\n")
		os.Exit(2)
	}

	a, err := loadApp(*configPath)
	if err != nil {
		fatalf("%v", err)
	}
	defer a.Close()

	if err := a.openStores(); err != nil {
		fatalf("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hc := handoff.New(a.memoryStore, time.Duration(a.cfg.Handoff.PauseSeconds)*time.Second, a.log)
	if err := hc.Resume(ctx, threadID); err != nil {
		fatalf("resume failed: %v", err)
	}
	fmt.Printf("Thread %s resumed.\n", threadID)
}
