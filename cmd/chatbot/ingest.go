package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

func ingestCmd(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config-path", "", "Config path (default: ~/.generic-wpp-chatbot/config.json)")
	dir := fs.String("dir", "", "Knowledge directory (default: knowledge_dir from config)")
	timeout := fs.Duration("timeout", 10*time.Minute, "Ingestion timeout")
	_ = fs.Parse(args)

	a, err := loadApp(*configPath)
	if err != nil {
		fatalf("%v", err)
	}
	defer a.Close()

	target := strings.TrimSpace(*dir)
	if target == "" {
		target = strings.TrimSpace(a.cfg.KnowledgeDir)
	}
	if target == "" {
		fmt.Fprintf(os.Stderr, "no knowledge directory given (set knowledge_dir in config or pass --dir)\n")
		os.Exit(2)
	}

	if err := a.openKnowledge(); err != nil {
		fatalf("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	n, err := a.knowledge.RebuildDir(ctx, target)
	if err != nil {
		fatalf("ingest failed: %v", err)
	}
	fmt.Printf("Indexed %d document(s) from %s\n", n, target)
}
