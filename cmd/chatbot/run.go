package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cassio-all/generic-wpp-chatbot/internal/lockfile"
	"github.com/cassio-all/generic-wpp-chatbot/internal/monitor"
	"github.com/cassio-all/generic-wpp-chatbot/internal/transport"
	"github.com/cassio-all/generic-wpp-chatbot/internal/transport/wppbridge"
)

const healthLogInterval = 5 * time.Minute

// listenerRelay lets the bridge client and the engine reference each other:
// the client needs a listener at construction, the engine needs the client as
// its sender. The target is set before the client starts, so no lock needed.
type listenerRelay struct {
	target transport.Listener
}

func (r *listenerRelay) OnInbound(ev transport.Inbound) {
	if r.target != nil {
		r.target.OnInbound(ev)
	}
}

func (r *listenerRelay) OnHumanReply(threadID string) {
	if r.target != nil {
		r.target.OnHumanReply(threadID)
	}
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config-path", "", "Config path (default: ~/.generic-wpp-chatbot/config.json)")
	_ = fs.Parse(args)

	a, err := loadApp(*configPath)
	if err != nil {
		fatalf("%v", err)
	}
	defer a.Close()

	// One bot process per data directory; two engines on the same SQLite
	// files would double-answer every message.
	lockPath := filepath.Join(filepath.Dir(a.cfgPath), "chatbot.lock")
	lk, err := lockfile.Acquire(lockPath)
	if err != nil {
		fatalf("failed to acquire lock (%s): %v\nHint: another `chatbot run` may already be active.", lockPath, err)
	}
	defer func() { _ = lk.Release() }()

	if err := a.openModel(); err != nil {
		fatalf("%v", err)
	}
	if err := a.openStores(); err != nil {
		fatalf("%v", err)
	}
	if err := a.openKnowledge(); err != nil {
		fatalf("%v", err)
	}

	relay := &listenerRelay{}
	client, err := wppbridge.New(a.cfg.BridgeURL, relay, a.log)
	if err != nil {
		fatalf("init bridge client: %v", err)
	}
	defer func() { _ = client.Close() }()

	if err := a.buildEngine(client); err != nil {
		fatalf("%v", err)
	}
	relay.target = a.engine

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	health := monitor.NewService(a.log)
	go func() {
		ticker := time.NewTicker(healthLogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				health.LogHealth(ctx)
			}
		}
	}()

	a.log.Info("Chatbot starting",
		"version", Version,
		"bridge_url", a.cfg.BridgeURL,
		"llm_provider", a.cfg.LLM.Provider,
		"llm_model", a.cfg.LLM.Model,
	)

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		fatalf("bridge connection failed: %v", err)
	}
}
