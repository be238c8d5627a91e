package handoff

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/cassio-all/generic-wpp-chatbot/internal/memory"
)

func newTestController(t *testing.T) (*Controller, *time.Time) {
	t.Helper()
	store, err := memory.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("memory.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(store, 60*time.Second, log)

	clock := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return clock }
	return c, &clock
}

func TestHumanReplyPausesThread(t *testing.T) {
	t.Parallel()
	c, _ := newTestController(t)
	ctx := context.Background()

	paused, err := c.IsPaused(ctx, "t1")
	if err != nil {
		t.Fatalf("IsPaused: %v", err)
	}
	if paused {
		t.Fatal("fresh thread reported paused")
	}

	if err := c.NotifyHumanReply(ctx, "t1"); err != nil {
		t.Fatalf("NotifyHumanReply: %v", err)
	}
	paused, err = c.IsPaused(ctx, "t1")
	if err != nil {
		t.Fatalf("IsPaused: %v", err)
	}
	if !paused {
		t.Fatal("thread not paused after human reply")
	}
}

func TestPauseExpiresAfterQuietWindow(t *testing.T) {
	t.Parallel()
	c, clock := newTestController(t)
	ctx := context.Background()

	if err := c.NotifyHumanReply(ctx, "t1"); err != nil {
		t.Fatalf("NotifyHumanReply: %v", err)
	}

	*clock = clock.Add(59 * time.Second)
	paused, err := c.IsPaused(ctx, "t1")
	if err != nil {
		t.Fatalf("IsPaused: %v", err)
	}
	if !paused {
		t.Fatal("pause expired early")
	}

	*clock = clock.Add(2 * time.Second)
	paused, err = c.IsPaused(ctx, "t1")
	if err != nil {
		t.Fatalf("IsPaused: %v", err)
	}
	if paused {
		t.Fatal("pause did not expire after the quiet window")
	}

	// Expiry is persisted, not just reported.
	conv, err := c.store.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if conv.Mode != memory.ModeActive || conv.PauseUntilUnixMs != 0 {
		t.Fatalf("conv = %+v, want active", conv)
	}
}

func TestRepeatedHumanRepliesExtendPause(t *testing.T) {
	t.Parallel()
	c, clock := newTestController(t)
	ctx := context.Background()

	if err := c.NotifyHumanReply(ctx, "t1"); err != nil {
		t.Fatalf("NotifyHumanReply: %v", err)
	}
	*clock = clock.Add(45 * time.Second)
	if err := c.NotifyHumanReply(ctx, "t1"); err != nil {
		t.Fatalf("NotifyHumanReply: %v", err)
	}

	// 75s after the first reply, but only 30s after the second.
	*clock = clock.Add(30 * time.Second)
	paused, err := c.IsPaused(ctx, "t1")
	if err != nil {
		t.Fatalf("IsPaused: %v", err)
	}
	if !paused {
		t.Fatal("second human reply did not extend the pause")
	}
}

func TestExplicitResume(t *testing.T) {
	t.Parallel()
	c, _ := newTestController(t)
	ctx := context.Background()

	if err := c.NotifyHumanReply(ctx, "t1"); err != nil {
		t.Fatalf("NotifyHumanReply: %v", err)
	}
	if err := c.Resume(ctx, "t1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	paused, err := c.IsPaused(ctx, "t1")
	if err != nil {
		t.Fatalf("IsPaused: %v", err)
	}
	if paused {
		t.Fatal("thread still paused after explicit resume")
	}
}
