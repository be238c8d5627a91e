// Package handoff tracks which conversations a human operator has taken over.
//
// When a human replies directly on the transport, the thread is paused and the
// engine stops answering. The pause renews on every human reply and expires on
// its own after a quiet window, or earlier on an explicit resume.
package handoff

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cassio-all/generic-wpp-chatbot/internal/memory"
)

// DefaultPauseWindow is how long a thread stays paused after the last
// human reply.
const DefaultPauseWindow = 60 * time.Second

type Controller struct {
	store *memory.Store
	log   *slog.Logger

	pauseWindow time.Duration
	now         func() time.Time
}

func New(store *memory.Store, pauseWindow time.Duration, log *slog.Logger) *Controller {
	if pauseWindow <= 0 {
		pauseWindow = DefaultPauseWindow
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		store:       store,
		log:         log,
		pauseWindow: pauseWindow,
		now:         time.Now,
	}
}

// NotifyHumanReply pauses the thread. Repeated calls extend the window.
func (c *Controller) NotifyHumanReply(ctx context.Context, threadID string) error {
	if c == nil || c.store == nil {
		return errors.New("controller not initialized")
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return errors.New("missing thread_id")
	}

	until := c.now().Add(c.pauseWindow).UnixMilli()
	if err := c.store.SetMode(ctx, threadID, memory.ModePaused, until); err != nil {
		return err
	}
	c.log.Info("thread paused for human handoff", "thread_id", threadID, "pause_until_unix_ms", until)
	return nil
}

// Resume reactivates the thread immediately.
func (c *Controller) Resume(ctx context.Context, threadID string) error {
	if c == nil || c.store == nil {
		return errors.New("controller not initialized")
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return errors.New("missing thread_id")
	}

	if err := c.store.SetMode(ctx, threadID, memory.ModeActive, 0); err != nil {
		return err
	}
	c.log.Info("thread resumed", "thread_id", threadID)
	return nil
}

// IsPaused reports whether the thread is currently handed off to a human.
// An expired pause flips the thread back to active before returning.
func (c *Controller) IsPaused(ctx context.Context, threadID string) (bool, error) {
	if c == nil || c.store == nil {
		return false, errors.New("controller not initialized")
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return false, errors.New("missing thread_id")
	}

	conv, err := c.store.Load(ctx, threadID)
	if err != nil {
		return false, err
	}
	if conv == nil || conv.Mode != memory.ModePaused {
		return false, nil
	}
	if conv.PauseUntilUnixMs > 0 && c.now().UnixMilli() >= conv.PauseUntilUnixMs {
		if err := c.store.SetMode(ctx, threadID, memory.ModeActive, 0); err != nil {
			return false, err
		}
		c.log.Info("pause window elapsed, thread resumed", "thread_id", threadID)
		return false, nil
	}
	return true, nil
}
