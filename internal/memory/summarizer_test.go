package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/cassio-all/generic-wpp-chatbot/internal/llm"
)

type staticCompleter struct {
	reply string
	err   error
	calls int
}

func (c *staticCompleter) Complete(_ context.Context, _ llm.Request) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fillThread(t *testing.T, s *Store, threadID string, turns int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < turns; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		content := fmt.Sprintf("turn %d: %s", i, strings.Repeat("palavras e mais palavras ", 10))
		if _, err := s.Append(ctx, threadID, Turn{Role: role, Content: content}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
}

func TestCompactIfNeeded_OverBudget(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	fillThread(t, s, "t1", 50)

	model := &staticCompleter{reply: "Resumo: o usuário falou bastante."}
	sum := NewSummarizer(s, model, 2000, 10, discardLogger())

	did, err := sum.CompactIfNeeded(context.Background(), "t1")
	if err != nil {
		t.Fatalf("CompactIfNeeded: %v", err)
	}
	if !did {
		t.Fatal("expected a compaction")
	}
	if model.calls != 1 {
		t.Fatalf("model calls = %d, want 1", model.calls)
	}

	turns, err := s.History(context.Background(), "t1", 100)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	// 40 oldest folded into one summary turn, last 10 intact.
	if len(turns) != 11 {
		t.Fatalf("len(turns) = %d, want 11", len(turns))
	}
	if turns[0].Role != RoleSummary {
		t.Fatalf("first turn role = %q, want %q", turns[0].Role, RoleSummary)
	}
	for i := 1; i < len(turns); i++ {
		want := fmt.Sprintf("turn %d:", 40+i-1)
		if !strings.HasPrefix(turns[i].Content, want) {
			t.Fatalf("turns[%d] = %q, want prefix %q", i, turns[i].Content, want)
		}
	}

	conv, err := s.Load(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if conv.Summary != "Resumo: o usuário falou bastante." {
		t.Fatalf("rolling summary = %q", conv.Summary)
	}
}

func TestCompactIfNeeded_UnderBudget(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	fillThread(t, s, "t1", 6)

	model := &staticCompleter{reply: "unused"}
	sum := NewSummarizer(s, model, 1_000_000, 4, discardLogger())

	did, err := sum.CompactIfNeeded(context.Background(), "t1")
	if err != nil {
		t.Fatalf("CompactIfNeeded: %v", err)
	}
	if did {
		t.Fatal("compacted under budget")
	}
	if model.calls != 0 {
		t.Fatalf("model calls = %d, want 0", model.calls)
	}
}

func TestCompactIfNeeded_ModelFailureLeavesHistoryIntact(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	fillThread(t, s, "t1", 50)

	model := &staticCompleter{err: errors.New("upstream down")}
	sum := NewSummarizer(s, model, 2000, 10, discardLogger())

	did, err := sum.CompactIfNeeded(context.Background(), "t1")
	if err == nil {
		t.Fatal("expected error from failing model")
	}
	if did {
		t.Fatal("compacted despite model failure")
	}

	n, err := s.CountTurns(context.Background(), "t1")
	if err != nil {
		t.Fatalf("CountTurns: %v", err)
	}
	if n != 50 {
		t.Fatalf("turns = %d, want 50 untouched", n)
	}
}

func TestCompactIfNeeded_RollsPreviousSummaryIntoPrompt(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	fillThread(t, s, "t1", 50)
	first := &staticCompleter{reply: "first summary"}
	if _, err := NewSummarizer(s, first, 2000, 10, discardLogger()).CompactIfNeeded(ctx, "t1"); err != nil {
		t.Fatalf("first compaction: %v", err)
	}

	// Grow again past the budget; the second pass should see the stored summary.
	fillThread(t, s, "t1", 40)
	var seenPrompt string
	capture := completerFunc(func(_ context.Context, req llm.Request) (string, error) {
		seenPrompt = req.Messages[0].Content
		return "second summary", nil
	})
	did, err := NewSummarizer(s, capture, 2000, 10, discardLogger()).CompactIfNeeded(ctx, "t1")
	if err != nil {
		t.Fatalf("second compaction: %v", err)
	}
	if !did {
		t.Fatal("expected a second compaction")
	}
	if !strings.Contains(seenPrompt, "first summary") {
		t.Fatalf("prompt does not carry the previous summary: %q", seenPrompt)
	}
}

type completerFunc func(ctx context.Context, req llm.Request) (string, error)

func (f completerFunc) Complete(ctx context.Context, req llm.Request) (string, error) {
	return f(ctx, req)
}
