package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppend_CreatesConversationAndTurn(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Append(ctx, "5511999@c.us", Turn{Role: RoleUser, Content: "oi, tudo bem?"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if id <= 0 {
		t.Fatalf("row id = %d, want > 0", id)
	}

	conv, err := s.Load(ctx, "5511999@c.us")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if conv == nil {
		t.Fatal("conversation not created on first append")
	}
	if conv.Mode != ModeActive {
		t.Fatalf("mode = %q, want %q", conv.Mode, ModeActive)
	}
	if conv.LastMessagePreview != "oi, tudo bem?" {
		t.Fatalf("preview = %q", conv.LastMessagePreview)
	}

	turns, err := s.History(ctx, "5511999@c.us", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1", len(turns))
	}
	if turns[0].Role != RoleUser || turns[0].Content != "oi, tudo bem?" {
		t.Fatalf("turn = %+v", turns[0])
	}
	if turns[0].TurnID == "" {
		t.Fatal("turn_id not assigned")
	}
}

func TestAppend_DuplicateTurnID(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, "t1", Turn{TurnID: "msg-1", Role: RoleUser, Content: "first"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_, err := s.Append(ctx, "t1", Turn{TurnID: "msg-1", Role: RoleUser, Content: "replay"})
	if !errors.Is(err, ErrDuplicateTurn) {
		t.Fatalf("err = %v, want ErrDuplicateTurn", err)
	}

	n, err := s.CountTurns(ctx, "t1")
	if err != nil {
		t.Fatalf("CountTurns: %v", err)
	}
	if n != 1 {
		t.Fatalf("turns = %d, want 1", n)
	}
}

func TestAppend_RejectsInvalid(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, "", Turn{Role: RoleUser, Content: "x"}); err == nil {
		t.Fatal("expected error for missing thread_id")
	}
	if _, err := s.Append(ctx, "t1", Turn{Role: "operator", Content: "x"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
	if _, err := s.Append(ctx, "t1", Turn{Role: RoleUser, Content: "   "}); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestHistory_AscendingOrder(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if _, err := s.Append(ctx, "t1", Turn{Role: role, Content: fmt.Sprintf("turn %d", i)}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	turns, err := s.History(ctx, "t1", 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("len(turns) = %d, want 3", len(turns))
	}
	if turns[0].Content != "turn 2" || turns[2].Content != "turn 4" {
		t.Fatalf("window = [%q .. %q], want [\"turn 2\" .. \"turn 4\"]", turns[0].Content, turns[2].Content)
	}
}

func TestLoad_UnknownThread(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	conv, err := s.Load(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if conv != nil {
		t.Fatalf("conv = %+v, want nil", conv)
	}
}

func TestSetMode_PauseAndResume(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	// Pausing an unseen thread creates the row.
	if err := s.SetMode(ctx, "t1", ModePaused, 1_700_000_060_000); err != nil {
		t.Fatalf("SetMode paused: %v", err)
	}
	conv, err := s.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if conv == nil || conv.Mode != ModePaused {
		t.Fatalf("conv = %+v, want paused", conv)
	}
	if conv.PauseUntilUnixMs != 1_700_000_060_000 {
		t.Fatalf("pause_until = %d", conv.PauseUntilUnixMs)
	}

	// Resuming clears the pause window.
	if err := s.SetMode(ctx, "t1", ModeActive, 999); err != nil {
		t.Fatalf("SetMode active: %v", err)
	}
	conv, err = s.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if conv.Mode != ModeActive || conv.PauseUntilUnixMs != 0 {
		t.Fatalf("conv = %+v, want active with zero pause_until", conv)
	}
}

func TestSetMode_PreservesSummary(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, "t1", Turn{Role: RoleUser, Content: "a"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append(ctx, "t1", Turn{Role: RoleAssistant, Content: "b"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	turns, err := s.History(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if err := s.CompactTurns(ctx, "t1", turns[1].ID, "talked about a"); err != nil {
		t.Fatalf("CompactTurns: %v", err)
	}

	if err := s.SetMode(ctx, "t1", ModePaused, 123); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	conv, err := s.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if conv.Summary != "talked about a" {
		t.Fatalf("summary = %q, want preserved", conv.Summary)
	}
}

func TestCompactTurns_ReplacesOldTurns(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := s.Append(ctx, "t1", Turn{Role: RoleUser, Content: fmt.Sprintf("turn %d", i)}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	turns, err := s.History(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	boundary := turns[4].ID // keep the last 2

	if err := s.CompactTurns(ctx, "t1", boundary, "summary of turns 0-3"); err != nil {
		t.Fatalf("CompactTurns: %v", err)
	}

	after, err := s.History(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(after) != 3 {
		t.Fatalf("len(after) = %d, want 3", len(after))
	}
	if after[0].Role != RoleSummary || after[0].Content != "summary of turns 0-3" {
		t.Fatalf("first turn = %+v, want the summary", after[0])
	}
	if after[1].Content != "turn 4" || after[2].Content != "turn 5" {
		t.Fatalf("kept turns = %q, %q", after[1].Content, after[2].Content)
	}

	conv, err := s.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if conv.Summary != "summary of turns 0-3" {
		t.Fatalf("rolling summary = %q", conv.Summary)
	}
}

func TestListConversations_MostRecentFirst(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, "old", Turn{Role: RoleUser, Content: "x", CreatedAtUnixMs: 1000}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append(ctx, "new", Turn{Role: RoleUser, Content: "y", CreatedAtUnixMs: 2000}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	convs, err := s.ListConversations(ctx, 10)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("len(convs) = %d, want 2", len(convs))
	}
	if convs[0].ThreadID != "new" || convs[1].ThreadID != "old" {
		t.Fatalf("order = %q, %q", convs[0].ThreadID, convs[1].ThreadID)
	}
}
