package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cassio-all/generic-wpp-chatbot/internal/llm"
)

const (
	// DefaultMaxHistoryTokens is the estimated token budget for unsummarized turns.
	DefaultMaxHistoryTokens = 2000
	// DefaultKeepRecentTurns is how many recent turns survive a compaction.
	DefaultKeepRecentTurns = 4

	summarizerMaxOutputTokens = 512
)

const summarizerSystemPrompt = `You maintain a running summary of a WhatsApp conversation between a user and an assistant.
Merge the previous summary (if any) with the new messages into one updated summary.
Keep user preferences, open requests, commitments, and factual details. Write in the language the user writes in.
Reply with the summary text only.`

// Summarizer folds old turns into a rolling summary once the estimated
// token count of a thread's history exceeds the configured budget.
type Summarizer struct {
	store *Store
	model llm.Completer
	log   *slog.Logger

	maxHistoryTokens int
	keepRecentTurns  int
}

func NewSummarizer(store *Store, model llm.Completer, maxHistoryTokens int, keepRecentTurns int, log *slog.Logger) *Summarizer {
	if maxHistoryTokens <= 0 {
		maxHistoryTokens = DefaultMaxHistoryTokens
	}
	if keepRecentTurns <= 0 {
		keepRecentTurns = DefaultKeepRecentTurns
	}
	if log == nil {
		log = slog.Default()
	}
	return &Summarizer{
		store:            store,
		model:            model,
		log:              log,
		maxHistoryTokens: maxHistoryTokens,
		keepRecentTurns:  keepRecentTurns,
	}
}

// CompactIfNeeded compacts the thread's history when it exceeds the token
// budget. It returns true when a compaction happened. Failures are reported
// but callers should treat them as non-fatal: the uncompacted history still
// works, it is just larger.
func (s *Summarizer) CompactIfNeeded(ctx context.Context, threadID string) (bool, error) {
	if s == nil || s.store == nil {
		return false, errors.New("summarizer not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return false, errors.New("missing thread_id")
	}

	turns, err := s.store.History(ctx, threadID, 500)
	if err != nil {
		return false, err
	}
	if len(turns) <= s.keepRecentTurns {
		return false, nil
	}
	if estimateTurnTokens(turns) <= s.maxHistoryTokens {
		return false, nil
	}
	if s.model == nil {
		return false, llm.ErrNotConfigured
	}

	cutoff := len(turns) - s.keepRecentTurns
	archived := turns[:cutoff]
	boundaryID := turns[cutoff].ID

	conv, err := s.store.Load(ctx, threadID)
	if err != nil {
		return false, err
	}
	previous := ""
	if conv != nil {
		previous = strings.TrimSpace(conv.Summary)
	}

	summary, err := s.synthesize(ctx, previous, archived)
	if err != nil {
		return false, fmt.Errorf("synthesize summary: %w", err)
	}
	if summary == "" {
		return false, errors.New("model returned empty summary")
	}

	if err := s.store.CompactTurns(ctx, threadID, boundaryID, summary); err != nil {
		return false, err
	}
	s.log.Info("compacted conversation history",
		"thread_id", threadID,
		"archived_turns", len(archived),
		"kept_turns", s.keepRecentTurns)
	return true, nil
}

func (s *Summarizer) synthesize(ctx context.Context, previousSummary string, turns []Turn) (string, error) {
	var b strings.Builder
	if previousSummary != "" {
		b.WriteString("Previous summary:\n")
		b.WriteString(previousSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("New messages:\n")
	for _, t := range turns {
		label := "User"
		switch t.Role {
		case RoleAssistant:
			label = "Assistant"
		case RoleSummary:
			label = "Earlier summary"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(truncateRunes(t.Content, 400))
		b.WriteString("\n")
	}

	out, err := s.model.Complete(ctx, llm.Request{
		System:    summarizerSystemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		MaxTokens: summarizerMaxOutputTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// estimateTurnTokens is a cheap chars/4 estimate with a small per-turn overhead.
func estimateTurnTokens(turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += len([]rune(t.Content))/4 + 4
	}
	return total
}
