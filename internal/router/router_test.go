package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cassio-all/generic-wpp-chatbot/internal/llm"
	"github.com/cassio-all/generic-wpp-chatbot/internal/memory"
)

type scriptedModel struct {
	reply string
	err   error
	calls int
	seen  llm.Request
}

func (m *scriptedModel) Complete(_ context.Context, req llm.Request) (string, error) {
	m.calls++
	m.seen = req
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassify_LexicalSingleMatchSkipsModel(t *testing.T) {
	t.Parallel()
	model := &scriptedModel{reply: `{"intent":"task","confidence":0.95,"reason":"unused"}`}
	r := New(model, DefaultKeywords(), true, 0.6, discardLogger())

	d := r.Classify(context.Background(), "qual é a política de reembolso?", nil)
	if d.Intent != IntentKnowledgeQuery {
		t.Fatalf("intent = %q, want %q", d.Intent, IntentKnowledgeQuery)
	}
	if d.Confidence != 0.9 {
		t.Fatalf("confidence = %v, want 0.9", d.Confidence)
	}
	if d.Source != SourceLexical {
		t.Fatalf("source = %q, want %q", d.Source, SourceLexical)
	}
	if model.calls != 0 {
		t.Fatalf("model calls = %d, want 0", model.calls)
	}
}

func TestClassify_AmbiguousLexicalFallsBackToModel(t *testing.T) {
	t.Parallel()
	model := &scriptedModel{reply: `{"intent":"send_mail","confidence":0.85,"reason":"email_with_meeting_context"}`}
	r := New(model, DefaultKeywords(), true, 0.6, discardLogger())

	// Hits both send_mail ("email to") and schedule ("meeting").
	d := r.Classify(context.Background(), "send an email to Ana about the meeting", nil)
	if model.calls != 1 {
		t.Fatalf("model calls = %d, want 1", model.calls)
	}
	if d.Intent != IntentSendMail || d.Source != SourceModel {
		t.Fatalf("decision = %+v", d)
	}
}

func TestClassify_LexicalDisabledAlwaysUsesModel(t *testing.T) {
	t.Parallel()
	model := &scriptedModel{reply: `{"intent":"knowledge_query","confidence":0.8,"reason":"policy_question"}`}
	r := New(model, DefaultKeywords(), false, 0.6, discardLogger())

	d := r.Classify(context.Background(), "qual é a política de reembolso?", nil)
	if model.calls != 1 {
		t.Fatalf("model calls = %d, want 1", model.calls)
	}
	if d.Intent != IntentKnowledgeQuery {
		t.Fatalf("intent = %q", d.Intent)
	}
}

func TestClassify_BelowThresholdForcesGeneralChat(t *testing.T) {
	t.Parallel()
	model := &scriptedModel{reply: `{"intent":"schedule","confidence":0.4,"reason":"weak_signal"}`}
	r := New(model, DefaultKeywords(), true, 0.6, discardLogger())

	d := r.Classify(context.Background(), "hmm talvez depois", nil)
	if d.Intent != IntentGeneralChat {
		t.Fatalf("intent = %q, want %q", d.Intent, IntentGeneralChat)
	}
	if d.Reason != "below_confidence_threshold" {
		t.Fatalf("reason = %q", d.Reason)
	}
}

func TestClassify_ModelFailureFallsBackToGeneralChat(t *testing.T) {
	t.Parallel()
	model := &scriptedModel{err: errors.New("upstream down")}
	r := New(model, DefaultKeywords(), true, 0.6, discardLogger())

	d := r.Classify(context.Background(), "hello there", nil)
	if d.Intent != IntentGeneralChat || d.Source != SourceDeterministicFallback {
		t.Fatalf("decision = %+v", d)
	}
}

func TestClassify_HistoryGoesIntoModelContext(t *testing.T) {
	t.Parallel()
	model := &scriptedModel{reply: `{"intent":"schedule","confidence":0.9,"reason":"follow_up"}`}
	r := New(model, DefaultKeywords(), true, 0.6, discardLogger())

	history := []memory.Turn{
		{Role: memory.RoleUser, Content: "pode marcar com o dentista?"},
		{Role: memory.RoleAssistant, Content: "claro, que dia?"},
	}
	d := r.Classify(context.Background(), "quinta de manhã", history)
	if d.Intent != IntentSchedule {
		t.Fatalf("intent = %q", d.Intent)
	}
	if !strings.Contains(model.seen.Messages[0].Content, "pode marcar com o dentista?") {
		t.Fatalf("prompt missing history: %q", model.seen.Messages[0].Content)
	}
}

func TestParseModelDecision(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		raw        string
		wantIntent string
		wantErr    bool
	}{
		{name: "plain", raw: `{"intent":"search","confidence":0.8,"reason":"news"}`, wantIntent: IntentSearch},
		{name: "fenced", raw: "```json\n{\"intent\":\"task\",\"confidence\":0.7,\"reason\":\"todo\"}\n```", wantIntent: IntentTask},
		{name: "embedded", raw: `Sure! {"intent":"schedule","confidence":0.75,"reason":"meeting"} hope that helps`, wantIntent: IntentSchedule},
		{name: "unknown intent", raw: `{"intent":"banking","confidence":0.9,"reason":"x"}`, wantErr: true},
		{name: "empty", raw: "   ", wantErr: true},
		{name: "not json", raw: "the intent is schedule", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d, err := parseModelDecision(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseModelDecision(%q) = %+v, want error", tc.raw, d)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseModelDecision: %v", err)
			}
			if d.Intent != tc.wantIntent {
				t.Fatalf("intent = %q, want %q", d.Intent, tc.wantIntent)
			}
		})
	}
}

func TestParseModelDecision_ClampsConfidence(t *testing.T) {
	t.Parallel()
	d, err := parseModelDecision(`{"intent":"search","confidence":1.7,"reason":"x"}`)
	if err != nil {
		t.Fatalf("parseModelDecision: %v", err)
	}
	if d.Confidence != 1 {
		t.Fatalf("confidence = %v, want clamped to 1", d.Confidence)
	}
}

func TestLoadKeywords(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	path := filepath.Join(dir, "keywords.yaml")
	contents := `
intents:
  schedule: [dentista, consulta]
  task: [lista de compras]
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	ks, err := LoadKeywords(path)
	if err != nil {
		t.Fatalf("LoadKeywords: %v", err)
	}
	got := ks.Match("preciso marcar o Dentista")
	if len(got) != 1 || got[0] != IntentSchedule {
		t.Fatalf("Match = %v, want [schedule]", got)
	}
	if m := ks.Match("qual é a política de reembolso?"); len(m) != 0 {
		t.Fatalf("file should replace defaults entirely, got %v", m)
	}
}

func TestLoadKeywords_Invalid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.yaml")
	if err := os.WriteFile(unknown, []byte("intents:\n  banking: [pix]\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadKeywords(unknown); err == nil {
		t.Fatal("expected error for unknown intent")
	}

	fallback := filepath.Join(dir, "fallback.yaml")
	if err := os.WriteFile(fallback, []byte("intents:\n  general_chat: [oi]\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadKeywords(fallback); err == nil {
		t.Fatal("expected error for general_chat keywords")
	}

	if _, err := LoadKeywords(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadKeywords_EmptyPathUsesDefaults(t *testing.T) {
	t.Parallel()
	ks, err := LoadKeywords("")
	if err != nil {
		t.Fatalf("LoadKeywords: %v", err)
	}
	got := ks.Match("latest news please")
	if len(got) != 1 || got[0] != IntentSearch {
		t.Fatalf("Match = %v, want [search]", got)
	}
}
