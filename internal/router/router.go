// Package router classifies inbound messages into one of the engine's
// intents. A cheap lexical pass runs first; the model is only consulted when
// the keywords are ambiguous.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cassio-all/generic-wpp-chatbot/internal/llm"
	"github.com/cassio-all/generic-wpp-chatbot/internal/memory"
)

// Intents. The set is closed: anything the classifier cannot place with
// enough confidence lands on general_chat.
const (
	IntentKnowledgeQuery = "knowledge_query"
	IntentSchedule       = "schedule"
	IntentSendMail       = "send_mail"
	IntentSearch         = "search"
	IntentTask           = "task"
	IntentGeneralChat    = "general_chat"
)

const (
	SourceLexical               = "lexical"
	SourceModel                 = "model"
	SourceDeterministicFallback = "deterministic_fallback"

	// DefaultConfidenceThreshold forces general_chat below this confidence.
	DefaultConfidenceThreshold = 0.6

	// lexicalConfidence is fixed above the threshold by construction.
	lexicalConfidence = 0.9

	classifierMaxOutputTokens = 200
	historyContextTurns       = 4
)

type Decision struct {
	Intent     string
	Confidence float64
	Reason     string
	Source     string
}

func knownIntent(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case IntentKnowledgeQuery, IntentSchedule, IntentSendMail, IntentSearch, IntentTask, IntentGeneralChat:
		return true
	default:
		return false
	}
}

type Router struct {
	model    llm.Completer
	keywords *KeywordSet
	log      *slog.Logger

	lexicalEnabled      bool
	confidenceThreshold float64
}

func New(model llm.Completer, keywords *KeywordSet, lexicalEnabled bool, confidenceThreshold float64, log *slog.Logger) *Router {
	if keywords == nil {
		keywords = DefaultKeywords()
	}
	if confidenceThreshold <= 0 || confidenceThreshold >= 1 {
		confidenceThreshold = DefaultConfidenceThreshold
	}
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		model:               model,
		keywords:            keywords,
		log:                 log,
		lexicalEnabled:      lexicalEnabled,
		confidenceThreshold: confidenceThreshold,
	}
}

// Classify is a pure function of the message plus a bounded slice of recent
// history. It never errors out: every failure path degrades to general_chat.
func (r *Router) Classify(ctx context.Context, message string, history []memory.Turn) Decision {
	if r == nil {
		return Decision{Intent: IntentGeneralChat, Confidence: 0, Reason: "router_not_initialized", Source: SourceDeterministicFallback}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return Decision{Intent: IntentGeneralChat, Confidence: 0, Reason: "empty_message", Source: SourceDeterministicFallback}
	}

	if r.lexicalEnabled {
		matches := r.keywords.Match(message)
		if len(matches) == 1 {
			return Decision{
				Intent:     matches[0],
				Confidence: lexicalConfidence,
				Reason:     "keyword_match",
				Source:     SourceLexical,
			}
		}
	}

	if r.model == nil {
		return Decision{Intent: IntentGeneralChat, Confidence: 0, Reason: "no_model_configured", Source: SourceDeterministicFallback}
	}

	decision, err := r.classifyByModel(ctx, message, history)
	if err != nil {
		r.log.Warn("model intent classification failed", "error", err)
		return Decision{Intent: IntentGeneralChat, Confidence: 0, Reason: "model_classifier_failed", Source: SourceDeterministicFallback}
	}
	if decision.Confidence < r.confidenceThreshold {
		return Decision{
			Intent:     IntentGeneralChat,
			Confidence: decision.Confidence,
			Reason:     "below_confidence_threshold",
			Source:     SourceModel,
		}
	}
	return decision
}

const classifierSystemPrompt = `You classify a WhatsApp message into exactly one intent for a personal assistant.
Return exactly one JSON object with keys: intent, confidence, reason.
intent must be one of: knowledge_query, schedule, send_mail, search, task, general_chat.
confidence must be a number between 0 and 1.
reason must be a short snake_case phrase.
knowledge_query means a question answerable from the assistant's own document base (policies, FAQs, product facts).
schedule means creating, moving, or asking about calendar events, meetings, or reminders.
send_mail means asking to send an email to someone.
search means asking about current events, news, weather, or anything requiring the live web.
task means creating, listing, or completing to-do items.
general_chat means greetings, thanks, small talk, or anything that fits nothing above.
Messages may be in Portuguese or English.
Do not include markdown or extra text.`

func (r *Router) classifyByModel(ctx context.Context, message string, history []memory.Turn) (Decision, error) {
	var b strings.Builder
	recent := history
	if len(recent) > historyContextTurns {
		recent = recent[len(recent)-historyContextTurns:]
	}
	if len(recent) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, t := range recent {
			label := "User"
			if t.Role == memory.RoleAssistant {
				label = "Assistant"
			}
			b.WriteString(label)
			b.WriteString(": ")
			b.WriteString(truncateRunes(t.Content, 200))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Message:\n")
	b.WriteString(message)

	raw, err := r.model.Complete(ctx, llm.Request{
		System:    classifierSystemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		MaxTokens: classifierMaxOutputTokens,
	})
	if err != nil {
		return Decision{}, err
	}
	return parseModelDecision(raw)
}

func parseModelDecision(raw string) (Decision, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return Decision{}, errors.New("empty model response")
	}

	// Models often wrap JSON in markdown code fences.
	if strings.HasPrefix(candidate, "```") {
		candidate = strings.TrimPrefix(candidate, "```json")
		candidate = strings.TrimPrefix(candidate, "```JSON")
		candidate = strings.TrimPrefix(candidate, "```")
		candidate = strings.TrimSuffix(candidate, "```")
		candidate = strings.TrimSpace(candidate)
	}

	type payload struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	parse := func(text string) (payload, error) {
		var p payload
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			return payload{}, err
		}
		return p, nil
	}

	p, err := parse(candidate)
	if err != nil {
		embedded := extractFirstJSONObject(candidate)
		if embedded == "" {
			return Decision{}, fmt.Errorf("invalid model response: %w", err)
		}
		p, err = parse(embedded)
		if err != nil {
			return Decision{}, fmt.Errorf("invalid model JSON payload: %w", err)
		}
	}

	intent := strings.ToLower(strings.TrimSpace(p.Intent))
	if !knownIntent(intent) {
		return Decision{}, fmt.Errorf("invalid intent: %q", p.Intent)
	}
	if p.Confidence < 0 {
		p.Confidence = 0
	}
	if p.Confidence > 1 {
		p.Confidence = 1
	}
	reason := normalizeReason(p.Reason)
	if reason == "" {
		reason = "model_classifier"
	}
	return Decision{
		Intent:     intent,
		Confidence: p.Confidence,
		Reason:     reason,
		Source:     SourceModel,
	}, nil
}

func normalizeReason(reason string) string {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return ""
	}
	parts := strings.Fields(trimmed)
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "_")
}

func extractFirstJSONObject(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	runes := []rune(text)
	start := -1
	depth := 0
	quote := rune(0)
	escaped := false

	for i, r := range runes {
		if escaped {
			escaped = false
			continue
		}
		if quote != 0 {
			if r == '\\' {
				escaped = true
				continue
			}
			if r == quote {
				quote = 0
			}
			continue
		}

		if r == '"' || r == '\'' {
			quote = r
			continue
		}
		if r == '{' {
			if depth == 0 {
				start = i
			}
			depth++
			continue
		}
		if r == '}' {
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				return string(runes[start : i+1])
			}
		}
	}
	return ""
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n >= max {
			return strings.TrimSpace(s[:i])
		}
		n++
	}
	return strings.TrimSpace(s)
}
