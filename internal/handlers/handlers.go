// Package handlers implements one capability handler per intent. A handler
// turns a classified message into a response text; it never mutates
// conversation state and never surfaces raw provider errors to the user.
package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cassio-all/generic-wpp-chatbot/internal/automation"
	"github.com/cassio-all/generic-wpp-chatbot/internal/memory"
)

type Request struct {
	ThreadID string
	Message  string

	// State is the conversation row; nil for a never-seen thread.
	State *memory.Conversation
	// History is a bounded slice of recent turns, oldest first.
	History []memory.Turn
}

type Response struct {
	Text      string
	AgentUsed string

	// Events are published to the automation bus after the turn persists.
	Events []automation.Event
}

type Handler interface {
	Handle(ctx context.Context, req Request) (Response, error)
}

// apology is the shared recovery response for handler failures. The
// orchestrator still persists the turn; the user just sees a retry prompt.
const apology = "Desculpe, tive um problema ao processar sua mensagem. Pode tentar de novo em alguns instantes?"

func apologyResponse(agent string) Response {
	return Response{Text: apology, AgentUsed: agent}
}

// trimJSONFences strips markdown code fences and pulls the first JSON object
// out of mixed prose, since models don't always answer with bare JSON.
func trimJSONFences(raw string) string {
	candidate := strings.TrimSpace(raw)
	if strings.HasPrefix(candidate, "```") {
		candidate = strings.TrimPrefix(candidate, "```json")
		candidate = strings.TrimPrefix(candidate, "```JSON")
		candidate = strings.TrimPrefix(candidate, "```")
		candidate = strings.TrimSuffix(candidate, "```")
		candidate = strings.TrimSpace(candidate)
	}
	return candidate
}

func unmarshalModelJSON(raw string, out any) error {
	candidate := trimJSONFences(raw)
	if err := json.Unmarshal([]byte(candidate), out); err != nil {
		embedded := extractFirstJSONObject(candidate)
		if embedded == "" {
			return err
		}
		return json.Unmarshal([]byte(embedded), out)
	}
	return nil
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

func renderHistory(history []memory.Turn, maxTurns int, maxRunesPerTurn int) string {
	if len(history) == 0 {
		return ""
	}
	if maxTurns > 0 && len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	var b strings.Builder
	for _, t := range history {
		label := "User"
		switch t.Role {
		case memory.RoleAssistant:
			label = "Assistant"
		case memory.RoleSummary:
			label = "Summary of earlier conversation"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(truncateRunes(t.Content, maxRunesPerTurn))
		b.WriteString("\n")
	}
	return b.String()
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
