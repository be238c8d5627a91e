package handlers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cassio-all/generic-wpp-chatbot/internal/llm"
)

const agentChat = "chat"

// ChatHandler is the fallback conversationalist: small talk, thanks, and
// anything no specialized handler claimed.
type ChatHandler struct {
	model llm.Completer
	log   *slog.Logger
}

func NewChatHandler(model llm.Completer, log *slog.Logger) *ChatHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChatHandler{model: model, log: log}
}

const chatSystemPrompt = `You are a friendly personal assistant chatting on WhatsApp.
Reply naturally in the language the user writes in. Keep replies short and warm, this is a chat.
You can also schedule events, send emails, search the web, answer from documents, and keep a to-do list, if the user asks.`

func (h *ChatHandler) Handle(ctx context.Context, req Request) (Response, error) {
	var b strings.Builder
	if req.State != nil && strings.TrimSpace(req.State.Summary) != "" {
		b.WriteString("Summary of earlier conversation:\n")
		b.WriteString(strings.TrimSpace(req.State.Summary))
		b.WriteString("\n\n")
	}
	if hist := renderHistory(req.History, 8, 300); hist != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(hist)
		b.WriteString("\n")
	}
	b.WriteString("Message:\n")
	b.WriteString(strings.TrimSpace(req.Message))

	text, err := h.model.Complete(ctx, llm.Request{
		System:   chatSystemPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
	})
	if err != nil {
		h.log.Warn("chat completion failed", "thread_id", req.ThreadID, "error", err)
		return apologyResponse(agentChat), nil
	}
	return Response{Text: strings.TrimSpace(text), AgentUsed: agentChat}, nil
}
