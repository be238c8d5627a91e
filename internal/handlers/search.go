package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/cassio-all/generic-wpp-chatbot/internal/capability"
	"github.com/cassio-all/generic-wpp-chatbot/internal/llm"
)

const agentSearch = "search"

// SearchHandler answers questions that need the live web: news, weather,
// anything time-sensitive.
type SearchHandler struct {
	search capability.WebSearcher
	model  llm.Completer
	log    *slog.Logger
}

func NewSearchHandler(search capability.WebSearcher, model llm.Completer, log *slog.Logger) *SearchHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SearchHandler{search: search, model: model, log: log}
}

const searchComposePrompt = `You are a helpful WhatsApp assistant summarizing web search results.
Answer the user's question from the results below, mentioning the source when it matters.
If the results do not answer the question, say so briefly.
Answer in the language the user writes in. Keep it short, this is a chat.`

func (h *SearchHandler) Handle(ctx context.Context, req Request) (Response, error) {
	query := strings.TrimSpace(req.Message)

	res, err := h.search.Search(ctx, capability.SearchRequest{Query: query, Count: 5})
	if err != nil {
		if errors.Is(err, capability.ErrNotConfigured) {
			return Response{Text: "A busca na internet não está configurada por aqui ainda.", AgentUsed: agentSearch}, nil
		}
		h.log.Warn("web search failed", "thread_id", req.ThreadID, "error", err)
		return apologyResponse(agentSearch), nil
	}
	if len(res.Results) == 0 {
		return Response{Text: "Não encontrei nada sobre isso na internet agora.", AgentUsed: agentSearch}, nil
	}

	var b strings.Builder
	b.WriteString("Search results:\n")
	for _, item := range res.Results {
		b.WriteString("- ")
		b.WriteString(item.Title)
		b.WriteString(" (")
		b.WriteString(item.URL)
		b.WriteString(")\n  ")
		b.WriteString(item.Snippet)
		b.WriteString("\n")
	}
	b.WriteString("\nQuestion:\n")
	b.WriteString(query)

	text, err := h.model.Complete(ctx, llm.Request{
		System:   searchComposePrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
	})
	if err != nil {
		h.log.Warn("search answer composition failed", "thread_id", req.ThreadID, "error", err)
		return apologyResponse(agentSearch), nil
	}
	return Response{Text: strings.TrimSpace(text), AgentUsed: agentSearch}, nil
}
