package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/cassio-all/generic-wpp-chatbot/internal/capability"
	"github.com/cassio-all/generic-wpp-chatbot/internal/knowledge"
	"github.com/cassio-all/generic-wpp-chatbot/internal/llm"
)

const agentKnowledge = "knowledge"

// Retriever is the slice of the knowledge store this handler needs.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]knowledge.RetrievalResult, error)
}

// KnowledgeHandler answers from the local document base. When retrieval
// comes back empty it falls back to web search; when retrieval itself fails
// it degrades to a context-free answer rather than erroring the cycle.
type KnowledgeHandler struct {
	store  Retriever
	search capability.WebSearcher
	model  llm.Completer
	log    *slog.Logger
}

func NewKnowledgeHandler(store Retriever, search capability.WebSearcher, model llm.Completer, log *slog.Logger) *KnowledgeHandler {
	if log == nil {
		log = slog.Default()
	}
	return &KnowledgeHandler{store: store, search: search, model: model, log: log}
}

const knowledgeSystemPrompt = `You are a helpful WhatsApp assistant answering from reference documents.
Answer using only the provided context. If the context does not cover the question, say so briefly.
Answer in the language the user writes in. Keep answers short, this is a chat.`

const knowledgeNoContextPrompt = `You are a helpful WhatsApp assistant.
No reference material was available for this question. Answer from general knowledge,
and say you are not fully sure when appropriate. Answer in the language the user writes in. Keep it short.`

func (h *KnowledgeHandler) Handle(ctx context.Context, req Request) (Response, error) {
	query := strings.TrimSpace(req.Message)

	var contextBlocks []string
	results, err := h.store.Search(ctx, query, 0)
	switch {
	case err != nil:
		h.log.Warn("knowledge retrieval failed, answering without context", "thread_id", req.ThreadID, "error", err)
	case len(results) == 0:
		contextBlocks = h.webFallback(ctx, req.ThreadID, query)
	default:
		for _, r := range results {
			contextBlocks = append(contextBlocks, r.Chunk.Text)
		}
	}

	text, err := h.compose(ctx, query, contextBlocks)
	if err != nil {
		h.log.Warn("knowledge answer composition failed", "thread_id", req.ThreadID, "error", err)
		return apologyResponse(agentKnowledge), nil
	}
	return Response{Text: text, AgentUsed: agentKnowledge}, nil
}

func (h *KnowledgeHandler) webFallback(ctx context.Context, threadID string, query string) []string {
	if h.search == nil {
		return nil
	}
	res, err := h.search.Search(ctx, capability.SearchRequest{Query: query, Count: 3})
	if err != nil {
		if !errors.Is(err, capability.ErrNotConfigured) {
			h.log.Warn("web fallback failed", "thread_id", threadID, "error", err)
		}
		return nil
	}
	blocks := make([]string, 0, len(res.Results))
	for _, item := range res.Results {
		blocks = append(blocks, item.Title+"\n"+item.Snippet+"\n"+item.URL)
	}
	return blocks
}

func (h *KnowledgeHandler) compose(ctx context.Context, query string, contextBlocks []string) (string, error) {
	system := knowledgeSystemPrompt
	var b strings.Builder
	if len(contextBlocks) > 0 {
		b.WriteString("Context:\n")
		for _, block := range contextBlocks {
			b.WriteString(block)
			b.WriteString("\n---\n")
		}
		b.WriteString("\n")
	} else {
		system = knowledgeNoContextPrompt
	}
	b.WriteString("Question:\n")
	b.WriteString(query)

	out, err := h.model.Complete(ctx, llm.Request{
		System:   system,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
