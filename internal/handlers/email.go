package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cassio-all/generic-wpp-chatbot/internal/capability"
	"github.com/cassio-all/generic-wpp-chatbot/internal/llm"
)

const agentEmail = "email"

// EmailHandler drafts and sends mail. A missing or invalid recipient becomes
// a clarification question.
type EmailHandler struct {
	email capability.Email
	model llm.Completer
	log   *slog.Logger
}

func NewEmailHandler(email capability.Email, model llm.Completer, log *slog.Logger) *EmailHandler {
	if log == nil {
		log = slog.Default()
	}
	return &EmailHandler{email: email, model: model, log: log}
}

const emailExtractPrompt = `You extract an email draft from a WhatsApp message.
Return exactly one JSON object with keys: to, subject, body, missing, clarification.
to: the recipient's email address, or "" when the message names no address.
subject: a short subject line, inferred when not stated.
body: the full message body, polite and in the language the user writes in.
missing: array with any of "to", "body" that could not be determined. A name without an address means "to" is missing.
clarification: when missing is non-empty, one short friendly question asking for exactly the missing pieces, in the user's language. Otherwise "".
Do not include markdown or extra text.`

type emailDraft struct {
	To            string   `json:"to"`
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
	Missing       []string `json:"missing"`
	Clarification string   `json:"clarification"`
}

func (h *EmailHandler) Handle(ctx context.Context, req Request) (Response, error) {
	draft, err := h.extract(ctx, req)
	if err != nil {
		h.log.Warn("email extraction failed", "thread_id", req.ThreadID, "error", err)
		return apologyResponse(agentEmail), nil
	}

	draft.To = strings.TrimSpace(draft.To)
	if len(draft.Missing) > 0 || draft.To == "" || strings.TrimSpace(draft.Body) == "" {
		clarification := strings.TrimSpace(draft.Clarification)
		if clarification == "" {
			clarification = "Para enviar o email, preciso do endereço do destinatário e do que você quer dizer. Pode me passar?"
		}
		return Response{Text: clarification, AgentUsed: agentEmail}, nil
	}
	if !capability.ValidEmailAddress(draft.To) {
		return Response{
			Text:      fmt.Sprintf("O endereço %q não parece válido. Pode confirmar o email do destinatário?", draft.To),
			AgentUsed: agentEmail,
		}, nil
	}

	err = h.email.Send(ctx, capability.EmailMessage{
		To:      draft.To,
		Subject: strings.TrimSpace(draft.Subject),
		Body:    strings.TrimSpace(draft.Body),
	})
	if err != nil {
		if errors.Is(err, capability.ErrNotConfigured) {
			return Response{Text: "O envio de email não está configurado por aqui ainda.", AgentUsed: agentEmail}, nil
		}
		h.log.Warn("email send failed", "thread_id", req.ThreadID, "error", err)
		return apologyResponse(agentEmail), nil
	}

	return Response{
		Text:      fmt.Sprintf("Email enviado para %s.", draft.To),
		AgentUsed: agentEmail,
	}, nil
}

func (h *EmailHandler) extract(ctx context.Context, req Request) (emailDraft, error) {
	var b strings.Builder
	if hist := renderHistory(req.History, 4, 200); hist != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(hist)
		b.WriteString("\n")
	}
	b.WriteString("Message:\n")
	b.WriteString(strings.TrimSpace(req.Message))

	raw, err := h.model.Complete(ctx, llm.Request{
		System:   emailExtractPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
	})
	if err != nil {
		return emailDraft{}, err
	}
	var draft emailDraft
	if err := unmarshalModelJSON(raw, &draft); err != nil {
		return emailDraft{}, fmt.Errorf("invalid email draft: %w", err)
	}
	return draft, nil
}
