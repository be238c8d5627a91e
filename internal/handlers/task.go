package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cassio-all/generic-wpp-chatbot/internal/automation"
	"github.com/cassio-all/generic-wpp-chatbot/internal/llm"
	"github.com/cassio-all/generic-wpp-chatbot/internal/tasks"
)

const agentTask = "task"

// TaskHandler maintains the user's to-do list. Creating an urgent task with
// a deadline emits a task.flagged_urgent event instead of touching the
// calendar inline; the automation bus picks it up after the turn persists.
type TaskHandler struct {
	store *tasks.Store
	model llm.Completer
	log   *slog.Logger
	now   func() time.Time
}

func NewTaskHandler(store *tasks.Store, model llm.Completer, log *slog.Logger) *TaskHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TaskHandler{store: store, model: model, log: log, now: time.Now}
}

const taskExtractPrompt = `You manage a to-do list from WhatsApp messages.
Return exactly one JSON object with keys: action, title, priority, deadline.
action: "create" when the message adds a to-do (including "remember to ..." / "me lembra de ..." phrasings), "list" when it asks what is pending, "none" when neither fits.
title: for create, a short imperative task title in the user's language. Otherwise "".
priority: one of low, medium, high, urgent. Use high or urgent only when the message signals urgency.
deadline: RFC3339 with timezone offset, resolved against the current time given below, or "" when no deadline is stated.
Do not include markdown or extra text.`

type taskDraft struct {
	Action   string `json:"action"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
	Deadline string `json:"deadline"`
}

func (h *TaskHandler) Handle(ctx context.Context, req Request) (Response, error) {
	draft, err := h.extract(ctx, req)
	if err != nil {
		h.log.Warn("task extraction failed", "thread_id", req.ThreadID, "error", err)
		return apologyResponse(agentTask), nil
	}

	switch strings.ToLower(strings.TrimSpace(draft.Action)) {
	case "list":
		return h.list(ctx, req)
	case "create":
		return h.create(ctx, req, draft)
	default:
		return Response{
			Text:      "Posso anotar tarefas ou listar as pendentes. O que você precisa?",
			AgentUsed: agentTask,
		}, nil
	}
}

func (h *TaskHandler) list(ctx context.Context, req Request) (Response, error) {
	open, err := h.store.List(ctx, false)
	if err != nil {
		h.log.Warn("task list failed", "thread_id", req.ThreadID, "error", err)
		return apologyResponse(agentTask), nil
	}
	if len(open) == 0 {
		return Response{Text: "Você não tem tarefas pendentes. 🎉", AgentUsed: agentTask}, nil
	}

	var b strings.Builder
	b.WriteString("Suas tarefas pendentes:\n")
	for _, t := range open {
		b.WriteString("• ")
		b.WriteString(t.Title)
		if t.DeadlineUnixMs > 0 {
			b.WriteString(" (até ")
			b.WriteString(time.UnixMilli(t.DeadlineUnixMs).Format("02/01 15:04"))
			b.WriteString(")")
		}
		if t.Urgent() {
			b.WriteString(" ‼️")
		}
		b.WriteString("\n")
	}
	return Response{Text: strings.TrimSpace(b.String()), AgentUsed: agentTask}, nil
}

func (h *TaskHandler) create(ctx context.Context, req Request, draft taskDraft) (Response, error) {
	title := strings.TrimSpace(draft.Title)
	if title == "" {
		return Response{Text: "O que exatamente você quer que eu anote?", AgentUsed: agentTask}, nil
	}

	var deadlineMs int64
	if raw := strings.TrimSpace(draft.Deadline); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			deadlineMs = parsed.UnixMilli()
		} else {
			h.log.Warn("task draft has unparseable deadline", "thread_id", req.ThreadID, "deadline", raw)
		}
	}

	created, err := h.store.Create(ctx, tasks.Task{
		Title:          title,
		Priority:       tasks.NormalizePriority(draft.Priority),
		DeadlineUnixMs: deadlineMs,
	})
	if err != nil {
		h.log.Warn("task create failed", "thread_id", req.ThreadID, "error", err)
		return apologyResponse(agentTask), nil
	}

	resp := Response{
		Text:      fmt.Sprintf("Anotado: %s.", created.Title),
		AgentUsed: agentTask,
	}
	if created.DeadlineUnixMs > 0 {
		resp.Text = fmt.Sprintf("Anotado: %s, até %s.", created.Title, time.UnixMilli(created.DeadlineUnixMs).Format("02/01 15:04"))
	}
	if created.Urgent() && created.DeadlineUnixMs > 0 {
		resp.Events = append(resp.Events, automation.Event{
			Name:           automation.EventTaskFlaggedUrgent,
			TaskID:         created.ID,
			TaskTitle:      created.Title,
			DeadlineUnixMs: created.DeadlineUnixMs,
		})
	}
	return resp, nil
}

func (h *TaskHandler) extract(ctx context.Context, req Request) (taskDraft, error) {
	var b strings.Builder
	b.WriteString("Current time: ")
	b.WriteString(h.now().Format(time.RFC3339))
	b.WriteString("\n\n")
	if hist := renderHistory(req.History, 4, 200); hist != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(hist)
		b.WriteString("\n")
	}
	b.WriteString("Message:\n")
	b.WriteString(strings.TrimSpace(req.Message))

	raw, err := h.model.Complete(ctx, llm.Request{
		System:   taskExtractPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
	})
	if err != nil {
		return taskDraft{}, err
	}
	var draft taskDraft
	if err := unmarshalModelJSON(raw, &draft); err != nil {
		return taskDraft{}, fmt.Errorf("invalid task draft: %w", err)
	}
	return draft, nil
}
