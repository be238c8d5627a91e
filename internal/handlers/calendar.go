package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cassio-all/generic-wpp-chatbot/internal/capability"
	"github.com/cassio-all/generic-wpp-chatbot/internal/llm"
)

const agentCalendar = "calendar"

// CalendarHandler turns scheduling requests into calendar events. The model
// extracts an event draft; anything missing becomes a clarification question,
// which is a normal outcome, not an error.
type CalendarHandler struct {
	calendar capability.Calendar
	model    llm.Completer
	log      *slog.Logger
	now      func() time.Time
}

func NewCalendarHandler(calendar capability.Calendar, model llm.Completer, log *slog.Logger) *CalendarHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CalendarHandler{calendar: calendar, model: model, log: log, now: time.Now}
}

const calendarExtractPrompt = `You extract a calendar event draft from a WhatsApp message.
Return exactly one JSON object with keys: title, start, duration_minutes, missing, clarification.
title: short event title, or "" when the message does not say what the event is.
start: event start as RFC3339 with timezone offset, resolved against the current time given below, or "" when the message gives no usable date/time.
duration_minutes: integer, 60 when unstated.
missing: array with any of "title", "start" that could not be determined.
clarification: when missing is non-empty, one short friendly question in the language the user writes in, asking for exactly the missing pieces. Otherwise "".
Do not include markdown or extra text.`

type eventDraft struct {
	Title           string   `json:"title"`
	Start           string   `json:"start"`
	DurationMinutes int      `json:"duration_minutes"`
	Missing         []string `json:"missing"`
	Clarification   string   `json:"clarification"`
}

func (h *CalendarHandler) Handle(ctx context.Context, req Request) (Response, error) {
	draft, err := h.extract(ctx, req)
	if err != nil {
		h.log.Warn("calendar extraction failed", "thread_id", req.ThreadID, "error", err)
		return apologyResponse(agentCalendar), nil
	}

	if len(draft.Missing) > 0 || strings.TrimSpace(draft.Title) == "" || strings.TrimSpace(draft.Start) == "" {
		clarification := strings.TrimSpace(draft.Clarification)
		if clarification == "" {
			clarification = "Para agendar, preciso saber o que é o compromisso e quando. Pode me dizer?"
		}
		return Response{Text: clarification, AgentUsed: agentCalendar}, nil
	}

	start, err := time.Parse(time.RFC3339, strings.TrimSpace(draft.Start))
	if err != nil {
		h.log.Warn("calendar draft has unparseable start", "thread_id", req.ThreadID, "start", draft.Start)
		return Response{
			Text:      "Não consegui entender a data e hora. Pode repetir, por exemplo: \"quinta às 14h\"?",
			AgentUsed: agentCalendar,
		}, nil
	}
	if draft.DurationMinutes <= 0 {
		draft.DurationMinutes = 60
	}

	created, err := h.calendar.CreateEvent(ctx, capability.Event{
		Title:       strings.TrimSpace(draft.Title),
		StartUnixMs: start.UnixMilli(),
		EndUnixMs:   start.Add(time.Duration(draft.DurationMinutes) * time.Minute).UnixMilli(),
	})
	if err != nil {
		if errors.Is(err, capability.ErrNotConfigured) {
			return Response{Text: "A agenda não está configurada por aqui ainda.", AgentUsed: agentCalendar}, nil
		}
		h.log.Warn("calendar create failed", "thread_id", req.ThreadID, "error", err)
		return apologyResponse(agentCalendar), nil
	}

	return Response{
		Text:      fmt.Sprintf("Agendado: %s em %s.", created.Title, start.Format("02/01 15:04")),
		AgentUsed: agentCalendar,
	}, nil
}

func (h *CalendarHandler) extract(ctx context.Context, req Request) (eventDraft, error) {
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
		System:   calendarExtractPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
	})
	if err != nil {
		return eventDraft{}, err
	}
	var draft eventDraft
	if err := unmarshalModelJSON(raw, &draft); err != nil {
		return eventDraft{}, fmt.Errorf("invalid event draft: %w", err)
	}
	return draft, nil
}
