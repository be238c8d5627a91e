package automation

import (
	"context"
	"log/slog"
	"time"

	"github.com/cassio-all/generic-wpp-chatbot/internal/capability"
)

const (
	reminderLead       = 30 * time.Minute
	reminderHorizon    = 7 * 24 * time.Hour
	reminderSlotLength = 15 * time.Minute
)

// ReminderRule turns urgent-task events into calendar reminders 30 minutes
// before the task's deadline. Tasks without a deadline, or whose deadline is
// further out than a week, are ignored.
type ReminderRule struct {
	calendar capability.Calendar
	log      *slog.Logger
	now      func() time.Time
}

func NewReminderRule(calendar capability.Calendar, log *slog.Logger) *ReminderRule {
	if log == nil {
		log = slog.Default()
	}
	return &ReminderRule{calendar: calendar, log: log, now: time.Now}
}

// Register binds the rule to the bus.
func (r *ReminderRule) Register(bus *Bus) {
	if r == nil || bus == nil {
		return
	}
	bus.Subscribe(EventTaskFlaggedUrgent, r.handle)
}

func (r *ReminderRule) handle(ctx context.Context, ev Event) {
	if r.calendar == nil {
		return
	}
	if ev.DeadlineUnixMs <= 0 {
		return
	}

	now := r.now()
	deadline := time.UnixMilli(ev.DeadlineUnixMs)
	if deadline.Before(now) || deadline.Sub(now) > reminderHorizon {
		return
	}

	start := deadline.Add(-reminderLead)
	if start.Before(now) {
		start = now
	}

	created, err := r.calendar.CreateEvent(ctx, capability.Event{
		Title:       "Lembrete: " + ev.TaskTitle,
		Description: "Prazo da tarefa se aproximando.",
		StartUnixMs: start.UnixMilli(),
		EndUnixMs:   start.Add(reminderSlotLength).UnixMilli(),
	})
	if err != nil {
		r.log.Warn("could not create reminder for urgent task", "task_id", ev.TaskID, "error", err)
		return
	}
	r.log.Info("reminder created for urgent task", "task_id", ev.TaskID, "event_id", created.ID)
}
