// Package automation reacts to engine events without blocking message
// processing. Publishers fire-and-forget onto a bounded in-process bus; a
// single dispatcher goroutine runs the subscribers.
package automation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// EventTaskFlaggedUrgent is published when a task with an urgent priority
// and a deadline is created.
const EventTaskFlaggedUrgent = "task.flagged_urgent"

const defaultBusCapacity = 64

type Event struct {
	Name string

	TaskID         int64
	TaskTitle      string
	DeadlineUnixMs int64
}

type Subscriber func(ctx context.Context, ev Event)

// Bus is a bounded single-dispatcher event bus. Publish never blocks: under
// backpressure the oldest queued event is dropped to make room.
type Bus struct {
	log *slog.Logger

	mu     sync.Mutex
	subs   map[string][]Subscriber
	closed bool

	queue  chan Event
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
}

func NewBus(capacity int, log *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = defaultBusCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		log:    log,
		subs:   make(map[string][]Subscriber),
		queue:  make(chan Event, capacity),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go b.dispatch(ctx)
	return b
}

func (b *Bus) Subscribe(name string, fn Subscriber) {
	if b == nil || fn == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	b.mu.Lock()
	b.subs[name] = append(b.subs[name], fn)
	b.mu.Unlock()
}

// Publish enqueues the event, dropping the oldest queued event when full.
// Publishing on a closed bus is a no-op, never a panic. The mutex is held
// across the send so Close cannot close the queue mid-publish; the loop
// below never blocks, it always makes room first.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	ev.Name = strings.TrimSpace(ev.Name)
	if ev.Name == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.log.Debug("automation bus closed, event discarded", "event", ev.Name)
		return
	}
	for {
		select {
		case b.queue <- ev:
			return
		default:
		}
		select {
		case dropped := <-b.queue:
			b.log.Warn("automation bus full, dropping oldest event", "event", dropped.Name)
		default:
		}
	}
}

// Close stops the dispatcher after draining queued events.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.queue)
		b.mu.Unlock()
		<-b.done
		b.cancel()
	})
}

func (b *Bus) dispatch(ctx context.Context) {
	defer close(b.done)
	for ev := range b.queue {
		b.mu.Lock()
		subs := append([]Subscriber(nil), b.subs[ev.Name]...)
		b.mu.Unlock()
		for _, fn := range subs {
			fn(ctx, ev)
		}
	}
}
