package orchestrator

import (
	"strings"
	"sync"
	"time"

	"github.com/cassio-all/generic-wpp-chatbot/internal/transport"
)

const laneIdleTimeout = 10 * time.Minute

// laneManager provides per-thread serialization without blocking unrelated
// threads. Lanes are created on demand and reaped after an idle timeout.
type laneManager struct {
	process   func(ev transport.Inbound)
	inboxSize int

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
}

func newLaneManager(inboxSize int, process func(ev transport.Inbound)) *laneManager {
	if inboxSize <= 0 {
		inboxSize = 64
	}
	return &laneManager{
		process:   process,
		inboxSize: inboxSize,
		lanes:     make(map[string]*lane),
	}
}

// Enqueue hands the event to the thread's lane, reporting false when the
// lane's inbox is full or the manager is closed.
func (m *laneManager) Enqueue(ev transport.Inbound) bool {
	if m == nil {
		return false
	}
	key := strings.TrimSpace(ev.ThreadID)
	if key == "" {
		return false
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	a := m.lanes[key]
	if a == nil || !a.alive() {
		a = newLane(m, key)
		m.lanes[key] = a
		a.start()
	}
	m.mu.Unlock()

	select {
	case a.inbox <- ev:
		return true
	default:
		return false
	}
}

func (m *laneManager) remove(key string, l *lane) {
	if m == nil || strings.TrimSpace(key) == "" || l == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.lanes[key]; existing == l {
		delete(m.lanes, key)
	}
}

func (m *laneManager) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	lanes := make([]*lane, 0, len(m.lanes))
	for _, l := range m.lanes {
		if l != nil {
			lanes = append(lanes, l)
		}
	}
	m.lanes = make(map[string]*lane)
	m.mu.Unlock()

	for _, l := range lanes {
		l.stop()
	}
}

// lane is the actor goroutine for one thread. Everything it processes is
// strictly ordered; a second message for the same thread waits in the inbox
// until the current cycle finishes.
type lane struct {
	mgr *laneManager
	key string

	inbox  chan transport.Inbound
	stopCh chan struct{}
	doneCh chan struct{}

	once sync.Once
}

func newLane(mgr *laneManager, key string) *lane {
	return &lane{
		mgr:    mgr,
		key:    key,
		inbox:  make(chan transport.Inbound, mgr.inboxSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (l *lane) alive() bool {
	if l == nil {
		return false
	}
	select {
	case <-l.doneCh:
		return false
	default:
		return true
	}
}

func (l *lane) start() {
	if l == nil {
		return
	}
	go l.loop()
}

func (l *lane) stop() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		close(l.stopCh)
	})
	<-l.doneCh
}

func (l *lane) loop() {
	defer close(l.doneCh)
	defer func() {
		if l.mgr != nil {
			l.mgr.remove(l.key, l)
		}
		// An Enqueue that grabbed this lane just before it exited may have
		// buffered an event; run it rather than letting it die with the lane.
		for {
			select {
			case ev := <-l.inbox:
				l.mgr.process(ev)
			default:
				return
			}
		}
	}()

	idleTimer := time.NewTimer(laneIdleTimeout)
	defer idleTimer.Stop()

	resetIdle := func() {
		if !idleTimer.Stop() {
			select {
			case <-idleTimer.C:
			default:
			}
		}
		idleTimer.Reset(laneIdleTimeout)
	}

	for {
		select {
		case <-l.stopCh:
			// Drain what is already queued so accepted messages are not lost.
			for {
				select {
				case ev := <-l.inbox:
					l.mgr.process(ev)
				default:
					return
				}
			}
		case <-idleTimer.C:
			// Work may have been buffered between the last reset and the
			// timer firing; exit only on a truly empty inbox.
			select {
			case ev := <-l.inbox:
				resetIdle()
				l.mgr.process(ev)
			default:
				return
			}
		case ev := <-l.inbox:
			resetIdle()
			l.mgr.process(ev)
		}
	}
}
