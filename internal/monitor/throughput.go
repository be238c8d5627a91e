package monitor

import (
	"sync"
	"time"
)

// throughputSample is one reading of the host's cumulative network counters.
type throughputSample struct {
	rxBytes uint64
	txBytes uint64
	at      time.Time
}

// throughputWindow keeps recent samples and turns the cumulative counters
// into bytes-per-second rates for health snapshots.
type throughputWindow struct {
	mu      sync.RWMutex
	span    time.Duration
	max     int
	samples []throughputSample
}

func newThroughputWindow(max int, span time.Duration) *throughputWindow {
	if max <= 0 {
		max = 10
	}
	if span <= 0 {
		span = 6 * time.Second
	}
	return &throughputWindow{max: max, span: span}
}

func (w *throughputWindow) Add(s throughputSample) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, s)
	if len(w.samples) > w.max {
		w.samples = w.samples[len(w.samples)-w.max:]
	}
}

// Rates averages between the oldest and newest sample still inside the span.
// Fewer than two usable samples means no rate yet, not an error.
func (w *throughputWindow) Rates(now time.Time) (rxPerSec float64, txPerSec float64) {
	if w == nil {
		return 0, 0
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.samples) < 2 {
		return 0, 0
	}

	// Walk back from the newest sample until one falls out of the span.
	usable := make([]throughputSample, 0, len(w.samples))
	for i := len(w.samples) - 1; i >= 0; i-- {
		s := w.samples[i]
		if now.Sub(s.at) > w.span {
			break
		}
		usable = append([]throughputSample{s}, usable...)
	}

	if len(usable) < 2 {
		return 0, 0
	}

	oldest := usable[0]
	newest := usable[len(usable)-1]
	dt := newest.at.Sub(oldest.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}

	rxPerSec = float64(newest.rxBytes-oldest.rxBytes) / dt
	txPerSec = float64(newest.txBytes-oldest.txBytes) / dt
	return rxPerSec, txPerSec
}
