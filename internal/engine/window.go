package engine

import (
	"sync"
	"time"
)

// GlobalWindowKey aggregates every recorded outcome.
const GlobalWindowKey = "*"

type outcome struct {
	at      time.Time
	success bool
}

type outcomeWindow struct {
	events   []outcome
	head     int
	total    int
	failures int
}

func (w *outcomeWindow) add(o outcome) {
	w.events = append(w.events, o)
	w.total++
	if !o.success {
		w.failures++
	}
}

func (w *outcomeWindow) evict(cutoff time.Time) {
	for w.head < len(w.events) {
		o := w.events[w.head]
		if !o.at.Before(cutoff) {
			break
		}
		w.total--
		if !o.success {
			w.failures--
		}
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.events) {
		w.events = append([]outcome{}, w.events[w.head:]...)
		w.head = 0
	}
}

// ErrorRateWindow keeps a sliding time window of request outcomes per key.
type ErrorRateWindow struct {
	mu       sync.Mutex
	duration time.Duration
	windows  map[string]*outcomeWindow
}

func NewErrorRateWindow(duration time.Duration) *ErrorRateWindow {
	if duration <= 0 {
		duration = 5 * time.Minute
	}
	return &ErrorRateWindow{duration: duration, windows: make(map[string]*outcomeWindow)}
}

// Record adds an outcome under key and under GlobalWindowKey.
func (w *ErrorRateWindow) Record(key string, success bool, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	keys := []string{GlobalWindowKey}
	if key != "" && key != GlobalWindowKey {
		keys = append(keys, key)
	}
	cutoff := at.Add(-w.duration)
	for _, k := range keys {
		win, ok := w.windows[k]
		if !ok {
			win = &outcomeWindow{events: make([]outcome, 0, 64)}
			w.windows[k] = win
		}
		win.evict(cutoff)
		win.add(outcome{at: at, success: success})
	}
}

// Rate returns the failure ratio for key over the window ending at now and
// the number of samples it is based on.
func (w *ErrorRateWindow) Rate(key string, now time.Time) (float64, int) {
	if key == "" {
		key = GlobalWindowKey
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	win, ok := w.windows[key]
	if !ok {
		return 0, 0
	}
	win.evict(now.Add(-w.duration))
	if win.total == 0 {
		return 0, 0
	}
	return float64(win.failures) / float64(win.total), win.total
}

func (w *ErrorRateWindow) Reset() {
	w.mu.Lock()
	w.windows = make(map[string]*outcomeWindow)
	w.mu.Unlock()
}

func (w *ErrorRateWindow) SetDuration(d time.Duration) {
	if d <= 0 {
		return
	}
	w.mu.Lock()
	w.duration = d
	w.mu.Unlock()
}
