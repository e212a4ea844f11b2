package eventlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"bookingwatch/internal/metrics"
	"bookingwatch/internal/model"
)

// Sink is the durable mirror. storage.Store satisfies it.
type Sink interface {
	SaveLog(ctx context.Context, entry model.LogEntry) error
}

type nopSink struct{}

func (nopSink) SaveLog(context.Context, model.LogEntry) error { return nil }

type Options struct {
	BufferSize   int
	QueueSize    int
	PreviewBytes int
	SinkTimeout  time.Duration
	Metrics      *metrics.Collector
	Now          func() time.Time
}

func (o *Options) defaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = 1000
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.PreviewBytes <= 0 {
		o.PreviewBytes = 500
	}
	if o.SinkTimeout <= 0 {
		o.SinkTimeout = 5 * time.Second
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Logger records operational events: one console line per entry, a bounded
// in-memory history and a best-effort asynchronous copy to the sink.
type Logger struct {
	console *slog.Logger
	sink    Sink
	opts    Options

	mu  sync.RWMutex
	buf []model.LogEntry

	qmu     sync.RWMutex
	queue   chan model.LogEntry
	closed  bool
	started bool
	wg      sync.WaitGroup

	dropped    atomic.Int64
	sinkErrors atomic.Int64
}

func New(console *slog.Logger, sink Sink, opts Options) *Logger {
	opts.defaults()
	if sink == nil {
		sink = nopSink{}
	}
	return &Logger{
		console: console,
		sink:    sink,
		opts:    opts,
		buf:     make([]model.LogEntry, 0, min(opts.BufferSize, 256)),
		queue:   make(chan model.LogEntry, opts.QueueSize),
	}
}

// Start launches the sink writer. Entries logged before Start wait in the queue.
func (l *Logger) Start(ctx context.Context) {
	l.qmu.Lock()
	defer l.qmu.Unlock()
	if l.started || l.closed {
		return
	}
	l.started = true
	l.wg.Add(1)
	go l.drain(ctx)
}

// Close stops accepting sink writes and waits for queued entries to flush.
func (l *Logger) Close() {
	l.qmu.Lock()
	if l.closed {
		l.qmu.Unlock()
		return
	}
	l.closed = true
	close(l.queue)
	started := l.started
	l.qmu.Unlock()
	if !started {
		return
	}
	l.wg.Wait()
}

func (l *Logger) drain(ctx context.Context) {
	defer l.wg.Done()
	for entry := range l.queue {
		l.persist(ctx, entry)
	}
}

func (l *Logger) persist(parent context.Context, entry model.LogEntry) {
	defer func() {
		if r := recover(); r != nil {
			l.sinkErrors.Add(1)
			l.opts.Metrics.SinkError()
			if l.console != nil {
				l.console.Warn("log sink panic", "panic", r)
			}
		}
	}()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), l.opts.SinkTimeout)
	defer cancel()
	if err := l.sink.SaveLog(ctx, entry); err != nil {
		l.sinkErrors.Add(1)
		l.opts.Metrics.SinkError()
		if l.console != nil {
			l.console.Debug("log sink write failed", "action", entry.Action, "err", err)
		}
	}
}

// Log stamps and records the entry. It never blocks on the sink.
func (l *Logger) Log(entry model.LogEntry) model.LogEntry {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.opts.Now()
	}
	if entry.Level == "" {
		entry.Level = model.LevelInfo
	}
	if entry.Category == "" {
		entry.Category = model.CategorySystem
	}
	entry.Metadata = cloneMap(entry.Metadata)

	l.writeConsole(entry)
	l.append(entry)
	l.enqueue(entry)
	l.opts.Metrics.LogEntry(string(entry.Level), string(entry.Category))
	return entry
}

func (l *Logger) append(entry model.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) < l.opts.BufferSize {
		l.buf = append(l.buf, entry)
		return
	}
	copy(l.buf, l.buf[1:])
	l.buf[len(l.buf)-1] = entry
}

func (l *Logger) enqueue(entry model.LogEntry) {
	l.qmu.RLock()
	defer l.qmu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- entry:
	default:
		l.dropped.Add(1)
		l.opts.Metrics.SinkDropped()
	}
}

func (l *Logger) writeConsole(entry model.LogEntry) {
	if l.console == nil {
		return
	}
	attrs := []any{"category", string(entry.Category)}
	if entry.Method != "" {
		attrs = append(attrs, "method", entry.Method)
	}
	if entry.Endpoint != "" {
		attrs = append(attrs, "endpoint", entry.Endpoint)
	}
	if entry.StatusCode != 0 {
		attrs = append(attrs, "status", entry.StatusCode)
	}
	if entry.Duration > 0 {
		attrs = append(attrs, "duration_ms", entry.Duration.Milliseconds())
	}
	if entry.UserID != "" {
		attrs = append(attrs, "user_id", entry.UserID)
	}
	if entry.SessionID != "" {
		attrs = append(attrs, "session_id", entry.SessionID)
	}
	if entry.RequestID != "" {
		attrs = append(attrs, "request_id", entry.RequestID)
	}
	if entry.Error != "" {
		attrs = append(attrs, "err", entry.Error)
	}
	if entry.RequestBody != nil {
		attrs = append(attrs, "request", Preview(entry.RequestBody, l.opts.PreviewBytes))
	}
	if entry.ResponseBody != nil {
		attrs = append(attrs, "response", Preview(entry.ResponseBody, l.opts.PreviewBytes))
	}
	if len(entry.Metadata) > 0 {
		attrs = append(attrs, "metadata", entry.Metadata)
	}
	l.console.Log(context.Background(), slogLevel(entry.Level), "["+string(entry.Category)+"] "+entry.Action, attrs...)
}

const truncatedSuffix = "...(truncated)"

// Preview renders a payload for the console, cut to max bytes.
func Preview(body any, max int) string {
	var s string
	switch v := body.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "<unencodable payload>"
		}
		s = string(data)
	}
	if max > 0 && len(s) > max {
		for max > 0 && !utf8.RuneStart(s[max]) {
			max--
		}
		return s[:max] + truncatedSuffix
	}
	return s
}

func slogLevel(level model.Level) slog.Level {
	switch level {
	case model.LevelDebug:
		return slog.LevelDebug
	case model.LevelWarn:
		return slog.LevelWarn
	case model.LevelError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

func cloneMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type LogFilter struct {
	Level    model.Level
	Category model.Category
	Action   string
}

func (f LogFilter) match(e model.LogEntry) bool {
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Action != "" && !strings.Contains(strings.ToLower(e.Action), strings.ToLower(f.Action)) {
		return false
	}
	return true
}

// RecentLogs returns up to count matching entries, newest first. count <= 0 means all.
func (l *Logger) RecentLogs(count int, filter LogFilter) []model.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.LogEntry, 0)
	for i := len(l.buf) - 1; i >= 0; i-- {
		if count > 0 && len(out) >= count {
			break
		}
		if filter.match(l.buf[i]) {
			out = append(out, l.buf[i])
		}
	}
	return out
}

type Stats struct {
	Buffered   int                 `json:"buffered"`
	Capacity   int                 `json:"capacity"`
	Dropped    int64               `json:"dropped"`
	SinkErrors int64               `json:"sink_errors"`
	ByLevel    map[model.Level]int `json:"by_level"`
}

func (l *Logger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := Stats{
		Buffered:   len(l.buf),
		Capacity:   l.opts.BufferSize,
		Dropped:    l.dropped.Load(),
		SinkErrors: l.sinkErrors.Load(),
		ByLevel:    make(map[model.Level]int),
	}
	for _, e := range l.buf {
		st.ByLevel[e.Level]++
	}
	return st
}

// Reset clears the history and counters; the sink writer keeps running.
func (l *Logger) Reset() {
	l.mu.Lock()
	l.buf = l.buf[:0]
	l.mu.Unlock()
	l.dropped.Store(0)
	l.sinkErrors.Store(0)
}
