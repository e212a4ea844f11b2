package eventlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookingwatch/internal/logging"
	"bookingwatch/internal/model"
)

type memorySink struct {
	mu      sync.Mutex
	entries []model.LogEntry
	err     error
}

func (m *memorySink) SaveLog(_ context.Context, e model.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestLogStampsAndBuffers(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l := New(nil, nil, Options{Now: func() time.Time { return fixed }})

	got := l.Log(model.LogEntry{Action: "search hotels"})
	assert.Equal(t, fixed, got.Timestamp)
	assert.Equal(t, model.LevelInfo, got.Level)
	assert.Equal(t, model.CategorySystem, got.Category)

	recent := l.RecentLogs(10, LogFilter{})
	require.Len(t, recent, 1)
	assert.Equal(t, "search hotels", recent[0].Action)
}

func TestBufferEvictsOldestFirst(t *testing.T) {
	l := New(nil, nil, Options{BufferSize: 3})
	for i := 0; i < 4; i++ {
		l.Info(model.CategoryAPI, fmt.Sprintf("call-%d", i), nil)
	}
	recent := l.RecentLogs(0, LogFilter{})
	require.Len(t, recent, 3)
	assert.Equal(t, "call-3", recent[0].Action)
	assert.Equal(t, "call-2", recent[1].Action)
	assert.Equal(t, "call-1", recent[2].Action)
}

func TestRecentLogsFilter(t *testing.T) {
	l := New(nil, nil, Options{})
	l.Info(model.CategoryBooking, "Book room", nil)
	l.Error(model.CategoryBooking, "book room failed", errors.New("sold out"), nil)
	l.Warn(model.CategoryAuth, "login throttled", nil)

	errs := l.RecentLogs(10, LogFilter{Level: model.LevelError})
	require.Len(t, errs, 1)
	assert.Equal(t, "sold out", errs[0].Error)

	byAction := l.RecentLogs(10, LogFilter{Action: "BOOK"})
	assert.Len(t, byAction, 2)

	byCategory := l.RecentLogs(1, LogFilter{Category: model.CategoryBooking})
	require.Len(t, byCategory, 1)
	assert.Equal(t, "book room failed", byCategory[0].Action)
}

func TestMetadataIsCopied(t *testing.T) {
	l := New(nil, nil, Options{})
	meta := map[string]any{"hotel": "h1"}
	l.Info(model.CategoryBooking, "prebook", meta)
	meta["hotel"] = "changed"
	assert.Equal(t, "h1", l.RecentLogs(1, LogFilter{})[0].Metadata["hotel"])
}

func TestSinkMirrorsAsynchronously(t *testing.T) {
	sink := &memorySink{}
	l := New(nil, sink, Options{})
	l.Start(context.Background())
	for i := 0; i < 5; i++ {
		l.Info(model.CategoryAPI, "call", nil)
	}
	l.Close()
	assert.Equal(t, 5, sink.count())
}

func TestSinkFailureNeverSurfaces(t *testing.T) {
	sink := &memorySink{err: errors.New("db down")}
	l := New(logging.NewNop(), sink, Options{})
	l.Start(context.Background())
	entry := l.Info(model.CategoryAPI, "call", nil)
	l.Close()
	assert.Equal(t, "call", entry.Action)
	assert.Equal(t, int64(1), l.Stats().SinkErrors)
	assert.Len(t, l.RecentLogs(0, LogFilter{}), 1)
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	l := New(nil, &memorySink{}, Options{QueueSize: 1})
	l.Info(model.CategoryAPI, "first", nil)
	l.Info(model.CategoryAPI, "second", nil)
	assert.Equal(t, int64(1), l.Stats().Dropped)
	l.Close()
	// logging after close still buffers in memory
	l.Info(model.CategoryAPI, "third", nil)
	assert.Len(t, l.RecentLogs(0, LogFilter{}), 3)
}

func TestLogAPIRequestLevels(t *testing.T) {
	l := New(nil, nil, Options{})
	assert.Equal(t, model.LevelInfo, l.LogAPIRequest(APIRequest{Method: "GET", Endpoint: "/hotels", StatusCode: 200}).Level)
	assert.Equal(t, model.LevelWarn, l.LogAPIRequest(APIRequest{Method: "POST", Endpoint: "/book", StatusCode: 404}).Level)
	e := l.LogAPIRequest(APIRequest{Method: "POST", Endpoint: "/book", StatusCode: 502})
	assert.Equal(t, model.LevelError, e.Level)
	assert.Equal(t, "POST /book", e.Action)
	assert.Equal(t, model.CategoryAPI, e.Category)
}

func TestLogProviderCall(t *testing.T) {
	l := New(nil, nil, Options{})
	e := l.LogProviderCall(ProviderCall{Operation: "prebook", Duration: 2 * time.Second, Err: errors.New("timeout")})
	assert.Equal(t, model.CategoryProvider, e.Category)
	assert.Equal(t, model.LevelError, e.Level)
	assert.Equal(t, "timeout", e.Error)
}

func TestConsoleLineTruncatesPayload(t *testing.T) {
	var out bytes.Buffer
	l := New(logging.New(&out, "debug"), nil, Options{PreviewBytes: 10})
	l.Log(model.LogEntry{Action: "book", RequestBody: strings.Repeat("x", 50)})
	assert.Contains(t, out.String(), "xxxxxxxxxx"+truncatedSuffix)
	assert.Contains(t, out.String(), "[system] book")
}

func TestPreviewKeepsRunesWhole(t *testing.T) {
	got := Preview("שלום עולם", 5)
	assert.True(t, utf8.ValidString(got), "%q", got)
	assert.Equal(t, "ש"+"ל"+truncatedSuffix, got)
	assert.Equal(t, "abc", Preview("abc", 5))
}

func TestResetClearsHistory(t *testing.T) {
	l := New(nil, nil, Options{})
	l.Info(model.CategoryAPI, "call", nil)
	l.Reset()
	assert.Empty(t, l.RecentLogs(0, LogFilter{}))
	assert.Equal(t, 0, l.Stats().Buffered)
}
