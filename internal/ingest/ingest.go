package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bookingwatch/internal/model"
)

// Batch is one snapshot of booking records from a feed.
type Batch struct {
	Source   string
	Received time.Time
	Records  []model.BookingRecord
}

// Source loads booking records on demand. agents.BatchSource has the same shape.
type Source interface {
	Bookings(ctx context.Context) ([]model.BookingRecord, error)
}

// BatchRunner checks a batch. agents.Manager satisfies it.
type BatchRunner interface {
	RunAllAgents(ctx context.Context, records []model.BookingRecord) []model.AgentResult
}

func SendNonBlocking(ctx context.Context, out chan<- Batch, b Batch, logger *slog.Logger) bool {
	select {
	case out <- b:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("batch channel full, dropping batch", "source", b.Source, "records", len(b.Records))
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Consume runs every batch from in through runner until ctx ends or in closes.
func Consume(ctx context.Context, in <-chan Batch, runner BatchRunner, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-in:
			if !ok {
				return
			}
			results := runner.RunAllAgents(ctx, b.Records)
			if logger != nil {
				issues := 0
				for _, r := range results {
					issues += r.IssuesFound
				}
				logger.Info("booking batch checked", "source", b.Source, "records", len(b.Records), "agents", len(results), "issues", issues)
			}
		}
	}
}

// Latest keeps the most recent batch and serves it to scheduled agent runs.
// With no batch yet it defers to the fallback source.
type Latest struct {
	mu       sync.RWMutex
	batch    *Batch
	fallback Source
}

func NewLatest(fallback Source) *Latest {
	return &Latest{fallback: fallback}
}

func (l *Latest) Set(b Batch) {
	l.mu.Lock()
	l.batch = &b
	l.mu.Unlock()
}

func (l *Latest) Get() (Batch, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.batch == nil {
		return Batch{}, false
	}
	return *l.batch, true
}

func (l *Latest) Bookings(ctx context.Context) ([]model.BookingRecord, error) {
	if b, ok := l.Get(); ok {
		return b.Records, nil
	}
	if l.fallback != nil {
		return l.fallback.Bookings(ctx)
	}
	return nil, nil
}
