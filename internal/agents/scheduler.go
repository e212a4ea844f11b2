package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"bookingwatch/internal/model"
)

// BatchSource supplies the booking records a scheduled run checks.
type BatchSource interface {
	Bookings(ctx context.Context) ([]model.BookingRecord, error)
}

type BatchSourceFunc func(ctx context.Context) ([]model.BookingRecord, error)

func (f BatchSourceFunc) Bookings(ctx context.Context) ([]model.BookingRecord, error) { return f(ctx) }

// Scheduler runs agents on their cron schedules (standard five-field specs, UTC).
type Scheduler struct {
	manager *Manager
	source  BatchSource
	logger  *slog.Logger
	cron    *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
	started bool
}

func NewScheduler(manager *Manager, source BatchSource, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		manager: manager,
		source:  source,
		logger:  logger,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		ctx:     context.Background(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start schedules every enabled agent and starts the cron loop. Runs use ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	if err := s.Reload(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.cron.Start()
		s.started = true
	}
	return nil
}

// Reload replaces all entries from the manager's current catalog.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	var firstErr error
	for _, agent := range s.manager.Agents() {
		if !agent.Enabled || agent.Schedule == "" {
			continue
		}
		id := agent.ID
		entry, err := s.cron.AddFunc(agent.Schedule, func() { s.run(id) })
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("schedule agent %s: %w", id, err)
			}
			if s.logger != nil {
				s.logger.Error("invalid agent schedule", "agent", id, "schedule", agent.Schedule, "err", err)
			}
			continue
		}
		s.entries[id] = entry
	}
	return firstErr
}

func (s *Scheduler) run(id string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if s.source == nil {
		return
	}
	records, err := s.source.Bookings(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("load booking batch failed", "agent", id, "err", err)
		}
		return
	}
	res, err := s.manager.RunAgent(ctx, id, records)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("scheduled agent run failed", "agent", id, "err", err)
		}
		return
	}
	if s.logger != nil {
		s.logger.Info("scheduled agent run",
			"agent", id,
			"success", res.Success,
			"items_checked", res.ItemsChecked,
			"issues_found", res.IssuesFound,
		)
	}
}

// NextRuns reports the next fire time per scheduled agent.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for id, entry := range s.entries {
		out[id] = s.cron.Entry(entry).Next
	}
	return out
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
}
