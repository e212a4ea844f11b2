package alerts

import (
	"errors"
	"sync"
	"time"

	"bookingwatch/internal/model"
)

var ErrAlertNotFound = errors.New("alert not found")

type Store struct {
	mu    sync.RWMutex
	buf   []model.Alert
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{limit: limit}
}

func (s *Store) Add(alert model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = alert
}

func (s *Store) Get(id string) (model.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.buf {
		if a.ID == id {
			return a, true
		}
	}
	return model.Alert{}, false
}

type Filter struct {
	Type     model.AlertType
	Severity model.Severity
	Resolved *bool
	Since    time.Time
	Until    time.Time
	Limit    int
}

func (f Filter) match(a model.Alert) bool {
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Resolved != nil && a.Resolved != *f.Resolved {
		return false
	}
	if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && a.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// List returns matching alerts, newest first.
func (s *Store) List(filter Filter) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
		if filter.match(s.buf[i]) {
			out = append(out, s.buf[i])
		}
	}
	return out
}

// Resolve flips an unresolved alert to resolved. It reports false when the
// alert is missing or already resolved.
func (s *Store) Resolve(id, resolvedBy string, at time.Time) (model.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.buf {
		if s.buf[i].ID != id {
			continue
		}
		if s.buf[i].Resolved {
			return s.buf[i], false
		}
		ts := at
		s.buf[i].Resolved = true
		s.buf[i].ResolvedBy = resolvedBy
		s.buf[i].ResolvedAt = &ts
		return s.buf[i], true
	}
	return model.Alert{}, false
}

type Stats struct {
	Total      int                     `json:"total"`
	Unresolved int                     `json:"unresolved"`
	BySeverity map[model.Severity]int  `json:"by_severity"`
	ByType     map[model.AlertType]int `json:"by_type"`
	Last24h    int                     `json:"last_24h"`
}

func (s *Store) Stats(now time.Time) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Total:      len(s.buf),
		BySeverity: make(map[model.Severity]int),
		ByType:     make(map[model.AlertType]int),
	}
	dayAgo := now.Add(-24 * time.Hour)
	for _, a := range s.buf {
		if !a.Resolved {
			st.Unresolved++
		}
		st.BySeverity[a.Severity]++
		st.ByType[a.Type]++
		if a.Timestamp.After(dayAgo) {
			st.Last24h++
		}
	}
	return st
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
