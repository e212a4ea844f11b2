package storage

import (
	"context"
	"strconv"
	"strings"
	"time"

	"bookingwatch/internal/model"
)

// sqlStore holds the statements shared by the sqlite and postgres drivers;
// placeholders are written as ? and rebound for postgres.
type sqlStore struct {
	baseStore
	schema  []string
	dollars bool
}

func (s *sqlStore) rebind(query string) string {
	if !s.dollars {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	for _, stmt := range s.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) SaveLog(ctx context.Context, entry model.LogEntry) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO event_logs (timestamp, level, category, action, method, endpoint, request_body, response_body,
			status_code, duration_ms, user_id, session_id, ip_address, user_agent, error_message, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.Timestamp.UTC(),
		string(entry.Level),
		string(entry.Category),
		entry.Action,
		entry.Method,
		entry.Endpoint,
		encodeJSON(entry.RequestBody),
		encodeJSON(entry.ResponseBody),
		entry.StatusCode,
		entry.Duration.Milliseconds(),
		entry.UserID,
		entry.SessionID,
		entry.IPAddress,
		entry.UserAgent,
		entry.Error,
		encodeJSON(entry.Metadata),
	)
	return err
}

func (s *sqlStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO alerts (id, ts, type, severity, title, description, source, metadata_json, resolved,
			resolved_by, resolved_at, request_id, user_id, booking_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		alert.ID,
		alert.Timestamp.UTC(),
		string(alert.Type),
		string(alert.Severity),
		alert.Title,
		alert.Description,
		alert.Source,
		encodeJSON(alert.Metadata),
		alert.Resolved,
		alert.ResolvedBy,
		nullableTime(alert.ResolvedAt),
		alert.RequestID,
		alert.UserID,
		alert.BookingID,
	)
	return err
}

func (s *sqlStore) ResolveAlert(ctx context.Context, id, resolvedBy string, at time.Time) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE alerts SET resolved = ?, resolved_by = ?, resolved_at = ? WHERE id = ? AND resolved = ?`),
		true, resolvedBy, at.UTC(), id, false)
	return err
}
