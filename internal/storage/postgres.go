package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/bookingwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{baseStore: baseStore{db: db}, schema: postgresSchema, dollars: true}, nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS event_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		level TEXT NOT NULL,
		category TEXT NOT NULL,
		action TEXT NOT NULL,
		method TEXT,
		endpoint TEXT,
		request_body JSONB,
		response_body JSONB,
		status_code INTEGER,
		duration_ms BIGINT,
		user_id TEXT,
		session_id TEXT,
		ip_address TEXT,
		user_agent TEXT,
		error_message TEXT,
		metadata JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_event_logs_ts ON event_logs(timestamp)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		source TEXT,
		metadata_json JSONB,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		resolved_by TEXT,
		resolved_at TIMESTAMPTZ,
		request_id TEXT,
		user_id TEXT,
		booking_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
}
