package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:bookingwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{baseStore: baseStore{db: db}, schema: sqliteSchema}, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS event_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		level TEXT NOT NULL,
		category TEXT NOT NULL,
		action TEXT NOT NULL,
		method TEXT,
		endpoint TEXT,
		request_body TEXT,
		response_body TEXT,
		status_code INTEGER,
		duration_ms INTEGER,
		user_id TEXT,
		session_id TEXT,
		ip_address TEXT,
		user_agent TEXT,
		error_message TEXT,
		metadata TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_event_logs_ts ON event_logs(timestamp)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		source TEXT,
		metadata_json TEXT,
		resolved BOOLEAN NOT NULL DEFAULT 0,
		resolved_by TEXT,
		resolved_at TEXT,
		request_id TEXT,
		user_id TEXT,
		booking_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
}
