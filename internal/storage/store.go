package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"bookingwatch/internal/config"
	"bookingwatch/internal/model"
)

// Store is the durable mirror for log entries and alerts. Callers treat every
// write as best-effort.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveLog(ctx context.Context, entry model.LogEntry) error
	SaveAlert(ctx context.Context, alert model.Alert) error
	ResolveAlert(ctx context.Context, id, resolvedBy string, at time.Time) error
}

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

// NewStore returns Nop when storage is disabled so callers never nil-check.
func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "redis":
		return NewRedis(cfg.DSN, WithKeyPrefix(cfg.KeyPrefix), WithMaxLength(cfg.MaxLength))
	default:
		return nil, ErrUnsupportedDriver
	}
}

type Nop struct{}

func (Nop) Init(context.Context) error                                      { return nil }
func (Nop) Close() error                                                    { return nil }
func (Nop) SaveLog(context.Context, model.LogEntry) error                   { return nil }
func (Nop) SaveAlert(context.Context, model.Alert) error                    { return nil }
func (Nop) ResolveAlert(context.Context, string, string, time.Time) error { return nil }

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// encodeJSON yields nil for absent values so optional JSON columns stay NULL.
func encodeJSON(value any) any {
	if value == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return string(data)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
