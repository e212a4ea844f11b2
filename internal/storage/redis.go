package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"bookingwatch/internal/model"
)

// redisStore keeps capped lists of log and alert JSON plus an alert hash so
// resolutions can be written back.
type redisStore struct {
	client *backend.Client
	prefix string
	maxLen int64
}

type RedisOption func(*redisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *redisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithMaxLength(n int64) RedisOption {
	return func(s *redisStore) {
		if n > 0 {
			s.maxLen = n
		}
	}
}

// NewRedis accepts either a redis:// URL or a bare host:port.
func NewRedis(dsn string, opts ...RedisOption) (Store, error) {
	var ropts *backend.Options
	if dsn == "" {
		ropts = &backend.Options{Addr: "localhost:6379"}
	} else if parsed, err := backend.ParseURL(dsn); err == nil {
		ropts = parsed
	} else {
		ropts = &backend.Options{Addr: dsn}
	}
	return NewRedisFromClient(backend.NewClient(ropts), opts...), nil
}

func NewRedisFromClient(client *backend.Client, opts ...RedisOption) Store {
	s := &redisStore{client: client, prefix: "bookingwatch:", maxLen: 10000}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *redisStore) logsKey() string   { return s.prefix + "logs" }
func (s *redisStore) alertsKey() string { return s.prefix + "alerts" }
func (s *redisStore) alertIndex() string {
	return s.prefix + "alerts:index"
}

func (s *redisStore) Init(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) SaveLog(ctx context.Context, entry model.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.LPush(ctx, s.logsKey(), data)
	pipe.LTrim(ctx, s.logsKey(), 0, s.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save log to redis: %w", err)
	}
	return nil
}

func (s *redisStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.LPush(ctx, s.alertsKey(), alert.ID)
	pipe.LTrim(ctx, s.alertsKey(), 0, s.maxLen-1)
	pipe.HSet(ctx, s.alertIndex(), alert.ID, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save alert to redis: %w", err)
	}
	return nil
}

func (s *redisStore) ResolveAlert(ctx context.Context, id, resolvedBy string, at time.Time) error {
	raw, err := s.client.HGet(ctx, s.alertIndex(), id).Bytes()
	if err != nil {
		if err == backend.Nil {
			return nil
		}
		return fmt.Errorf("load alert from redis: %w", err)
	}
	var alert model.Alert
	if err := json.Unmarshal(raw, &alert); err != nil {
		return fmt.Errorf("unmarshal alert: %w", err)
	}
	if alert.Resolved {
		return nil
	}
	ts := at.UTC()
	alert.Resolved = true
	alert.ResolvedBy = resolvedBy
	alert.ResolvedAt = &ts
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return s.client.HSet(ctx, s.alertIndex(), id, data).Err()
}
