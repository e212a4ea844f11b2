package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookingwatch/internal/config"
	"bookingwatch/internal/model"
)

func sampleAlert() model.Alert {
	return model.Alert{
		ID:        "alert-1",
		Timestamp: time.Now().UTC(),
		Type:      model.AlertBookingFailed,
		Severity:  model.SeverityHigh,
		Title:     "Booking failed",
		Source:    "booking_failed",
		Metadata:  map[string]any{"bookingId": "b-1"},
		BookingID: "b-1",
	}
}

func TestNewStoreDisabledIsNop(t *testing.T) {
	s, err := NewStore(config.StorageConfig{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, s)
}

func TestNewStoreUnknownDriver(t *testing.T) {
	_, err := NewStore(config.StorageConfig{Enabled: true, Driver: "mongo"})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestSQLiteRoundTrip(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "watch.db")
	s, err := NewSQLite(dsn)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))

	require.NoError(t, s.SaveLog(ctx, model.LogEntry{
		Timestamp:  time.Now(),
		Level:      model.LevelInfo,
		Category:   model.CategoryAPI,
		Action:     "GET /hotels",
		StatusCode: 200,
		Duration:   150 * time.Millisecond,
	}))
	require.NoError(t, s.SaveAlert(ctx, sampleAlert()))
	require.NoError(t, s.ResolveAlert(ctx, "alert-1", "ops", time.Now()))

	db := s.(*sqlStore).db
	var durationMS int64
	require.NoError(t, db.QueryRowContext(ctx, `SELECT duration_ms FROM event_logs`).Scan(&durationMS))
	assert.Equal(t, int64(150), durationMS)

	var resolved bool
	var by string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT resolved, resolved_by FROM alerts WHERE id = ?`, "alert-1").Scan(&resolved, &by))
	assert.True(t, resolved)
	assert.Equal(t, "ops", by)
}

func TestPostgresRebind(t *testing.T) {
	s := &sqlStore{dollars: true}
	assert.Equal(t, "UPDATE a SET x = $1 WHERE id = $2", s.rebind("UPDATE a SET x = ? WHERE id = ?"))
	s.dollars = false
	assert.Equal(t, "SELECT ?", s.rebind("SELECT ?"))
}

// Runs against a live server only when BOOKINGWATCH_POSTGRES_DSN is set.
func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("BOOKINGWATCH_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BOOKINGWATCH_POSTGRES_DSN not set")
	}
	s, err := NewPostgres(dsn)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))

	a := sampleAlert()
	a.ID = fmt.Sprintf("alert-%d", time.Now().UnixNano())
	require.NoError(t, s.SaveAlert(ctx, a))
	require.NoError(t, s.ResolveAlert(ctx, a.ID, "ops", time.Now()))
	require.NoError(t, s.SaveLog(ctx, model.LogEntry{Timestamp: time.Now(), Level: model.LevelWarn, Action: "pg"}))

	var resolved bool
	var by string
	db := s.(*sqlStore).db
	require.NoError(t, db.QueryRowContext(ctx, `SELECT resolved, resolved_by FROM alerts WHERE id = $1`, a.ID).Scan(&resolved, &by))
	assert.True(t, resolved)
	assert.Equal(t, "ops", by)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	s := NewRedisFromClient(client, WithKeyPrefix("test:"), WithMaxLength(2))
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveLog(ctx, model.LogEntry{Action: "step", Level: model.LevelDebug}))
	}
	n, err := client.LLen(ctx, "test:logs").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, s.SaveAlert(ctx, sampleAlert()))
	require.NoError(t, s.ResolveAlert(ctx, "alert-1", "ops", time.Now()))
	raw, err := client.HGet(ctx, "test:alerts:index", "alert-1").Result()
	require.NoError(t, err)
	assert.Contains(t, raw, `"resolved":true`)
	assert.Contains(t, raw, `"resolved_by":"ops"`)

	// unknown ids are ignored
	assert.NoError(t, s.ResolveAlert(ctx, "missing", "ops", time.Now()))
}
