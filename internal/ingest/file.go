package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"bookingwatch/internal/model"
	"bookingwatch/internal/normalize"
)

// FileSource reads a JSON booking snapshot on every call.
type FileSource struct {
	Path   string
	Logger *slog.Logger
}

func (f FileSource) Bookings(_ context.Context) ([]model.BookingRecord, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	records, bad, err := normalize.Bookings(data)
	if err != nil {
		return nil, err
	}
	if len(bad) > 0 && f.Logger != nil {
		f.Logger.Warn("skipped malformed booking records", "path", f.Path, "count", len(bad), "first_err", bad[0])
	}
	return records, nil
}

// WatchSnapshot polls path and emits a batch each time the file changes.
func WatchSnapshot(ctx context.Context, path string, interval time.Duration, latest *Latest, out chan<- Batch, logger *slog.Logger) {
	if path == "" {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger != nil {
		logger.Info("booking snapshot watch enabled", "path", path, "interval", interval)
	}
	go func() {
		var lastMod time.Time
		for {
			info, err := os.Stat(path)
			switch {
			case err != nil:
				if logger != nil {
					logger.Warn("snapshot stat failed", "path", path, "err", err)
				}
			case info.ModTime().After(lastMod):
				data, err := os.ReadFile(path)
				if err != nil {
					if logger != nil {
						logger.Warn("snapshot read failed", "path", path, "err", err)
					}
					break
				}
				if handleMessage(ctx, data, "file", latest, out, logger) {
					lastMod = info.ModTime()
				}
			}
			if !BackoffSleep(ctx, interval) {
				return
			}
		}
	}()
}
