package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"bookingwatch/internal/config"
	"bookingwatch/internal/normalize"
)

// StartKafka consumes booking snapshots from a topic. Each message holds a
// JSON batch; decoded batches are stored in latest and sent to out.
func StartKafka(ctx context.Context, cfg config.KafkaConfig, latest *Latest, out chan<- Batch, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("kafka booking feed disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka booking feed enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			handleMessage(ctx, m.Value, "kafka", latest, out, logger)
		}
	}()
}

func handleMessage(ctx context.Context, value []byte, source string, latest *Latest, out chan<- Batch, logger *slog.Logger) bool {
	records, bad, err := normalize.Bookings(value)
	if err != nil {
		if logger != nil {
			logger.Warn("booking batch decode error", "source", source, "err", err)
		}
		return false
	}
	if len(bad) > 0 && logger != nil {
		logger.Warn("skipped malformed booking records", "source", source, "count", len(bad), "first_err", bad[0])
	}
	b := Batch{Source: source, Received: time.Now().UTC(), Records: records}
	if latest != nil {
		latest.Set(b)
	}
	if out != nil {
		SendNonBlocking(ctx, out, b, logger)
	}
	return true
}
