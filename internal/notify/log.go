package notify

import (
	"context"
	"log/slog"

	"bookingwatch/internal/eventlog"
	"bookingwatch/internal/model"
)

type LogHandler struct {
	events *eventlog.Logger
	logger *slog.Logger
}

func NewLogHandler(events *eventlog.Logger, logger *slog.Logger) *LogHandler {
	return &LogHandler{events: events, logger: logger}
}

func (h *LogHandler) Send(_ context.Context, alert model.Alert) error {
	level := model.LevelWarn
	if alert.Severity == model.SeverityCritical || alert.Severity == model.SeverityHigh {
		level = model.LevelError
	}
	if h.events != nil {
		h.events.Log(model.LogEntry{
			Level:     level,
			Category:  model.CategorySystem,
			Action:    "alert: " + alert.Title,
			RequestID: alert.RequestID,
			UserID:    alert.UserID,
			Metadata: map[string]any{
				"alert_id":   alert.ID,
				"alert_type": string(alert.Type),
				"severity":   string(alert.Severity),
				"source":     alert.Source,
			},
		})
		return nil
	}
	if h.logger != nil {
		h.logger.Warn("alert", "alert_id", alert.ID, "type", alert.Type, "severity", alert.Severity, "title", alert.Title)
	}
	return nil
}
