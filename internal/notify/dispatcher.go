package notify

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bookingwatch/internal/config"
	"bookingwatch/internal/eventlog"
	"bookingwatch/internal/metrics"
	"bookingwatch/internal/model"
)

// ErrChannelDisabled is returned by handlers whose transport is not configured.
var ErrChannelDisabled = errors.New("notification channel not configured")

type Handler interface {
	Send(ctx context.Context, alert model.Alert) error
}

type HandlerFunc func(ctx context.Context, alert model.Alert) error

func (f HandlerFunc) Send(ctx context.Context, alert model.Alert) error { return f(ctx, alert) }

// Dispatcher fans an alert out to its actions. Every action is isolated: a
// failing or panicking handler is logged and counted, never returned.
type Dispatcher struct {
	logger  *slog.Logger
	metrics *metrics.Collector
	timeout time.Duration

	mu       sync.RWMutex
	handlers map[model.ActionType]Handler
	limiters map[model.ActionType]*rate.Limiter

	wg sync.WaitGroup
}

func NewDispatcher(cfg config.NotificationsConfig, logger *slog.Logger, events *eventlog.Logger, m *metrics.Collector) *Dispatcher {
	d := &Dispatcher{
		logger:   logger,
		metrics:  m,
		timeout:  cfg.Timeout,
		handlers: make(map[model.ActionType]Handler),
		limiters: make(map[model.ActionType]*rate.Limiter),
	}
	if d.timeout <= 0 {
		d.timeout = 10 * time.Second
	}
	d.handlers[model.ActionLog] = NewLogHandler(events, logger)
	d.handlers[model.ActionWebhook] = NewWebhookHandler(cfg.Webhook, d.timeout)
	d.handlers[model.ActionSlack] = NewSlackHandler(cfg.Slack, d.timeout)
	d.handlers[model.ActionEmail] = NewEmailHandler(cfg.Email)
	d.handlers[model.ActionSMS] = NewSMSHandler(cfg.SMS)
	for name, perSecond := range cfg.RateLimits {
		if perSecond <= 0 {
			continue
		}
		burst := int(math.Max(1, math.Ceil(perSecond)))
		d.limiters[model.ActionType(strings.ToLower(name))] = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return d
}

// Register replaces the handler for an action.
func (d *Dispatcher) Register(action model.ActionType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[action] = h
}

func (d *Dispatcher) handler(action model.ActionType) (Handler, *rate.Limiter) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[action], d.limiters[action]
}

// Dispatch runs the log action inline and every other action in its own
// goroutine. It returns without waiting for remote transports.
func (d *Dispatcher) Dispatch(alert model.Alert, actions []model.ActionType) {
	for _, action := range actions {
		if action == model.ActionLog {
			d.run(action, alert)
			continue
		}
		d.wg.Add(1)
		go func(action model.ActionType) {
			defer d.wg.Done()
			d.run(action, alert)
		}(action)
	}
}

// Wait blocks until in-flight dispatches finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(action model.ActionType, alert model.Alert) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.Dispatch(string(action), "panic")
			if d.logger != nil {
				d.logger.Error("alert dispatch panicked", "action", action, "alert_id", alert.ID, "panic", r)
			}
		}
	}()
	h, limiter := d.handler(action)
	if h == nil {
		d.metrics.Dispatch(string(action), "unknown")
		if d.logger != nil {
			d.logger.Warn("unknown alert action", "action", action, "alert_id", alert.ID)
		}
		return
	}
	if limiter != nil && !limiter.Allow() {
		d.metrics.Dispatch(string(action), "rate_limited")
		if d.logger != nil {
			d.logger.Warn("alert dispatch rate limited", "action", action, "alert_id", alert.ID)
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	err := h.Send(ctx, alert)
	switch {
	case err == nil:
		d.metrics.Dispatch(string(action), "sent")
	case errors.Is(err, ErrChannelDisabled):
		d.metrics.Dispatch(string(action), "disabled")
		if d.logger != nil {
			d.logger.Debug("alert action skipped", "action", action, "alert_id", alert.ID)
		}
	default:
		d.metrics.Dispatch(string(action), "failed")
		if d.logger != nil {
			d.logger.Error("alert dispatch failed", "action", action, "alert_id", alert.ID, "err", err)
		}
	}
}
