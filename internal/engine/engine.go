package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookingwatch/internal/alerts"
	"bookingwatch/internal/config"
	"bookingwatch/internal/eventlog"
	"bookingwatch/internal/metrics"
	"bookingwatch/internal/model"
)

// Dispatcher delivers an alert to its actions. notify.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(alert model.Alert, actions []model.ActionType)
}

// Sink mirrors alerts durably. storage.Store satisfies it.
type Sink interface {
	SaveAlert(ctx context.Context, alert model.Alert) error
	ResolveAlert(ctx context.Context, id, resolvedBy string, at time.Time) error
}

type Options struct {
	Logger      *slog.Logger
	Metrics     *metrics.Collector
	Now         func() time.Time
	SinkTimeout time.Duration
}

type Engine struct {
	logger     *slog.Logger
	metrics    *metrics.Collector
	events     *eventlog.Logger
	alerts     *alerts.Store
	dispatcher Dispatcher
	sink       Sink
	now        func() time.Time
	timeout    time.Duration

	mu         sync.RWMutex
	rules      []Rule
	toggles    map[string]bool
	minSamples int

	cooldown *Cooldown
	window   *ErrorRateWindow

	sinkMu   sync.Mutex
	pending  []func(ctx context.Context) error
	draining bool
	wg       sync.WaitGroup
}

func New(cfg *config.Config, events *eventlog.Logger, store *alerts.Store, dispatcher Dispatcher, sink Sink, opts Options) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 5 * time.Second
	}
	if store == nil {
		store = alerts.NewStore(cfg.Alerts.StoreLimit)
	}
	e := &Engine{
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		events:     events,
		alerts:     store,
		dispatcher: dispatcher,
		sink:       sink,
		now:        opts.Now,
		timeout:    opts.SinkTimeout,
		toggles:    make(map[string]bool),
		cooldown:   NewCooldown(opts.Now),
		window:     NewErrorRateWindow(cfg.Alerts.ErrorRate.Window),
	}
	if err := e.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateConfig rebuilds the rule set. On error the previous rules stay active.
func (e *Engine) UpdateConfig(cfg *config.Config) error {
	rules, err := buildRules(cfg.Alerts)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range rules {
		if enabled, ok := e.toggles[rules[i].ID]; ok {
			rules[i].Enabled = enabled
		}
	}
	e.rules = rules
	e.minSamples = cfg.Alerts.ErrorRate.MinSamples
	e.window.SetDuration(cfg.Alerts.ErrorRate.Window)
	return nil
}

// SetRuleEnabled toggles a rule at runtime; the toggle survives config reloads.
func (e *Engine) SetRuleEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID != id {
			continue
		}
		rules := append([]Rule(nil), e.rules...)
		rules[i].Enabled = enabled
		e.rules = rules
		e.toggles[id] = enabled
		return true
	}
	return false
}

func (e *Engine) Rules() []RuleInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]RuleInfo, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r.info())
	}
	return out
}

func (e *Engine) snapshot() ([]Rule, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules, e.minSamples
}

// RecordOutcome feeds the error-rate window. The tracker calls it for every
// finished request.
func (e *Engine) RecordOutcome(requestType model.RequestType, success bool, _ time.Duration) {
	e.window.Record(string(requestType), success, e.now())
}

// ErrorRate returns the failure ratio and sample count for key ("" = all).
func (e *Engine) ErrorRate(key string) (float64, int) {
	return e.window.Rate(key, e.now())
}

// CheckRules evaluates ctx against every enabled rule and returns the alerts
// that fired. Rule failures are logged and skipped.
func (e *Engine) CheckRules(ctx Context) []model.Alert {
	rules, minSamples := e.snapshot()
	evalCtx := e.withErrorRate(ctx, minSamples)

	fired := make([]model.Alert, 0)
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled {
			continue
		}
		if !e.evaluate(rule, evalCtx) {
			continue
		}
		if !e.cooldown.AllowKey(rule.ID, rule.Cooldown) {
			e.metrics.RuleSuppressed(rule.ID)
			continue
		}
		alert := e.newAlert(rule.Type, rule.Severity, rule.Name, rule.Description, rule.ID, map[string]any(evalCtx))
		e.emit(alert, rule.Actions)
		fired = append(fired, alert)
	}
	return fired
}

func (e *Engine) withErrorRate(ctx Context, minSamples int) Context {
	out := ctx.clone()
	if _, ok := out["errorRate"]; ok {
		return out
	}
	key := out.String("requestType")
	if key == "" {
		key = GlobalWindowKey
	}
	rate, samples := e.window.Rate(key, e.now())
	if samples > 0 && samples >= minSamples {
		out["errorRate"] = rate
	}
	return out
}

func (e *Engine) evaluate(rule *Rule, ctx Context) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			e.metrics.RuleError(rule.ID)
			if e.logger != nil {
				e.logger.Error("rule predicate panicked", "rule", rule.ID, "panic", r)
			}
		}
	}()
	ok, err := rule.matches(ctx)
	if err != nil {
		e.metrics.RuleError(rule.ID)
		if e.logger != nil {
			e.logger.Warn("rule evaluation failed", "rule", rule.ID, "err", err)
		}
		return false
	}
	return ok
}

// TriggerAlert raises an alert directly, without rule matching or cooldown.
// metadata["source"] names the origin when present.
func (e *Engine) TriggerAlert(alertType model.AlertType, severity model.Severity, title, description string, metadata map[string]any) model.Alert {
	source := "manual"
	if s, ok := metadata["source"].(string); ok && s != "" {
		source = s
	}
	alert := e.newAlert(alertType, severity, title, description, source, metadata)
	e.emit(alert, actionsForSeverity(severity))
	return alert
}

func (e *Engine) newAlert(alertType model.AlertType, severity model.Severity, title, description, source string, metadata map[string]any) model.Alert {
	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	c := Context(meta)
	return model.Alert{
		ID:          uuid.New().String(),
		Timestamp:   e.now(),
		Type:        alertType,
		Severity:    severity,
		Title:       title,
		Description: description,
		Source:      source,
		Metadata:    meta,
		RequestID:   c.String("requestId"),
		UserID:      c.String("userId"),
		BookingID:   c.String("bookingId"),
	}
}

func (e *Engine) emit(alert model.Alert, actions []model.ActionType) {
	e.alerts.Add(alert)
	e.metrics.AlertCreated(string(alert.Type), string(alert.Severity), alert.Source)
	if e.logger != nil {
		e.logger.Warn("alert triggered",
			"alert_id", alert.ID,
			"type", alert.Type,
			"severity", alert.Severity,
			"source", alert.Source,
		)
	}
	e.persist(func(ctx context.Context) error { return e.sink.SaveAlert(ctx, alert) })
	if e.dispatcher != nil {
		e.dispatcher.Dispatch(alert, actions)
	}
}

// persist queues a sink write. Writes run one at a time in submission order
// so a resolve never overtakes the insert of the same alert.
func (e *Engine) persist(fn func(ctx context.Context) error) {
	if e.sink == nil {
		return
	}
	e.wg.Add(1)
	e.sinkMu.Lock()
	e.pending = append(e.pending, fn)
	start := !e.draining
	e.draining = true
	e.sinkMu.Unlock()
	if start {
		go e.drainSink()
	}
}

// drainSink exits once the queue is empty; the next persist starts a new one.
func (e *Engine) drainSink() {
	for {
		e.sinkMu.Lock()
		if len(e.pending) == 0 {
			e.draining = false
			e.sinkMu.Unlock()
			return
		}
		fn := e.pending[0]
		e.pending[0] = nil
		e.pending = e.pending[1:]
		e.sinkMu.Unlock()
		e.write(fn)
	}
}

func (e *Engine) write(fn func(ctx context.Context) error) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil && e.logger != nil {
			e.logger.Error("alert sink panicked", "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := fn(ctx); err != nil && e.logger != nil {
		e.logger.Error("alert sink write failed", "err", err)
	}
}

// Alerts returns buffered alerts matching filter, newest first.
func (e *Engine) Alerts(filter alerts.Filter) []model.Alert {
	return e.alerts.List(filter)
}

func (e *Engine) Alert(id string) (model.Alert, error) {
	a, ok := e.alerts.Get(id)
	if !ok {
		return model.Alert{}, fmt.Errorf("%s: %w", id, alerts.ErrAlertNotFound)
	}
	return a, nil
}

// ResolveAlert marks an alert resolved. It reports false when the alert is
// missing or was already resolved.
func (e *Engine) ResolveAlert(id, resolvedBy string) bool {
	at := e.now()
	alert, changed := e.alerts.Resolve(id, resolvedBy, at)
	if !changed {
		return false
	}
	e.metrics.AlertResolved()
	if e.events != nil {
		e.events.Info(model.CategorySystem, "alert resolved", map[string]any{
			"alert_id":    alert.ID,
			"resolved_by": resolvedBy,
		})
	}
	e.persist(func(ctx context.Context) error { return e.sink.ResolveAlert(ctx, id, resolvedBy, at) })
	return true
}

func (e *Engine) Stats() alerts.Stats {
	return e.alerts.Stats(e.now())
}

// Reset clears alerts, cooldown stamps and the error-rate window.
func (e *Engine) Reset() {
	e.alerts.Clear()
	e.cooldown.Reset()
	e.window.Reset()
}

// Wait blocks until pending sink writes finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}
