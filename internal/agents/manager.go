package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bookingwatch/internal/config"
	"bookingwatch/internal/eventlog"
	"bookingwatch/internal/metrics"
	"bookingwatch/internal/model"
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrAgentBusy     = errors.New("agent already running")
)

// AlertTrigger raises an alert without rule matching. engine.Engine satisfies it.
type AlertTrigger interface {
	TriggerAlert(alertType model.AlertType, severity model.Severity, title, description string, metadata map[string]any) model.Alert
}

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Collector
	Now     func() time.Time
}

// Manager owns the agent catalog and runs agents against booking batches.
type Manager struct {
	trigger AlertTrigger
	events  *eventlog.Logger
	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu      sync.Mutex
	agents  map[string]*model.AgentConfig
	order   []string
	running map[string]bool
	checks  map[model.AgentType]Check
}

// DefaultCatalog lists the built-in agents in run order.
func DefaultCatalog() []model.AgentConfig {
	return []model.AgentConfig{
		{
			ID:          string(model.AgentBookingVerifier),
			Type:        model.AgentBookingVerifier,
			Name:        "Booking verifier",
			Description: "Finds stuck pending bookings and confirmations without a provider reference",
			Enabled:     true,
			Schedule:    "*/15 * * * *",
		},
		{
			ID:          string(model.AgentCancellationChecker),
			Type:        model.AgentCancellationChecker,
			Name:        "Cancellation checker",
			Description: "Finds cancelled bookings that were never refunded",
			Enabled:     true,
			Schedule:    "0 * * * *",
		},
		{
			ID:          string(model.AgentPaymentReconciler),
			Type:        model.AgentPaymentReconciler,
			Name:        "Payment reconciler",
			Description: "Compares booking totals with captured payments",
			Enabled:     true,
			Schedule:    "*/30 * * * *",
		},
		{
			ID:          string(model.AgentPriceWatcher),
			Type:        model.AgentPriceWatcher,
			Name:        "Price watcher",
			Description: "Flags bookings with invalid prices",
			Enabled:     true,
			Schedule:    "*/10 * * * *",
		},
		{
			ID:          string(model.AgentIntegrityChecker),
			Type:        model.AgentIntegrityChecker,
			Name:        "Integrity checker",
			Description: "Flags missing contact data and impossible stay dates",
			Enabled:     true,
			Schedule:    "0 */6 * * *",
		},
	}
}

func NewManager(trigger AlertTrigger, events *eventlog.Logger, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	m := &Manager{
		trigger: trigger,
		events:  events,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		agents:  make(map[string]*model.AgentConfig),
		running: make(map[string]bool),
		checks:  make(map[model.AgentType]Check, len(checks)),
	}
	for t, c := range checks {
		m.checks[t] = c
	}
	for _, a := range DefaultCatalog() {
		agent := a
		m.agents[a.ID] = &agent
		m.order = append(m.order, a.ID)
	}
	return m
}

// Configure applies per-agent overrides from config.
func (m *Manager) Configure(cfg config.AgentsConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defaults := make(map[string]model.AgentConfig)
	for _, a := range DefaultCatalog() {
		defaults[a.ID] = a
	}
	for id, agent := range m.agents {
		def := defaults[id]
		agent.Enabled = def.Enabled
		agent.Schedule = def.Schedule
		o, ok := cfg.Overrides[id]
		if !ok {
			continue
		}
		if o.Enabled != nil {
			agent.Enabled = *o.Enabled
		}
		if o.Schedule != "" {
			agent.Schedule = o.Schedule
		}
	}
}

// SetCheck replaces the check behind an agent type.
func (m *Manager) SetCheck(t model.AgentType, c Check) {
	m.mu.Lock()
	m.checks[t] = c
	m.mu.Unlock()
}

func (m *Manager) Agents() []model.AgentConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AgentConfig, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, copyAgent(m.agents[id]))
	}
	return out
}

func (m *Manager) Agent(id string) (model.AgentConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return model.AgentConfig{}, fmt.Errorf("%s: %w", id, ErrAgentNotFound)
	}
	return copyAgent(a), nil
}

func copyAgent(a *model.AgentConfig) model.AgentConfig {
	out := *a
	if a.LastResult != nil {
		r := *a.LastResult
		out.LastResult = &r
	}
	return out
}

// RunAgent runs one agent over records and raises an alert per issue. Only an
// unknown id is returned as an error; every other failure, a concurrent run
// included, comes back as an unsuccessful result.
func (m *Manager) RunAgent(ctx context.Context, id string, records []model.BookingRecord) (model.AgentResult, error) {
	m.mu.Lock()
	agent, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return model.AgentResult{}, fmt.Errorf("%s: %w", id, ErrAgentNotFound)
	}
	agentType := agent.Type
	check := m.checks[agentType]
	start := m.now()
	if m.running[id] {
		m.mu.Unlock()
		return m.failed(id, agentType, start, len(records), ErrAgentBusy), nil
	}
	m.running[id] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.running, id)
		m.mu.Unlock()
	}()

	result := m.execute(ctx, id, agentType, check, records, start)

	m.mu.Lock()
	agent.LastRun = result.Timestamp
	stored := result
	agent.LastResult = &stored
	m.mu.Unlock()

	m.metrics.AgentRun(id, result.Success)
	m.record(result)
	return result, nil
}

func (m *Manager) execute(ctx context.Context, id string, agentType model.AgentType, check Check, records []model.BookingRecord, start time.Time) (result model.AgentResult) {
	defer func() {
		if r := recover(); r != nil {
			if m.logger != nil {
				m.logger.Error("agent check panicked", "agent", id, "panic", r)
			}
			result = m.failed(id, agentType, start, len(records), fmt.Errorf("agent panicked: %v", r))
		}
	}()
	if err := ctx.Err(); err != nil {
		return m.failed(id, agentType, start, len(records), err)
	}
	if check == nil {
		return m.failed(id, agentType, start, len(records), fmt.Errorf("no check for agent type %s", agentType))
	}
	issues := check(records, start)
	if issues == nil {
		issues = []model.Issue{}
	}
	for _, issue := range issues {
		m.raise(id, issue)
	}
	return model.AgentResult{
		AgentID:      id,
		AgentType:    agentType,
		Timestamp:    start,
		Duration:     m.now().Sub(start),
		Success:      true,
		ItemsChecked: len(records),
		IssuesFound:  len(issues),
		Issues:       issues,
	}
}

func (m *Manager) raise(agentID string, issue model.Issue) {
	m.metrics.AgentIssue(agentID, issue.Type)
	if m.trigger == nil {
		return
	}
	meta := make(map[string]any, len(issue.Data)+6)
	for k, v := range issue.Data {
		meta[k] = v
	}
	meta["source"] = agentID
	meta["issue_id"] = issue.ID
	meta["issue_type"] = issue.Type
	meta["entity_type"] = string(issue.EntityType)
	meta["entity_id"] = issue.EntityID
	if issue.EntityType == model.EntityBooking || issue.EntityType == model.EntityPayment {
		meta["bookingId"] = issue.EntityID
	}
	if issue.SuggestedAction != "" {
		meta["suggested_action"] = issue.SuggestedAction
	}
	m.trigger.TriggerAlert(AlertTypeFor(issue.Type), issue.Severity, titleFor(issue), issue.Description, meta)
}

func titleFor(issue model.Issue) string {
	return fmt.Sprintf("%s: %s %s", issue.Type, issue.EntityType, issue.EntityID)
}

func (m *Manager) failed(id string, agentType model.AgentType, start time.Time, items int, err error) model.AgentResult {
	return model.AgentResult{
		AgentID:      id,
		AgentType:    agentType,
		Timestamp:    start,
		Duration:     m.now().Sub(start),
		Success:      false,
		ItemsChecked: items,
		IssuesFound:  0,
		Issues:       []model.Issue{},
		Error:        err.Error(),
	}
}

func (m *Manager) record(result model.AgentResult) {
	if m.events == nil {
		return
	}
	meta := map[string]any{
		"agent_id":      result.AgentID,
		"items_checked": result.ItemsChecked,
		"issues_found":  result.IssuesFound,
	}
	if !result.Success {
		m.events.Log(model.LogEntry{
			Level:    model.LevelError,
			Category: model.CategorySystem,
			Action:   "agent run failed: " + result.AgentID,
			Duration: result.Duration,
			Error:    result.Error,
			Metadata: meta,
		})
		return
	}
	level := model.LevelInfo
	if result.IssuesFound > 0 {
		level = model.LevelWarn
	}
	m.events.Log(model.LogEntry{
		Level:    level,
		Category: model.CategorySystem,
		Action:   "agent run: " + result.AgentID,
		Duration: result.Duration,
		Metadata: meta,
	})
}

// RunAllAgents runs every enabled agent in catalog order. A failing agent
// does not stop the rest.
func (m *Manager) RunAllAgents(ctx context.Context, records []model.BookingRecord) []model.AgentResult {
	m.mu.Lock()
	ids := make([]string, 0, len(m.order))
	for _, id := range m.order {
		if m.agents[id].Enabled {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	results := make([]model.AgentResult, 0, len(ids))
	for _, id := range ids {
		res, err := m.RunAgent(ctx, id, records)
		if err != nil {
			continue
		}
		results = append(results, res)
	}
	return results
}
