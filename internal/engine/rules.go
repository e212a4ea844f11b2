package engine

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"

	"bookingwatch/internal/config"
	"bookingwatch/internal/model"
)

type Predicate func(Context) bool

// Rule is one entry of the catalog. Built-in rules carry a Go predicate,
// custom rules an expr program.
type Rule struct {
	ID          string
	Name        string
	Description string
	Type        model.AlertType
	Severity    model.Severity
	Cooldown    time.Duration
	Actions     []model.ActionType
	Enabled     bool
	Condition   string
	Predicate   Predicate

	program *vm.Program
}

// RuleInfo is the read-only view returned by Engine.Rules.
type RuleInfo struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Type      model.AlertType    `json:"type"`
	Severity  model.Severity     `json:"severity"`
	Cooldown  time.Duration      `json:"cooldown"`
	Actions   []model.ActionType `json:"actions"`
	Enabled   bool               `json:"enabled"`
	Condition string             `json:"condition,omitempty"`
}

const (
	priceMismatchRatio  = 0.05
	errorRateThreshold  = 0.10
	providerTimeoutMS   = 30000
	statusUnauthorized  = 401
	categoryProviderKey = string(model.CategoryProvider)
)

// DefaultRules returns a fresh copy of the built-in catalog.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "booking_failed",
			Name:        "Booking failed",
			Description: "A booking attempt did not succeed",
			Type:        model.AlertBookingFailed,
			Severity:    model.SeverityHigh,
			Cooldown:    60 * time.Second,
			Actions:     []model.ActionType{model.ActionLog, model.ActionSlack},
			Enabled:     true,
			Predicate: func(c Context) bool {
				return c.actionContains("book") && !c.actionContains("cancel") && c.failed()
			},
		},
		{
			ID:          "payment_failed",
			Name:        "Payment failed",
			Description: "A payment operation did not succeed",
			Type:        model.AlertPaymentFailed,
			Severity:    model.SeverityCritical,
			Cooldown:    30 * time.Second,
			Actions:     []model.ActionType{model.ActionLog, model.ActionSlack, model.ActionEmail},
			Enabled:     true,
			Predicate: func(c Context) bool {
				return c.actionContains("payment") && c.failed()
			},
		},
		{
			ID:          "price_mismatch",
			Name:        "Price mismatch",
			Description: "Current price differs from the quoted price by more than 5%",
			Type:        model.AlertPriceMismatch,
			Severity:    model.SeverityMedium,
			Cooldown:    120 * time.Second,
			Actions:     []model.ActionType{model.ActionLog},
			Enabled:     true,
			Predicate: func(c Context) bool {
				original, ok := c.Float("originalPrice")
				if !ok || original <= 0 {
					return false
				}
				current, ok := c.Float("currentPrice")
				if !ok {
					return false
				}
				return math.Abs(original-current)/original > priceMismatchRatio
			},
		},
		{
			ID:          "high_error_rate",
			Name:        "High error rate",
			Description: "More than 10% of recent requests failed",
			Type:        model.AlertHighErrorRate,
			Severity:    model.SeverityHigh,
			Cooldown:    300 * time.Second,
			Actions:     []model.ActionType{model.ActionLog, model.ActionSlack, model.ActionEmail},
			Enabled:     true,
			Predicate: func(c Context) bool {
				rate, ok := c.Float("errorRate")
				return ok && rate > errorRateThreshold
			},
		},
		{
			ID:          "cancellation_failed",
			Name:        "Cancellation failed",
			Description: "A cancellation attempt did not succeed",
			Type:        model.AlertCancellationIssue,
			Severity:    model.SeverityHigh,
			Cooldown:    60 * time.Second,
			Actions:     []model.ActionType{model.ActionLog, model.ActionSlack},
			Enabled:     true,
			Predicate: func(c Context) bool {
				return c.actionContains("cancel") && c.failed()
			},
		},
		{
			ID:          "external_provider_timeout",
			Name:        "External provider timeout",
			Description: "An external provider call took longer than 30s",
			Type:        model.AlertProviderTimeout,
			Severity:    model.SeverityMedium,
			Cooldown:    120 * time.Second,
			Actions:     []model.ActionType{model.ActionLog},
			Enabled:     true,
			Predicate: func(c Context) bool {
				if c.String("category") != categoryProviderKey && !c.actionContains("provider") {
					return false
				}
				ms, ok := c.Float("duration")
				return ok && ms > providerTimeoutMS
			},
		},
		{
			ID:          "auth_failure",
			Name:        "Authentication failure",
			Description: "A request was rejected as unauthorized",
			Type:        model.AlertAuthFailure,
			Severity:    model.SeverityHigh,
			Cooldown:    60 * time.Second,
			Actions:     []model.ActionType{model.ActionLog},
			Enabled:     true,
			Predicate: func(c Context) bool {
				code, ok := c.Float("statusCode")
				return ok && int(code) == statusUnauthorized
			},
		},
	}
}

func (r *Rule) matches(c Context) (bool, error) {
	if r.program == nil {
		if r.Predicate == nil {
			return false, nil
		}
		return r.Predicate(c), nil
	}
	out, err := expr.Run(r.program, map[string]any(c))
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}

func (r Rule) info() RuleInfo {
	return RuleInfo{
		ID:        r.ID,
		Name:      r.Name,
		Type:      r.Type,
		Severity:  r.Severity,
		Cooldown:  r.Cooldown,
		Actions:   append([]model.ActionType(nil), r.Actions...),
		Enabled:   r.Enabled,
		Condition: r.Condition,
	}
}

func compileCustomRule(cr config.CustomRule) (Rule, error) {
	program, err := expr.Compile(cr.Condition, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return Rule{}, fmt.Errorf("compile rule %s: %w", cr.ID, err)
	}
	name := cr.Name
	if name == "" {
		name = cr.ID
	}
	alertType := model.AlertType(cr.AlertType)
	if alertType == "" {
		alertType = model.AlertSystemError
	}
	severity := model.Severity(strings.ToLower(cr.Severity))
	if severity == "" {
		severity = model.SeverityMedium
	}
	actions := toActions(cr.Actions)
	if len(actions) == 0 {
		actions = []model.ActionType{model.ActionLog}
	}
	return Rule{
		ID:          cr.ID,
		Name:        name,
		Description: "Custom rule matched: " + cr.Condition,
		Type:        alertType,
		Severity:    severity,
		Cooldown:    cr.Cooldown,
		Actions:     actions,
		Enabled:     true,
		Condition:   cr.Condition,
		program:     program,
	}, nil
}

// buildRules applies config overrides to the catalog and appends custom rules.
func buildRules(cfg config.AlertsConfig) ([]Rule, error) {
	rules := DefaultRules()
	for i := range rules {
		o, ok := cfg.Rules[rules[i].ID]
		if !ok {
			continue
		}
		if o.Enabled != nil {
			rules[i].Enabled = *o.Enabled
		}
		if o.Cooldown > 0 {
			rules[i].Cooldown = o.Cooldown
		}
		if len(o.Actions) > 0 {
			rules[i].Actions = toActions(o.Actions)
		}
	}
	builtin := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		builtin[r.ID] = struct{}{}
	}
	for _, cr := range cfg.CustomRules {
		if _, taken := builtin[cr.ID]; taken {
			return nil, fmt.Errorf("custom rule %q: id is reserved by a built-in rule", cr.ID)
		}
		r, err := compileCustomRule(cr)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func toActions(names []string) []model.ActionType {
	out := make([]model.ActionType, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			out = append(out, model.ActionType(n))
		}
	}
	return out
}

// actionsForSeverity picks the channels for alerts raised outside the rule catalog.
func actionsForSeverity(s model.Severity) []model.ActionType {
	switch s {
	case model.SeverityCritical:
		return []model.ActionType{model.ActionLog, model.ActionSlack, model.ActionEmail}
	case model.SeverityHigh:
		return []model.ActionType{model.ActionLog, model.ActionSlack}
	}
	return []model.ActionType{model.ActionLog}
}
