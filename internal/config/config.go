package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel      string              `json:"log_level" yaml:"log_level"`
	EventLog      EventLogConfig      `json:"event_log" yaml:"event_log"`
	Tracker       TrackerConfig       `json:"tracker" yaml:"tracker"`
	Alerts        AlertsConfig        `json:"alerts" yaml:"alerts"`
	Agents        AgentsConfig        `json:"agents" yaml:"agents"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	Ingest        IngestConfig        `json:"ingest" yaml:"ingest"`
	API           APIConfig           `json:"api" yaml:"api"`
}

type EventLogConfig struct {
	BufferSize   int `json:"buffer_size" yaml:"buffer_size"`
	SinkQueue    int `json:"sink_queue" yaml:"sink_queue"`
	PreviewBytes int `json:"preview_bytes" yaml:"preview_bytes"`
}

type TrackerConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type AlertsConfig struct {
	StoreLimit  int                     `json:"store_limit" yaml:"store_limit"`
	Rules       map[string]RuleOverride `json:"rules" yaml:"rules"`
	CustomRules []CustomRule            `json:"custom_rules" yaml:"custom_rules"`
	ErrorRate   ErrorRateConfig         `json:"error_rate" yaml:"error_rate"`
}

// RuleOverride adjusts a built-in rule; zero values keep the catalog default.
type RuleOverride struct {
	Enabled  *bool         `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Cooldown time.Duration `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
	Actions  []string      `json:"actions,omitempty" yaml:"actions,omitempty"`
}

type CustomRule struct {
	ID        string        `json:"id" yaml:"id"`
	Name      string        `json:"name" yaml:"name"`
	AlertType string        `json:"alert_type" yaml:"alert_type"`
	Condition string        `json:"condition" yaml:"condition"`
	Severity  string        `json:"severity" yaml:"severity"`
	Cooldown  time.Duration `json:"cooldown" yaml:"cooldown"`
	Actions   []string      `json:"actions" yaml:"actions"`
}

type ErrorRateConfig struct {
	Window     time.Duration `json:"window" yaml:"window"`
	MinSamples int           `json:"min_samples" yaml:"min_samples"`
}

type AgentsConfig struct {
	Overrides map[string]AgentOverride `json:"overrides" yaml:"overrides"`
}

type AgentOverride struct {
	Enabled  *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

type StorageConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Driver    string `json:"driver" yaml:"driver"`
	DSN       string `json:"dsn" yaml:"dsn"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
	MaxLength int64  `json:"max_length" yaml:"max_length"`
}

type NotificationsConfig struct {
	Timeout    time.Duration      `json:"timeout" yaml:"timeout"`
	RateLimits map[string]float64 `json:"rate_limits" yaml:"rate_limits"`
	Webhook    WebhookConfig      `json:"webhook" yaml:"webhook"`
	Slack      SlackConfig        `json:"slack" yaml:"slack"`
	Email      EmailConfig        `json:"email" yaml:"email"`
	SMS        SMSConfig          `json:"sms" yaml:"sms"`
}

type WebhookConfig struct {
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers" yaml:"headers"`
}

type SlackConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
	Channel    string `json:"channel" yaml:"channel"`
}

type EmailConfig struct {
	Provider    string         `json:"provider" yaml:"provider"`
	FromName    string         `json:"from_name" yaml:"from_name"`
	FromAddress string         `json:"from_address" yaml:"from_address"`
	To          []string       `json:"to" yaml:"to"`
	SMTP        SMTPConfig     `json:"smtp" yaml:"smtp"`
	SendGrid    SendGridConfig `json:"sendgrid" yaml:"sendgrid"`
}

type SMTPConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

type SendGridConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"`
}

type SMSConfig struct {
	AccountSID string   `json:"account_sid" yaml:"account_sid"`
	AuthToken  string   `json:"auth_token" yaml:"auth_token"`
	FromNumber string   `json:"from_number" yaml:"from_number"`
	To         []string `json:"to" yaml:"to"`
}

type IngestConfig struct {
	Kafka        KafkaConfig `json:"kafka" yaml:"kafka"`
	SnapshotFile string      `json:"snapshot_file" yaml:"snapshot_file"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		EventLog: EventLogConfig{BufferSize: 1000, SinkQueue: 1024, PreviewBytes: 500},
		Tracker:  TrackerConfig{StoreLimit: 1000},
		Alerts: AlertsConfig{
			StoreLimit: 500,
			ErrorRate:  ErrorRateConfig{Window: 5 * time.Minute, MinSamples: 20},
		},
		Storage: StorageConfig{
			Enabled:   false,
			Driver:    "sqlite",
			DSN:       "file:bookingwatch.db?_pragma=busy_timeout(5000)",
			KeyPrefix: "bookingwatch:",
			MaxLength: 10000,
		},
		Notifications: NotificationsConfig{
			Timeout: 10 * time.Second,
			RateLimits: map[string]float64{
				"email": 1,
				"sms":   0.2,
			},
			Email: EmailConfig{Provider: "smtp", FromName: "Booking Watch", SMTP: SMTPConfig{Port: 587}},
		},
		API: APIConfig{Enabled: false, Addr: ":8081"},
	}
}

// Load reads a YAML or JSON config file. Missing sections keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("config file is empty")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	}
	if data[0] == '{' {
		return json.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

// Save writes cfg as JSON for .json paths and YAML otherwise.
func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("save config: empty path or config")
	}
	marshal := yaml.Marshal
	if strings.EqualFold(filepath.Ext(path), ".json") {
		marshal = func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }
	}
	data, err := marshal(cfg)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func applyDefaults(cfg *Config) {
	if cfg.EventLog.BufferSize <= 0 {
		cfg.EventLog.BufferSize = 1000
	}
	if cfg.EventLog.SinkQueue <= 0 {
		cfg.EventLog.SinkQueue = 1024
	}
	if cfg.EventLog.PreviewBytes <= 0 {
		cfg.EventLog.PreviewBytes = 500
	}
	if cfg.Tracker.StoreLimit <= 0 {
		cfg.Tracker.StoreLimit = 1000
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 500
	}
	if cfg.Alerts.ErrorRate.Window <= 0 {
		cfg.Alerts.ErrorRate.Window = 5 * time.Minute
	}
	if cfg.Alerts.ErrorRate.MinSamples <= 0 {
		cfg.Alerts.ErrorRate.MinSamples = 20
	}
	if cfg.Notifications.Timeout <= 0 {
		cfg.Notifications.Timeout = 10 * time.Second
	}
	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = "bookingwatch:"
	}
	if cfg.Storage.MaxLength <= 0 {
		cfg.Storage.MaxLength = 10000
	}
}

var validActions = map[string]struct{}{
	"log": {}, "email": {}, "webhook": {}, "slack": {}, "sms": {},
}

var validSeverities = map[string]struct{}{
	"low": {}, "medium": {}, "high": {}, "critical": {},
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql", "redis":
		default:
			return fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
		}
	}
	switch strings.ToLower(cfg.Notifications.Email.Provider) {
	case "", "smtp", "sendgrid":
	default:
		return fmt.Errorf("notifications.email.provider %q is not supported", cfg.Notifications.Email.Provider)
	}
	for id, o := range cfg.Alerts.Rules {
		if o.Cooldown < 0 {
			return fmt.Errorf("alerts.rules.%s.cooldown must be >= 0", id)
		}
		if err := validateActions(o.Actions); err != nil {
			return fmt.Errorf("alerts.rules.%s: %w", id, err)
		}
	}
	seen := make(map[string]struct{}, len(cfg.Alerts.CustomRules))
	for i, r := range cfg.Alerts.CustomRules {
		if r.ID == "" || r.Condition == "" {
			return fmt.Errorf("alerts.custom_rules[%d] requires id and condition", i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("alerts.custom_rules[%d]: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = struct{}{}
		if _, ok := validSeverities[strings.ToLower(r.Severity)]; !ok {
			return fmt.Errorf("alerts.custom_rules[%d]: invalid severity %q", i, r.Severity)
		}
		if err := validateActions(r.Actions); err != nil {
			return fmt.Errorf("alerts.custom_rules[%d]: %w", i, err)
		}
	}
	return nil
}

func validateActions(actions []string) error {
	for _, a := range actions {
		if _, ok := validActions[strings.ToLower(a)]; !ok {
			return fmt.Errorf("unknown action %q", a)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config; Reload and Watch are no-ops without a path.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

// Reload re-reads the file. The modification time is stamped first so a
// broken edit is reported once, not on every poll.
func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

// Watch polls the file every interval and calls onReload with each new
// config that loads cleanly. Rejected edits go to onError and the previous
// config stays active. Watch returns when ctx ends.
func (m *Manager) Watch(ctx context.Context, interval time.Duration, onReload func(*Config), onError func(error)) {
	if m.path == "" {
		return
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cfg, err := m.reloadIfChanged()
		switch {
		case err != nil:
			if onError != nil {
				onError(err)
			}
		case cfg != nil && onReload != nil:
			onReload(cfg)
		}
	}
}

func (m *Manager) reloadIfChanged() (*Config, error) {
	changed, err := m.NeedsReload()
	if err != nil || !changed {
		return nil, err
	}
	return m.Reload()
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
