package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"bookingwatch/internal/config"
	"bookingwatch/internal/model"
)

type alertPayload struct {
	Type      string      `json:"type"`
	Alert     model.Alert `json:"alert"`
	Timestamp time.Time   `json:"timestamp"`
}

type WebhookHandler struct {
	cfg    config.WebhookConfig
	client *resty.Client
}

func NewWebhookHandler(cfg config.WebhookConfig, timeout time.Duration) *WebhookHandler {
	return &WebhookHandler{cfg: cfg, client: resty.New().SetTimeout(timeout)}
}

func (h *WebhookHandler) Send(ctx context.Context, alert model.Alert) error {
	if h.cfg.URL == "" {
		return ErrChannelDisabled
	}
	payload := alertPayload{Type: "alert", Alert: alert, Timestamp: time.Now().UTC()}
	return post(ctx, h.client, h.cfg.URL, h.cfg.Headers, payload, "webhook")
}

var severityColors = map[model.Severity]string{
	model.SeverityCritical: "#FF0000",
	model.SeverityHigh:     "#FF6600",
	model.SeverityMedium:   "#FFCC00",
	model.SeverityLow:      "#36A64F",
}

func SeverityColor(s model.Severity) string {
	if c, ok := severityColors[s]; ok {
		return c
	}
	return "#808080"
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
	TS     int64        `json:"ts"`
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
	alertPayload
}

type SlackHandler struct {
	cfg    config.SlackConfig
	client *resty.Client
}

func NewSlackHandler(cfg config.SlackConfig, timeout time.Duration) *SlackHandler {
	return &SlackHandler{cfg: cfg, client: resty.New().SetTimeout(timeout)}
}

func (h *SlackHandler) Send(ctx context.Context, alert model.Alert) error {
	if h.cfg.WebhookURL == "" {
		return ErrChannelDisabled
	}
	now := time.Now().UTC()
	payload := slackPayload{
		Channel: h.cfg.Channel,
		Text:    fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title),
		Attachments: []slackAttachment{{
			Color: SeverityColor(alert.Severity),
			Title: alert.Title,
			Text:  alert.Description,
			Fields: []slackField{
				{Title: "Severity", Value: string(alert.Severity), Short: true},
				{Title: "Type", Value: string(alert.Type), Short: true},
				{Title: "Source", Value: alert.Source, Short: true},
			},
			TS: alert.Timestamp.Unix(),
		}},
		alertPayload: alertPayload{Type: "alert", Alert: alert, Timestamp: now},
	}
	return post(ctx, h.client, h.cfg.WebhookURL, nil, payload, "slack")
}

func post(ctx context.Context, client *resty.Client, url string, headers map[string]string, body any, name string) error {
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(headers).
		SetBody(body).
		Post(url)
	if err != nil {
		return fmt.Errorf("%s request: %w", name, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s returned status %d", name, resp.StatusCode())
	}
	return nil
}
