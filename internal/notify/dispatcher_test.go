package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookingwatch/internal/config"
	"bookingwatch/internal/eventlog"
	"bookingwatch/internal/logging"
	"bookingwatch/internal/model"
)

func testAlert() model.Alert {
	return model.Alert{
		ID:          "a-1",
		Timestamp:   time.Now().UTC(),
		Type:        model.AlertPaymentFailed,
		Severity:    model.SeverityCritical,
		Title:       "Payment failed",
		Description: "card declined",
		Source:      "payment_failed",
	}
}

func TestWebhookPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewWebhookHandler(config.WebhookConfig{URL: srv.URL}, time.Second)
	require.NoError(t, h.Send(context.Background(), testAlert()))
	assert.Equal(t, "alert", got["type"])
	assert.Contains(t, got, "timestamp")
	alert, ok := got["alert"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a-1", alert["id"])
}

func TestSlackPayloadColorsAndFields(t *testing.T) {
	var got slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
	}))
	defer srv.Close()

	h := NewSlackHandler(config.SlackConfig{WebhookURL: srv.URL, Channel: "#ops"}, time.Second)
	require.NoError(t, h.Send(context.Background(), testAlert()))
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "#FF0000", got.Attachments[0].Color)
	assert.Len(t, got.Attachments[0].Fields, 3)
	assert.Equal(t, "#ops", got.Channel)
	assert.Equal(t, "alert", got.Type)
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	h := NewWebhookHandler(config.WebhookConfig{URL: srv.URL}, time.Second)
	err := h.Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestUnconfiguredChannelsAreDisabled(t *testing.T) {
	ctx := context.Background()
	assert.ErrorIs(t, NewWebhookHandler(config.WebhookConfig{}, time.Second).Send(ctx, testAlert()), ErrChannelDisabled)
	assert.ErrorIs(t, NewSlackHandler(config.SlackConfig{}, time.Second).Send(ctx, testAlert()), ErrChannelDisabled)
	assert.ErrorIs(t, NewEmailHandler(config.EmailConfig{}).Send(ctx, testAlert()), ErrChannelDisabled)
	assert.ErrorIs(t, NewSMSHandler(config.SMSConfig{}).Send(ctx, testAlert()), ErrChannelDisabled)
}

func TestEmailViaSMTP(t *testing.T) {
	h := NewEmailHandler(config.EmailConfig{
		Provider:    "smtp",
		FromAddress: "ops@example.com",
		To:          []string{"oncall@example.com"},
		SMTP:        config.SMTPConfig{Host: "mail.local", Port: 25},
	})
	var addr string
	var msg []byte
	h.sendMail = func(a string, _ smtp.Auth, _ string, _ []string, m []byte) error {
		addr, msg = a, m
		return nil
	}
	require.NoError(t, h.Send(context.Background(), testAlert()))
	assert.Equal(t, "mail.local:25", addr)
	assert.Contains(t, string(msg), "Subject: [CRITICAL] Payment failed")
}

func TestDispatchIsolatesFailures(t *testing.T) {
	events := eventlog.New(nil, nil, eventlog.Options{})
	d := NewDispatcher(config.NotificationsConfig{}, logging.NewNop(), events, nil)

	var emailed atomic.Int32
	d.Register(model.ActionWebhook, HandlerFunc(func(context.Context, model.Alert) error {
		return errors.New("connection refused")
	}))
	d.Register(model.ActionSlack, HandlerFunc(func(context.Context, model.Alert) error {
		panic("boom")
	}))
	d.Register(model.ActionEmail, HandlerFunc(func(context.Context, model.Alert) error {
		emailed.Add(1)
		return nil
	}))

	d.Dispatch(testAlert(), []model.ActionType{model.ActionWebhook, model.ActionSlack, model.ActionEmail, model.ActionLog, "pager"})
	d.Wait()

	assert.Equal(t, int32(1), emailed.Load())
	logs := events.RecentLogs(0, eventlog.LogFilter{Action: "alert:"})
	require.Len(t, logs, 1)
	assert.Equal(t, model.LevelError, logs[0].Level)
}

func TestDispatchRateLimited(t *testing.T) {
	d := NewDispatcher(config.NotificationsConfig{RateLimits: map[string]float64{"email": 0.001}}, nil, nil, nil)
	var sent atomic.Int32
	d.Register(model.ActionEmail, HandlerFunc(func(context.Context, model.Alert) error {
		sent.Add(1)
		return nil
	}))
	for i := 0; i < 3; i++ {
		d.Dispatch(testAlert(), []model.ActionType{model.ActionEmail})
	}
	d.Wait()
	assert.Equal(t, int32(1), sent.Load())
}

func TestRenderSMSTruncates(t *testing.T) {
	a := testAlert()
	a.Title = string(make([]byte, 300))
	assert.LessOrEqual(t, len(renderSMS(a)), 160)

	a.Title = strings.Repeat("הזמנה נכשלה ", 20)
	body := renderSMS(a)
	assert.LessOrEqual(t, len(body), 160)
	assert.True(t, utf8.ValidString(body), "%q", body)
	assert.True(t, strings.HasSuffix(body, "..."))
}
