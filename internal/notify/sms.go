package notify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"bookingwatch/internal/config"
	"bookingwatch/internal/model"
)

type SMSHandler struct {
	cfg    config.SMSConfig
	client *twilio.RestClient
}

func NewSMSHandler(cfg config.SMSConfig) *SMSHandler {
	h := &SMSHandler{cfg: cfg}
	if cfg.AccountSID != "" && cfg.AuthToken != "" {
		h.client = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		})
	}
	return h
}

// SMS bodies stay short; carriers split anything past 160 characters.
func renderSMS(alert model.Alert) string {
	body := fmt.Sprintf("[%s] %s (%s)", strings.ToUpper(string(alert.Severity)), alert.Title, alert.Type)
	if len(body) > 160 {
		cut := 157
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "..."
	}
	return body
}

func (h *SMSHandler) Send(_ context.Context, alert model.Alert) error {
	if h.client == nil || h.cfg.FromNumber == "" || len(h.cfg.To) == 0 {
		return ErrChannelDisabled
	}
	body := renderSMS(alert)
	for _, to := range h.cfg.To {
		params := &twilioapi.CreateMessageParams{}
		params.SetTo(to)
		params.SetFrom(h.cfg.FromNumber)
		params.SetBody(body)
		if _, err := h.client.Api.CreateMessage(params); err != nil {
			return fmt.Errorf("send sms via twilio: %w", err)
		}
	}
	return nil
}
