package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"bookingwatch/internal/config"
	"bookingwatch/internal/model"
)

type EmailHandler struct {
	cfg      config.EmailConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailHandler(cfg config.EmailConfig) *EmailHandler {
	return &EmailHandler{cfg: cfg, sendMail: smtp.SendMail}
}

func (h *EmailHandler) Send(ctx context.Context, alert model.Alert) error {
	if len(h.cfg.To) == 0 || h.cfg.FromAddress == "" {
		return ErrChannelDisabled
	}
	subject, body := renderEmail(alert)
	switch strings.ToLower(h.cfg.Provider) {
	case "sendgrid":
		return h.viaSendGrid(ctx, subject, body)
	case "", "smtp":
		return h.viaSMTP(subject, body)
	default:
		return fmt.Errorf("unsupported email provider: %s", h.cfg.Provider)
	}
}

func renderEmail(alert model.Alert) (string, string) {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title)
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", alert.Description)
	fmt.Fprintf(&b, "Type: %s\nSeverity: %s\nSource: %s\nTime: %s\nAlert ID: %s\n",
		alert.Type, alert.Severity, alert.Source, alert.Timestamp.Format("2006-01-02 15:04:05 UTC"), alert.ID)
	if alert.BookingID != "" {
		fmt.Fprintf(&b, "Booking: %s\n", alert.BookingID)
	}
	if alert.RequestID != "" {
		fmt.Fprintf(&b, "Request: %s\n", alert.RequestID)
	}
	return subject, b.String()
}

func (h *EmailHandler) viaSMTP(subject, body string) error {
	if h.cfg.SMTP.Host == "" {
		return ErrChannelDisabled
	}
	msg := fmt.Sprintf("From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		h.cfg.FromName, h.cfg.FromAddress, strings.Join(h.cfg.To, ", "), subject, body)
	var auth smtp.Auth
	if h.cfg.SMTP.Username != "" {
		auth = smtp.PlainAuth("", h.cfg.SMTP.Username, h.cfg.SMTP.Password, h.cfg.SMTP.Host)
	}
	addr := fmt.Sprintf("%s:%d", h.cfg.SMTP.Host, h.cfg.SMTP.Port)
	if err := h.sendMail(addr, auth, h.cfg.FromAddress, h.cfg.To, []byte(msg)); err != nil {
		return fmt.Errorf("send email via smtp: %w", err)
	}
	return nil
}

func (h *EmailHandler) viaSendGrid(ctx context.Context, subject, body string) error {
	if h.cfg.SendGrid.APIKey == "" {
		return ErrChannelDisabled
	}
	client := sendgrid.NewSendClient(h.cfg.SendGrid.APIKey)
	from := mail.NewEmail(h.cfg.FromName, h.cfg.FromAddress)
	for _, rcpt := range h.cfg.To {
		message := mail.NewSingleEmail(from, subject, mail.NewEmail("", rcpt), body, "")
		resp, err := client.SendWithContext(ctx, message)
		if err != nil {
			return fmt.Errorf("send email via sendgrid: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
		}
	}
	return nil
}
