// Package email delivers operator alerts and daily summaries over SMTP.
package email

import (
	"fmt"
	"log/slog"
	"strings"

	gomail "gopkg.in/gomail.v2"

	"github.com/stickertrendz/pipeline/internal/config"
	"github.com/stickertrendz/pipeline/internal/domain"
)

// sender is the dialer seam; tests swap it out.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer implements domain.Alerter. Delivery is synchronous but callers
// treat failures as non-fatal: a workflow never aborts because an alert
// could not be sent.
type Mailer struct {
	dialer sender
	from   string
	to     []string
}

func NewMailer(cfg config.Config) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
		from:   cfg.AlertEmailFrom,
		to:     splitRecipients(cfg.AlertEmailTo),
	}
}

func splitRecipients(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Send emails the operator. level prefixes the subject so inbox rules
// can triage without opening the message.
func (m *Mailer) Send(ctx domain.Context, subject, body, level string) error {
	if len(m.to) == 0 {
		slog.WarnContext(ctx, "alert email skipped, no recipients configured",
			slog.String("subject", subject))
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to...)
	msg.SetHeader("Subject", fmt.Sprintf("[%s] %s", strings.ToUpper(level), subject))
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("op=email.Send subject=%q: %w", subject, err)
	}
	slog.InfoContext(ctx, "alert email sent",
		slog.String("subject", subject), slog.String("level", level))
	return nil
}
