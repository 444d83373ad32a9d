package channel

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"silowatch/internal/silo"
)

type EmailConfig struct {
	Enabled  bool
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	From     string
}

// EmailAdapter delivers alerts over SMTP (STARTTLS via PlainAuth).
type EmailAdapter struct {
	cfg EmailConfig
}

func NewEmailAdapter(cfg EmailConfig) *EmailAdapter {
	return &EmailAdapter{cfg: cfg}
}

func (e *EmailAdapter) Name() string { return NameEmail }

func (e *EmailAdapter) Enabled() bool {
	return e.cfg.Enabled && e.cfg.SMTPHost != "" && e.cfg.SMTPPort > 0
}

func (e *EmailAdapter) Deliver(ctx context.Context, a *silo.Alert, rcpt Recipient) error {
	to := strings.TrimSpace(rcpt.Email)
	if to == "" {
		return ErrSkipped
	}

	from := e.cfg.From
	if from == "" {
		from = e.cfg.SMTPUser
	}
	subject := fmt.Sprintf("Silo alert: %s (%s)", a.SiloID, strings.ToUpper(string(a.Severity)))
	body := FormatMessage(a)

	msg := strings.Join([]string{
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", e.cfg.SMTPHost, e.cfg.SMTPPort)
	var auth smtp.Auth
	if e.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", e.cfg.SMTPUser, e.cfg.SMTPPass, e.cfg.SMTPHost)
	}

	// net/smtp has no context support; run the send in a goroutine and
	// honor cancellation from the dispatcher's per-delivery timeout.
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, from, []string{to}, []byte(msg))
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", to, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send to %s: %w", to, ctx.Err())
	}
}
