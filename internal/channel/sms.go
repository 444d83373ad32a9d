package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"silowatch/internal/silo"
)

type SMSConfig struct {
	Enabled    bool
	AccountSID string
	AuthToken  string
	From       string
	// BaseURL overrides the Twilio API endpoint (tests).
	BaseURL string
}

// SMSAdapter delivers alerts as SMS through the Twilio REST API.
type SMSAdapter struct {
	cfg   SMSConfig
	httpc *http.Client
}

func NewSMSAdapter(cfg SMSConfig) *SMSAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	return &SMSAdapter{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *SMSAdapter) Name() string { return NameSMS }

func (s *SMSAdapter) Enabled() bool {
	return s.cfg.Enabled && s.cfg.AccountSID != "" && s.cfg.AuthToken != "" && s.cfg.From != ""
}

func (s *SMSAdapter) Deliver(ctx context.Context, a *silo.Alert, rcpt Recipient) error {
	to := strings.TrimSpace(rcpt.Phone)
	if to == "" {
		return ErrSkipped
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.AccountSID)
	form := url.Values{
		"From": {s.cfg.From},
		"To":   {to},
		"Body": {FormatMessage(a)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("sms send to %s: %w", to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms send to %s: status %d: %s", to, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
