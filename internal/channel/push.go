package channel

import (
	"context"
	"errors"
	"strings"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"silowatch/internal/silo"
)

type PushConfig struct {
	Enabled bool
}

// PushAdapter delivers alerts to push services (ntfy, gotify, ...) through
// shoutrrr service URLs configured per silo.
type PushAdapter struct {
	cfg PushConfig
}

func NewPushAdapter(cfg PushConfig) *PushAdapter {
	return &PushAdapter{cfg: cfg}
}

func (p *PushAdapter) Name() string { return NamePush }

func (p *PushAdapter) Enabled() bool { return p.cfg.Enabled }

func (p *PushAdapter) Deliver(ctx context.Context, a *silo.Alert, rcpt Recipient) error {
	rawURL := strings.TrimSpace(rcpt.PushURL)
	if rawURL == "" {
		return ErrSkipped
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sender, err := shoutrrr.CreateSender(rawURL)
	if err != nil {
		return err
	}
	params := types.Params{"title": "Silo Monitor"}
	errs := sender.Send(FormatMessage(a), &params)
	return errors.Join(errs...)
}
