package dispatch

import (
	"context"
	"time"

	"silowatch/internal/channel"
	"silowatch/internal/silo"
	"silowatch/internal/storage"
	"silowatch/pkg/logx"
)

const (
	defaultSweepInterval = 10 * time.Minute
	defaultMaxRetries    = 3
)

type SweepConfig struct {
	Enabled  bool
	Interval time.Duration
	// MaxRetries bounds the total failed attempts per alert per channel
	// before the sweep gives up on it.
	MaxRetries int
}

// RecipientResolver maps a silo id to its configured recipients. The second
// return is false when the silo is no longer configured.
type RecipientResolver func(siloID string) (channel.Recipient, bool)

// Sweeper periodically re-dispatches alerts whose every delivery attempt
// failed, so a transient channel outage does not silently swallow alerts.
type Sweeper struct {
	log        logx.Logger
	cfg        SweepConfig
	store      storage.Store
	dispatcher *Dispatcher
	resolve    RecipientResolver

	stopCh   chan struct{}
	stopDone chan struct{}
}

func NewSweeper(cfg SweepConfig, d *Dispatcher, store storage.Store, resolve RecipientResolver, log logx.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Sweeper{
		log:        log,
		cfg:        cfg,
		store:      store,
		dispatcher: d,
		resolve:    resolve,
		stopCh:     make(chan struct{}),
		stopDone:   make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		close(s.stopDone)
		return
	}
	go s.run(ctx)
	s.log.Info("re-notification sweep started", logx.Duration("interval", s.cfg.Interval))
}

func (s *Sweeper) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.stopDone
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.stopDone)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one pass over the backlog of fully-failed alerts. Exported so
// a pass can be forced outside the ticker cadence.
func (s *Sweeper) Sweep(ctx context.Context) {
	alerts, err := s.store.UndeliveredAlerts(ctx, s.cfg.MaxRetries, 50)
	if err != nil {
		s.log.Warn("sweep query failed", logx.Err(err))
		return
	}
	if len(alerts) == 0 {
		return
	}
	s.log.Info("re-dispatching undelivered alerts", logx.Int("count", len(alerts)))

	for i := range alerts {
		a := &alerts[i]
		rcpt, ok := s.resolve(a.SiloID)
		if !ok {
			s.log.Debug("sweep skipping alert for unconfigured silo",
				logx.String("alert", a.ID), logx.String("silo", a.SiloID))
			continue
		}
		outcomes, err := s.dispatcher.Dispatch(ctx, a, rcpt)
		if err != nil {
			s.log.Warn("sweep dispatch failed", logx.String("alert", a.ID), logx.Err(err))
			continue
		}
		if delivered(outcomes) {
			s.log.Info("alert recovered by sweep", logx.String("alert", a.ID))
		}
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}
	}
}

func delivered(outcomes map[string]silo.DeliveryOutcome) bool {
	for _, o := range outcomes {
		if o.Status == silo.DeliveryDelivered {
			return true
		}
	}
	return false
}
