// Package app wires configuration, storage, the notification channels and
// the polling pipeline into one runnable unit.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"silowatch/internal/channel"
	"silowatch/internal/config"
	"silowatch/internal/detect"
	"silowatch/internal/dispatch"
	"silowatch/internal/eventbus"
	"silowatch/internal/ingest"
	"silowatch/internal/livesock"
	"silowatch/internal/pipeline"
	"silowatch/internal/poller"
	"silowatch/internal/storage"
	"silowatch/internal/telemetry"
	logx "silowatch/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	client   *telemetry.Client
	registry *channel.Registry
	live     *livesock.Server
	disp     *dispatch.Dispatcher
	sweep    *dispatch.Sweeper
	det      *detect.Detector
	ing      *ingest.Ingestor
	pipe     *pipeline.Pipeline
	poll     *poller.Poller

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := config.ParseDurationOrDefault("telemetry.timeout", cfg.Telemetry.Timeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	client := telemetry.NewClient(telemetry.Config{
		BaseURL: cfg.Telemetry.BaseURL,
		Timeout: fetchTimeout,
	}, log.With(logx.String("comp", "telemetry")))

	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	live := livesock.NewServer(livesock.Config{
		Enabled: cfg.Livesock.Enabled,
		Addr:    cfg.Livesock.Addr,
	}, log.With(logx.String("comp", "livesock")))

	dispTimeout, err := config.ParseDurationOrDefault("dispatch.timeout", cfg.Dispatch.Timeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dispatch.Config{
		RatePerSec: float64(cfg.Dispatch.RatePerSec),
		Timeout:    dispTimeout,
	}, registry, store, bus, live.Hub(), log.With(logx.String("comp", "dispatch")))

	det := detect.New(detectorConfig(cfg), store, bus, log.With(logx.String("comp", "detect")))

	minInterval, err := config.ParseDurationField("dedup.min_interval", cfg.Dedup.MinInterval)
	if err != nil {
		return nil, err
	}
	ing := ingest.New(ingest.Config{MinInterval: minInterval}, store, bus, log.With(logx.String("comp", "ingest")))

	pipe := pipeline.New(client, ing, det, disp, bus, live.Hub(), log.With(logx.String("comp", "pipeline")))

	defaultCadence, err := config.ParseDurationOrDefault("telemetry.default_cadence", cfg.Telemetry.DefaultCadence, poller.DefaultCadence)
	if err != nil {
		return nil, err
	}
	jitter, err := config.ParseDurationOrDefault("telemetry.jitter", cfg.Telemetry.Jitter, 30*time.Second)
	if err != nil {
		return nil, err
	}
	poll := poller.New(poller.Config{
		DefaultCadence: defaultCadence,
		Jitter:         jitter,
	}, pipe, disp, store, log.With(logx.String("comp", "poller")))

	sweepInterval, err := config.ParseDurationOrDefault("sweep.interval", cfg.Sweep.Interval, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		client:   client,
		registry: registry,
		live:     live,
		disp:     disp,
		det:      det,
		ing:      ing,
		pipe:     pipe,
		poll:     poll,
		stopCh:   make(chan struct{}),
	}
	a.sweep = dispatch.NewSweeper(dispatch.SweepConfig{
		Enabled:    cfg.Sweep.Enabled,
		Interval:   sweepInterval,
		MaxRetries: cfg.Sweep.MaxRetries,
	}, disp, store, a.resolveRecipient, log.With(logx.String("comp", "sweep")))
	return a, nil
}

func buildRegistry(cfg *config.Config) (*channel.Registry, error) {
	tg, err := channel.NewTelegramAdapter(channel.TelegramConfig{
		Enabled: cfg.Channels.Telegram.Enabled,
		Token:   cfg.Channels.Telegram.Token,
	})
	if err != nil {
		return nil, err
	}
	return channel.NewRegistry(
		channel.NewEmailAdapter(channel.EmailConfig{
			Enabled:  cfg.Channels.Email.Enabled,
			SMTPHost: cfg.Channels.Email.SMTPHost,
			SMTPPort: cfg.Channels.Email.SMTPPort,
			SMTPUser: cfg.Channels.Email.SMTPUser,
			SMTPPass: cfg.Channels.Email.SMTPPass,
			From:     cfg.Channels.Email.From,
		}),
		channel.NewSMSAdapter(channel.SMSConfig{
			Enabled:    cfg.Channels.SMS.Enabled,
			AccountSID: cfg.Channels.SMS.AccountSID,
			AuthToken:  cfg.Channels.SMS.AuthToken,
			From:       cfg.Channels.SMS.From,
		}),
		tg,
		channel.NewPushAdapter(channel.PushConfig{
			Enabled: cfg.Channels.Push.Enabled,
		}),
	), nil
}

func (a *App) resolveRecipient(siloID string) (channel.Recipient, bool) {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return channel.Recipient{}, false
	}
	sc, ok := cfg.Silos[siloID]
	if !ok {
		return channel.Recipient{}, false
	}
	return recipient(sc), true
}

func (a *App) Start(ctx context.Context) error {
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	if err := a.live.Start(); err != nil {
		return fmt.Errorf("live socket: %w", err)
	}

	a.poll.Start(ctx)
	a.poll.Apply(targets(a.cfgm.Get()))
	a.sweep.Start(ctx)

	a.wg.Add(1)
	go a.watchConfig(ctx)

	a.wg.Add(1)
	go a.logEvents(ctx)

	a.log.Info("silowatch started", logx.Int("silos", len(a.cfgm.Get().Silos)))
	return nil
}

func (a *App) Stop(ctx context.Context) {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		a.sweep.Stop()
		a.poll.Stop()
		a.live.Stop(ctx)
		a.wg.Wait()
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close failed", logx.Err(err))
		}
		a.log.Info("silowatch stopped")
		_ = a.logs.Close()
	})
}

// watchConfig runs the fsnotify watcher and applies accepted reloads to the
// live components. Channel and storage topology changes need a restart and
// are only logged.
func (a *App) watchConfig(ctx context.Context) {
	defer a.wg.Done()

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.stopCh:
			cancel()
		case <-wctx.Done():
		}
	}()

	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)

	go func() {
		if err := a.cfgm.Watch(wctx); err != nil && wctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	for {
		select {
		case <-wctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(cfg)
		}
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.det.Apply(detectorConfig(cfg))
	a.poll.Apply(targets(cfg))
	a.log.Info("config reloaded", logx.Int("silos", len(cfg.Silos)))
}

// logEvents drains the bus at debug level for operational visibility.
func (a *App) logEvents(ctx context.Context) {
	defer a.wg.Done()
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event",
				logx.String("type", e.Type),
				logx.String("silo", e.Silo),
				logx.Time("time", e.Time))
		}
	}
}
