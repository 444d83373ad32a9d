// Package dispatch fans a raised alert out to every enabled notification
// channel and records one delivery outcome per channel. A failing channel
// never prevents the others from being attempted.
package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"silowatch/internal/channel"
	"silowatch/internal/eventbus"
	"silowatch/internal/livesock"
	"silowatch/internal/silo"
	"silowatch/internal/storage"
	"silowatch/pkg/logx"
)

const (
	defaultTimeout = 15 * time.Second
	defaultRate    = 1.0
)

type Config struct {
	// RatePerSec caps deliveries per channel. Zero means defaultRate.
	RatePerSec float64
	// Timeout bounds a single delivery attempt. Zero means defaultTimeout.
	Timeout time.Duration
}

// Dispatcher delivers alerts through the registered channel adapters.
// Safe for concurrent use.
type Dispatcher struct {
	log      logx.Logger
	cfg      Config
	store    storage.Store
	bus      eventbus.Bus
	registry *channel.Registry
	hub      *livesock.Hub

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(cfg Config, reg *channel.Registry, store storage.Store, bus eventbus.Bus, hub *livesock.Hub, log logx.Logger) *Dispatcher {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Dispatcher{
		log:      log,
		cfg:      cfg,
		store:    store,
		bus:      bus,
		registry: reg,
		hub:      hub,
		limiters: map[string]*rate.Limiter{},
	}
}

// Dispatch attempts delivery of a on every enabled channel concurrently and
// persists one outcome per channel. The returned map is keyed by channel
// name and always has one entry per registered adapter; disabled adapters
// are recorded as SKIPPED without an attempt.
//
// Dispatch itself only errors when no adapter is enabled at all; individual
// delivery failures are reported through the outcome map.
func (d *Dispatcher) Dispatch(ctx context.Context, a *silo.Alert, rcpt channel.Recipient) (map[string]silo.DeliveryOutcome, error) {
	adapters := d.registry.All()
	if len(d.enabled()) == 0 {
		return nil, errors.New("dispatch: no notification channel enabled")
	}

	if d.hub != nil {
		d.hub.Broadcast("alert", a)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	outcomes := make(map[string]silo.DeliveryOutcome, len(adapters))

	for _, ad := range adapters {
		wg.Add(1)
		go func(ad channel.Adapter) {
			defer wg.Done()
			var o silo.DeliveryOutcome
			if ad.Enabled() {
				o = d.deliverOne(ctx, ad, a, rcpt)
			} else {
				o = silo.DeliveryOutcome{
					ID:          uuid.NewString(),
					AlertID:     a.ID,
					Channel:     ad.Name(),
					Status:      silo.DeliverySkipped,
					AttemptedAt: time.Now().UTC(),
				}
			}
			if err := d.store.SaveOutcome(ctx, &o); err != nil {
				d.log.Warn("delivery outcome not persisted",
					logx.String("alert", a.ID),
					logx.String("channel", ad.Name()),
					logx.Err(err))
			}
			mu.Lock()
			outcomes[ad.Name()] = o
			mu.Unlock()
		}(ad)
	}
	wg.Wait()

	d.bus.Publish(eventbus.Event{
		Type: eventbus.TypeAlertDispatched,
		Silo: a.SiloID,
		Data: map[string]any{"alert": a, "outcomes": outcomes},
	})
	return outcomes, nil
}

func (d *Dispatcher) deliverOne(ctx context.Context, ad channel.Adapter, a *silo.Alert, rcpt channel.Recipient) (out silo.DeliveryOutcome) {
	out = silo.DeliveryOutcome{
		ID:          uuid.NewString(),
		AlertID:     a.ID,
		Channel:     ad.Name(),
		AttemptedAt: time.Now().UTC(),
	}
	defer func() {
		if r := recover(); r != nil {
			out.Status = silo.DeliveryFailed
			out.Error = "channel adapter panicked"
			d.log.Error("channel adapter panicked",
				logx.String("channel", ad.Name()),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()

	dctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	if err := d.limiter(ad.Name()).Wait(dctx); err != nil {
		out.Status = silo.DeliveryFailed
		out.Error = "rate wait: " + err.Error()
		return out
	}

	err := ad.Deliver(dctx, a, rcpt)
	switch {
	case err == nil:
		out.Status = silo.DeliveryDelivered
		d.log.Debug("alert delivered",
			logx.String("alert", a.ID),
			logx.String("channel", ad.Name()))
	case errors.Is(err, channel.ErrSkipped):
		out.Status = silo.DeliverySkipped
	default:
		out.Status = silo.DeliveryFailed
		out.Error = err.Error()
		d.log.Warn("alert delivery failed",
			logx.String("alert", a.ID),
			logx.String("channel", ad.Name()),
			logx.Err(err))
	}
	return out
}

func (d *Dispatcher) enabled() []channel.Adapter {
	all := d.registry.All()
	out := make([]channel.Adapter, 0, len(all))
	for _, ad := range all {
		if ad.Enabled() {
			out = append(out, ad)
		}
	}
	return out
}

func (d *Dispatcher) limiter(name string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[name]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(d.cfg.RatePerSec), 1)
		d.limiters[name] = lim
	}
	return lim
}
