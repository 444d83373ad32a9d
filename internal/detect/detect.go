// Package detect derives state transitions and candidate alerts from each
// newly accepted reading.
package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"silowatch/internal/eventbus"
	"silowatch/internal/silo"
	"silowatch/internal/storage"
	logx "silowatch/pkg/logx"
)

// Default lux thresholds: a closed silo sits below ~10 lux, an opened hatch
// floods past ~100. The band between them is hysteresis, so small light
// fluctuations never flap the state.
const (
	DefaultDarkThreshold = 10.0
	DefaultOpenThreshold = 100.0
)

// Quantity keys used in bounds config.
const (
	QuantityTemperature = "temperature"
	QuantityHumidity    = "humidity"
	QuantityGasEstimate = "gas_estimate"
	QuantityGasRaw      = "gas_raw"
)

type Config struct {
	DarkThreshold float64
	OpenThreshold float64

	// Bounds per silo id, then per quantity key.
	Bounds map[string]map[string]*silo.Bounds
}

func (c Config) withDefaults() Config {
	if c.DarkThreshold <= 0 {
		c.DarkThreshold = DefaultDarkThreshold
	}
	if c.OpenThreshold <= 0 {
		c.OpenThreshold = DefaultOpenThreshold
	}
	return c
}

// Detector owns DerivedState updates. The pipeline serializes cycles per
// silo, so Detect never races with itself for the same entity.
type Detector struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger

	mu  sync.Mutex
	cfg Config
}

func New(cfg Config, store storage.Store, bus eventbus.Bus, log logx.Logger) *Detector {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Detector{
		store: store,
		bus:   bus,
		log:   log,
		cfg:   cfg.withDefaults(),
	}
}

// Apply swaps thresholds and bounds at runtime (config hot reload).
func (d *Detector) Apply(cfg Config) {
	d.mu.Lock()
	d.cfg = cfg.withDefaults()
	d.mu.Unlock()
}

func (d *Detector) snapshot() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Detect classifies the reading, emits any transition events and candidate
// alerts, persists them, and finally updates the silo's cached state.
//
// Detection is a pure function of (previous state, reading): re-running it
// after a crash that happened before the state update reproduces the same
// events. The state write comes last for exactly that reason.
func (d *Detector) Detect(ctx context.Context, siloID string, r *silo.Reading) ([]silo.Event, []silo.Alert, error) {
	cfg := d.snapshot()

	prev, err := d.store.DerivedState(ctx, siloID)
	if err != nil {
		return nil, nil, err
	}
	prevState := silo.LuminosityUnknown
	if prev != nil {
		prevState = prev.Luminosity
	}

	newState := classify(r.Lux, prevState, cfg.DarkThreshold, cfg.OpenThreshold)

	var (
		events []silo.Event
		alerts []silo.Alert
	)

	// Hatch transitions. UNKNOWN settling into a known state is
	// initialization, not a transition.
	if prevState != silo.LuminosityUnknown && newState != prevState {
		switch {
		case prevState == silo.LuminosityDark && newState == silo.LuminosityOpen:
			ev := d.newEvent(siloID, silo.EventHatchOpened, prevState, newState, prev, r)
			events = append(events, ev)
			alerts = append(alerts, silo.Alert{
				ID:        uuid.NewString(),
				SiloID:    siloID,
				Severity:  silo.SeverityWarning,
				Kind:      silo.KindHatchOpened,
				Message:   "silo opened: verify maintenance access",
				Value:     luxValue(r.Lux),
				SourceID:  ev.ID,
				Timestamp: r.Timestamp,
			})
		case prevState == silo.LuminosityOpen && newState == silo.LuminosityDark:
			// Closing is routine; record the event, raise nothing.
			events = append(events, d.newEvent(siloID, silo.EventHatchClosed, prevState, newState, prev, r))
		}
	}

	// Fire rule: the hardware flag is authoritative and independent of the
	// lux classification. Evaluated on every accepted reading.
	if r.LuminosityAlert != nil && *r.LuminosityAlert == 1 {
		alerts = append(alerts, silo.Alert{
			ID:        uuid.NewString(),
			SiloID:    siloID,
			Severity:  silo.SeverityCritical,
			Kind:      silo.KindFireHazard,
			Message:   "possible fire / light intrusion detected",
			Value:     luxValue(r.Lux),
			SourceID:  r.ID,
			Timestamp: r.Timestamp,
		})
	}

	alerts = append(alerts, d.checkBounds(cfg, siloID, r)...)

	for i := range events {
		if err := d.store.SaveEvent(ctx, &events[i]); err != nil {
			return nil, nil, err
		}
		d.publish(eventbus.TypeEventDetected, siloID, &events[i])
	}
	for i := range alerts {
		if err := d.store.SaveAlert(ctx, &alerts[i]); err != nil {
			return nil, nil, err
		}
		d.publish(eventbus.TypeAlertRaised, siloID, &alerts[i])
	}

	// State update last: a crash above leaves the previous state intact and
	// the whole detection re-runs identically on the next cycle.
	st := &silo.DerivedState{
		SiloID:        siloID,
		Luminosity:    newState,
		LastReadingID: r.ID,
		LastReadingAt: r.Timestamp,
		LastLux:       r.Lux,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := d.store.SaveDerivedState(ctx, st); err != nil {
		return nil, nil, err
	}

	if len(events) > 0 || len(alerts) > 0 {
		d.log.Info("detection produced output",
			logx.String("silo", siloID),
			logx.Int("events", len(events)),
			logx.Int("alerts", len(alerts)),
			logx.String("state", string(newState)))
	}
	return events, alerts, nil
}

// classify maps lux to a luminosity state. Inside the hysteresis band (or
// with no lux sensor at all) the previous state is kept.
func classify(lux *float64, prev silo.LuminosityState, dark, open float64) silo.LuminosityState {
	if lux == nil {
		return prev
	}
	switch {
	case *lux <= dark:
		return silo.LuminosityDark
	case *lux >= open:
		return silo.LuminosityOpen
	default:
		return prev
	}
}

func (d *Detector) newEvent(siloID, typ string, from, to silo.LuminosityState, prev *silo.DerivedState, r *silo.Reading) silo.Event {
	ev := silo.Event{
		ID:        uuid.NewString(),
		SiloID:    siloID,
		Type:      typ,
		From:      from,
		To:        to,
		Lux:       r.Lux,
		Timestamp: r.Timestamp,
	}
	if prev != nil {
		ev.PrevLux = prev.LastLux
	}
	return ev
}

func (d *Detector) checkBounds(cfg Config, siloID string, r *silo.Reading) []silo.Alert {
	bounds := cfg.Bounds[siloID]
	if len(bounds) == 0 {
		return nil
	}

	var out []silo.Alert
	check := func(quantity string, v float64) {
		sev := bounds[quantity].Check(v)
		if sev == "" {
			return
		}
		out = append(out, silo.Alert{
			ID:        uuid.NewString(),
			SiloID:    siloID,
			Severity:  sev,
			Kind:      silo.KindThreshold,
			Message:   fmt.Sprintf("%s out of range", quantity),
			Value:     fmt.Sprintf("%g", v),
			SourceID:  r.ID,
			Timestamp: r.Timestamp,
		})
	}

	check(QuantityTemperature, r.TempC)
	check(QuantityHumidity, r.RHPct)
	if r.CO2PPMEst != nil {
		check(QuantityGasEstimate, *r.CO2PPMEst)
	}
	if r.MQ2Raw != nil {
		check(QuantityGasRaw, float64(*r.MQ2Raw))
	}
	return out
}

func (d *Detector) publish(typ, siloID string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Silo: siloID, Data: data})
}

func luxValue(lux *float64) string {
	if lux == nil {
		return ""
	}
	return fmt.Sprintf("lux=%g", *lux)
}
