// Package ingest decides whether a freshly fetched reading carries new
// information and is worth persisting.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"silowatch/internal/eventbus"
	"silowatch/internal/silo"
	"silowatch/internal/storage"
	logx "silowatch/pkg/logx"
)

// DefaultMinInterval is the heartbeat floor for identical readings: an
// unchanged reading is persisted again only after this much time, so the
// record shows "still alive, unchanged" instead of going silent.
const DefaultMinInterval = 18000 * time.Second

type Decision int

const (
	Accepted Decision = iota
	RejectedDuplicate
)

func (d Decision) String() string {
	if d == Accepted {
		return "accepted"
	}
	return "rejected_duplicate"
}

type Config struct {
	// MinInterval is the minimum elapsed time before an otherwise-identical
	// reading is persisted again. Zero means DefaultMinInterval.
	MinInterval time.Duration
}

type Ingestor struct {
	store       storage.Store
	bus         eventbus.Bus
	log         logx.Logger
	minInterval time.Duration
}

func New(cfg Config, store storage.Store, bus eventbus.Bus, log logx.Logger) *Ingestor {
	min := cfg.MinInterval
	if min <= 0 {
		min = DefaultMinInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ingestor{
		store:       store,
		bus:         bus,
		log:         log,
		minInterval: min,
	}
}

// Ingest applies the dedup rule and, on acceptance, persists the reading.
//
// Rules, in order:
//   - first-ever reading for the silo: accepted
//   - any relevant field differs from the last persisted reading: accepted
//   - all fields identical and elapsed >= min interval: accepted (heartbeat)
//   - otherwise: rejected, nothing persisted
//
// A storage error aborts the cycle; the next tick retries from a clean read.
func (i *Ingestor) Ingest(ctx context.Context, siloID string, r *silo.Reading) (Decision, error) {
	last, err := i.store.LastReading(ctx, siloID)
	if err != nil {
		return RejectedDuplicate, err
	}

	if last != nil && r.SameValues(last) {
		elapsed := r.Timestamp.Sub(last.Timestamp)
		if elapsed < i.minInterval {
			i.log.Debug("duplicate reading suppressed",
				logx.String("silo", siloID),
				logx.Duration("elapsed", elapsed),
				logx.Duration("min_interval", i.minInterval))
			i.publish(eventbus.TypeReadingRejected, siloID, r)
			return RejectedDuplicate, nil
		}
	}

	r.SiloID = siloID
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := i.store.SaveReading(ctx, r); err != nil {
		return RejectedDuplicate, err
	}

	i.log.Debug("reading accepted",
		logx.String("silo", siloID),
		logx.Time("ts", r.Timestamp),
		logx.Float64("temp_c", r.TempC),
		logx.Float64("rh_pct", r.RHPct))
	i.publish(eventbus.TypeReadingAccepted, siloID, r)
	return Accepted, nil
}

func (i *Ingestor) publish(typ, siloID string, r *silo.Reading) {
	if i.bus == nil {
		return
	}
	i.bus.Publish(eventbus.Event{Type: typ, Silo: siloID, Data: r})
}
