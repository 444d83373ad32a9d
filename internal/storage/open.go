package storage

import (
	"context"
	"errors"
	"strings"

	"silowatch/internal/silo"
	logx "silowatch/pkg/logx"
)

// Store is the durable alert store view consumed by the pipeline.
//
// Every call is individually atomic. The pipeline does not require
// cross-call transactions: SaveReading followed by a crash before
// SaveDerivedState must leave the store in a state from which detection can
// recompute the same transition on restart.
type Store interface {
	// LastReading returns the most recent persisted reading for a silo, or
	// (nil, nil) if none exists yet.
	LastReading(ctx context.Context, siloID string) (*silo.Reading, error)
	SaveReading(ctx context.Context, r *silo.Reading) error

	// DerivedState returns the cached classification for a silo, or
	// (nil, nil) if the silo has no accepted readings yet.
	DerivedState(ctx context.Context, siloID string) (*silo.DerivedState, error)
	SaveDerivedState(ctx context.Context, st *silo.DerivedState) error

	SaveEvent(ctx context.Context, e *silo.Event) error
	SaveAlert(ctx context.Context, a *silo.Alert) error
	SaveOutcome(ctx context.Context, o *silo.DeliveryOutcome) error

	// RecentAlerts lists the newest alerts for a silo ("" means all silos).
	RecentAlerts(ctx context.Context, siloID string, limit int) ([]silo.Alert, error)
	AcknowledgeAlert(ctx context.Context, alertID string) error

	// UndeliveredAlerts returns alerts that have at least one failed
	// delivery outcome, no delivered outcome, and fewer than retryBudget
	// failed outcomes in total. Used by the re-notification sweep.
	UndeliveredAlerts(ctx context.Context, retryBudget, limit int) ([]silo.Alert, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
