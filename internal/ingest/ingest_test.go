package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silowatch/internal/eventbus"
	"silowatch/internal/silo"
	"silowatch/internal/storage"
	"silowatch/pkg/logx"
)

func newReading(ts time.Time, temp, rh float64) *silo.Reading {
	return &silo.Reading{Timestamp: ts, TempC: temp, RHPct: rh}
}

func TestIngestFirstReadingAccepted(t *testing.T) {
	store := storage.NewMemory()
	ing := New(Config{}, store, eventbus.New(), logx.Nop())

	r := newReading(time.Now(), 21.5, 60)
	dec, err := ing.Ingest(context.Background(), "silo-a", r)
	require.NoError(t, err)
	assert.Equal(t, Accepted, dec)
	assert.Equal(t, "silo-a", r.SiloID)
	assert.NotEmpty(t, r.ID)

	last, err := store.LastReading(context.Background(), "silo-a")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 21.5, last.TempC)
}

func TestIngestIdenticalReadingSuppressed(t *testing.T) {
	store := storage.NewMemory()
	ing := New(Config{MinInterval: time.Hour}, store, eventbus.New(), logx.Nop())
	ctx := context.Background()
	base := time.Now()

	_, err := ing.Ingest(ctx, "silo-a", newReading(base, 21.5, 60))
	require.NoError(t, err)

	dec, err := ing.Ingest(ctx, "silo-a", newReading(base.Add(5*time.Minute), 21.5, 60))
	require.NoError(t, err)
	assert.Equal(t, RejectedDuplicate, dec)

	// Nothing was persisted for the duplicate.
	last, err := store.LastReading(ctx, "silo-a")
	require.NoError(t, err)
	assert.Equal(t, base.Unix(), last.Timestamp.Unix())
}

func TestIngestChangedFieldAccepted(t *testing.T) {
	store := storage.NewMemory()
	ing := New(Config{MinInterval: time.Hour}, store, eventbus.New(), logx.Nop())
	ctx := context.Background()
	base := time.Now()

	_, err := ing.Ingest(ctx, "silo-a", newReading(base, 21.5, 60))
	require.NoError(t, err)

	dec, err := ing.Ingest(ctx, "silo-a", newReading(base.Add(time.Minute), 21.6, 60))
	require.NoError(t, err)
	assert.Equal(t, Accepted, dec)
}

func TestIngestOptionalSensorAppearingAccepted(t *testing.T) {
	store := storage.NewMemory()
	ing := New(Config{MinInterval: time.Hour}, store, eventbus.New(), logx.Nop())
	ctx := context.Background()
	base := time.Now()

	_, err := ing.Ingest(ctx, "silo-a", newReading(base, 21.5, 60))
	require.NoError(t, err)

	lux := 42.0
	r := newReading(base.Add(time.Minute), 21.5, 60)
	r.Lux = &lux
	dec, err := ing.Ingest(ctx, "silo-a", r)
	require.NoError(t, err)
	assert.Equal(t, Accepted, dec, "nil vs value counts as a change")
}

func TestIngestHeartbeatAfterMinInterval(t *testing.T) {
	store := storage.NewMemory()
	ing := New(Config{MinInterval: time.Hour}, store, eventbus.New(), logx.Nop())
	ctx := context.Background()
	base := time.Now()

	_, err := ing.Ingest(ctx, "silo-a", newReading(base, 21.5, 60))
	require.NoError(t, err)

	dec, err := ing.Ingest(ctx, "silo-a", newReading(base.Add(time.Hour), 21.5, 60))
	require.NoError(t, err)
	assert.Equal(t, Accepted, dec, "identical reading past the interval is a heartbeat")
}

func TestIngestPublishesBusEvents(t *testing.T) {
	store := storage.NewMemory()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	ing := New(Config{MinInterval: time.Hour}, store, bus, logx.Nop())
	ctx := context.Background()
	base := time.Now()

	_, err := ing.Ingest(ctx, "silo-a", newReading(base, 21.5, 60))
	require.NoError(t, err)
	_, err = ing.Ingest(ctx, "silo-a", newReading(base.Add(time.Minute), 21.5, 60))
	require.NoError(t, err)

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []string{eventbus.TypeReadingAccepted, eventbus.TypeReadingRejected}, types)
}
