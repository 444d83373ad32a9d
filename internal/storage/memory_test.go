package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silowatch/internal/silo"
)

func outcome(alertID string, status silo.DeliveryStatus) *silo.DeliveryOutcome {
	return &silo.DeliveryOutcome{
		ID:          alertID + "-" + string(status),
		AlertID:     alertID,
		Channel:     "sms",
		Status:      status,
		AttemptedAt: time.Now(),
	}
}

func TestLastReadingEmpty(t *testing.T) {
	s := NewMemory()
	r, err := s.LastReading(context.Background(), "silo-a")
	require.NoError(t, err)
	assert.Nil(t, r)

	st, err := s.DerivedState(context.Background(), "silo-a")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestSaveReadingDeduplicatesByTimestamp(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	ts := time.Now()

	require.NoError(t, s.SaveReading(ctx, &silo.Reading{ID: "r1", SiloID: "silo-a", Timestamp: ts, TempC: 20}))
	require.NoError(t, s.SaveReading(ctx, &silo.Reading{ID: "r2", SiloID: "silo-a", Timestamp: ts, TempC: 25}))

	last, err := s.LastReading(ctx, "silo-a")
	require.NoError(t, err)
	assert.Equal(t, "r1", last.ID, "second insert at the same (silo, ts) is a no-op")
}

func TestUndeliveredAlerts(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	now := time.Now()

	mk := func(id string, ts time.Time) {
		require.NoError(t, s.SaveAlert(ctx, &silo.Alert{ID: id, SiloID: "silo-a", Timestamp: ts}))
	}
	mk("a-failed", now.Add(-3*time.Minute))
	mk("a-recovered", now.Add(-2*time.Minute))
	mk("a-exhausted", now.Add(-1*time.Minute))
	mk("a-untried", now)

	require.NoError(t, s.SaveOutcome(ctx, outcome("a-failed", silo.DeliveryFailed)))

	require.NoError(t, s.SaveOutcome(ctx, outcome("a-recovered", silo.DeliveryFailed)))
	require.NoError(t, s.SaveOutcome(ctx, outcome("a-recovered", silo.DeliveryDelivered)))

	for range 3 {
		o := outcome("a-exhausted", silo.DeliveryFailed)
		o.ID = o.ID + time.Now().String()
		require.NoError(t, s.SaveOutcome(ctx, o))
	}

	pending, err := s.UndeliveredAlerts(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a-failed", pending[0].ID)
}

func TestRecentAlertsAndAcknowledge(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveAlert(ctx, &silo.Alert{ID: "old", SiloID: "silo-a", Timestamp: now.Add(-time.Hour)}))
	require.NoError(t, s.SaveAlert(ctx, &silo.Alert{ID: "new", SiloID: "silo-a", Timestamp: now}))
	require.NoError(t, s.SaveAlert(ctx, &silo.Alert{ID: "other", SiloID: "silo-b", Timestamp: now}))

	got, err := s.RecentAlerts(ctx, "silo-a", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID, "newest first")

	all, err := s.RecentAlerts(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.AcknowledgeAlert(ctx, "new"))
	got, err = s.RecentAlerts(ctx, "silo-a", 10)
	require.NoError(t, err)
	assert.True(t, got[0].Acknowledged)

	assert.Error(t, s.AcknowledgeAlert(ctx, "missing"))
}

func TestDerivedStateRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	lux := 150.0

	require.NoError(t, s.SaveDerivedState(ctx, &silo.DerivedState{
		SiloID:        "silo-a",
		Luminosity:    silo.LuminosityOpen,
		LastReadingID: "r1",
		LastReadingAt: time.Now(),
		LastLux:       &lux,
		UpdatedAt:     time.Now(),
	}))

	st, err := s.DerivedState(ctx, "silo-a")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, silo.LuminosityOpen, st.Luminosity)
	require.NotNil(t, st.LastLux)
	assert.Equal(t, 150.0, *st.LastLux)
}
