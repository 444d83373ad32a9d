package poller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silowatch/internal/channel"
	"silowatch/internal/detect"
	"silowatch/internal/dispatch"
	"silowatch/internal/eventbus"
	"silowatch/internal/ingest"
	"silowatch/internal/pipeline"
	"silowatch/internal/silo"
	"silowatch/internal/storage"
	"silowatch/internal/telemetry"
	"silowatch/pkg/logx"
)

type sinkAdapter struct {
	mu     sync.Mutex
	alerts []silo.Alert
}

func (s *sinkAdapter) Name() string  { return "sink" }
func (s *sinkAdapter) Enabled() bool { return true }
func (s *sinkAdapter) Deliver(_ context.Context, a *silo.Alert, _ channel.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, *a)
	return nil
}

func (s *sinkAdapter) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a.Kind)
	}
	return out
}

func newTestPoller(t *testing.T, baseURL string) (*Poller, *sinkAdapter, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	bus := eventbus.New()
	sink := &sinkAdapter{}

	client := telemetry.NewClient(telemetry.Config{BaseURL: baseURL, Timeout: time.Second}, logx.Nop())
	ing := ingest.New(ingest.Config{}, store, bus, logx.Nop())
	det := detect.New(detect.Config{}, store, bus, logx.Nop())
	disp := dispatch.New(dispatch.Config{RatePerSec: 1000}, channel.NewRegistry(sink), store, bus, nil, logx.Nop())
	pipe := pipeline.New(client, ing, det, disp, bus, nil, logx.Nop())

	p := New(Config{DefaultCadence: time.Second, CycleTimeout: 2 * time.Second}, pipe, disp, store, logx.Nop())
	return p, sink, store
}

func target(id string) Target {
	return Target{Target: pipeline.Target{SiloID: id, Feed: pipeline.Feed{ChannelID: 1}}}
}

func TestApplyAddsAndRemovesEntries(t *testing.T) {
	p, _, _ := newTestPoller(t, "http://127.0.0.1:0")

	p.Apply([]Target{target("silo-a"), target("silo-b")})
	assert.Len(t, p.entries, 2)

	p.Apply([]Target{target("silo-b")})
	assert.Len(t, p.entries, 1)
	_, ok := p.entries["silo-b"]
	assert.True(t, ok)

	p.Apply(nil)
	assert.Empty(t, p.entries)
}

func TestApplyReschedulesOnCadenceChange(t *testing.T) {
	p, _, _ := newTestPoller(t, "http://127.0.0.1:0")

	p.Apply([]Target{target("silo-a")})
	first := p.entries["silo-a"]

	changed := target("silo-a")
	changed.Cadence = time.Minute
	p.Apply([]Target{changed})

	second := p.entries["silo-a"]
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.Equal(t, time.Minute, second.target.Cadence)
}

func TestUnreachableAlertAfterFailureStreak(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	p, sink, store := newTestPoller(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	defer p.Stop()
	p.Apply([]Target{target("silo-a")})

	// Kickoff plus two cron ticks at 1s cadence cross the threshold.
	require.Eventually(t, func() bool {
		alerts, err := store.RecentAlerts(context.Background(), "silo-a", 10)
		return err == nil && len(alerts) == 1
	}, 10*time.Second, 100*time.Millisecond, "expected exactly one unreachable alert")

	alerts, err := store.RecentAlerts(context.Background(), "silo-a", 10)
	require.NoError(t, err)
	assert.Equal(t, silo.KindUnreachable, alerts[0].Kind)
	assert.Equal(t, silo.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, []string{silo.KindUnreachable}, sink.kinds())
}

func TestRecoveryResetsStreak(t *testing.T) {
	var mu sync.Mutex
	fail := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"feeds":[{"created_at":"2026-08-30T12:00:00Z","field1":"20","field2":"55"}]}`))
	}))
	defer srv.Close()

	p, _, store := newTestPoller(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	defer p.Stop()
	p.Apply([]Target{target("silo-a")})

	// One failed kickoff, then the feed recovers before the threshold.
	time.Sleep(500 * time.Millisecond)
	mu.Lock()
	fail = false
	mu.Unlock()

	require.Eventually(t, func() bool {
		r, err := store.LastReading(context.Background(), "silo-a")
		return err == nil && r != nil
	}, 10*time.Second, 100*time.Millisecond)

	alerts, err := store.RecentAlerts(context.Background(), "silo-a", 10)
	require.NoError(t, err)
	assert.Empty(t, alerts, "streak reset before reaching the threshold")
}
