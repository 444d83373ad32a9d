package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
logging:
  level: DEBUG
  console: true
storage:
  driver: memory
telemetry:
  default_cadence: 5m
dedup:
  min_interval: 5h
luminosity:
  dark_threshold: 10
  open_threshold: 100
channels:
  email:
    enabled: true
    smtp_host: mail.example.com
    smtp_port: 587
silos:
  silo-a:
    channel_id: 123
    read_key: secret
    cadence: 2m
    recipients:
      email: ops@example.com
      telegram_chat_id: 42
    bounds:
      temperature:
        soft_max: 30
        hard_max: 40
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValidYAML(t *testing.T) {
	m := NewConfigManager(writeConfig(t, validYAML))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	require.Contains(t, cfg.Silos, "silo-a")
	sc := cfg.Silos["silo-a"]
	assert.Equal(t, 123, sc.ChannelID)
	assert.Equal(t, "2m", sc.Cadence)
	assert.Equal(t, int64(42), sc.Recipients.TelegramChatID)
	require.Contains(t, sc.Bounds, "temperature")
	require.NotNil(t, sc.Bounds["temperature"].HardMax)
	assert.Equal(t, 40.0, *sc.Bounds["temperature"].HardMax)

	assert.Same(t, cfg, m.Get())
}

func TestParseRejectsUnknownField(t *testing.T) {
	m := NewConfigManager(writeConfig(t, validYAML+"\nnonsense_key: 1\n"))
	_, err := m.Load()
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no silos", `
storage:
  driver: memory
silos: {}
`},
		{"missing channel id", `
silos:
  silo-a:
    read_key: secret
`},
		{"bad cadence", `
silos:
  silo-a:
    channel_id: 1
    cadence: soon
`},
		{"inverted thresholds", `
luminosity:
  dark_threshold: 200
  open_threshold: 100
silos:
  silo-a:
    channel_id: 1
`},
		{"bad sweep interval", `
sweep:
  interval: never
silos:
  silo-a:
    channel_id: 1
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewConfigManager(writeConfig(t, tc.yaml))
			_, err := m.Load()
			assert.Error(t, err)
		})
	}
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("x", " 90s ")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = ParseDurationField("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDurationField("x", "-5s")
	assert.Error(t, err)
	_, err = ParseDurationField("x", "fast")
	assert.Error(t, err)

	d, err = ParseDurationOrDefault("x", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}

func TestWatchPublishesOnChange(t *testing.T) {
	path := writeConfig(t, validYAML)
	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	updated := []byte(validYAML + "\nsweep:\n  enabled: true\n  interval: 1m\n")
	require.NoError(t, os.WriteFile(path, updated, 0o600))

	select {
	case cfg := <-sub:
		assert.True(t, cfg.Sweep.Enabled)
	case <-time.After(3 * time.Second):
		t.Fatal("no config publish after file change")
	}
}
