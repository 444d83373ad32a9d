package config

import (
	"fmt"
	"strings"

	"silowatch/internal/silo"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage is the alert store view. Driver "sqlite" or "memory".
	Storage StorageConfig `json:"storage"`

	// Telemetry configures the upstream feed client.
	Telemetry TelemetryConfig `json:"telemetry"`

	// Dedup controls the duplicate-reading suppression rule.
	Dedup DedupConfig `json:"dedup,omitempty"`

	// Luminosity holds the dark/open lux thresholds used for hatch detection.
	Luminosity LuminosityConfig `json:"luminosity,omitempty"`

	Dispatch DispatchConfig `json:"dispatch,omitempty"`
	Channels ChannelsConfig `json:"channels,omitempty"`
	Livesock LivesockConfig `json:"livesock,omitempty"`
	Sweep    SweepConfig    `json:"sweep,omitempty"`

	// Silos maps a stable silo id to its feed, cadence, recipients and bounds.
	Silos map[string]SiloConfig `json:"silos"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./silowatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TelemetryConfig configures the upstream ThingSpeak-style source.
//
// All durations are Go duration strings (e.g. "10s", "5m").
type TelemetryConfig struct {
	// BaseURL of the feed API. Defaults to the public ThingSpeak endpoint.
	BaseURL string `json:"base_url,omitempty"`
	// Timeout bounds a single fetch. Default "10s".
	Timeout string `json:"timeout,omitempty"`
	// DefaultCadence applies to silos that don't set their own. Default "5m".
	DefaultCadence string `json:"default_cadence,omitempty"`
	// Jitter spreads the first tick of each silo. Default "30s".
	Jitter string `json:"jitter,omitempty"`
}

type DedupConfig struct {
	// MinInterval is the minimum elapsed time before an otherwise-identical
	// reading is persisted again. Default "5h".
	MinInterval string `json:"min_interval,omitempty"`
}

type LuminosityConfig struct {
	// DarkThreshold in lux; at or below it the silo is classified DARK.
	DarkThreshold *float64 `json:"dark_threshold,omitempty"`
	// OpenThreshold in lux; at or above it the silo is classified OPEN.
	OpenThreshold *float64 `json:"open_threshold,omitempty"`
}

// DispatchConfig controls the notification fanout.
type DispatchConfig struct {
	// RatePerSec caps deliveries per channel. Default 3.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// Timeout bounds one channel delivery. Default "10s".
	Timeout string `json:"timeout,omitempty"`
}

type ChannelsConfig struct {
	Email    EmailChannelConfig    `json:"email,omitempty"`
	SMS      SMSChannelConfig      `json:"sms,omitempty"`
	Telegram TelegramChannelConfig `json:"telegram,omitempty"`
	Push     PushChannelConfig     `json:"push,omitempty"`
}

type EmailChannelConfig struct {
	Enabled  bool   `json:"enabled"`
	SMTPHost string `json:"smtp_host,omitempty"`
	SMTPPort int    `json:"smtp_port,omitempty"`
	SMTPUser string `json:"smtp_user,omitempty"`
	SMTPPass string `json:"smtp_pass,omitempty"`
	From     string `json:"from,omitempty"`
}

type SMSChannelConfig struct {
	Enabled    bool   `json:"enabled"`
	AccountSID string `json:"account_sid,omitempty"`
	AuthToken  string `json:"auth_token,omitempty"`
	From       string `json:"from,omitempty"`
}

type TelegramChannelConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

type PushChannelConfig struct {
	Enabled bool `json:"enabled"`
}

type LivesockConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8090"
}

// SweepConfig controls the re-notification sweep over fully-failed alerts.
type SweepConfig struct {
	Enabled bool `json:"enabled"`
	// Interval between sweeps. Default "15m".
	Interval string `json:"interval,omitempty"`
	// MaxRetries per alert before it is left undelivered. Default 3.
	MaxRetries int `json:"max_retries,omitempty"`
}

// SiloConfig describes one monitored silo.
type SiloConfig struct {
	// ChannelID and ReadKey identify the upstream feed.
	ChannelID int    `json:"channel_id"`
	ReadKey   string `json:"read_key,omitempty"`

	// Cadence overrides telemetry.default_cadence for this silo.
	Cadence string `json:"cadence,omitempty"`

	Recipients RecipientsConfig `json:"recipients,omitempty"`

	// Bounds per measured quantity: "temperature", "humidity",
	// "gas_estimate", "gas_raw".
	Bounds map[string]*silo.Bounds `json:"bounds,omitempty"`
}

// RecipientsConfig carries the per-silo delivery targets, one per channel.
// An empty field means the channel is skipped for this silo.
type RecipientsConfig struct {
	TelegramChatID int64  `json:"telegram_chat_id,omitempty"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	// PushURL is a shoutrrr service URL (e.g. "ntfy://host/topic").
	PushURL string `json:"push_url,omitempty"`
}

// Validate rejects configs the pipeline cannot start with.
func (c *Config) Validate() error {
	if len(c.Silos) == 0 {
		return fmt.Errorf("config: at least one silo is required")
	}
	for id, sc := range c.Silos {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("config: silo id must not be blank")
		}
		if sc.ChannelID <= 0 {
			return fmt.Errorf("config: silo %q: channel_id is required", id)
		}
		if _, err := ParseDurationField("silos."+id+".cadence", sc.Cadence); err != nil {
			return err
		}
	}
	if c.Luminosity.DarkThreshold != nil && c.Luminosity.OpenThreshold != nil &&
		*c.Luminosity.DarkThreshold >= *c.Luminosity.OpenThreshold {
		return fmt.Errorf("config: luminosity.dark_threshold must be below open_threshold")
	}
	for _, field := range []struct {
		path string
		raw  string
	}{
		{"telemetry.timeout", c.Telemetry.Timeout},
		{"telemetry.default_cadence", c.Telemetry.DefaultCadence},
		{"telemetry.jitter", c.Telemetry.Jitter},
		{"dedup.min_interval", c.Dedup.MinInterval},
		{"dispatch.timeout", c.Dispatch.Timeout},
		{"sweep.interval", c.Sweep.Interval},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}
	return nil
}
