package silo

import (
	"time"
)

// LuminosityState classifies the light environment inside a silo.
type LuminosityState string

const (
	LuminosityUnknown LuminosityState = "UNKNOWN"
	LuminosityDark    LuminosityState = "DARK"
	LuminosityOpen    LuminosityState = "OPEN"
)

// Severity of an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event types for detected state transitions.
const (
	EventHatchOpened = "hatch_opened"
	EventHatchClosed = "hatch_closed"
)

// Alert kinds.
const (
	KindHatchOpened   = "hatch_opened"
	KindFireHazard    = "fire_hazard"
	KindThreshold     = "threshold"
	KindUnreachable   = "entity_unreachable"
	KindChannelOutage = "channel_outage"
)

// Reading is one immutable sensor sample for a silo.
//
// Optional sensors (gas, luminosity) are pointers so "sensor absent" is
// distinguishable from a zero measurement. Pointer fields participate in
// dedup comparison as nil-vs-value, matching the upstream feed semantics.
type Reading struct {
	ID        string    `json:"id"`
	SiloID    string    `json:"silo_id"`
	Timestamp time.Time `json:"timestamp"`

	TempC     float64  `json:"temp_c"`
	RHPct     float64  `json:"rh_pct"`
	CO2PPMEst *float64 `json:"co2_ppm_est,omitempty"`
	MQ2Raw    *int     `json:"mq2_raw,omitempty"`

	// LuminosityAlert is the hardware light-intrusion flag (field5).
	// It is authoritative for the fire condition; Lux drives only the
	// open/dark classification.
	LuminosityAlert *int     `json:"luminosity_alert,omitempty"`
	Lux             *float64 `json:"lux,omitempty"`
}

// SameValues reports whether two readings carry identical values in every
// field relevant for deduplication (everything except ID and Timestamp).
func (r *Reading) SameValues(other *Reading) bool {
	if other == nil {
		return false
	}
	return r.TempC == other.TempC &&
		r.RHPct == other.RHPct &&
		eqFloatPtr(r.CO2PPMEst, other.CO2PPMEst) &&
		eqIntPtr(r.MQ2Raw, other.MQ2Raw) &&
		eqIntPtr(r.LuminosityAlert, other.LuminosityAlert) &&
		eqFloatPtr(r.Lux, other.Lux)
}

func eqFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func eqIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// DerivedState is the cached per-silo classification, updated after every
// accepted reading. Single writer per silo; the pipeline serializes cycles
// per entity so this never races with itself.
type DerivedState struct {
	SiloID        string          `json:"silo_id"`
	Luminosity    LuminosityState `json:"luminosity"`
	LastReadingID string          `json:"last_reading_id"`
	LastReadingAt time.Time       `json:"last_reading_at"`
	// LastLux snapshots the lux value of the last accepted reading, so
	// transition events can report the before/after pair.
	LastLux   *float64  `json:"last_lux,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is a detected transition between derived states. Immutable.
type Event struct {
	ID        string          `json:"id"`
	SiloID    string          `json:"silo_id"`
	Type      string          `json:"event_type"`
	From      LuminosityState `json:"from_state"`
	To        LuminosityState `json:"to_state"`
	PrevLux   *float64        `json:"prev_lux,omitempty"`
	Lux       *float64        `json:"lux,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Alert is an actionable notice derived from a reading or event.
// Immutable once dispatched; only Acknowledged may change afterwards.
type Alert struct {
	ID           string    `json:"id"`
	SiloID       string    `json:"silo_id"`
	Severity     Severity  `json:"severity"`
	Kind         string    `json:"kind"`
	Message      string    `json:"message"`
	Value        string    `json:"value,omitempty"`
	SourceID     string    `json:"source_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
}

// Delivery statuses.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliverySkipped   DeliveryStatus = "skipped"
)

// DeliveryOutcome is the per-channel result of one dispatch attempt.
type DeliveryOutcome struct {
	ID          string         `json:"id"`
	AlertID     string         `json:"alert_id"`
	Channel     string         `json:"channel"`
	Status      DeliveryStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	AttemptedAt time.Time      `json:"attempted_at"`
}

// Bounds holds per-quantity soft and hard limits. Nil means "no limit".
// A soft breach classifies as warning, a hard breach as critical.
type Bounds struct {
	SoftMin *float64 `json:"soft_min,omitempty"`
	SoftMax *float64 `json:"soft_max,omitempty"`
	HardMin *float64 `json:"hard_min,omitempty"`
	HardMax *float64 `json:"hard_max,omitempty"`
}

// Check classifies a value against the bounds. Returns the severity of the
// worst breach, or "" if the value is in range.
func (b *Bounds) Check(v float64) Severity {
	if b == nil {
		return ""
	}
	if (b.HardMin != nil && v < *b.HardMin) || (b.HardMax != nil && v > *b.HardMax) {
		return SeverityCritical
	}
	if (b.SoftMin != nil && v < *b.SoftMin) || (b.SoftMax != nil && v > *b.SoftMax) {
		return SeverityWarning
	}
	return ""
}
