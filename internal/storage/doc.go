// Package storage is the durable alert store view behind the pipeline.
//
// It persists readings, derived states, silo events, alerts and delivery
// outcomes, and answers the "last reading" / "last derived state" lookups
// that deduplication and detection depend on.
package storage
