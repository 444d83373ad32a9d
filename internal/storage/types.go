package storage

import (
	"time"
)

// Config configures the alert store view.
//
// Driver values:
//   - "sqlite": SQLite database file (default for deployments)
//   - "memory": volatile in-process store (tests, dry runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
