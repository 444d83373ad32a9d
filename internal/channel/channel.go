// Package channel holds one delivery adapter per notification medium.
//
// Adapters are registered in a name-keyed registry; the dispatcher iterates
// the registry, so adding a medium never touches dispatch logic. Adapters
// hold no per-silo mutable state and are safe for concurrent use.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"silowatch/internal/silo"
)

// Channel names.
const (
	NameEmail    = "email"
	NameSMS      = "sms"
	NameTelegram = "telegram"
	NamePush     = "push"
)

// ErrSkipped signals that the adapter had no recipient or credentials for
// this alert. The dispatcher records SKIPPED, not FAILED.
var ErrSkipped = errors.New("channel: no recipient configured")

// Recipient carries the per-silo delivery targets. Empty fields mean the
// corresponding channel is skipped for that silo.
type Recipient struct {
	TelegramChatID int64
	Email          string
	Phone          string
	PushURL        string
}

// Adapter translates an alert into a channel-specific message and attempts
// delivery. Implementations must never panic across the boundary; any
// upstream failure surfaces as an error.
type Adapter interface {
	Name() string
	Enabled() bool
	Deliver(ctx context.Context, a *silo.Alert, rcpt Recipient) error
}

// Registry is the channel lookup keyed by name. Registration happens at
// bootstrap; afterwards the registry is read-only.
type Registry struct {
	order    []string
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[string]Adapter{}}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	if _, dup := r.adapters[a.Name()]; !dup {
		r.order = append(r.order, a.Name())
	}
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// All returns adapters in registration order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}

// FormatMessage renders the operator-facing alert line:
//
//	[WARNING] silo-a: silo opened: verify maintenance access (lux=150)
func FormatMessage(a *silo.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", strings.ToUpper(string(a.Severity)), a.SiloID, a.Message)
	if a.Value != "" {
		fmt.Fprintf(&b, " (%s)", a.Value)
	}
	return b.String()
}
