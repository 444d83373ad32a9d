// Package poller schedules the per-silo poll cadence and turns sustained
// fetch failures into an unreachable alert.
package poller

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"silowatch/internal/dispatch"
	"silowatch/internal/pipeline"
	"silowatch/internal/silo"
	"silowatch/internal/storage"
	"silowatch/pkg/logx"
)

const (
	// DefaultCadence mirrors the typical upstream feed update rate.
	DefaultCadence = 5 * time.Minute

	defaultCycleTimeout = 30 * time.Second

	// failureThreshold is how many consecutive failed cycles a silo gets
	// before it is reported unreachable.
	failureThreshold = 3
)

type Config struct {
	DefaultCadence time.Duration
	// Jitter spreads the first poll of each silo over [0, Jitter) so a
	// restart does not hit the upstream API with a burst.
	Jitter       time.Duration
	CycleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultCadence <= 0 {
		c.DefaultCadence = DefaultCadence
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = defaultCycleTimeout
	}
	return c
}

// Target is one scheduled silo. Zero Cadence falls back to the default.
type Target struct {
	pipeline.Target
	Cadence time.Duration
}

type entry struct {
	target  Target
	cronID  cron.EntryID
	kickoff *time.Timer

	mu         sync.Mutex
	running    bool
	failStreak int
}

// Poller owns the cron that drives poll cycles. One entry per silo;
// overlapping runs of the same silo are skipped, different silos run
// concurrently.
type Poller struct {
	log   logx.Logger
	cfg   Config
	pipe  *pipeline.Pipeline
	disp  *dispatch.Dispatcher
	store storage.Store

	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(cfg Config, pipe *pipeline.Pipeline, disp *dispatch.Dispatcher, store storage.Store, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{
		log:     log,
		cfg:     cfg.withDefaults(),
		pipe:    pipe,
		disp:    disp,
		store:   store,
		entries: map[string]*entry{},
	}
}

func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c != nil {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.c = cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	for _, e := range p.entries {
		p.scheduleLocked(e)
	}
	p.c.Start()
	p.log.Info("poller started", logx.Int("silos", len(p.entries)))
}

func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c == nil {
		return
	}
	p.cancel()
	for _, e := range p.entries {
		if e.kickoff != nil {
			e.kickoff.Stop()
			e.kickoff = nil
		}
		e.cronID = 0
	}
	<-p.c.Stop().Done()
	p.c = nil
	p.log.Info("poller stopped")
}

// Apply replaces the scheduled target set. Silos missing from targets are
// unscheduled, new ones are added, and changed cadences take effect on the
// next tick. Safe during hot reload.
func (p *Poller) Apply(targets []Target) {
	p.mu.Lock()
	defer p.mu.Unlock()

	want := make(map[string]Target, len(targets))
	for _, t := range targets {
		want[t.SiloID] = t
	}

	for id, e := range p.entries {
		t, ok := want[id]
		if ok && t.Cadence == e.target.Cadence && t.Feed == e.target.Feed {
			e.mu.Lock()
			e.target = t // recipients may have changed
			e.mu.Unlock()
			delete(want, id)
			continue
		}
		p.unscheduleLocked(e)
		delete(p.entries, id)
		if !ok {
			p.log.Info("silo unscheduled", logx.String("silo", id))
		}
	}

	for id, t := range want {
		e := &entry{target: t}
		p.entries[id] = e
		if p.c != nil {
			p.scheduleLocked(e)
		}
		p.log.Info("silo scheduled",
			logx.String("silo", id),
			logx.Duration("cadence", p.cadence(t)))
	}
}

func (p *Poller) cadence(t Target) time.Duration {
	if t.Cadence > 0 {
		return t.Cadence
	}
	return p.cfg.DefaultCadence
}

func (p *Poller) scheduleLocked(e *entry) {
	spec := "@every " + p.cadence(e.target).String()
	id, err := p.c.AddFunc(spec, func() { p.runCycle(e) })
	if err != nil {
		p.log.Error("silo schedule rejected",
			logx.String("silo", e.target.SiloID),
			logx.String("spec", spec),
			logx.Err(err))
		return
	}
	e.cronID = id

	// First poll happens shortly after scheduling instead of waiting a
	// full cadence, spread by jitter.
	delay := time.Duration(0)
	if p.cfg.Jitter > 0 {
		delay = time.Duration(rand.Int63n(int64(p.cfg.Jitter)))
	}
	e.kickoff = time.AfterFunc(delay, func() { p.runCycle(e) })
}

func (p *Poller) unscheduleLocked(e *entry) {
	if e.kickoff != nil {
		e.kickoff.Stop()
		e.kickoff = nil
	}
	if p.c != nil && e.cronID != 0 {
		p.c.Remove(e.cronID)
	}
	e.cronID = 0
}

func (p *Poller) runCycle(e *entry) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		p.log.Debug("cycle still running, tick skipped", logx.String("silo", e.target.SiloID))
		return
	}
	e.running = true
	target := e.target
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	p.mu.Lock()
	parent := p.ctx
	p.mu.Unlock()
	if parent == nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, p.cfg.CycleTimeout)
	defer cancel()

	err := p.pipe.Cycle(ctx, target.Target)

	e.mu.Lock()
	if err != nil {
		e.failStreak++
	} else {
		e.failStreak = 0
	}
	streak := e.failStreak
	e.mu.Unlock()

	if err != nil {
		p.log.Warn("poll cycle failed",
			logx.String("silo", target.SiloID),
			logx.Int("streak", streak),
			logx.Err(err))
		if streak == failureThreshold {
			p.raiseUnreachable(ctx, target, err)
		}
		return
	}
	if streak == 0 {
		p.log.Debug("poll cycle ok", logx.String("silo", target.SiloID))
	}
}

// raiseUnreachable fires exactly when the streak crosses the threshold, so
// a silo that stays down produces one alert, not one per tick.
func (p *Poller) raiseUnreachable(ctx context.Context, t Target, cause error) {
	a := &silo.Alert{
		ID:        uuid.NewString(),
		SiloID:    t.SiloID,
		Severity:  silo.SeverityWarning,
		Kind:      silo.KindUnreachable,
		Message:   "entity unreachable: repeated fetch failures",
		Value:     cause.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := p.store.SaveAlert(ctx, a); err != nil {
		p.log.Warn("unreachable alert not persisted", logx.String("silo", t.SiloID), logx.Err(err))
	}
	if _, err := p.disp.Dispatch(ctx, a, t.Recipient); err != nil {
		p.log.Warn("unreachable alert dispatch failed", logx.String("silo", t.SiloID), logx.Err(err))
	}
}
