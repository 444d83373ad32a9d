// Package pipeline runs one full poll cycle per silo: fetch the latest
// feed entry, deduplicate it, derive events and alerts, and dispatch what
// was raised.
package pipeline

import (
	"context"

	"silowatch/internal/channel"
	"silowatch/internal/detect"
	"silowatch/internal/dispatch"
	"silowatch/internal/eventbus"
	"silowatch/internal/ingest"
	"silowatch/internal/livesock"
	"silowatch/internal/telemetry"
	"silowatch/pkg/logx"
)

// Feed identifies the upstream channel a silo publishes to.
type Feed struct {
	ChannelID int
	ReadKey   string
}

// Target is everything a cycle needs to know about one silo.
type Target struct {
	SiloID    string
	Feed      Feed
	Recipient channel.Recipient
}

type Pipeline struct {
	log        logx.Logger
	client     *telemetry.Client
	ingestor   *ingest.Ingestor
	detector   *detect.Detector
	dispatcher *dispatch.Dispatcher
	bus        eventbus.Bus
	hub        *livesock.Hub
}

func New(client *telemetry.Client, ing *ingest.Ingestor, det *detect.Detector, disp *dispatch.Dispatcher, bus eventbus.Bus, hub *livesock.Hub, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{
		log:        log,
		client:     client,
		ingestor:   ing,
		detector:   det,
		dispatcher: disp,
		bus:        bus,
		hub:        hub,
	}
}

// Cycle runs one poll for the target. A fetch or storage error is returned
// to the caller so the scheduler can track failure streaks; a rejected
// duplicate ends the cycle successfully with no further stages.
func (p *Pipeline) Cycle(ctx context.Context, t Target) error {
	r, err := p.client.FetchLatest(ctx, t.Feed.ChannelID, t.Feed.ReadKey)
	if err != nil {
		if p.bus != nil {
			p.bus.Publish(eventbus.Event{
				Type: eventbus.TypeFetchFailed,
				Silo: t.SiloID,
				Data: err.Error(),
			})
		}
		return err
	}

	decision, err := p.ingestor.Ingest(ctx, t.SiloID, r)
	if err != nil {
		return err
	}
	if decision != ingest.Accepted {
		return nil
	}
	if p.hub != nil {
		p.hub.Broadcast("reading", r)
	}

	events, alerts, err := p.detector.Detect(ctx, t.SiloID, r)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		p.log.Debug("cycle detected transitions",
			logx.String("silo", t.SiloID),
			logx.Int("events", len(events)))
	}

	for i := range alerts {
		if _, err := p.dispatcher.Dispatch(ctx, &alerts[i], t.Recipient); err != nil {
			p.log.Warn("alert dispatch failed",
				logx.String("silo", t.SiloID),
				logx.String("alert", alerts[i].ID),
				logx.Err(err))
		}
	}
	return nil
}
