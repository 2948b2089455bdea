// Package events publishes run lifecycle events over NATS. The publisher
// is optional: a nil *Publisher is safe to call everywhere, so runs work
// unchanged with no broker configured.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"
)

const (
	SubjectGenerationDone = "redqueen.generation.done"
	SubjectRunDone        = "redqueen.run.done"
	SubjectSeedRetired    = "redqueen.seed.retired"
)

var propagator = propagation.TraceContext{}

// GenerationEvent summarizes one completed generation.
type GenerationEvent struct {
	RunID       string    `json:"run_id"`
	Generation  int       `json:"generation"`
	BestFitness float64   `json:"best_fitness"`
	Population  int       `json:"population"`
	Results     int       `json:"results"`
	Diversify   bool      `json:"diversify"`
	At          time.Time `json:"at"`
}

// RunEvent reports run termination.
type RunEvent struct {
	RunID       string    `json:"run_id"`
	Generations int       `json:"generations"`
	BestFitness float64   `json:"best_fitness"`
	Reason      string    `json:"reason"`
	At          time.Time `json:"at"`
}

// RetireEvent marks one seed leaving the live population.
type RetireEvent struct {
	RunID      string  `json:"run_id"`
	SeedID     string  `json:"seed_id"`
	Generation int     `json:"generation"`
	Fitness    float64 `json:"fitness"`
}

// Publisher publishes events with trace context injected into headers.
type Publisher struct {
	nc *nats.Conn
}

// Connect dials the broker. An empty URL returns a nil publisher, which
// disables publishing without branching at every call site.
func Connect(url, name string) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{nc: nc}, nil
}

func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Drain()
}

// publish injects traceparent into headers and publishes JSON.
func (p *Publisher) publish(ctx context.Context, subject string, payload any) error {
	if p == nil || p.nc == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	return p.nc.PublishMsg(&nats.Msg{Subject: subject, Data: data, Header: hdr})
}

func (p *Publisher) GenerationDone(ctx context.Context, ev GenerationEvent) error {
	ev.At = time.Now().UTC()
	return p.publish(ctx, SubjectGenerationDone, ev)
}

func (p *Publisher) RunDone(ctx context.Context, ev RunEvent) error {
	ev.At = time.Now().UTC()
	return p.publish(ctx, SubjectRunDone, ev)
}

func (p *Publisher) SeedRetired(ctx context.Context, ev RetireEvent) error {
	return p.publish(ctx, SubjectSeedRetired, ev)
}
