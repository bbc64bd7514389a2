// Package worker drains the projection outbox in the background so the read
// model converges even when synchronous applies fail.
package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tkarolak/cartledger/internal/cart/event"
)

// Defaults used when the config leaves a knob unset.
const (
	DefaultPollInterval = time.Second
	DefaultBatchSize    = 50
)

// OutboxProcessor claims due outbox rows and feeds them through apply.
type OutboxProcessor interface {
	ProcessOutbox(ctx context.Context, now time.Time, limit int, apply func(context.Context, event.Event) error) (int, error)
}

// Projector polls the outbox on an interval and applies claimed events to
// the read model.
type Projector struct {
	processor    OutboxProcessor
	apply        func(context.Context, event.Event) error
	pollInterval time.Duration
	batchSize    int
	logger       *log.Logger
}

// Config tunes the projector loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Logger       *log.Logger
}

// NewProjector builds a projector over the given outbox and apply function.
func NewProjector(processor OutboxProcessor, apply func(context.Context, event.Event) error, cfg Config) (*Projector, error) {
	if processor == nil {
		return nil, fmt.Errorf("outbox processor is required")
	}
	if apply == nil {
		return nil, fmt.Errorf("apply function is required")
	}
	p := &Projector{
		processor:    processor,
		apply:        apply,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		logger:       cfg.Logger,
	}
	if p.pollInterval <= 0 {
		p.pollInterval = DefaultPollInterval
	}
	if p.batchSize <= 0 {
		p.batchSize = DefaultBatchSize
	}
	if p.logger == nil {
		p.logger = log.Default()
	}
	return p, nil
}

// Run drains the outbox until the context is canceled. A full batch drains
// again immediately; otherwise the loop sleeps for the poll interval.
func (p *Projector) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		processed, err := p.Drain(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Printf("projection outbox drain failed: %v", err)
		}
		if processed >= p.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain processes one batch of due outbox rows and returns how many it touched.
func (p *Projector) Drain(ctx context.Context) (int, error) {
	return p.processor.ProcessOutbox(ctx, time.Now().UTC(), p.batchSize, p.apply)
}
