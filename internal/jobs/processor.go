package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/flightstream/internal/flight"
	"github.com/briangreenhill/flightstream/internal/metrics"
)

// Resolver maps a flight number to an ident
type Resolver interface {
	Resolve(ctx context.Context, flightNumber string) (string, error)
}

// Fetcher returns a snapshot for an ident
type Fetcher interface {
	Fetch(ctx context.Context, ident string, at time.Time) (*flight.Snapshot, error)
}

// Sink receives results. Deliver returns false when the batch is gone.
type Sink interface {
	Deliver(requestID string, r Result) bool
}

// Processor turns a Task into a Result and hands it to the Sink
type Processor struct {
	idents    Resolver
	snapshots Fetcher
	sink      Sink
	now       func() time.Time
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

type ProcessorConfig struct {
	Now     func() time.Time
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

func NewProcessor(idents Resolver, snapshots Fetcher, sink Sink, cfg ProcessorConfig) *Processor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Processor{
		idents:    idents,
		snapshots: snapshots,
		sink:      sink,
		now:       cfg.Now,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Process runs the task and delivers its result. It never panics.
func (p *Processor) Process(ctx context.Context, t Task) Result {
	res := p.run(ctx, t)
	if res.OK() {
		p.metrics.Task("success")
	} else {
		p.metrics.Task(string(res.Outcome.(Failure).Kind))
	}

	if !p.sink.Deliver(t.RequestID, res) {
		p.metrics.ResultDropped()
		p.log.Debug().Str("request_id", t.RequestID).Str("flight", t.OriginalText).Msg("batch gone, result dropped")
	}
	return res
}

func (p *Processor) run(ctx context.Context, t Task) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("request_id", t.RequestID).Str("flight", t.OriginalText).Interface("panic", r).Msg("worker error")
			res = Failed(t.OriginalText, p.now(), KindInternal, fmt.Sprintf("An unexpected error occurred: %v", r))
		}
	}()

	ident, err := p.idents.Resolve(ctx, t.Spec.FlightNumber)
	if err != nil {
		p.log.Warn().Err(err).Str("flight", t.Spec.FlightNumber).Msg("ident resolution failed")
		return Failed(t.OriginalText, p.now(), KindResolutionFailed, "Flight not found or could not be resolved.")
	}

	snap, err := p.snapshots.Fetch(ctx, ident, t.Spec.Instant)
	if err == nil && snap == nil {
		err = flight.ErrNotFound
	}
	if err != nil {
		p.log.Warn().Err(err).Str("ident", ident).Msg("snapshot fetch failed")
		return Failed(t.OriginalText, p.now(), KindFetchFailed, "Flight data not found or could not be scraped.")
	}
	return Succeeded(t.OriginalText, p.now(), *snap)
}
