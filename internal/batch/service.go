package batch

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/flightstream/internal/flightspec"
	"github.com/briangreenhill/flightstream/internal/jobs"
	"github.com/briangreenhill/flightstream/internal/metrics"
)

// DefaultItemTimeout bounds the wait for each next result of a batch
const DefaultItemTimeout = 8 * time.Minute

const (
	TypeFlightData  = "flight_data"
	TypeEnd         = "end"
	StatusCompleted = "completed"
)

// Record is one line of a batch stream
type Record struct {
	Type         string       `json:"type"`
	RequestID    string       `json:"request_id"`
	FlightNumber string       `json:"flight_number,omitempty"`
	Status       string       `json:"status"`
	Result       *jobs.Result `json:"result,omitempty"`
}

type Config struct {
	// ItemTimeout bounds the wait for each result. Default: 8 minutes
	ItemTimeout time.Duration

	Parser  *flightspec.Parser
	NewID   func() string
	Now     func() time.Time
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Service runs batches of flight lookups
type Service struct {
	registry    *Registry
	queue       jobs.Queue
	itemTimeout time.Duration
	parser      *flightspec.Parser
	newID       func() string
	now         func() time.Time
	log         zerolog.Logger
	metrics     *metrics.Metrics
}

func NewService(registry *Registry, queue jobs.Queue, cfg Config) *Service {
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = DefaultItemTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Parser == nil {
		cfg.Parser = flightspec.NewParser(cfg.Now)
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Service{
		registry:    registry,
		queue:       queue,
		itemTimeout: cfg.ItemTimeout,
		parser:      cfg.Parser,
		newID:       cfg.NewID,
		now:         cfg.Now,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// Plan turns raw mentions into tasks for requestID. Each mention contributes its first
// recognized flight spec; mentions with none are dropped.
func (s *Service) Plan(requestID string, mentions []string) []jobs.Task {
	tasks := make([]jobs.Task, 0, len(mentions))
	for _, m := range mentions {
		text := strings.TrimSpace(m)
		if text == "" {
			continue
		}
		spec, ok := s.parser.First(text)
		if !ok {
			s.log.Debug().Str("mention", text).Msg("no flight recognized, skipping")
			continue
		}
		tasks = append(tasks, jobs.Task{RequestID: requestID, OriginalText: text, Spec: spec})
	}
	return tasks
}

// Stream runs one batch when iterated. Results are yielded in completion order followed
// by a single end record. The batch is registered only while the iteration runs.
func (s *Service) Stream(ctx context.Context, mentions []string) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		requestID := s.newID()
		log := s.log.With().Str("request_id", requestID).Logger()
		tasks := s.Plan(requestID, mentions)
		start := s.now()

		var stopped, inYield bool
		emit := func(r Record) bool {
			inYield = true
			ok := yield(r)
			inYield = false
			if !ok {
				stopped = true
			}
			return ok
		}

		results, err := s.registry.Register(requestID, len(tasks))
		if err != nil {
			log.Error().Err(err).Msg("batch registration failed")
			emit(endRecord(requestID))
			return
		}
		defer s.registry.Deregister(requestID)

		received := 0
		defer func() {
			p := recover()
			if p != nil && inYield {
				panic(p)
			}
			if p != nil {
				log.Error().Interface("panic", p).Msg("batch stream failed")
			}
			log.Info().Int("expected", len(tasks)).Int("received", received).Dur("took", s.now().Sub(start)).Msg("batch finished")
			if !stopped {
				emit(endRecord(requestID))
			}
		}()

		log.Info().Int("mentions", len(mentions)).Int("tasks", len(tasks)).Msg("batch started")
		s.enqueue(ctx, requestID, tasks, log)

		timer := time.NewTimer(s.itemTimeout)
		defer timer.Stop()
		for received < len(tasks) {
			timer.Reset(s.itemTimeout)
			select {
			case res := <-results:
				received++
				if !emit(dataRecord(requestID, res)) {
					return
				}
			case <-timer.C:
				s.metrics.BatchTimeout()
				log.Warn().Int("expected", len(tasks)).Int("received", received).Msg("timed out waiting for results")
				return
			case <-ctx.Done():
				log.Warn().Err(ctx.Err()).Int("received", received).Msg("batch cancelled")
				return
			}
		}
	}
}

// enqueue submits every task; a task that cannot be queued is answered with an error
// result so the batch still yields one record per task
func (s *Service) enqueue(ctx context.Context, requestID string, tasks []jobs.Task, log zerolog.Logger) {
	for _, t := range tasks {
		if err := s.queue.Enqueue(ctx, t); err != nil {
			log.Error().Err(err).Str("flight", t.OriginalText).Msg("enqueue failed")
			s.registry.Deliver(requestID, jobs.Failed(t.OriginalText, s.now(), jobs.KindEnqueueFailed, "Could not queue flight lookup."))
		}
	}
}

func dataRecord(requestID string, res jobs.Result) Record {
	return Record{
		Type:         TypeFlightData,
		RequestID:    requestID,
		FlightNumber: res.OriginalText,
		Status:       StatusCompleted,
		Result:       &res,
	}
}

func endRecord(requestID string) Record {
	return Record{Type: TypeEnd, RequestID: requestID, Status: StatusCompleted}
}
