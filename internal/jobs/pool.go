package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/flightstream/internal/metrics"
)

// DefaultQueueCapacity bounds the in-memory task queue
const DefaultQueueCapacity = 4096

var ErrQueueClosed = errors.New("task queue closed")

// Queue accepts tasks for asynchronous processing
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
}

// Handler processes a single task
type Handler interface {
	Process(ctx context.Context, t Task) Result
}

type PoolConfig struct {
	// Workers is the number of worker goroutines. Default: runtime.NumCPU()
	Workers int

	// Capacity bounds queued tasks; Enqueue blocks while the queue is full.
	// Default: DefaultQueueCapacity
	Capacity int

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Pool is a FIFO task queue consumed by a fixed set of workers
type Pool struct {
	handler Handler
	workers int
	tasks   chan Task
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool

	// idle is closed whenever pending is zero
	pmu     sync.Mutex
	pending int
	idle    chan struct{}

	running sync.WaitGroup
	started atomic.Bool
}

func NewPool(h Handler, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultQueueCapacity
	}
	idle := make(chan struct{})
	close(idle)
	return &Pool{
		handler: h,
		workers: cfg.Workers,
		tasks:   make(chan Task, cfg.Capacity),
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		idle:    idle,
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.workers; i++ {
		p.running.Add(1)
		go p.work(ctx, i)
	}
	p.log.Info().Int("workers", p.workers).Int("capacity", cap(p.tasks)).Msg("worker pool started")
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.running.Done()
	for t := range p.tasks {
		p.process(ctx, id, t)
	}
	p.log.Debug().Int("worker", id).Msg("worker stopped")
}

// process runs one task; a panicking handler still acknowledges it and keeps the worker alive
func (p *Pool) process(ctx context.Context, id int, t Task) {
	defer p.ack()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Int("worker", id).Str("request_id", t.RequestID).Str("flight", t.OriginalText).
				Interface("panic", r).Msg("worker error")
		}
	}()
	p.handler.Process(ctx, t)
}

func (p *Pool) add() {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	if p.pending == 0 {
		p.idle = make(chan struct{})
	}
	p.pending++
	p.metrics.SetQueuePending(p.pending)
}

// ack marks one task as done, whatever its outcome
func (p *Pool) ack() {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	p.pending--
	if p.pending == 0 {
		close(p.idle)
	}
	p.metrics.SetQueuePending(p.pending)
}

// Enqueue appends t to the queue, waiting for room until ctx is done
func (p *Pool) Enqueue(ctx context.Context, t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrQueueClosed
	}

	p.add()
	select {
	case p.tasks <- t:
		return nil
	case <-ctx.Done():
		p.ack()
		return fmt.Errorf("enqueue %s: %w", t.Spec, ctx.Err())
	}
}

// Pending returns the number of tasks enqueued and not yet acknowledged
func (p *Pool) Pending() int {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	return p.pending
}

// Drain waits until every enqueued task has been acknowledged
func (p *Pool) Drain(ctx context.Context) error {
	p.pmu.Lock()
	idle := p.idle
	p.pmu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks. Workers finish what is queued and then exit;
// Close waits for them until ctx is done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	if !p.started.Load() {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
