package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/briangreenhill/flightstream/internal/metrics"
)

// DefaultRefreshConcurrency bounds concurrently running background refreshes
const DefaultRefreshConcurrency = 16

// Refresher runs background refresh jobs. At most one job per key is pending at a time
// and at most limit jobs run concurrently. Jobs run on the Refresher's own context,
// which Close cancels.
type Refresher struct {
	sem     *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc
	log     zerolog.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
}

// NewRefresher creates a scheduler running up to limit jobs at once
func NewRefresher(limit int64, log zerolog.Logger, m *metrics.Metrics) *Refresher {
	if limit <= 0 {
		limit = DefaultRefreshConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Refresher{
		sem:      semaphore.NewWeighted(limit),
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
		metrics:  m,
		inflight: make(map[string]struct{}),
	}
}

// Submit schedules job for key without blocking. It returns false when a job for key is
// already pending or the Refresher is closed.
func (r *Refresher) Submit(key string, job func(ctx context.Context) error) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if _, busy := r.inflight[key]; busy {
		r.mu.Unlock()
		r.metrics.Refresh("deduplicated")
		return false
	}
	r.inflight[key] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(key, job)
	return true
}

func (r *Refresher) run(key string, job func(ctx context.Context) error) {
	defer r.wg.Done()
	defer r.done(key)

	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		r.metrics.Refresh("cancelled")
		return
	}
	defer r.sem.Release(1)

	if err := r.safely(job); err != nil {
		r.metrics.Refresh("failed")
		r.log.Warn().Err(err).Str("key", key).Msg("background refresh failed")
		return
	}
	r.metrics.Refresh("ok")
}

func (r *Refresher) safely(job func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("refresh panic: %v", p)
		}
	}()
	return job(r.ctx)
}

func (r *Refresher) done(key string) {
	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()
}

// InFlight returns the number of pending or running jobs
func (r *Refresher) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// Wait blocks until every submitted job has finished
func (r *Refresher) Wait() {
	r.wg.Wait()
}

// Close rejects new jobs, cancels running ones and waits for them to return
func (r *Refresher) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}
