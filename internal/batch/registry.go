// Package batch fans a list of flight mentions out to the task queue and streams the
// results back in completion order.
package batch

import (
	"errors"
	"sync"

	"github.com/briangreenhill/flightstream/internal/jobs"
)

var ErrDuplicateRequest = errors.New("request id already registered")

// Registry maps request ids to result channels of live batches
type Registry struct {
	mu      sync.Mutex
	batches map[string]chan jobs.Result
}

func NewRegistry() *Registry {
	return &Registry{batches: make(map[string]chan jobs.Result)}
}

// Register creates the result channel for a batch of size expected
func (r *Registry) Register(requestID string, expected int) (<-chan jobs.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.batches[requestID]; exists {
		return nil, ErrDuplicateRequest
	}
	ch := make(chan jobs.Result, expected)
	r.batches[requestID] = ch
	return ch, nil
}

// Deliver posts a result to a registered batch. It never blocks; results for
// unknown batches or beyond the batch size are dropped.
func (r *Registry) Deliver(requestID string, res jobs.Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.batches[requestID]
	if !ok {
		return false
	}
	select {
	case ch <- res:
		return true
	default:
		return false
	}
}

func (r *Registry) Deregister(requestID string) {
	r.mu.Lock()
	delete(r.batches, requestID)
	r.mu.Unlock()
}

// Len returns the number of registered batches
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}
