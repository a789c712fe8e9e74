package jobs

import (
	"encoding/json"
	"time"

	"github.com/briangreenhill/flightstream/internal/flight"
)

// ErrorKind tags a failed lookup
type ErrorKind string

const (
	KindResolutionFailed ErrorKind = "resolution_failed"
	KindFetchFailed      ErrorKind = "fetch_failed"
	KindInternal         ErrorKind = "internal"
	KindEnqueueFailed    ErrorKind = "enqueue_failed"
)

// Outcome is either Success or Failure
type Outcome interface {
	outcome()
}

type Success struct {
	Snapshot flight.Snapshot
}

type Failure struct {
	Kind    ErrorKind
	Message string
}

func (Success) outcome() {}
func (Failure) outcome() {}

// Result is the outcome of one task, addressed by the mention text it came from
type Result struct {
	OriginalText string
	ScrapedAt    time.Time
	Outcome      Outcome
}

func Succeeded(text string, at time.Time, snap flight.Snapshot) Result {
	return Result{OriginalText: text, ScrapedAt: at, Outcome: Success{Snapshot: snap}}
}

func Failed(text string, at time.Time, kind ErrorKind, msg string) Result {
	return Result{OriginalText: text, ScrapedAt: at, Outcome: Failure{Kind: kind, Message: msg}}
}

// OK reports whether the result carries a snapshot
func (r Result) OK() bool {
	_, ok := r.Outcome.(Success)
	return ok
}

type resultJSON struct {
	OriginalFlightNumber string           `json:"original_flight_number"`
	ScrapedAt            float64          `json:"scraped_at"`
	Status               string           `json:"status"`
	Snapshot             *flight.Snapshot `json:"snapshot,omitempty"`
	Error                *errorJSON       `json:"error,omitempty"`
}

type errorJSON struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// MarshalJSON encodes ScrapedAt as fractional unix seconds
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		OriginalFlightNumber: r.OriginalText,
		ScrapedAt:            float64(r.ScrapedAt.UnixMicro()) / 1e6,
	}
	switch o := r.Outcome.(type) {
	case Success:
		out.Status = "success"
		out.Snapshot = &o.Snapshot
	case Failure:
		out.Status = "error"
		out.Error = &errorJSON{Kind: o.Kind, Message: o.Message}
	default:
		out.Status = "error"
		out.Error = &errorJSON{Kind: KindInternal, Message: "missing outcome"}
	}
	return json.Marshal(out)
}
