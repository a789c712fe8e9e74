package jobs

import (
	"fmt"
	"time"

	"github.com/briangreenhill/flightstream/internal/flightspec"
)

const TaskFetchFlight = "flight:fetch"

// Task is one flight lookup belonging to a batch
type Task struct {
	RequestID    string
	OriginalText string
	Spec         flightspec.FlightSpec
}

// FetchFlightPayload is the wire form of a Task on the asynq queue
type FetchFlightPayload struct {
	RequestID    string `json:"request_id"`
	OriginalText string `json:"original_text"`
	Spec         string `json:"spec"`
}

func (t Task) Payload() FetchFlightPayload {
	return FetchFlightPayload{
		RequestID:    t.RequestID,
		OriginalText: t.OriginalText,
		Spec:         t.Spec.String(),
	}
}

// Task rebuilds the task, interpreting instants in loc
func (p FetchFlightPayload) Task(loc *time.Location) (Task, error) {
	if p.RequestID == "" {
		return Task{}, fmt.Errorf("payload missing request_id")
	}
	spec, err := flightspec.ParseSpec(p.Spec, loc)
	if err != nil {
		return Task{}, err
	}
	return Task{RequestID: p.RequestID, OriginalText: p.OriginalText, Spec: spec}, nil
}
