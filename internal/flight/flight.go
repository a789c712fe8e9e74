// Package flight defines the flight status snapshot and the upstream source contract
package flight

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by a Source when a flight number or ident has no match upstream
var ErrNotFound = errors.New("flight not found")

// Source resolves flight numbers and fetches status snapshots from an upstream provider.
// Both calls may be slow and may fail.
type Source interface {
	// ResolveIdent maps a normalized flight number to the upstream lookup key
	ResolveIdent(ctx context.Context, flightNumber string) (string, error)

	// FetchSnapshot returns the current snapshot for ident. A non-zero at selects the
	// flight instance closest to that instant.
	FetchSnapshot(ctx context.Context, ident string, at time.Time) (*Snapshot, error)
}

// Snapshot is a point-in-time view of one flight
type Snapshot struct {
	Airline     string   `json:"airline"`
	Identifier  string   `json:"identifier"`
	Link        string   `json:"link"`
	Origin      Endpoint `json:"origin"`
	Destination Endpoint `json:"destination"`
	Distance    Distance `json:"distance"`
	Speed       float64  `json:"speed"`
}

// Endpoint describes the origin or destination airport of a flight.
// Times are unix seconds; nil means unknown. On the wire they are named after the
// endpoint's role, see Snapshot.MarshalJSON.
type Endpoint struct {
	Airport     string
	IATA        string
	Scheduled   *int64
	Actual      *int64
	Coordinates Coordinates
}

type departure struct {
	Airport     string      `json:"airport"`
	IATA        string      `json:"iata"`
	Scheduled   *int64      `json:"departure_time"`
	Actual      *int64      `json:"actual_departure_time"`
	Coordinates Coordinates `json:"coordinates"`
}

type arrival struct {
	Airport     string      `json:"airport"`
	IATA        string      `json:"iata"`
	Scheduled   *int64      `json:"arrival_time"`
	Actual      *int64      `json:"actual_arrival_time"`
	Coordinates Coordinates `json:"coordinates"`
}

type plainSnapshot Snapshot

// snapshotWire shadows the endpoints of plainSnapshot with their role specific shapes
type snapshotWire struct {
	plainSnapshot
	Origin      departure `json:"origin"`
	Destination arrival   `json:"destination"`
}

// MarshalJSON writes origin times as departure_time and actual_departure_time and
// destination times as arrival_time and actual_arrival_time, null when unknown
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotWire{
		plainSnapshot: plainSnapshot(s),
		Origin:        departure(s.Origin),
		Destination:   arrival(s.Destination),
	})
}

func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var w snapshotWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*s = Snapshot(w.plainSnapshot)
	s.Origin = Endpoint(w.Origin)
	s.Destination = Endpoint(w.Destination)
	return nil
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Distance is measured in statute miles as reported upstream
type Distance struct {
	Elapsed   float64 `json:"elapsed"`
	Remaining float64 `json:"remaining"`
}
