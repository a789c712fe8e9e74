package flightaware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/html"

	"github.com/briangreenhill/flightstream/internal/flight"
)

const bootstrapVar = "var trackpollBootstrap"

var errNoBootstrap = errors.New("no trackpollBootstrap script")

// bootstrap is the subset of the page's embedded trackpoll state we read
type bootstrap struct {
	Flights flightList `json:"flights"`
}

// flightList holds the values of the flights object in document order
type flightList []trackFlight

func (l *flightList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*l = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("flights: expected object, got %v", tok)
	}
	var out flightList
	for dec.More() {
		// key
		if _, err := dec.Token(); err != nil {
			return err
		}
		var f trackFlight
		if err := dec.Decode(&f); err != nil {
			return err
		}
		out = append(out, f)
	}
	*l = out
	return nil
}

type trackFlight struct {
	Airline struct {
		ShortName string `json:"shortName"`
	} `json:"airline"`
	CodeShare struct {
		Ident string `json:"ident"`
	} `json:"codeShare"`
	Origin       airport `json:"origin"`
	Destination  airport `json:"destination"`
	TakeoffTimes times   `json:"takeoffTimes"`
	LandingTimes times   `json:"landingTimes"`
	Distance     struct {
		Elapsed   float64 `json:"elapsed"`
		Remaining float64 `json:"remaining"`
	} `json:"distance"`
	FlightPlan struct {
		Speed float64 `json:"speed"`
	} `json:"flightPlan"`
}

type airport struct {
	FriendlyName string `json:"friendlyName"`
	IATA         string `json:"iata"`
	// Coord is [lng, lat]
	Coord []float64 `json:"coord"`
}

// times are unix seconds, any of which may be null
type times struct {
	Scheduled *float64 `json:"scheduled"`
	Estimated *float64 `json:"estimated"`
	Actual    *float64 `json:"actual"`
}

// extractBootstrap finds the inline script assigning trackpollBootstrap and decodes it
func extractBootstrap(page []byte) (*bootstrap, error) {
	z := html.NewTokenizer(bytes.NewReader(page))
	inScript := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return nil, errNoBootstrap
			}
			return nil, fmt.Errorf("tokenize page: %w", z.Err())
		case html.StartTagToken:
			name, _ := z.TagName()
			inScript = string(name) == "script"
		case html.EndTagToken:
			inScript = false
		case html.TextToken:
			if !inScript {
				continue
			}
			text := z.Text()
			if !bytes.Contains(text, []byte(bootstrapVar)) {
				continue
			}
			return decodeBootstrap(text)
		}
	}
}

func decodeBootstrap(script []byte) (*bootstrap, error) {
	i := bytes.Index(script, []byte(bootstrapVar))
	rest := script[i+len(bootstrapVar):]
	eq := bytes.IndexByte(rest, '=')
	if eq < 0 {
		return nil, errNoBootstrap
	}
	payload := bytes.TrimSpace(rest[eq+1:])
	payload = bytes.TrimSpace(bytes.TrimSuffix(payload, []byte(";")))

	var b bootstrap
	// Decoder stops after the first value so trailing statements are ignored
	if err := json.NewDecoder(bytes.NewReader(payload)).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode trackpollBootstrap: %w", err)
	}
	return &b, nil
}

func (f trackFlight) snapshot(ident, link string) flight.Snapshot {
	id := f.CodeShare.Ident
	if id == "" {
		id = ident
	}
	return flight.Snapshot{
		Airline:     orDefault(f.Airline.ShortName, "Unknown Airline"),
		Identifier:  id,
		Link:        link,
		Origin:      f.Origin.endpoint("Unknown Origin", f.TakeoffTimes),
		Destination: f.Destination.endpoint("Unknown Destination", f.LandingTimes),
		Distance: flight.Distance{
			Elapsed:   f.Distance.Elapsed,
			Remaining: f.Distance.Remaining,
		},
		Speed: f.FlightPlan.Speed,
	}
}

func (a airport) endpoint(unknown string, t times) flight.Endpoint {
	e := flight.Endpoint{
		Airport:   orDefault(a.FriendlyName, unknown),
		IATA:      orDefault(a.IATA, "???"),
		Scheduled: unix(t.Scheduled),
		Actual:    unix(t.Actual),
	}
	if e.Actual == nil {
		e.Actual = unix(t.Estimated)
	}
	if len(a.Coord) >= 2 {
		e.Coordinates = flight.Coordinates{Lat: a.Coord[1], Lng: a.Coord[0]}
	}
	return e
}

func unix(v *float64) *int64 {
	if v == nil {
		return nil
	}
	s := int64(*v)
	return &s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
