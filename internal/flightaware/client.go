// Package flightaware implements flight.Source against the public FlightAware website
package flightaware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/briangreenhill/flightstream/internal/flight"
)

const DefaultBaseURL = "https://www.flightaware.com"

const (
	omnisearchPath = "/ajax/ignoreall/omnisearch/flight.rvt"
	livePath       = "/live/flight/"
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:140.0) Gecko/20100101 Firefox/140.0"

	maxBody = 8 << 20
)

type Client struct {
	http    *http.Client
	baseURL *url.URL
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(raw); err == nil {
			c.baseURL = u
		}
	}
}

func New(opts ...Option) *Client {
	u, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		http:    &http.Client{Timeout: 20 * time.Second},
		baseURL: u,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ flight.Source = (*Client)(nil)

func (c *Client) url(p string, q url.Values) string {
	u := *c.baseURL
	u.Path = path.Join(u.Path, p)
	u.RawQuery = q.Encode()
	return u.String()
}

// get fetches target and returns the body of a 200 response
func (c *Client) get(ctx context.Context, target, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(io.LimitReader(resp.Body, maxBody))
	case http.StatusNotFound:
		return nil, flight.ErrNotFound
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("GET %s: %s: %s", target, resp.Status, string(b))
	}
}

type omnisearchResponse struct {
	Data []struct {
		Ident string `json:"ident"`
	} `json:"data"`
}

// ResolveIdent looks flightNumber up through the site's search endpoint and returns
// the ident of the first match
func (c *Client) ResolveIdent(ctx context.Context, flightNumber string) (string, error) {
	q := url.Values{}
	q.Set("v", "50")
	q.Set("locale", "en_US")
	q.Set("searchterm", flightNumber)
	q.Set("q", flightNumber)

	body, err := c.get(ctx, c.url(omnisearchPath, q), "application/json")
	if err != nil {
		return "", fmt.Errorf("omnisearch %s: %w", flightNumber, err)
	}
	var out omnisearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode omnisearch %s: %w", flightNumber, err)
	}
	if len(out.Data) == 0 || out.Data[0].Ident == "" {
		return "", flight.ErrNotFound
	}
	return out.Data[0].Ident, nil
}

// FetchSnapshot scrapes the live flight page of ident. With a non-zero at, the flight
// whose scheduled takeoff is nearest to at is chosen.
func (c *Client) FetchSnapshot(ctx context.Context, ident string, at time.Time) (*flight.Snapshot, error) {
	link := c.url(livePath+url.PathEscape(ident), nil)
	body, err := c.get(ctx, link, "text/html")
	if err != nil {
		return nil, fmt.Errorf("live page %s: %w", ident, err)
	}
	boot, err := extractBootstrap(body)
	if err != nil {
		return nil, fmt.Errorf("live page %s: %w", ident, err)
	}
	f, ok := pickFlight(boot.Flights, at)
	if !ok {
		return nil, flight.ErrNotFound
	}
	snap := f.snapshot(ident, link)
	return &snap, nil
}

// pickFlight returns the first flight on the page, or the nearest scheduled takeoff to at
func pickFlight(flights flightList, at time.Time) (trackFlight, bool) {
	if len(flights) == 0 {
		return trackFlight{}, false
	}
	best := flights[0]
	if at.IsZero() || len(flights) == 1 {
		return best, true
	}
	target := float64(at.Unix())
	minDiff := math.Inf(1)
	for _, f := range flights {
		if f.TakeoffTimes.Scheduled == nil {
			continue
		}
		if d := math.Abs(*f.TakeoffTimes.Scheduled - target); d < minDiff {
			minDiff, best = d, f
		}
	}
	return best, true
}
