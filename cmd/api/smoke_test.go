package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/flightstream/internal/config"
)

const bootstrapPage = `<html><script>var trackpollBootstrap = {"flights":{"f1":{
 "airline":{"shortName":"British Airways"},
 "codeShare":{"ident":"BA698"},
 "origin":{"friendlyName":"London Heathrow","iata":"LHR","coord":[-0.46,51.47]},
 "destination":{"friendlyName":"Vienna Intl","iata":"VIE","coord":[16.57,48.11]},
 "takeoffTimes":{"scheduled":1767441600},
 "landingTimes":{"scheduled":1767450000},
 "distance":{"elapsed":420,"remaining":380},
 "flightPlan":{"speed":455}}}};</script></html>`

type fakeFlightAware struct {
	searches atomic.Int32
	pages    atomic.Int32
}

func (f *fakeFlightAware) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ajax/ignoreall/omnisearch/flight.rvt", func(w http.ResponseWriter, r *http.Request) {
		f.searches.Add(1)
		if r.URL.Query().Get("q") == "BA698" {
			fmt.Fprint(w, `{"data":[{"ident":"BAW698"}]}`)
			return
		}
		fmt.Fprint(w, `{"data":[]}`)
	})
	mux.HandleFunc("/live/flight/BAW698", func(w http.ResponseWriter, r *http.Request) {
		f.pages.Add(1)
		fmt.Fprint(w, bootstrapPage)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(upstream string) *config.Config {
	return &config.Config{
		SecretTokens:       []string{"s3cret"},
		NumThreads:         2,
		Port:               "0",
		LogLevel:           "info",
		ItemTimeout:        10 * time.Second,
		QueueCapacity:      16,
		RefreshConcurrency: 2,
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		Kafka:              config.KafkaConfig{Topic: "flight-snapshots"},
		FlightAware:        config.FlightAwareConfig{BaseURL: upstream},
	}
}

type line struct {
	Type         string `json:"type"`
	RequestID    string `json:"request_id"`
	FlightNumber string `json:"flight_number"`
	Result       struct {
		Status   string `json:"status"`
		Original string `json:"original_flight_number"`
		Snapshot struct {
			Airline    string `json:"airline"`
			Identifier string `json:"identifier"`
		} `json:"snapshot"`
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	} `json:"result"`
}

func scrape(t *testing.T, base, path string) []line {
	t.Helper()
	resp, err := http.Get(base + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []line
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var l line
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		out = append(out, l)
	}
	require.NoError(t, sc.Err())
	return out
}

// TestSmokeTest runs the full service graph against a fake upstream. With REDIS_ADDR
// set, tasks go through asynq instead of the in-memory pool.
func TestSmokeTest(t *testing.T) {
	fa := &fakeFlightAware{}
	upstream := fa.server(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler, cleanup, err := wire(ctx, testConfig(upstream.URL), zerolog.Nop())
	require.NoError(t, err)
	defer cleanup()

	srv := httptest.NewServer(handler)
	defer srv.Close()

	lines := scrape(t, srv.URL, "/api/scrape/ba698,hello,ZZ999?token=s3cret")
	require.Len(t, lines, 3)

	byFlight := map[string]line{}
	for _, l := range lines[:2] {
		assert.Equal(t, "flight_data", l.Type)
		byFlight[l.FlightNumber] = l
	}
	ok := byFlight["ba698"]
	assert.Equal(t, "success", ok.Result.Status)
	assert.Equal(t, "British Airways", ok.Result.Snapshot.Airline)
	assert.Equal(t, "BA698", ok.Result.Snapshot.Identifier)

	bad := byFlight["ZZ999"]
	assert.Equal(t, "error", bad.Result.Status)
	assert.Equal(t, "resolution_failed", bad.Result.Error.Kind)

	assert.Equal(t, "end", lines[2].Type)
	assert.Equal(t, lines[0].RequestID, lines[2].RequestID)

	// a second batch is served from both caches; only the unknown flight goes upstream again
	searches, pages := fa.searches.Load(), fa.pages.Load()
	lines = scrape(t, srv.URL, "/api/scrape/BA698,ZZ999?token=s3cret")
	require.Len(t, lines, 3)
	assert.Equal(t, searches+1, fa.searches.Load())
	assert.Equal(t, pages, fa.pages.Load())

	resp, err := http.Get(srv.URL + "/api/scrape/BA698?token=wrong")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	t.Setenv("SECRET_TOKENS", "s3cret")
	t.Setenv("PORT", "5000")
	t.Setenv("NUM_THREADS", "4")

	cfg, err := loadConfig([]string{"--port", "9090", "--workers=2", "--log-level", "debug"})
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2, cfg.NumThreads)
	assert.Equal(t, "debug", cfg.LogLevel)

	_, err = loadConfig([]string{"--workers", "0"})
	assert.Error(t, err)

	_, err = loadConfig([]string{"--nope"})
	assert.Error(t, err)
}
