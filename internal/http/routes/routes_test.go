package routes

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/flightstream/internal/batch"
)

// echoStreamer yields one flight_data record per mention and an end record
type echoStreamer struct {
	mu   sync.Mutex
	seen [][]string
}

func (e *echoStreamer) Stream(ctx context.Context, mentions []string) iter.Seq[batch.Record] {
	e.mu.Lock()
	e.seen = append(e.seen, mentions)
	e.mu.Unlock()
	return func(yield func(batch.Record) bool) {
		for _, m := range mentions {
			if !yield(batch.Record{Type: batch.TypeFlightData, RequestID: "req", FlightNumber: m, Status: batch.StatusCompleted}) {
				return
			}
		}
		yield(batch.Record{Type: batch.TypeEnd, RequestID: "req", Status: batch.StatusCompleted})
	}
}

func (e *echoStreamer) calls() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seen
}

func newTestServer(t *testing.T) (*httptest.Server, *echoStreamer) {
	t.Helper()
	st := &echoStreamer{}
	s := New(ServerOptions{
		Batches: st,
		Tokens:  []string{"s3cret"},
		Logger:  zerolog.Nop(),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "# metrics") }),
	})
	srv := httptest.NewServer(s.Router)
	t.Cleanup(srv.Close)
	return srv, st
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)

	resp, body = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "# metrics", body)
}

func TestScrape_RejectsBadToken(t *testing.T) {
	srv, st := newTestServer(t)
	for _, u := range []string{"/api/scrape/BA698", "/api/scrape/BA698?token=nope", "/api/ws/scrape/BA698?token="} {
		resp, body := get(t, srv.URL+u)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, u)
		assert.Equal(t, "Invalid token", body)
	}
	assert.Empty(t, st.calls(), "no batch may start before auth")
}

func TestScrape_StreamsNDJSON(t *testing.T) {
	srv, st := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/scrape/BA698,%20dl%20123%20,,LH400%2003%2F01%2F26?token=s3cret")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var recs []batch.Record
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var r batch.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), sc.Text())
		recs = append(recs, r)
	}
	require.NoError(t, sc.Err())

	require.Len(t, recs, 4)
	assert.Equal(t, []string{"BA698", "dl 123", "LH400 03/01/26"}, st.calls()[0])
	assert.Equal(t, batch.TypeEnd, recs[3].Type)
}

func TestScrape_UnescapedSlashes(t *testing.T) {
	srv, st := newTestServer(t)
	resp, _ := get(t, srv.URL+"/api/scrape/BA698%2003/01/26%2014:50?token=s3cret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, st.calls(), 1)
	assert.Equal(t, []string{"BA698 03/01/26 14:50"}, st.calls()[0])
}

func TestScrapeWS(t *testing.T) {
	srv, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/scrape/BA698,DL123?token=s3cret"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var recs []batch.Record
	for {
		var r batch.Record
		if err := conn.ReadJSON(&r); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
			break
		}
		recs = append(recs, r)
	}
	require.Len(t, recs, 3)
	assert.Equal(t, "DL123", recs[1].FlightNumber)
	assert.Equal(t, batch.TypeEnd, recs[2].Type)
}
