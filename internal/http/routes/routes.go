package routes

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/flightstream/internal/batch"
	appmw "github.com/briangreenhill/flightstream/internal/http/middleware"
)

const wsWriteTimeout = 10 * time.Second

// Streamer runs a batch of flight mentions
type Streamer interface {
	Stream(ctx context.Context, mentions []string) iter.Seq[batch.Record]
}

type Server struct {
	Router   *chi.Mux
	Batches  Streamer
	Log      zerolog.Logger
	upgrader websocket.Upgrader
}

type ServerOptions struct {
	Batches Streamer
	Tokens  []string
	Logger  zerolog.Logger
	// Metrics serves /metrics when set
	Metrics http.Handler
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("req_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)

	s := &Server{
		Router:  r,
		Batches: opts.Batches,
		Log:     opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// access is gated by the token, not by origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Group(func(pr chi.Router) {
		pr.Use(appmw.RequireToken(opts.Tokens))
		// wildcard so unescaped slashes in dates stay part of the mention list
		pr.Get("/api/scrape/*", s.handleScrape)
		pr.Get("/api/ws/scrape/*", s.handleScrapeWS)
	})

	return s
}

// mentionsParam returns the comma separated mentions of the request path
func mentionsParam(r *http.Request) []string {
	raw := chi.URLParam(r, "*")
	if s, err := url.PathUnescape(raw); err == nil {
		raw = s
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// handleScrape streams one JSON record per line, flushing after each
func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	mentions := mentionsParam(r)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	for rec := range s.Batches.Stream(r.Context(), mentions) {
		if err := enc.Encode(rec); err != nil {
			log.Warn().Err(err).Str("request_id", rec.RequestID).Msg("client went away")
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			log.Warn().Err(err).Msg("flush failed")
			return
		}
	}
}

// handleScrapeWS sends the same records as websocket text messages, then closes normally
func (s *Server) handleScrapeWS(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	mentions := mentionsParam(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// the client never sends data; a read error means it disconnected
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for rec := range s.Batches.Stream(ctx, mentions) {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(rec); err != nil {
			log.Warn().Err(err).Str("request_id", rec.RequestID).Msg("websocket write failed")
			return
		}
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout)); err != nil {
		log.Debug().Err(err).Msg("websocket close failed")
	}
}
