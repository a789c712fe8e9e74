// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/briangreenhill/flightstream/internal/batch"
	"github.com/briangreenhill/flightstream/internal/cache"
	"github.com/briangreenhill/flightstream/internal/config"
	"github.com/briangreenhill/flightstream/internal/events"
	"github.com/briangreenhill/flightstream/internal/flight"
	"github.com/briangreenhill/flightstream/internal/flightaware"
	"github.com/briangreenhill/flightstream/internal/http/routes"
	"github.com/briangreenhill/flightstream/internal/jobs"
	"github.com/briangreenhill/flightstream/internal/metrics"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "flightstream: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment, then applies command line overrides
func loadConfig(args []string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	flags := pflag.NewFlagSet("flightstream", pflag.ContinueOnError)
	flags.StringVar(&cfg.Port, "port", cfg.Port, "listen port (PORT)")
	flags.IntVar(&cfg.NumThreads, "workers", cfg.NumThreads, "number of task workers (NUM_THREADS)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (LOG_LEVEL)")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler, cleanup, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Int("workers", cfg.NumThreads).Msg("starting app")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("open streams cut off at shutdown")
		}
		return nil
	})
	return g.Wait()
}

// wire builds the service graph and returns its HTTP handler. cleanup releases
// everything in reverse order of creation.
func wire(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (http.Handler, func(), error) {
	component := func(name string) zerolog.Logger {
		return logger.With().Str("component", name).Logger()
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	m := metrics.New()
	source := flightaware.New(flightaware.WithBaseURL(cfg.FlightAware.BaseURL))

	var onStore func(ident string, snap flight.Snapshot)
	if cfg.HasKafka() {
		pub := events.NewPublisher(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, component("events")), component("events"))
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn().Err(err).Msg("close kafka writer")
			}
		})
		onStore = pub.Publish
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing snapshots")
	}

	refresher := cache.NewRefresher(int64(cfg.RefreshConcurrency), component("refresher"), m)
	closers = append(closers, refresher.Close)
	idents := cache.NewIdentCache(source.ResolveIdent, cache.IdentConfig{Metrics: m})
	snapshots := cache.NewFreshnessCache(source.FetchSnapshot, cache.FreshnessConfig{
		Refresher: refresher,
		OnStore:   onStore,
		Logger:    component("cache"),
		Metrics:   m,
	})

	registry := batch.NewRegistry()
	proc := jobs.NewProcessor(idents, snapshots, registry, jobs.ProcessorConfig{
		Logger:  component("worker"),
		Metrics: m,
	})

	queue, closeQueue, err := startQueue(ctx, cfg, proc, component("queue"), m)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, closeQueue)

	svc := batch.NewService(registry, queue, batch.Config{
		ItemTimeout: cfg.ItemTimeout,
		Logger:      component("batch"),
		Metrics:     m,
	})
	s := routes.New(routes.ServerOptions{
		Batches: svc,
		Tokens:  cfg.SecretTokens,
		Logger:  component("http"),
		Metrics: m.Handler(),
	})
	return s.Router, cleanup, nil
}

// startQueue returns the asynq queue when Redis is configured and the in-memory pool
// otherwise, together with a function releasing it
func startQueue(ctx context.Context, cfg *config.Config, proc *jobs.Processor, log zerolog.Logger, m *metrics.Metrics) (jobs.Queue, func(), error) {
	if !cfg.HasRedis() {
		pool := jobs.NewPool(proc, jobs.PoolConfig{
			Workers:  cfg.NumThreads,
			Capacity: cfg.QueueCapacity,
			Logger:   log,
			Metrics:  m,
		})
		pool.Start(ctx)
		return pool, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := pool.Close(closeCtx); err != nil {
				log.Warn().Err(err).Msg("workers still busy at shutdown")
			}
		}, nil
	}

	// results are delivered in-process, so every instance consumes its own queue
	name := "flights-" + uuid.NewString()
	q := jobs.NewAsynqQueue(cfg.RedisAddr, name, cfg.ItemTimeout, log)
	srv := jobs.NewAsynqServer(cfg.RedisAddr, name, cfg.NumThreads, log)
	if err := srv.Start(jobs.NewAsynqMux(proc, time.Local, log)); err != nil {
		_ = q.Close()
		return nil, nil, fmt.Errorf("start asynq server: %w", err)
	}
	log.Info().Str("redis", cfg.RedisAddr).Str("queue", name).Msg("using asynq task queue")
	return q, func() {
		srv.Shutdown()
		if err := q.Close(); err != nil {
			log.Warn().Err(err).Msg("close asynq client")
		}
	}, nil
}
