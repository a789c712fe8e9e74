package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// AsynqQueue enqueues tasks on Redis through asynq. Results are delivered in-process,
// so each instance consumes only the queue it publishes to.
type AsynqQueue struct {
	client  *asynq.Client
	queue   string
	timeout time.Duration
	log     zerolog.Logger
}

func NewAsynqQueue(redisAddr, queue string, timeout time.Duration, log zerolog.Logger) *AsynqQueue {
	return &AsynqQueue{
		client:  asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		queue:   queue,
		timeout: timeout,
		log:     log,
	}
}

// Enqueue publishes t without retries; a failed lookup is reported, not repeated
func (q *AsynqQueue) Enqueue(ctx context.Context, t Task) error {
	payload, err := json.Marshal(t.Payload())
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(TaskFetchFlight, payload),
		asynq.Queue(q.queue),
		asynq.MaxRetry(0),
		asynq.Timeout(q.timeout),
	)
	if err != nil {
		return fmt.Errorf("asynq enqueue: %w", err)
	}
	q.log.Debug().Str("task_id", info.ID).Str("queue", info.Queue).Str("request_id", t.RequestID).Msg("task enqueued")
	return nil
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

// NewAsynqServer builds a server consuming queue with the given concurrency
func NewAsynqServer(redisAddr, queue string, concurrency int, log zerolog.Logger) *asynq.Server {
	return asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 10},
		Logger:      asynqLogger{log: log},
	})
}

// NewAsynqMux routes fetch tasks to h
func NewAsynqMux(h Handler, loc *time.Location, log zerolog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskFetchFlight, HandleFetchFlight(h, loc, log))
	return mux
}

// HandleFetchFlight decodes a fetch task and processes it. Processing failures are part
// of the Result, so only undecodable payloads return an error.
func HandleFetchFlight(h Handler, loc *time.Location, log zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p FetchFlightPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			log.Error().Err(err).Msg("[asynq] bad payload")
			return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
		}
		task, err := p.Task(loc)
		if err != nil {
			log.Error().Err(err).Str("request_id", p.RequestID).Msg("[asynq] bad payload")
			return fmt.Errorf("decode task: %v: %w", err, asynq.SkipRetry)
		}
		h.Process(ctx, task)
		return nil
	}
}

// asynqLogger adapts zerolog to asynq.Logger
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
