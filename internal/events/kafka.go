// Package events publishes stored flight snapshots to Kafka
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/briangreenhill/flightstream/internal/flight"
)

// MessageWriter is the part of *kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SnapshotEvent is the value of every published message; the key is the ident
type SnapshotEvent struct {
	Ident     string          `json:"ident"`
	FetchedAt float64         `json:"fetched_at"`
	Snapshot  flight.Snapshot `json:"snapshot"`
}

// NewWriter returns an async writer hashing messages by key across partitions.
// Delivery errors are logged, never returned to the caller.
func NewWriter(brokers []string, topic string, log zerolog.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn().Err(err).Int("messages", len(msgs)).Msg("snapshot publish failed")
			}
		},
	}
}

type Publisher struct {
	w       MessageWriter
	now     func() time.Time
	timeout time.Duration
	log     zerolog.Logger
}

func NewPublisher(w MessageWriter, log zerolog.Logger) *Publisher {
	return &Publisher{w: w, now: time.Now, timeout: 5 * time.Second, log: log}
}

// Publish sends snap keyed by ident. It has the shape of a cache store hook and
// so never fails the caller.
func (p *Publisher) Publish(ident string, snap flight.Snapshot) {
	msg, err := p.message(ident, snap)
	if err != nil {
		p.log.Error().Err(err).Str("ident", ident).Msg("encode snapshot event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.log.Warn().Err(err).Str("ident", ident).Msg("snapshot publish failed")
	}
}

func (p *Publisher) message(ident string, snap flight.Snapshot) (kafka.Message, error) {
	now := p.now()
	b, err := json.Marshal(SnapshotEvent{
		Ident:     ident,
		FetchedAt: float64(now.UnixNano()) / 1e9,
		Snapshot:  snap,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal snapshot event: %w", err)
	}
	return kafka.Message{Key: []byte(ident), Value: b, Time: now}, nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}
