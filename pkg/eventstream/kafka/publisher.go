// Package kafka publishes capture events to a Kafka topic. Messages are keyed by
// session id so every event of one session lands on the same partition, in
// order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/sseview/pkg/eventstream"
)

const (
	defaultBatchTimeout = 50 * time.Millisecond
	defaultWriteTimeout = 10 * time.Second

	eventTypeHeader = "event_type"
)

// Config configures the Kafka publisher.
type Config struct {
	// Brokers is the list of bootstrap broker addresses.
	Brokers []string

	// Topic receives every capture event.
	Topic string

	// ClientID is reported to the brokers. Optional.
	ClientID string

	// BatchTimeout bounds how long the writer waits to fill a batch.
	BatchTimeout time.Duration

	Logger *slog.Logger
}

// messageWriter is the subset of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes capture events to Kafka.
type Publisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewPublisher creates a publisher backed by a kafka.Writer.
func NewPublisher(c Config) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if c.Topic == "" {
		return nil, errors.New("kafka publisher requires a topic")
	}

	batchTimeout := c.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = defaultBatchTimeout
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: batchTimeout,
		WriteTimeout: defaultWriteTimeout,
	}
	if c.ClientID != "" {
		w.Transport = &kafkago.Transport{ClientID: c.ClientID}
	}

	return newPublisher(w, c.Topic, c.Logger), nil
}

func newPublisher(w messageWriter, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Publisher{
		writer: w,
		topic:  topic,
		logger: logger,
	}
}

// Publish writes one event, keyed by its session id.
func (p *Publisher) Publish(ctx context.Context, event *eventstream.CaptureEvent) error {
	if event == nil {
		return eventstream.ErrNilCaptureEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling capture event: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(event.SessionID),
		Value: payload,
		Time:  event.EmittedAt,
		Headers: []kafkago.Header{
			{Key: eventTypeHeader, Value: []byte(event.EventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing to kafka topic %s: %w", p.topic, err)
	}

	p.logger.Debug("capture event published",
		"topic", p.topic,
		"event_type", event.EventType,
		"session", event.SessionID,
	)
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
