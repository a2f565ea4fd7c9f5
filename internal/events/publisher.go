package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/pagoshq/pagos/internal/logging"
)

const producerName = "pagos-api"

// Publisher writes event envelopes to a Kafka topic. A nil *Publisher is a
// valid no-op, so callers never need to branch on whether Kafka is
// configured.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 20 * time.Millisecond,
		},
	}
}

// Publish marshals and writes one event, keyed by the correlation id so all
// events for one order land in the same partition. Errors are logged and
// swallowed.
func (p *Publisher) Publish(ctx context.Context, eventType, correlationID string, payload any) {
	if p == nil {
		return
	}

	logger := logging.FromContext(ctx, nil)

	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal event payload",
			"event_type", eventType, "error", err)
		return
	}

	envelope := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producerName,
		CorrelationID: correlationID,
		Payload:       body,
	}

	value, err := json.Marshal(envelope)
	if err != nil {
		logger.Error("failed to marshal event envelope",
			"event_type", eventType, "error", err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(correlationID),
		Value: value,
		Time:  envelope.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logger.Error("failed to publish event",
			"event_type", eventType, "correlation_id", correlationID, "error", err)
	}
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}
