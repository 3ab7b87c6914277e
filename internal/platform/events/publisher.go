// Package events publishes domain events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	WorkflowCompleted = "workflow.completed"
	WorkflowFailed    = "workflow.failed"
	PostPublished     = "post.published"
)

type Event struct {
	Type           string          `json:"type"`
	OrganizationID string          `json:"organization_id"`
	RunID          string          `json:"run_id,omitempty"`
	WorkflowType   string          `json:"workflow_type,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// KafkaPublisher writes every event to one topic, keyed by organization so an
// organization's events stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.OrganizationID),
		Value:   payload,
		Time:    event.OccurredAt,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(event.Type)}},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop drops events. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(_ context.Context, event Event) error {
	log.Debug().Str("event", event.Type).Str("org_id", event.OrganizationID).Msg("event dropped, no brokers configured")
	return nil
}

func (Nop) Close() error { return nil }

// New returns a Kafka publisher when brokers are configured, otherwise Nop.
func New(brokers []string, topic string) (Publisher, error) {
	if len(brokers) == 0 {
		return Nop{}, nil
	}
	return NewKafkaPublisher(brokers, topic)
}
