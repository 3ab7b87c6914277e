package events

import (
	"context"
	"testing"
)

func TestNew_NoBrokersIsNop(t *testing.T) {
	p, err := New(nil, "draftr.events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(Nop); !ok {
		t.Fatalf("expected Nop publisher, got %T", p)
	}
	if err := p.Publish(context.Background(), Event{Type: WorkflowCompleted, OrganizationID: "org_1"}); err != nil {
		t.Errorf("nop publish failed: %v", err)
	}
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "topic"); err == nil {
		t.Error("expected error without brokers")
	}

	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "draftr.events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.writer.Topic != "draftr.events" {
		t.Errorf("unexpected topic %q", p.writer.Topic)
	}
	p.Close()
}
