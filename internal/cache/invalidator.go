// Package cache publishes cache-invalidation signals. The payment core never
// talks to a cache directly; it emits "this view is stale" events that the
// caching layer consumes eventually. All signals are best effort.
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	skafka "github.com/segmentio/kafka-go"
)

// Writer is the subset of the kafka writer the publisher needs, kept small
// so tests can inject a fake.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Event is one invalidation signal on the wire.
type Event struct {
	Scope     string   `json:"scope"` // "student_payments", "staff_dashboards", "concept"
	UserIDs   []string `json:"user_ids,omitempty"`
	ConceptID string   `json:"concept_id,omitempty"`
}

// KafkaInvalidator publishes invalidation events to a kafka topic.
type KafkaInvalidator struct {
	writer Writer
}

// NewKafkaInvalidator writes to the given broker/topic.
func NewKafkaInvalidator(brokerURL, topic string) *KafkaInvalidator {
	w := &skafka.Writer{
		Addr:     skafka.TCP(brokerURL),
		Topic:    topic,
		Balancer: &skafka.LeastBytes{},
	}
	return &KafkaInvalidator{writer: w}
}

// NewKafkaInvalidatorWithWriter allows injecting a test writer.
func NewKafkaInvalidatorWithWriter(w Writer) *KafkaInvalidator {
	return &KafkaInvalidator{writer: w}
}

// InvalidateStudentPaymentViews marks the pending/overdue payment views of
// the given students stale. Batch-capable: the sweep sends every affected
// user in one event instead of one message per row.
func (k *KafkaInvalidator) InvalidateStudentPaymentViews(ctx context.Context, userIDs ...uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}
	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}
	return k.publish(ctx, "student_payments", Event{Scope: "student_payments", UserIDs: ids})
}

// InvalidateStaffDashboards marks every staff dashboard stale.
func (k *KafkaInvalidator) InvalidateStaffDashboards(ctx context.Context) error {
	return k.publish(ctx, "staff_dashboards", Event{Scope: "staff_dashboards"})
}

// InvalidateConceptCaches marks the cached views of one concept stale.
func (k *KafkaInvalidator) InvalidateConceptCaches(ctx context.Context, conceptID uuid.UUID) error {
	return k.publish(ctx, "concept", Event{Scope: "concept", ConceptID: conceptID.String()})
}

func (k *KafkaInvalidator) publish(ctx context.Context, key string, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation event: %w", err)
	}
	return k.writer.WriteMessages(ctx, skafka.Message{Key: []byte(key), Value: b})
}

// Close closes the underlying writer.
func (k *KafkaInvalidator) Close() error {
	return k.writer.Close()
}
