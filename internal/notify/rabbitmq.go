package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueuePublisher publishes notification jobs to a RabbitMQ queue consumed by
// the mail worker. Each job carries a small random delay so that bursts
// (e.g. a concept-wide status change notifying a whole cohort) are smoothed
// out on the consumer side instead of hammering the mail provider.
type QueuePublisher struct {
	conn      *amqp.Connection
	chn       *amqp.Channel
	queue     string
	jitterMax time.Duration
}

// job is the wire format: the notification plus the consumer-side delay.
type job struct {
	Notification
	DelayMS int64 `json:"delay_ms"`
}

// NewQueuePublisher connects to RabbitMQ and declares the durable queue.
func NewQueuePublisher(url, queue string, jitterMax time.Duration) (*QueuePublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	chn, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := chn.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		chn.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return &QueuePublisher{conn: conn, chn: chn, queue: queue, jitterMax: jitterMax}, nil
}

// Enqueue publishes the notification as a persistent JSON message with a
// random jitter delay in [0, jitterMax).
func (p *QueuePublisher) Enqueue(ctx context.Context, n Notification) error {
	j := job{Notification: n}
	if p.jitterMax > 0 {
		j.DelayMS = rand.Int63n(p.jitterMax.Milliseconds())
	}
	body, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return p.chn.PublishWithContext(
		ctx,
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Close tears down the channel and connection.
func (p *QueuePublisher) Close() error {
	if err := p.chn.Close(); err != nil {
		return err
	}
	return p.conn.Close()
}
