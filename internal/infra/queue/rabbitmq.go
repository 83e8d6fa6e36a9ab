package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"moneyflow-bot/internal/domain"
	"moneyflow-bot/internal/infra/metrics"
)

// RabbitBroadcastQueue implements the broadcast queue on RabbitMQ.
type RabbitBroadcastQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewRabbitBroadcastQueue connects to RabbitMQ and declares a durable queue.
func NewRabbitBroadcastQueue(amqpURL, queue string) (*RabbitBroadcastQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitBroadcastQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Enqueue publishes a job to the queue.
func (q *RabbitBroadcastQueue) Enqueue(ctx context.Context, job domain.BroadcastJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.CreatedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Pop blocks until a job is available. Malformed payloads are rejected
// without requeue and the wait continues.
func (q *RabbitBroadcastQueue) Pop(ctx context.Context) (domain.BroadcastJob, error) {
	deliveries, err := q.consumer()
	if err != nil {
		return domain.BroadcastJob{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return domain.BroadcastJob{}, ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return domain.BroadcastJob{}, errors.New("rabbitmq: consumer channel closed")
			}
			var job domain.BroadcastJob
			if err := json.Unmarshal(delivery.Body, &job); err != nil {
				_ = delivery.Nack(false, false)
				continue
			}
			if err := delivery.Ack(false); err != nil {
				return domain.BroadcastJob{}, fmt.Errorf("ack job: %w", err)
			}
			return job, nil
		}
	}
}

// Close releases the channel and connection.
func (q *RabbitBroadcastQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}

func (q *RabbitBroadcastQueue) consumer() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("start consumer: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}
