package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const amqpPollInterval = 200 * time.Millisecond

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Ack(tag uint64, multiple bool) error
	Close() error
}

// AMQPQueue implements Queue over a durable RabbitMQ queue. Messages are
// fetched with basic.get and acknowledged on Delete; unacknowledged jobs are
// redelivered when the channel closes.
type AMQPQueue struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    amqpChannel
	queue string
}

// DialAMQPQueue connects to url and declares the durable queue.
func DialAMQPQueue(url, queue string) (*AMQPQueue, error) {
	if url == "" {
		return nil, errors.New("pipeline: AMQP url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("pipeline: dial AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("pipeline: open AMQP channel: %w", err)
	}
	q, err := newAMQPQueue(ch, queue)
	if err != nil {
		conn.Close()
		return nil, err
	}
	q.conn = conn
	return q, nil
}

func newAMQPQueue(ch amqpChannel, queue string) (*AMQPQueue, error) {
	if queue == "" {
		return nil, errors.New("pipeline: AMQP queue name is required")
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("pipeline: declare AMQP queue %q: %w", queue, err)
	}
	return &AMQPQueue{ch: ch, queue: queue}, nil
}

func (q *AMQPQueue) Send(ctx context.Context, body string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         []byte(body),
	})
	if err != nil {
		return fmt.Errorf("pipeline: failed to publish AMQP message: %w", err)
	}
	return nil
}

// Receive polls the queue until at least one message arrives, ctx is done,
// or waitSeconds elapses.
func (q *AMQPQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	deadline := time.Now().Add(time.Duration(waitSeconds) * time.Second)
	for {
		messages, err := q.drain(maxMessages)
		if err != nil || len(messages) > 0 {
			return messages, err
		}
		if waitSeconds <= 0 || !time.Now().Before(deadline) {
			return nil, nil
		}
		timer := time.NewTimer(amqpPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *AMQPQueue) drain(max int) ([]QueueMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []QueueMessage
	for len(out) < max {
		d, ok, err := q.ch.Get(q.queue, false)
		if err != nil {
			return out, fmt.Errorf("pipeline: failed to get AMQP message: %w", err)
		}
		if !ok {
			break
		}
		out = append(out, QueueMessage{
			ID:            d.MessageId,
			Body:          string(d.Body),
			ReceiptHandle: strconv.FormatUint(d.DeliveryTag, 10),
		})
	}
	return out, nil
}

func (q *AMQPQueue) Delete(_ context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	tag, err := strconv.ParseUint(receiptHandle, 10, 64)
	if err != nil {
		return fmt.Errorf("pipeline: invalid AMQP receipt %q: %w", receiptHandle, err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ch.Ack(tag, false); err != nil {
		return fmt.Errorf("pipeline: failed to ack AMQP message: %w", err)
	}
	return nil
}

// Close closes the channel and the connection.
func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.ch.Close()
	if q.conn != nil {
		if cerr := q.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
