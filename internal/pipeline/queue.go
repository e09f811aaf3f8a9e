package pipeline

import (
	"context"
	"errors"
)

// ErrQueueClosed is returned when sending to a queue that was shut down.
var ErrQueueClosed = errors.New("pipeline: queue closed")

// Queue is the transport between the webhook and the workers.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// QueueMessage is one received job body.
type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}
