package pipeline

import (
	"context"
	"fmt"

	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

// Publisher enqueues pipeline jobs for asynchronous processing.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("pipeline: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// Enqueue publishes a job and returns it with its assigned id.
func (p *Publisher) Enqueue(ctx context.Context, job Job) (Job, error) {
	if err := job.validate(); err != nil {
		return Job{}, err
	}
	job, body, err := encodeJob(job)
	if err != nil {
		return Job{}, err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return Job{}, fmt.Errorf("pipeline: failed to enqueue job: %w", err)
	}
	p.logger.Debug("pipeline job enqueued", "job_id", job.ID, "message_id", job.MessageID, "source", job.Source)
	return job, nil
}
