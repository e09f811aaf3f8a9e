package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/wa-autoreply/internal/conversation"
	"github.com/wolfman30/wa-autoreply/internal/observability/metrics"
	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

type pendingStore interface {
	PendingReplies(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]conversation.PendingReply, error)
	IncrementReplyAttempts(ctx context.Context, messageID uuid.UUID) error
}

// Summary counts what one reconcile pass did.
type Summary struct {
	Scanned   int
	Recorded  int
	Skipped   int
	Failed    int
	Abandoned int
}

// Reconciler re-runs the pipeline for inbound messages that never got a
// reply, for example after a worker crash or a delivery failure.
type Reconciler struct {
	store       pendingStore
	processor   Processor
	logger      *logging.Logger
	metrics     *metrics.PipelineMetrics
	interval    time.Duration
	batchSize   int
	maxAttempts int
	grace       time.Duration
	now         func() time.Time
}

func NewReconciler(store pendingStore, processor Processor, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{
		store:       store,
		processor:   processor,
		logger:      logger,
		interval:    time.Minute,
		batchSize:   10,
		maxAttempts: 3,
		grace:       2 * time.Minute,
		now:         time.Now,
	}
}

func (r *Reconciler) WithInterval(d time.Duration) *Reconciler {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *Reconciler) WithBatchSize(n int) *Reconciler {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

func (r *Reconciler) WithMaxAttempts(n int) *Reconciler {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

// WithGrace sets how old an unanswered message must be before it is retried,
// so jobs still in the queue are left to the workers.
func (r *Reconciler) WithGrace(d time.Duration) *Reconciler {
	if d >= 0 {
		r.grace = d
	}
	return r
}

func (r *Reconciler) WithMetrics(m *metrics.PipelineMetrics) *Reconciler {
	r.metrics = m
	return r
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

func (r *Reconciler) drain(ctx context.Context) {
	summary, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Error("reconcile fetch failed", "error", err)
		return
	}
	if summary.Scanned > 0 {
		r.logger.Info("reconcile pass finished",
			"scanned", summary.Scanned,
			"recorded", summary.Recorded,
			"skipped", summary.Skipped,
			"failed", summary.Failed,
			"abandoned", summary.Abandoned,
		)
	}
}

// RunOnce processes one batch of pending replies. A failure on one message
// never stops the rest of the batch.
func (r *Reconciler) RunOnce(ctx context.Context) (Summary, error) {
	var summary Summary
	if r.store == nil || r.processor == nil {
		return summary, nil
	}
	cutoff := r.now().Add(-r.grace)
	pending, err := r.store.PendingReplies(ctx, cutoff, r.maxAttempts, r.batchSize)
	if err != nil {
		return summary, err
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		summary.Scanned++
		if err := r.store.IncrementReplyAttempts(ctx, p.MessageID); err != nil {
			r.logger.Error("reply attempt increment failed", "error", err, "message_id", p.MessageID)
			summary.Abandoned++
			r.metrics.ObserveReconcile("abandoned")
			continue
		}
		out := r.processor.Process(ctx, JobFromPending(p))
		switch {
		case out.Succeeded():
			summary.Recorded++
			r.metrics.ObserveReconcile("recorded")
		case out.Failed():
			summary.Failed++
			r.metrics.ObserveReconcile("failed")
			if p.ReplyAttempts+1 >= r.maxAttempts {
				r.logger.Warn("reply attempts exhausted", "message_id", p.MessageID, "attempts", p.ReplyAttempts+1)
			}
		default:
			summary.Skipped++
			r.metrics.ObserveReconcile("skipped")
		}
	}
	return summary, nil
}
