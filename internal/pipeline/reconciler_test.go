package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/wa-autoreply/internal/aiconfig"
	"github.com/wolfman30/wa-autoreply/internal/conversation"
	"github.com/wolfman30/wa-autoreply/internal/observability/metrics"
	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

type scriptedProcessor struct {
	outcomes map[uuid.UUID]Outcome
	jobs     []Job
}

func (p *scriptedProcessor) Process(ctx context.Context, job Job) Outcome {
	p.jobs = append(p.jobs, job)
	return p.outcomes[job.MessageID]
}

func pending(attempts int) conversation.PendingReply {
	return conversation.PendingReply{
		MessageID:      uuid.New(),
		InstanceID:     uuid.New(),
		InstanceKey:    "shop1",
		PhoneNumberID:  "106540352242922",
		ConversationID: uuid.New(),
		ExternalID:     "wamid." + uuid.NewString()[:6],
		Sender:         "+905551234567",
		Recipient:      "+15550783881",
		Content:        "Merhaba",
		ReplyAttempts:  attempts,
		CreatedAt:      time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestReconciler_RunOnceIsolatesFailures(t *testing.T) {
	store := newMemoryStore()
	ok, failed, skipped, broken := pending(0), pending(2), pending(1), pending(0)
	store.pending = []conversation.PendingReply{ok, failed, skipped, broken}
	store.incrementErr[broken.MessageID] = errors.New("row locked")
	processor := &scriptedProcessor{outcomes: map[uuid.UUID]Outcome{
		ok.MessageID:      {State: StateRecorded},
		failed.MessageID:  {State: StateFailed, FailedStage: StateSent},
		skipped.MessageID: {State: StatePersisted, Reason: ReasonAlreadyHandled},
	}}

	r := NewReconciler(store, processor, logging.Default()).WithMetrics(metrics.NewPipelineMetrics(prometheus.NewRegistry()))
	summary, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}

	want := Summary{Scanned: 4, Recorded: 1, Failed: 1, Skipped: 1, Abandoned: 1}
	if summary != want {
		t.Fatalf("expected %+v, got %+v", want, summary)
	}
	if len(processor.jobs) != 3 {
		t.Fatalf("expected 3 processed jobs, got %d", len(processor.jobs))
	}
	job := processor.jobs[1]
	if job.Source != SourceReconciler || job.Attempt != 3 || job.To != "+15550783881" {
		t.Fatalf("unexpected rebuilt job %+v", job)
	}
	if len(store.increments) != 3 {
		t.Fatalf("expected 3 attempt increments, got %d", len(store.increments))
	}
}

type cutoffStore struct {
	cutoff      time.Time
	maxAttempts int
	limit       int
}

func (s *cutoffStore) PendingReplies(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]conversation.PendingReply, error) {
	s.cutoff, s.maxAttempts, s.limit = cutoff, maxAttempts, limit
	return nil, nil
}

func (s *cutoffStore) IncrementReplyAttempts(ctx context.Context, messageID uuid.UUID) error {
	return nil
}

func TestReconciler_QueryParameters(t *testing.T) {
	store := &cutoffStore{}
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	r := NewReconciler(store, &scriptedProcessor{}, nil).
		WithBatchSize(25).
		WithMaxAttempts(5).
		WithGrace(10 * time.Minute)
	r.now = func() time.Time { return now }

	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !store.cutoff.Equal(now.Add(-10 * time.Minute)) {
		t.Fatalf("unexpected cutoff %s", store.cutoff)
	}
	if store.maxAttempts != 5 || store.limit != 25 {
		t.Fatalf("unexpected limits attempts=%d limit=%d", store.maxAttempts, store.limit)
	}
}

func TestReconciler_FetchError(t *testing.T) {
	store := newMemoryStore()
	store.pendingErr = errors.New("db down")
	r := NewReconciler(store, &scriptedProcessor{}, nil)

	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestReconciler_AnswersStrandedMessage(t *testing.T) {
	h := newHarness(t, aiconfig.Default(shop1.ID))
	h.sender.err = errors.New("graph unavailable")
	job := h.ingest(t, inbound("wamid.R1", "Merhaba", time.Now().UTC()))
	if out := h.orch.Process(context.Background(), job); !out.Failed() {
		t.Fatalf("expected first delivery to fail, got %s", out.State)
	}

	h.sender.err = nil
	in, _ := h.store.find("wamid.R1")
	h.store.pending = []conversation.PendingReply{{
		MessageID:      in.ID,
		InstanceID:     in.InstanceID,
		InstanceKey:    shop1.Key,
		PhoneNumberID:  shop1.PhoneNumberID,
		ConversationID: in.ConversationID,
		ExternalID:     in.ExternalID,
		Sender:         in.Sender,
		Recipient:      in.Recipient,
		Content:        in.Content,
		CreatedAt:      in.CreatedAt,
	}}

	summary, err := NewReconciler(h.store, h.orch, nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Recorded != 1 {
		t.Fatalf("expected stranded message answered, got %+v", summary)
	}
	in, _ = h.store.find("wamid.R1")
	if !in.AIResponseGenerated {
		t.Fatal("expected inbound flagged after reconcile")
	}
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	store := newMemoryStore()
	r := NewReconciler(store, &scriptedProcessor{}, nil).WithInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
