package pipeline

import (
	"context"
	"testing"

	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

type stubQueue struct {
	sent []string
}

func (s *stubQueue) Send(ctx context.Context, body string) error {
	s.sent = append(s.sent, body)
	return nil
}

func (s *stubQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	return nil, context.Canceled
}

func (s *stubQueue) Delete(ctx context.Context, receiptHandle string) error {
	return nil
}

func TestPublisher_Enqueue(t *testing.T) {
	queue := &stubQueue{}
	publisher := NewPublisher(queue, logging.Default())

	job := testJob()
	job.Source = SourceWebhook
	queued, err := publisher.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("enqueue returned error: %v", err)
	}
	if queued.ID == "" {
		t.Fatal("expected job id to be assigned")
	}
	if len(queue.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(queue.sent))
	}

	decoded, err := decodeJob(queue.sent[0])
	if err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.ID != queued.ID || decoded.MessageID != job.MessageID || decoded.Content != "Merhaba" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestPublisher_RejectsInvalidJob(t *testing.T) {
	queue := &stubQueue{}
	publisher := NewPublisher(queue, nil)

	if _, err := publisher.Enqueue(context.Background(), Job{Content: "orphan"}); err == nil {
		t.Fatal("expected validation error")
	}
	if len(queue.sent) != 0 {
		t.Fatal("invalid job must not be queued")
	}
}
