package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type recordingSender struct {
	sent []EmailMessage
	err  error
}

func (r *recordingSender) Send(ctx context.Context, msg EmailMessage) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func failure(instanceKey, stage string) PipelineFailure {
	return PipelineFailure{
		InstanceKey: instanceKey,
		Stage:       stage,
		JobID:       "job-1",
		MessageID:   "msg-1",
		Error:       "boom",
		OccurredAt:  time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFailureAlerter_CooldownPerInstanceAndStage(t *testing.T) {
	sender := &recordingSender{}
	alerter := NewFailureAlerter(sender, "ops@example.com", time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := alerter.Notify(ctx, failure("shop1", "Generated")); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	if err := alerter.Notify(ctx, failure("shop1", "Sent")); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := alerter.Notify(ctx, failure("shop2", "Generated")); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(sender.sent) != 3 {
		t.Fatalf("expected 3 emails, got %d", len(sender.sent))
	}
	first := sender.sent[0]
	if first.To != "ops@example.com" {
		t.Fatalf("unexpected recipient %q", first.To)
	}
	if !strings.Contains(first.Subject, "shop1") || !strings.Contains(first.Subject, "Generated") {
		t.Fatalf("unexpected subject %q", first.Subject)
	}
	if !strings.Contains(first.Body, "Error: boom") {
		t.Fatalf("body missing error: %q", first.Body)
	}
	if first.Tags["instance_key"] != "shop1" || first.Tags["stage"] != "Generated" {
		t.Fatalf("unexpected tags %v", first.Tags)
	}
}

func TestFailureAlerter_ReportsSuppressedCount(t *testing.T) {
	sender := &recordingSender{}
	alerter := NewFailureAlerter(sender, "ops@example.com", time.Hour, nil)
	ctx := context.Background()

	_ = alerter.Notify(ctx, failure("shop1", "Sent"))
	_ = alerter.Notify(ctx, failure("shop1", "Sent"))
	_ = alerter.Notify(ctx, failure("shop1", "Sent"))

	alerter.sent.Delete("shop1|Sent")
	_ = alerter.Notify(ctx, failure("shop1", "Sent"))

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(sender.sent))
	}
	if !strings.Contains(sender.sent[1].Body, "2 similar failures") {
		t.Fatalf("expected suppressed count in body: %q", sender.sent[1].Body)
	}
}

func TestFailureAlerter_SendErrorReleasesCooldown(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	alerter := NewFailureAlerter(sender, "ops@example.com", time.Hour, nil)

	if err := alerter.Notify(context.Background(), failure("shop1", "Sent")); err == nil {
		t.Fatal("expected error")
	}
	sender.err = nil
	if err := alerter.Notify(context.Background(), failure("shop1", "Sent")); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected retry to send, got %d", len(sender.sent))
	}
}

func TestNewFailureAlerter_RequiresRecipient(t *testing.T) {
	if a := NewFailureAlerter(&recordingSender{}, " ", time.Minute, nil); a != nil {
		t.Fatal("expected nil alerter without recipient")
	}
	if a := NewFailureAlerter(nil, "ops@example.com", time.Minute, nil); a != nil {
		t.Fatal("expected nil alerter without sender")
	}
}
