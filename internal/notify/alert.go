package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

// PipelineFailure describes a job that ended in Failed(stage).
type PipelineFailure struct {
	InstanceKey string
	Stage       string
	JobID       string
	MessageID   string
	Error       string
	OccurredAt  time.Time
}

// FailureAlerter emails operators about pipeline failures. At most one email
// is sent per (instance, stage) within the cooldown window; the rest are
// counted and reported with the next email.
type FailureAlerter struct {
	sender   EmailSender
	to       string
	cooldown time.Duration
	sent     *cache.Cache
	suppress *cache.Cache
	logger   *logging.Logger
}

// NewFailureAlerter returns nil when there is no sender or recipient.
func NewFailureAlerter(sender EmailSender, to string, cooldown time.Duration, logger *logging.Logger) *FailureAlerter {
	if sender == nil || strings.TrimSpace(to) == "" {
		return nil
	}
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FailureAlerter{
		sender:   sender,
		to:       strings.TrimSpace(to),
		cooldown: cooldown,
		sent:     cache.New(cooldown, 2*cooldown),
		suppress: cache.New(cache.NoExpiration, 2*cooldown),
		logger:   logger,
	}
}

// Notify sends or suppresses an alert for failure.
func (a *FailureAlerter) Notify(ctx context.Context, failure PipelineFailure) error {
	if a == nil {
		return errors.New("notify: alerter not configured")
	}
	key := failure.InstanceKey + "|" + failure.Stage
	if err := a.sent.Add(key, struct{}{}, a.cooldown); err != nil {
		if _, countErr := a.suppress.IncrementInt(key, 1); countErr != nil {
			a.suppress.Set(key, 1, cache.NoExpiration)
		}
		a.logger.Debug("failure alert suppressed", "instance_key", failure.InstanceKey, "stage", failure.Stage)
		return nil
	}

	suppressed := 0
	if v, ok := a.suppress.Get(key); ok {
		suppressed, _ = v.(int)
		a.suppress.Delete(key)
	}

	msg := EmailMessage{
		To:      a.to,
		Subject: fmt.Sprintf("[auto-reply] %s failed at %s", failure.InstanceKey, failure.Stage),
		Body:    alertBody(failure, suppressed, a.cooldown),
		Tags:    map[string]string{"instance_key": failure.InstanceKey, "stage": failure.Stage},
	}
	if err := a.sender.Send(ctx, msg); err != nil {
		a.sent.Delete(key)
		return fmt.Errorf("notify: send failure alert: %w", err)
	}
	return nil
}

func alertBody(f PipelineFailure, suppressed int, cooldown time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instance: %s\n", f.InstanceKey)
	fmt.Fprintf(&b, "Stage: %s\n", f.Stage)
	fmt.Fprintf(&b, "Job: %s\n", f.JobID)
	fmt.Fprintf(&b, "Message: %s\n", f.MessageID)
	if !f.OccurredAt.IsZero() {
		fmt.Fprintf(&b, "At: %s\n", f.OccurredAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Error: %s\n", f.Error)
	if suppressed > 0 {
		fmt.Fprintf(&b, "\n%d similar failures were suppressed in the last %s.\n", suppressed, cooldown)
	}
	return b.String()
}
