package notify

import (
	"context"
	"fmt"
	"sort"

	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

// EmailSender delivers one plain-text operator email.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is an operator email. Tags are forwarded to the provider so
// alerts can be filtered by instance and stage.
type EmailMessage struct {
	To      string
	Subject string
	Body    string
	Tags    map[string]string
}

const defaultFromName = "WhatsApp Auto-Reply"

func fromHeader(name, email string) string {
	if name == "" {
		name = defaultFromName
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

// sortedTags returns tag keys in a stable order.
func sortedTags(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k, v := range tags {
		if k != "" && v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// LogSender writes alerts to the log instead of mailing them
// (ALERT_EMAIL_PROVIDER=log).
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg EmailMessage) error {
	args := []any{"to", msg.To, "subject", msg.Subject, "body", msg.Body}
	for _, k := range sortedTags(msg.Tags) {
		args = append(args, "tag_"+k, msg.Tags[k])
	}
	s.logger.Warn("operator alert", args...)
	return nil
}

var _ EmailSender = (*LogSender)(nil)
