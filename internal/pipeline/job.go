package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/wa-autoreply/internal/conversation"
)

// Job sources.
const (
	SourceWebhook    = "webhook"
	SourceReconciler = "reconciler"
)

// Job is the queued unit of work: one persisted inbound message awaiting a reply.
type Job struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	InstanceID     uuid.UUID `json:"instance_id"`
	InstanceKey    string    `json:"instance_key"`
	PhoneNumberID  string    `json:"phone_number_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	ExternalID     string    `json:"external_id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Content        string    `json:"content"`
	ContactName    string    `json:"contact_name,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
	Attempt        int       `json:"attempt,omitempty"`
}

func (j Job) validate() error {
	switch {
	case j.InstanceID == uuid.Nil:
		return errors.New("pipeline: job instance id is required")
	case j.ConversationID == uuid.Nil:
		return errors.New("pipeline: job conversation id is required")
	case j.MessageID == uuid.Nil:
		return errors.New("pipeline: job message id is required")
	case j.From == "":
		return errors.New("pipeline: job sender is required")
	}
	return nil
}

// liveMessage rebuilds the inbound message the job refers to.
func (j Job) liveMessage() conversation.Message {
	return conversation.Message{
		ID:             j.MessageID,
		InstanceID:     j.InstanceID,
		ConversationID: j.ConversationID,
		ExternalID:     j.ExternalID,
		Sender:         j.From,
		Recipient:      j.To,
		Type:           conversation.MessageTypeText,
		Content:        j.Content,
		CreatedAt:      j.ReceivedAt,
	}
}

// JobFromPending rebuilds a job for a message the reconciler picked up.
func JobFromPending(p conversation.PendingReply) Job {
	return Job{
		ID:             uuid.NewString(),
		Source:         SourceReconciler,
		InstanceID:     p.InstanceID,
		InstanceKey:    p.InstanceKey,
		PhoneNumberID:  p.PhoneNumberID,
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
		ExternalID:     p.ExternalID,
		From:           p.Sender,
		To:             p.Recipient,
		Content:        p.Content,
		ContactName:    p.ContactName,
		ReceivedAt:     p.CreatedAt,
		Attempt:        p.ReplyAttempts + 1,
	}
}

func encodeJob(job Job) (Job, string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return Job{}, "", fmt.Errorf("pipeline: encode job: %w", err)
	}
	return job, string(body), nil
}

func decodeJob(body string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, fmt.Errorf("pipeline: decode job: %w", err)
	}
	return job, nil
}
