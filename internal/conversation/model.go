package conversation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType is the normalized kind of a channel message.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeDocument MessageType = "document"
	MessageTypeLocation MessageType = "location"
	MessageTypeOther    MessageType = "other"
)

// ParseMessageType maps a provider message type onto the stored enum.
// Voice notes count as audio; anything unrecognized is other.
func ParseMessageType(raw string) MessageType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "text":
		return MessageTypeText
	case "image":
		return MessageTypeImage
	case "audio", "voice":
		return MessageTypeAudio
	case "document":
		return MessageTypeDocument
	case "location":
		return MessageTypeLocation
	default:
		return MessageTypeOther
	}
}

// Conversation is the thread with one counterparty on one instance.
type Conversation struct {
	ID             uuid.UUID
	InstanceID     uuid.UUID
	ContactAddress string
	ContactName    *string
	LastMessageAt  *time.Time
	MessageCount   int
	IsActive       bool
}

// Message is one inbound or outbound unit. Rows are never rewritten except
// for the reply bookkeeping columns (AIResponseGenerated, ReplyAttempts).
type Message struct {
	ID                  uuid.UUID
	InstanceID          uuid.UUID
	ConversationID      uuid.UUID
	ExternalID          string
	Sender              string
	Recipient           string
	Type                MessageType
	Content             string
	MediaRef            *string
	IsFromBot           bool
	AIResponseGenerated bool
	ModelUsed           *string
	ProcessingTimeMs    *int
	ReplyAttempts       int
	CreatedAt           time.Time
}

// PendingReply is an inbound message still waiting for an AI answer, joined
// with what is needed to rebuild a pipeline job.
type PendingReply struct {
	MessageID      uuid.UUID
	InstanceID     uuid.UUID
	InstanceKey    string
	PhoneNumberID  string
	ConversationID uuid.UUID
	ExternalID     string
	Sender         string
	Recipient      string
	Content        string
	ContactName    string
	ReplyAttempts  int
	CreatedAt      time.Time
}
