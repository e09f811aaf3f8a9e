// Package pipeline turns persisted inbound WhatsApp messages into AI replies.
package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// State is a step of the per-message pipeline.
type State string

const (
	StateReceived       State = "Received"
	StatePersisted      State = "Persisted"
	StateConfigResolved State = "ConfigResolved"
	StateContextBuilt   State = "ContextBuilt"
	StateGenerated      State = "Generated"
	StateDelayed        State = "Delayed"
	StateSent           State = "Sent"
	StateRecorded       State = "Recorded"
	StateFailed         State = "Failed"
)

// Reasons for a terminal early exit. They are outcomes, not failures.
const (
	ReasonDuplicate         = "duplicate"
	ReasonAutoReplyDisabled = "auto_reply_disabled"
	ReasonAlreadyHandled    = "already_handled"
)

// Outcome is the terminal result of processing one job.
type Outcome struct {
	JobID       string
	MessageID   uuid.UUID
	State       State
	FailedStage State
	Reason      string
	Err         error
	Provider    string
	Model       string
	Latency     time.Duration
	OutboundID  string
	Warnings    []string
}

// Skipped reports a terminal early exit.
func (o Outcome) Skipped() bool {
	return o.Reason != ""
}

// Failed reports whether the job stopped in Failed(stage).
func (o Outcome) Failed() bool {
	return o.State == StateFailed
}

// Succeeded reports whether the reply was sent and recorded.
func (o Outcome) Succeeded() bool {
	return o.State == StateRecorded
}
