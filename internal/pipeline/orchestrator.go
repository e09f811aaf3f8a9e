package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/wa-autoreply/internal/aiconfig"
	"github.com/wolfman30/wa-autoreply/internal/channels/whatsapp"
	"github.com/wolfman30/wa-autoreply/internal/conversation"
	"github.com/wolfman30/wa-autoreply/internal/instance"
	"github.com/wolfman30/wa-autoreply/internal/llm"
	"github.com/wolfman30/wa-autoreply/internal/notify"
	"github.com/wolfman30/wa-autoreply/internal/observability/metrics"
	"github.com/wolfman30/wa-autoreply/internal/processinglog"
	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

// MessageStore is the conversation persistence the orchestrator needs.
type MessageStore interface {
	ResolveConversation(ctx context.Context, instanceID uuid.UUID, address string) (uuid.UUID, error)
	AppendMessage(ctx context.Context, msg *conversation.Message) (bool, error)
	UpdateContactName(ctx context.Context, instanceID uuid.UUID, address, name string) error
	TouchLastActivity(ctx context.Context, conversationID uuid.UUID, at time.Time) error
	MarkAIHandled(ctx context.Context, messageID uuid.UUID) error
	IsAIHandled(ctx context.Context, messageID uuid.UUID) (bool, error)
}

// ContextBuilder assembles the prompt for a live message.
type ContextBuilder interface {
	Build(ctx context.Context, conversationID uuid.UUID, cfg aiconfig.Config, live conversation.Message, contactName string) ([]llm.Message, error)
}

// Generator produces the reply text.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (llm.Result, error)
}

// Sender delivers the reply.
type Sender interface {
	SendText(ctx context.Context, req whatsapp.SendTextRequest) (*whatsapp.SendResult, error)
}

// Alerter is told about Failed(stage) outcomes.
type Alerter interface {
	Notify(ctx context.Context, failure notify.PipelineFailure) error
}

const (
	defaultGenerationTimeout = 45 * time.Second
	defaultDeliveryTimeout   = 20 * time.Second
	auditWriteTimeout        = 5 * time.Second
)

// Orchestrator drives one inbound message from persistence to a recorded reply.
type Orchestrator struct {
	store     MessageStore
	configs   aiconfig.Resolver
	builder   ContextBuilder
	generator Generator
	sender    Sender
	audit     processinglog.Writer

	locker            Locker
	runs              RunRecorder
	alerter           Alerter
	metrics           *metrics.PipelineMetrics
	logger            *logging.Logger
	generationTimeout time.Duration
	deliveryTimeout   time.Duration
	now               func() time.Time
	sleep             func(ctx context.Context, d time.Duration) error
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLocker replaces the in-process conversation lock.
func WithLocker(l Locker) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.locker = l
		}
	}
}

// WithGenerationTimeout bounds the model call.
func WithGenerationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.generationTimeout = d
		}
	}
}

// WithDeliveryTimeout bounds the WhatsApp send.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.deliveryTimeout = d
		}
	}
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithRunRecorder stores a record per finished job.
func WithRunRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) {
		o.runs = r
	}
}

// WithAlerter notifies operators of failures.
func WithAlerter(a Alerter) Option {
	return func(o *Orchestrator) {
		o.alerter = a
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func withSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

// NewOrchestrator wires the pipeline stages.
func NewOrchestrator(store MessageStore, configs aiconfig.Resolver, builder ContextBuilder, generator Generator, sender Sender, audit processinglog.Writer, opts ...Option) *Orchestrator {
	if store == nil || configs == nil || builder == nil || generator == nil || sender == nil || audit == nil {
		panic("pipeline: orchestrator dependencies cannot be nil")
	}
	o := &Orchestrator{
		store:             store,
		configs:           configs,
		builder:           builder,
		generator:         generator,
		sender:            sender,
		audit:             audit,
		locker:            NewKeyedMutex(),
		logger:            logging.Default(),
		generationTimeout: defaultGenerationTimeout,
		deliveryTimeout:   defaultDeliveryTimeout,
		now:               time.Now,
		sleep:             sleepFor,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ingest performs Received -> Persisted for one inbound message. It returns a
// nil job when the message was already stored (duplicate delivery).
func (o *Orchestrator) Ingest(ctx context.Context, inst *instance.Instance, msg whatsapp.MessageReceived, contactName string) (*Job, error) {
	if inst == nil {
		return nil, errors.New("pipeline: instance is required")
	}
	logger := o.logger.With("instance_key", inst.Key, "external_id", msg.ID)

	conversationID, err := o.store.ResolveConversation(ctx, inst.ID, msg.From)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve conversation: %w", err)
	}

	createdAt := msg.Timestamp
	if createdAt.IsZero() {
		createdAt = o.now().UTC()
	}
	stored := &conversation.Message{
		InstanceID:     inst.ID,
		ConversationID: conversationID,
		ExternalID:     msg.ID,
		Sender:         msg.From,
		Recipient:      msg.To,
		Type:           conversation.ParseMessageType(msg.Type),
		Content:        msg.Content,
		CreatedAt:      createdAt,
	}
	if msg.MediaRef != "" {
		ref := msg.MediaRef
		stored.MediaRef = &ref
	}
	inserted, err := o.store.AppendMessage(ctx, stored)
	if err != nil {
		return nil, fmt.Errorf("pipeline: persist message: %w", err)
	}
	if !inserted {
		logger.Info("duplicate inbound message ignored")
		o.metrics.ObserveOutcome(string(StatePersisted), "", ReasonDuplicate)
		return nil, nil
	}

	if name := strings.TrimSpace(contactName); name != "" {
		if err := o.store.UpdateContactName(ctx, inst.ID, msg.From, name); err != nil {
			logger.Warn("contact name update failed", "error", err)
		}
	}
	if err := o.store.TouchLastActivity(ctx, conversationID, createdAt); err != nil {
		logger.Warn("conversation activity update failed", "error", err)
	}

	return &Job{
		Source:         SourceWebhook,
		InstanceID:     inst.ID,
		InstanceKey:    inst.Key,
		PhoneNumberID:  firstNonEmpty(msg.PhoneNumberID, inst.PhoneNumberID),
		ConversationID: conversationID,
		MessageID:      stored.ID,
		ExternalID:     msg.ID,
		From:           msg.From,
		To:             msg.To,
		Content:        msg.Content,
		ContactName:    strings.TrimSpace(contactName),
		ReceivedAt:     createdAt,
	}, nil
}

// Process runs Persisted -> Recorded for a job. It never panics and never
// returns an error; failures end in Failed(stage) with a ProcessingLog entry.
func (o *Orchestrator) Process(ctx context.Context, job Job) (out Outcome) {
	started := o.now()
	out = Outcome{JobID: job.ID, MessageID: job.MessageID, State: StatePersisted}
	logger := o.logger.With(
		"job_id", job.ID,
		"instance_key", job.InstanceKey,
		"conversation_id", job.ConversationID,
		"message_id", job.MessageID,
	)

	defer func() {
		if r := recover(); r != nil {
			out = o.fail(ctx, logger, job, out, nextState(out.State), fmt.Errorf("panic: %v", r))
		}
		o.finish(ctx, logger, job, out, o.now().Sub(started))
	}()

	if err := job.validate(); err != nil {
		return o.fail(ctx, logger, job, out, StateConfigResolved, err)
	}

	unlock, err := o.locker.Lock(ctx, job.ConversationID.String())
	if err != nil {
		return o.fail(ctx, logger, job, out, StateConfigResolved, fmt.Errorf("acquire conversation lock: %w", err))
	}
	defer unlock()

	handled, err := o.store.IsAIHandled(ctx, job.MessageID)
	if err != nil {
		return o.fail(ctx, logger, job, out, StateConfigResolved, fmt.Errorf("check reply state: %w", err))
	}
	if handled {
		out.Reason = ReasonAlreadyHandled
		return out
	}

	cfg, err := o.configs.Resolve(ctx, job.InstanceID)
	if err != nil {
		return o.fail(ctx, logger, job, out, StateConfigResolved, err)
	}
	if !cfg.AutoReplyEnabled {
		out.Reason = ReasonAutoReplyDisabled
		return out
	}
	out.State = StateConfigResolved

	messages, err := o.builder.Build(ctx, job.ConversationID, cfg, job.liveMessage(), job.ContactName)
	if err != nil {
		return o.fail(ctx, logger, job, out, StateContextBuilt, err)
	}
	out.State = StateContextBuilt

	genCtx, cancelGen := context.WithTimeout(ctx, o.generationTimeout)
	result, err := o.generator.Generate(genCtx, llm.GenerateRequest{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: cfg.Temperature,
		MaxTokens:   int32(cfg.MaxTokens),
	})
	cancelGen()
	if err != nil {
		var genErr *llm.GenerationError
		if errors.As(err, &genErr) {
			out.Provider = string(genErr.Provider)
			out.Model = genErr.Model
			o.metrics.ObserveGenerationError(string(genErr.Provider), string(genErr.Kind))
		}
		return o.fail(ctx, logger, job, out, StateGenerated, err)
	}
	out.State = StateGenerated
	out.Provider = string(result.Provider)
	out.Model = result.Model
	out.Latency = result.Latency
	o.metrics.ObserveGeneration(string(result.Provider), result.Latency)

	if delay := cfg.ResponseDelay(); delay > 0 {
		if err := o.sleep(ctx, delay); err != nil {
			return o.fail(ctx, logger, job, out, StateDelayed, fmt.Errorf("response delay interrupted: %w", err))
		}
	}
	out.State = StateDelayed

	sendCtx, cancelSend := context.WithTimeout(ctx, o.deliveryTimeout)
	sent, err := o.sender.SendText(sendCtx, whatsapp.SendTextRequest{
		PhoneNumberID: job.PhoneNumberID,
		To:            job.From,
		Body:          result.Text,
	})
	cancelSend()
	if err != nil {
		o.metrics.ObserveDelivery("failed")
		return o.fail(ctx, logger, job, out, StateSent, err)
	}
	o.metrics.ObserveDelivery("sent")
	out.State = StateSent
	out.OutboundID = sent.MessageID

	o.record(ctx, logger, job, result, sent, &out)
	out.State = StateRecorded
	return out
}

// record persists the outbound message and flags the inbound one. Each
// write is independent and failures only produce warnings.
func (o *Orchestrator) record(ctx context.Context, logger *logging.Logger, job Job, result llm.Result, sent *whatsapp.SendResult, out *Outcome) {
	sentAt := sent.Timestamp
	if sentAt.IsZero() {
		sentAt = o.now().UTC()
	}
	model := result.Model
	latencyMs := int(result.Latency.Milliseconds())
	outbound := &conversation.Message{
		InstanceID:          job.InstanceID,
		ConversationID:      job.ConversationID,
		ExternalID:          sent.MessageID,
		Sender:              job.To,
		Recipient:           job.From,
		Type:                conversation.MessageTypeText,
		Content:             result.Text,
		IsFromBot:           true,
		AIResponseGenerated: true,
		ModelUsed:           &model,
		ProcessingTimeMs:    &latencyMs,
		CreatedAt:           sentAt,
	}
	if _, err := o.store.AppendMessage(ctx, outbound); err != nil {
		logger.Warn("outbound message persist failed", "error", err, "outbound_id", sent.MessageID)
		out.Warnings = append(out.Warnings, "persist outbound: "+err.Error())
		o.appendAudit(ctx, logger, job, StateRecorded, err)
	} else if err := o.store.TouchLastActivity(ctx, job.ConversationID, sentAt); err != nil {
		logger.Warn("conversation activity update failed", "error", err)
	}

	if err := o.store.MarkAIHandled(ctx, job.MessageID); err != nil {
		logger.Warn("inbound message flag failed", "error", err)
		out.Warnings = append(out.Warnings, "mark handled: "+err.Error())
		o.appendAudit(ctx, logger, job, StateRecorded, err)
	}
}

func (o *Orchestrator) fail(ctx context.Context, logger *logging.Logger, job Job, out Outcome, stage State, err error) Outcome {
	out.State = StateFailed
	out.FailedStage = stage
	out.Err = err
	logger.Error("pipeline stage failed", "stage", stage, "error", err)
	o.appendAudit(ctx, logger, job, stage, err)
	return out
}

// appendAudit writes a failure entry. It uses a fresh context so entries are
// still written when ctx was cancelled by shutdown.
func (o *Orchestrator) appendAudit(ctx context.Context, logger *logging.Logger, job Job, stage State, cause error) {
	payload, err := json.Marshal(job)
	if err != nil {
		payload = nil
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	entry := processinglog.Entry{
		InstanceID:   uuid.NullUUID{UUID: job.InstanceID, Valid: job.InstanceID != uuid.Nil},
		Stage:        string(stage),
		Payload:      payload,
		ErrorMessage: cause.Error(),
	}
	if _, err := o.audit.Append(writeCtx, entry); err != nil {
		logger.Warn("processing log write failed", "error", err, "stage", stage)
	}
}

func (o *Orchestrator) finish(ctx context.Context, logger *logging.Logger, job Job, out Outcome, elapsed time.Duration) {
	o.metrics.ObserveOutcome(string(out.State), string(out.FailedStage), out.Reason)

	switch {
	case out.Failed():
	case out.Skipped():
		logger.Info("pipeline finished without reply", "reason", out.Reason)
	default:
		logger.Info("pipeline reply recorded",
			"provider", out.Provider,
			"model", out.Model,
			"latency_ms", out.Latency.Milliseconds(),
			"outbound_id", out.OutboundID,
		)
	}

	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if o.runs != nil {
		if err := o.runs.Record(bgCtx, newRunRecord(job, out, elapsed, o.now())); err != nil {
			logger.Warn("run record write failed", "error", err)
		}
	}
	if o.alerter != nil && out.Failed() {
		failure := notify.PipelineFailure{
			InstanceKey: job.InstanceKey,
			Stage:       string(out.FailedStage),
			JobID:       job.ID,
			MessageID:   job.MessageID.String(),
			Error:       errString(out.Err),
			OccurredAt:  o.now().UTC(),
		}
		if err := o.alerter.Notify(bgCtx, failure); err != nil {
			logger.Warn("failure alert not sent", "error", err)
		}
	}
}

// nextState is the stage a job was entering when it stopped in state s.
func nextState(s State) State {
	switch s {
	case StateReceived:
		return StatePersisted
	case StatePersisted:
		return StateConfigResolved
	case StateConfigResolved:
		return StateContextBuilt
	case StateContextBuilt:
		return StateGenerated
	case StateGenerated:
		return StateDelayed
	case StateDelayed:
		return StateSent
	default:
		return StateRecorded
	}
}

func sleepFor(ctx context.Context, d time.Duration) error {
	if !sleepCtx(ctx, d) {
		return ctx.Err()
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
