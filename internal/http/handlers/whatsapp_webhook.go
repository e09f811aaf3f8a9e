package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/wa-autoreply/internal/archive"
	"github.com/wolfman30/wa-autoreply/internal/channels/whatsapp"
	"github.com/wolfman30/wa-autoreply/internal/instance"
	"github.com/wolfman30/wa-autoreply/internal/observability/metrics"
	"github.com/wolfman30/wa-autoreply/internal/pipeline"
	"github.com/wolfman30/wa-autoreply/internal/processinglog"
	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

var webhookTracer = otel.Tracer("autoreply.internal.http.handlers")

const (
	defaultMaxBodyBytes = 1 << 20
	stageReceived       = "Received"
	bestEffortTimeout   = 5 * time.Second
)

// InstanceLookup resolves the instance key in the webhook URL.
type InstanceLookup interface {
	GetByKey(ctx context.Context, key string) (*instance.Instance, error)
}

// MessageIngestor persists inbound messages.
type MessageIngestor interface {
	Ingest(ctx context.Context, inst *instance.Instance, msg whatsapp.MessageReceived, contactName string) (*pipeline.Job, error)
}

// JobEnqueuer hands persisted messages to the workers.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job pipeline.Job) (pipeline.Job, error)
}

// ConversationUpdater applies contact and delivery-status events.
type ConversationUpdater interface {
	UpdateContactName(ctx context.Context, instanceID uuid.UUID, address, name string) error
	RecordStatus(ctx context.Context, instanceID uuid.UUID, externalID, status string, at time.Time) error
}

// PayloadArchiver keeps a copy of accepted bodies.
type PayloadArchiver interface {
	Archive(ctx context.Context, p archive.Payload) (string, error)
}

// WhatsAppWebhookConfig wires the webhook handler.
type WhatsAppWebhookConfig struct {
	Instances     InstanceLookup
	Ingestor      MessageIngestor
	Jobs          JobEnqueuer
	Conversations ConversationUpdater
	Audit         processinglog.Writer
	Archive       PayloadArchiver
	VerifyToken   string
	AppSecret     string
	MaxBodyBytes  int64
	Metrics       *metrics.PipelineMetrics
	Logger        *logging.Logger
}

// WhatsAppWebhookHandler serves GET/POST /webhook/{instanceKey}.
type WhatsAppWebhookHandler struct {
	instances     InstanceLookup
	ingestor      MessageIngestor
	jobs          JobEnqueuer
	conversations ConversationUpdater
	audit         processinglog.Writer
	archive       PayloadArchiver
	verifyToken   string
	appSecret     string
	maxBodyBytes  int64
	metrics       *metrics.PipelineMetrics
	logger        *logging.Logger
}

func NewWhatsAppWebhookHandler(cfg WhatsAppWebhookConfig) *WhatsAppWebhookHandler {
	if cfg.Instances == nil || cfg.Ingestor == nil || cfg.Jobs == nil || cfg.Conversations == nil || cfg.Audit == nil {
		panic("handlers: whatsapp webhook dependencies cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &WhatsAppWebhookHandler{
		instances:     cfg.Instances,
		ingestor:      cfg.Ingestor,
		jobs:          cfg.Jobs,
		conversations: cfg.Conversations,
		audit:         cfg.Audit,
		archive:       cfg.Archive,
		verifyToken:   cfg.VerifyToken,
		appSecret:     cfg.AppSecret,
		maxBodyBytes:  cfg.MaxBodyBytes,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}
}

// Verify answers Meta's subscription handshake.
func (h *WhatsAppWebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.verifyToken != "" && q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.verifyToken {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, q.Get("hub.challenge"))
		return
	}
	h.logger.Warn("webhook verification rejected", "instance_key", chi.URLParam(r, "instanceKey"), "mode", q.Get("hub.mode"))
	w.WriteHeader(http.StatusForbidden)
}

// Handle accepts a delivery. The raw body is logged before any event is
// applied; replies are produced asynchronously by the pipeline workers.
func (h *WhatsAppWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := webhookTracer.Start(r.Context(), "whatsapp.webhook")
	defer span.End()

	instanceKey := chi.URLParam(r, "instanceKey")
	span.SetAttributes(attribute.String("autoreply.instance_key", instanceKey))
	logger := h.logger.With("instance_key", instanceKey)

	result := "accepted"
	defer func() {
		h.metrics.ObserveWebhook(result, time.Since(start))
	}()
	reject := func(status int, res, msg string, err error) {
		result = res
		if err != nil {
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, msg)
		http.Error(w, msg, status)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		reject(http.StatusBadRequest, "invalid", "invalid body", err)
		return
	}

	inst, err := h.instances.GetByKey(ctx, instanceKey)
	if err != nil {
		if errors.Is(err, instance.ErrNotFound) {
			h.logFailure(ctx, logger, uuid.Nil, body, fmt.Sprintf("unknown instance %q", instanceKey))
			reject(http.StatusNotFound, "not_found", "instance not found", nil)
			return
		}
		logger.Error("instance lookup failed", "error", err)
		reject(http.StatusInternalServerError, "error", "server error", err)
		return
	}
	logger = logger.With("instance_id", inst.ID)

	if h.appSecret != "" && !whatsapp.VerifySignature(h.appSecret, body, r.Header.Get(whatsapp.SignatureHeader)) {
		logger.Warn("invalid whatsapp webhook signature")
		h.logFailure(ctx, logger, inst.ID, body, "invalid signature")
		reject(http.StatusUnauthorized, "unauthorized", "invalid signature", nil)
		return
	}

	events, err := whatsapp.Parse(body)
	if err != nil {
		logger.Warn("invalid whatsapp webhook payload", "error", err)
		h.logFailure(ctx, logger, inst.ID, body, err.Error())
		reject(http.StatusBadRequest, "invalid", "invalid payload", err)
		return
	}

	receivedAt := time.Now().UTC()
	logID, err := h.audit.Append(ctx, processinglog.Entry{
		InstanceID: uuid.NullUUID{UUID: inst.ID, Valid: true},
		Stage:      stageReceived,
		Payload:    body,
		CreatedAt:  receivedAt,
	})
	if err != nil {
		logger.Error("processing log write failed", "error", err)
		reject(http.StatusInternalServerError, "error", "server error", err)
		return
	}
	h.archivePayload(ctx, logger, inst.Key, logID, receivedAt, body, events)

	for _, msg := range events.Messages {
		job, err := h.ingestor.Ingest(ctx, inst, msg, events.ContactName(msg.From))
		if err != nil {
			logger.Error("inbound message persist failed", "error", err, "external_id", msg.ID)
			reject(http.StatusInternalServerError, "error", "processing error", err)
			return
		}
		if job == nil {
			continue
		}
		// The message is already stored; the reconciler answers it if the
		// enqueue is lost, so a queue failure does not fail the delivery.
		if _, err := h.jobs.Enqueue(ctx, *job); err != nil {
			logger.Error("pipeline enqueue failed", "error", err, "message_id", job.MessageID)
		}
	}
	h.applyContacts(ctx, logger, inst, events)
	h.applyStatuses(ctx, logger, inst, events)

	if err := h.audit.MarkProcessed(ctx, logID); err != nil {
		logger.Warn("processing log mark failed", "error", err, "log_id", logID)
	}
	span.SetAttributes(
		attribute.Int("autoreply.messages", len(events.Messages)),
		attribute.Int("autoreply.statuses", len(events.Statuses)),
	)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// applyContacts stores names for contacts that came without a message; the
// ingest path already handles senders in this delivery.
func (h *WhatsAppWebhookHandler) applyContacts(ctx context.Context, logger *logging.Logger, inst *instance.Instance, events whatsapp.Events) {
	senders := make(map[string]struct{}, len(events.Messages))
	for _, msg := range events.Messages {
		senders[msg.From] = struct{}{}
	}
	for _, c := range events.Contacts {
		if _, ok := senders[c.Address]; ok || c.DisplayName == "" {
			continue
		}
		if err := h.conversations.UpdateContactName(ctx, inst.ID, c.Address, c.DisplayName); err != nil {
			logger.Warn("contact name update failed", "error", err)
		}
	}
}

func (h *WhatsAppWebhookHandler) applyStatuses(ctx context.Context, logger *logging.Logger, inst *instance.Instance, events whatsapp.Events) {
	for _, st := range events.Statuses {
		if err := h.conversations.RecordStatus(ctx, inst.ID, st.ID, st.Status, st.Timestamp); err != nil {
			logger.Warn("message status record failed", "error", err, "external_id", st.ID, "status", st.Status)
		}
	}
}

func (h *WhatsAppWebhookHandler) archivePayload(ctx context.Context, logger *logging.Logger, instanceKey string, logID uuid.UUID, at time.Time, body []byte, events whatsapp.Events) {
	if h.archive == nil {
		return
	}
	senders := make([]string, 0, len(events.Messages))
	for _, msg := range events.Messages {
		senders = append(senders, msg.From)
	}
	if _, err := h.archive.Archive(ctx, archive.Payload{
		InstanceKey: instanceKey,
		LogID:       logID.String(),
		ReceivedAt:  at,
		Body:        body,
		Senders:     senders,
	}); err != nil {
		logger.Warn("webhook payload archive failed", "error", err)
	}
}

// logFailure records a rejected delivery. Errors are logged and dropped.
func (h *WhatsAppWebhookHandler) logFailure(ctx context.Context, logger *logging.Logger, instanceID uuid.UUID, body []byte, reason string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bestEffortTimeout)
	defer cancel()
	_, err := h.audit.Append(writeCtx, processinglog.Entry{
		InstanceID:   uuid.NullUUID{UUID: instanceID, Valid: instanceID != uuid.Nil},
		Stage:        stageReceived,
		Payload:      body,
		ErrorMessage: reason,
	})
	if err != nil {
		logger.Warn("processing log write failed", "error", err)
	}
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
