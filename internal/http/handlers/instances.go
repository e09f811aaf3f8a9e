package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/wa-autoreply/internal/instance"
	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

// ConnectionChecker asks the channel for the live state of a number.
type ConnectionChecker interface {
	ConnectionStatus(ctx context.Context, phoneNumberID string) (string, error)
}

// InstanceStatusHandler applies connection-state callbacks.
type InstanceStatusHandler struct {
	instances instance.Repository
	channel   ConnectionChecker
	logger    *logging.Logger
}

func NewInstanceStatusHandler(instances instance.Repository, channel ConnectionChecker, logger *logging.Logger) *InstanceStatusHandler {
	if instances == nil {
		panic("handlers: instance repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &InstanceStatusHandler{instances: instances, channel: channel, logger: logger}
}

type statusBody struct {
	Status string `json:"status"`
}

// UpdateStatus handles PUT /instances/{instanceKey}/status.
func (h *InstanceStatusHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "instanceKey")
	var body statusBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
		jsonError(w, "invalid body", http.StatusBadRequest)
		return
	}
	status, ok := instance.ParseStatus(body.Status)
	if !ok {
		jsonError(w, "unknown status", http.StatusBadRequest)
		return
	}
	if err := h.instances.UpdateStatus(r.Context(), key, status); err != nil {
		h.writeUpdateError(w, key, err)
		return
	}
	h.logger.Info("instance status updated", "instance_key", key, "status", status)
	w.WriteHeader(http.StatusNoContent)
}

// RefreshStatus handles POST /instances/{instanceKey}/status/refresh.
func (h *InstanceStatusHandler) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	if h.channel == nil {
		jsonError(w, "channel client not configured", http.StatusServiceUnavailable)
		return
	}
	key := chi.URLParam(r, "instanceKey")
	inst, err := h.instances.GetByKey(r.Context(), key)
	if err != nil {
		h.writeUpdateError(w, key, err)
		return
	}
	raw, err := h.channel.ConnectionStatus(r.Context(), inst.PhoneNumberID)
	if err != nil {
		h.logger.Error("connection status lookup failed", "error", err, "instance_key", key)
		jsonError(w, "channel unavailable", http.StatusBadGateway)
		return
	}
	status, ok := instance.ParseStatus(raw)
	if !ok {
		status = instance.StatusClosed
	}
	if err := h.instances.UpdateStatus(r.Context(), key, status); err != nil {
		h.writeUpdateError(w, key, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: string(status)})
}

func (h *InstanceStatusHandler) writeUpdateError(w http.ResponseWriter, key string, err error) {
	if errors.Is(err, instance.ErrNotFound) {
		jsonError(w, "instance not found", http.StatusNotFound)
		return
	}
	h.logger.Error("instance status update failed", "error", err, "instance_key", key)
	jsonError(w, "server error", http.StatusInternalServerError)
}
