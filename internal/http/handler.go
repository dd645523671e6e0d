package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/WailSalutem-Health-Care/board-publisher/internal/messaging"
)

const maxMessageBytes = 1 << 20

type Handler struct {
	publisher      messaging.PublisherInterface
	publishTimeout time.Duration
}

func NewHandler(publisher messaging.PublisherInterface, publishTimeout time.Duration) *Handler {
	return &Handler{publisher: publisher, publishTimeout: publishTimeout}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Broker  string `json:"broker"`
}

type PublishResponse struct {
	Success bool   `json:"success"`
	Board   string `json:"board,omitempty"`
}

// Health reports unavailable once the publisher session is closed
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	state := h.publisher.State()
	resp := HealthResponse{
		Status:  "ok",
		Service: "board-publisher",
		Broker:  state.String(),
	}

	status := http.StatusOK
	if state == messaging.StateClosed || state == messaging.StateDisconnected {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// PublishMessage forwards any JSON document to the queue as-is
func (h *Handler) PublishMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "invalid_request", "Message body too large")
		return
	}
	if !json.Valid(body) {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.publishTimeout)
	defer cancel()

	if err := h.publisher.Publish(ctx, json.RawMessage(body)); err != nil {
		switch {
		case errors.Is(err, messaging.ErrNotConnected), errors.Is(err, messaging.ErrClosed):
			respondError(w, http.StatusServiceUnavailable, "broker_unavailable", err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			respondError(w, http.StatusGatewayTimeout, "publish_timeout", err.Error())
		default:
			respondError(w, http.StatusBadGateway, "publish_failed", err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(PublishResponse{
		Success: true,
		Board:   messaging.BoardLabel(body),
	})
}

// Reconnect re-opens the session after a publish failure closed it
func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.publisher.Reconnect(r.Context()); err != nil {
		respondError(w, http.StatusBadGateway, "reconnect_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondError(w http.ResponseWriter, statusCode int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errorType,
		Message: message,
	})
}
