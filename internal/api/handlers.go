/**
 * @description
 * This file contains the HTTP handlers for the settlement-service's API endpoints.
 * Handlers parse the request, pass the authenticated wallet to the settlement
 * service explicitly and translate its errors into HTTP responses.
 *
 * @dependencies
 * - internal/app: Settlement state machine and its errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/FOwen123/Chromion-2025/internal/app"
	"github.com/FOwen123/Chromion-2025/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SettlementService is the subset of app.Service used by the handlers.
type SettlementService interface {
	GetPayment(ctx context.Context, paymentID uuid.UUID, actor string) (*app.PaymentView, error)
	ConfirmDelivery(ctx context.Context, paymentID uuid.UUID, actor string) (*domain.Payment, error)
	RequestRefund(ctx context.Context, paymentID uuid.UUID, actor string) (*domain.Payment, error)
	MarkManualComplete(ctx context.Context, paymentID uuid.UUID, actor string) (*domain.Payment, error)
	Resume(ctx context.Context, paymentID uuid.UUID) (bool, error)
	ResumeAll(ctx context.Context) (int, error)
}

// SettlementHandlers holds the application service that handlers will use.
type SettlementHandlers struct {
	service SettlementService
}

// NewSettlementHandlers creates a new instance of SettlementHandlers.
func NewSettlementHandlers(service SettlementService) *SettlementHandlers {
	return &SettlementHandlers{service: service}
}

type paymentActionResponse struct {
	Payment *domain.Payment `json:"payment"`
	Message string          `json:"message"`
}

type errorResponse struct {
	Error      string `json:"error"`
	NextAction string `json:"next_action,omitempty"`
}

// GetPaymentHandler returns a payment with its delivery progress.
func (h *SettlementHandlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, actor, ok := h.paymentRequest(w, r)
	if !ok {
		return
	}
	view, err := h.service.GetPayment(r.Context(), paymentID, actor)
	if err != nil {
		h.writeServiceError(w, "get_payment", paymentID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// ConfirmDeliveryHandler starts cross-chain delivery of an escrowed payment.
func (h *SettlementHandlers) ConfirmDeliveryHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, actor, ok := h.paymentRequest(w, r)
	if !ok {
		return
	}
	payment, err := h.service.ConfirmDelivery(r.Context(), paymentID, actor)
	if err != nil {
		h.writeServiceError(w, "confirm_delivery", paymentID, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, paymentActionResponse{
		Payment: payment,
		Message: "Delivery submitted. Cross-chain transfers can take 5-20 minutes.",
	})
}

// RefundHandler returns the escrowed funds to the payer.
func (h *SettlementHandlers) RefundHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, actor, ok := h.paymentRequest(w, r)
	if !ok {
		return
	}
	payment, err := h.service.RequestRefund(r.Context(), paymentID, actor)
	if err != nil {
		h.writeServiceError(w, "refund", paymentID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, paymentActionResponse{Payment: payment, Message: "Refund completed."})
}

// ManualCompleteHandler records a participant's attestation that delivery happened.
func (h *SettlementHandlers) ManualCompleteHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, actor, ok := h.paymentRequest(w, r)
	if !ok {
		return
	}
	payment, err := h.service.MarkManualComplete(r.Context(), paymentID, actor)
	if err != nil {
		h.writeServiceError(w, "manual_complete", paymentID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, paymentActionResponse{Payment: payment, Message: "Payment marked as completed."})
}

// ResumeHandler restarts delivery tracking for a participant's confirming payment.
func (h *SettlementHandlers) ResumeHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, actor, ok := h.paymentRequest(w, r)
	if !ok {
		return
	}
	if _, err := h.service.GetPayment(r.Context(), paymentID, actor); err != nil {
		h.writeServiceError(w, "resume", paymentID, err)
		return
	}
	started, err := h.service.Resume(r.Context(), paymentID)
	if err != nil {
		h.writeServiceError(w, "resume", paymentID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"tracking_started": started})
}

// ReconcileHandler resumes tracking for every confirming payment.
func (h *SettlementHandlers) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	resumed, err := h.service.ResumeAll(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=reconcile msg=\"reconcile failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not reconcile payments", "")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"resumed": resumed})
}

// paymentRequest reads the payment id path parameter and the authenticated wallet.
func (h *SettlementHandlers) paymentRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	actor, ok := GetWalletAddress(r.Context())
	if !ok || actor == "" {
		h.writeError(w, http.StatusUnauthorized, "Could not get wallet address from context", "")
		return uuid.Nil, "", false
	}
	paymentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment ID format", "")
		return uuid.Nil, "", false
	}
	return paymentID, actor, true
}

func mapServiceError(err error) (int, string) {
	var submissionErr *app.SubmissionError
	switch {
	case errors.Is(err, app.ErrUnauthorizedActor):
		return http.StatusForbidden, "You are not a participant of this payment."
	case errors.Is(err, app.ErrPaymentNotFound):
		return http.StatusNotFound, "Payment not found."
	case errors.Is(err, app.ErrOperationInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, app.ErrDeliveryNotRecorded):
		return http.StatusServiceUnavailable, "Delivery was submitted but not recorded. Retry confirmation."
	case errors.Is(err, app.ErrInvalidState):
		return http.StatusConflict, err.Error()
	case errors.As(err, &submissionErr):
		return http.StatusBadGateway, "On-chain transaction failed."
	case errors.Is(err, app.ErrTrackingDegraded):
		return http.StatusServiceUnavailable, "Delivery status is temporarily unavailable."
	}
	return http.StatusInternalServerError, "Could not process payment request."
}

func (h *SettlementHandlers) writeServiceError(w http.ResponseWriter, endpoint string, paymentID uuid.UUID, err error) {
	status, message := mapServiceError(err)
	level := "warn"
	if status >= http.StatusInternalServerError {
		level = "error"
	}
	log.Printf("level=%s component=api endpoint=%s payment_id=%s status=%d err=%v", level, endpoint, paymentID, status, err)
	h.writeError(w, status, message, app.NextAction(err))
}

// writeJSON is a helper for writing JSON responses.
func (h *SettlementHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *SettlementHandlers) writeError(w http.ResponseWriter, status int, message, nextAction string) {
	h.writeJSON(w, status, errorResponse{Error: message, NextAction: nextAction})
}
