package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/FOwen123/Chromion-2025/internal/domain"
	"github.com/google/uuid"
)

// PaymentResumer restarts delivery tracking for one payment.
type PaymentResumer interface {
	Resume(ctx context.Context, paymentID uuid.UUID) (bool, error)
}

// ResumeRequestConsumer handles payment.resume.requested messages.
type ResumeRequestConsumer struct {
	resumer PaymentResumer
	logger  *slog.Logger
}

func NewResumeRequestConsumer(resumer PaymentResumer, logger *slog.Logger) *ResumeRequestConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResumeRequestConsumer{resumer: resumer, logger: logger.With("component", "resume_consumer")}
}

// HandleMessage returns true to acknowledge the message and false to requeue it.
func (c *ResumeRequestConsumer) HandleMessage(body []byte) bool {
	var req domain.ResumeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.logger.Warn("failed to unmarshal resume request", "error", err)
		return true
	}

	paymentID, err := uuid.Parse(strings.TrimSpace(req.PaymentID))
	if err != nil {
		c.logger.Warn("resume request has invalid payment id", "payment_id", req.PaymentID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	started, err := c.resumer.Resume(ctx, paymentID)
	switch {
	case err == nil:
		c.logger.Info("resume request processed", "payment_id", paymentID, "started", started)
		return true
	case errors.Is(err, ErrPaymentNotFound), errors.Is(err, ErrInvalidState):
		c.logger.Info("resume request not applicable; acknowledging", "payment_id", paymentID, "error", err)
		return true
	default:
		c.logger.Error("resume request failed; requeueing", "payment_id", paymentID, "error", err)
		return false
	}
}
