package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FOwen123/Chromion-2025/internal/domain"
	"github.com/FOwen123/Chromion-2025/internal/store"
	"github.com/google/uuid"
)

const resumeBatchLimit = 500

// OnTransition durably records a transition of payment. It returns only after the
// write has committed; metrics and events follow the write and never fail it.
func (s *Service) OnTransition(ctx context.Context, payment *domain.Payment, params store.UpdatePaymentParams) (*domain.Payment, error) {
	if params.Status != nil && *params.Status != payment.Status && !domain.CanTransition(payment.Status, *params.Status) {
		return nil, invalidState("%s -> %s is not a valid transition", payment.Status, *params.Status)
	}

	updated, err := s.repo.UpdatePayment(ctx, payment.ID, payment.Status, params)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) || errors.Is(err, store.ErrMessageIDImmutable) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return nil, fmt.Errorf("persist payment %s: %w", payment.ID, err)
	}

	if updated.Status != payment.Status {
		paymentTransitions.WithLabelValues(string(payment.Status), string(updated.Status)).Inc()
		s.logger.Info("payment transition persisted",
			"payment_id", payment.ID,
			"from", payment.Status,
			"to", updated.Status,
			"manual_completion", updated.ManualCompletion,
		)
		s.publishTransition(ctx, updated)
	}
	return updated, nil
}

// completeDelivered persists confirming -> completed and stops tracking.
func (s *Service) completeDelivered(ctx context.Context, payment *domain.Payment, manual bool) (*domain.Payment, error) {
	completed := domain.PaymentStatusCompleted
	now := s.now()
	params := store.UpdatePaymentParams{
		Status:      &completed,
		CompletedAt: &now,
	}
	if manual {
		params.ManualCompletion = &manual
	}
	updated, err := s.OnTransition(ctx, payment, params)
	if err != nil {
		return nil, err
	}
	s.tracker.forget(payment.ID.String())
	return updated, nil
}

// Resume restarts delivery tracking for a confirming payment using its stored key.
// It never submits a transaction. started is false when tracking was already running
// or when the last task ended in a failure or timeout that a refund still depends on.
func (s *Service) Resume(ctx context.Context, paymentID uuid.UUID) (started bool, err error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return false, err
	}
	if payment.Status != domain.PaymentStatusConfirming {
		return false, invalidState("payment is %s, not confirming", payment.Status)
	}
	if payment.TrackingKey() == "" {
		return false, invalidState("payment has no delivery tracking key")
	}
	if state, known := s.tracker.snapshot(paymentID.String()); known && state.NeedsAction() {
		return false, nil
	}
	return s.startTracking(payment), nil
}

// ResumeAll resumes tracking for every confirming payment not already tracked here.
func (s *Service) ResumeAll(ctx context.Context) (int, error) {
	payments, err := s.repo.ListPaymentsByStatus(ctx, domain.PaymentStatusConfirming, resumeBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("list confirming payments: %w", err)
	}
	resumed := 0
	for i := range payments {
		payment := payments[i]
		key := payment.ID.String()
		if s.tracker.isActive(key) || payment.TrackingKey() == "" {
			continue
		}
		// A finished task whose outcome is still known is not restarted by the sweep.
		if _, known := s.tracker.snapshot(key); known {
			continue
		}
		if s.startTracking(&payment) {
			resumed++
		}
	}
	if resumed > 0 {
		s.logger.Info("resumed delivery tracking", "count", resumed)
	}
	return resumed, nil
}

func (s *Service) publishTransition(ctx context.Context, payment *domain.Payment) {
	var routingKey string
	event := domain.SettlementEvent{
		PaymentID:        payment.ID.String(),
		Status:           payment.Status,
		MessageID:        payment.TrackingKey(),
		ManualCompletion: payment.ManualCompletion,
	}
	switch payment.Status {
	case domain.PaymentStatusConfirming:
		routingKey = domain.EventPaymentConfirming
		event.TxHash = optionalString(payment.DeliveryTxHash)
	case domain.PaymentStatusCompleted:
		routingKey = domain.EventPaymentCompleted
	case domain.PaymentStatusRefunded:
		routingKey = domain.EventPaymentRefunded
		event.TxHash = optionalString(payment.RefundTxHash)
	default:
		return
	}
	s.publish(ctx, routingKey, event)
}

func (s *Service) publishTrackingEvent(ctx context.Context, paymentID uuid.UUID, messageID, routingKey string, canonical domain.CanonicalStatus, reason string) {
	s.publish(ctx, routingKey, domain.SettlementEvent{
		PaymentID:       paymentID.String(),
		Status:          domain.PaymentStatusConfirming,
		CanonicalStatus: canonical,
		MessageID:       messageID,
		Reason:          reason,
	})
}

func (s *Service) publish(ctx context.Context, routingKey string, event domain.SettlementEvent) {
	if s.publisher == nil {
		return
	}
	event.EventID = uuid.NewString()
	event.EventType = routingKey
	event.OccurredAt = s.now()

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(publishCtx, s.opts.EventExchange, routingKey, event); err != nil {
		s.logger.Warn("settlement event publish failed", "routing_key", routingKey, "payment_id", event.PaymentID, "error", err)
	}
}

func optionalString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
