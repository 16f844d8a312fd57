package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FOwen123/Chromion-2025/internal/domain"
	"github.com/FOwen123/Chromion-2025/internal/store"
	"github.com/FOwen123/Chromion-2025/pkg/chain"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// loadAuthorized returns the payment when actor is its payer or recipient.
func (s *Service) loadAuthorized(ctx context.Context, paymentID uuid.UUID, actor string) (*domain.Payment, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.IsParticipant(actor) {
		return nil, ErrUnauthorizedActor
	}
	return payment, nil
}

// ConfirmDelivery starts cross-chain delivery of an escrowed payment.
// Concurrent calls for the same payment share one submission.
func (s *Service) ConfirmDelivery(ctx context.Context, paymentID uuid.UUID, actor string) (*domain.Payment, error) {
	if _, err := s.loadAuthorized(ctx, paymentID, actor); err != nil {
		return nil, err
	}

	result, err, _ := s.confirmGroup.Do(paymentID.String(), func() (interface{}, error) {
		return s.confirmDelivery(context.WithoutCancel(ctx), paymentID, actor)
	})
	if err != nil {
		return nil, err
	}
	payment := *result.(*domain.Payment)
	return &payment, nil
}

func (s *Service) confirmDelivery(ctx context.Context, paymentID uuid.UUID, actor string) (*domain.Payment, error) {
	unlock, err := s.lockPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	payment, err := s.loadAuthorized(ctx, paymentID, actor)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentStatusEscrowed {
		return nil, invalidState("delivery can only be confirmed for escrowed payments, payment is %s", payment.Status)
	}

	txHash, messageID, degraded, err := s.submitDelivery(ctx, payment)
	if err != nil {
		return nil, err
	}

	confirming := domain.PaymentStatusConfirming
	now := s.now()
	updated, err := s.OnTransition(ctx, payment, store.UpdatePaymentParams{
		Status:              &confirming,
		DeliveryMessageID:   &messageID,
		DeliveryTxHash:      &txHash,
		DeliveryKeyDegraded: &degraded,
		ConfirmingAt:        &now,
	})
	if err != nil {
		s.logger.Error("delivery submitted but confirming state not persisted", "payment_id", paymentID, "tx_hash", txHash, "message_id", messageID, "error", err)
		return nil, fmt.Errorf("%w: tx %s: %w", ErrDeliveryNotRecorded, txHash, err)
	}

	s.startTracking(updated)
	return updated, nil
}

// submitDelivery sends the delivery transfer, or picks up one recorded by an
// earlier attempt that failed before reaching confirming.
func (s *Service) submitDelivery(ctx context.Context, payment *domain.Payment) (txHash, messageID string, degraded bool, err error) {
	if recorded := optionalString(payment.DeliveryTxHash); recorded != "" {
		messageID, degraded, err = s.deliveryKey(ctx, payment.ID, recorded)
		var submissionErr *SubmissionError
		if !errors.As(err, &submissionErr) {
			s.logger.Info("reusing recorded delivery transfer", "payment_id", payment.ID, "tx_hash", recorded)
			return recorded, messageID, degraded, err
		}
		s.logger.Warn("recorded delivery transfer reverted; submitting again", "payment_id", payment.ID, "tx_hash", recorded)
	}

	txHash, err = s.chain.SubmitDeliveryTransfer(ctx, chain.DeliveryTransfer{
		Amount: payment.Amount,
		Seller: payment.RecipientWallet,
	})
	if err != nil {
		chainSubmissions.WithLabelValues("delivery", "error").Inc()
		s.logger.Error("delivery transfer submission failed", "payment_id", payment.ID, "error", err)
		return "", "", false, &SubmissionError{Op: "transferTokensPayLINK", Err: err}
	}
	chainSubmissions.WithLabelValues("delivery", "submitted").Inc()

	// Status stays escrowed; a retry finds the hash instead of sending a second transfer.
	if _, err := s.repo.UpdatePayment(ctx, payment.ID, domain.PaymentStatusEscrowed, store.UpdatePaymentParams{DeliveryTxHash: &txHash}); err != nil {
		s.logger.Warn("record delivery transfer failed", "payment_id", payment.ID, "tx_hash", txHash, "error", err)
	}

	messageID, degraded, err = s.deliveryKey(ctx, payment.ID, txHash)
	return txHash, messageID, degraded, err
}

// deliveryKey waits for the delivery receipt and extracts the tracking key.
// When the message id cannot be read the transaction hash is used instead.
func (s *Service) deliveryKey(ctx context.Context, paymentID uuid.UUID, txHash string) (string, bool, error) {
	receiptCtx, cancel := context.WithTimeout(ctx, s.opts.ReceiptTimeout)
	defer cancel()

	receipt, err := s.chain.WaitForReceipt(receiptCtx, txHash)
	if err != nil {
		if errors.Is(err, chain.ErrTransactionReverted) {
			chainSubmissions.WithLabelValues("delivery", "reverted").Inc()
			return "", false, &SubmissionError{Op: "transferTokensPayLINK", TxHash: txHash, Err: err}
		}
		// The transfer may still be mined; keep tracking by tx hash rather than leaving funds refundable.
		s.logger.Warn("delivery receipt unavailable; tracking by transaction hash", "payment_id", paymentID, "tx_hash", txHash, "error", err)
		return txHash, true, nil
	}

	messageID, err := s.messageID(receipt)
	if err != nil {
		s.logger.Warn("delivery message id not found; tracking by transaction hash", "payment_id", paymentID, "tx_hash", txHash, "error", err)
		return txHash, true, nil
	}
	return messageID, false, nil
}

func (s *Service) messageID(receipt *types.Receipt) (string, error) {
	messageID, err := s.chain.MessageID(receipt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(messageID) == "" {
		return "", ErrMessageIDNotFound
	}
	return messageID, nil
}

// RequestRefund returns escrowed funds to the payer. From confirming it is only
// allowed once delivery is known to have failed or tracking has timed out.
func (s *Service) RequestRefund(ctx context.Context, paymentID uuid.UUID, actor string) (*domain.Payment, error) {
	if _, err := s.loadAuthorized(ctx, paymentID, actor); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	unlock, err := s.lockPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	payment, err := s.loadAuthorized(ctx, paymentID, actor)
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case domain.PaymentStatusEscrowed:
	case domain.PaymentStatusConfirming:
		if err := s.refundEligibleFromConfirming(ctx, payment); err != nil {
			return nil, err
		}
	default:
		return nil, invalidState("payment is %s and cannot be refunded", payment.Status)
	}

	txHash, err := s.chain.SubmitRefund(ctx, payment.PayerWallet)
	if err != nil {
		chainSubmissions.WithLabelValues("refund", "error").Inc()
		s.logger.Error("refund submission failed", "payment_id", paymentID, "error", err)
		return nil, &SubmissionError{Op: "withdrawUsdcToken", Err: err}
	}
	chainSubmissions.WithLabelValues("refund", "submitted").Inc()

	receiptCtx, cancel := context.WithTimeout(ctx, s.opts.ReceiptTimeout)
	defer cancel()
	if _, err := s.chain.WaitForReceipt(receiptCtx, txHash); err != nil {
		chainSubmissions.WithLabelValues("refund", "unconfirmed").Inc()
		s.logger.Error("refund receipt not confirmed", "payment_id", paymentID, "tx_hash", txHash, "error", err)
		return nil, &SubmissionError{Op: "withdrawUsdcToken", TxHash: txHash, Err: err}
	}

	refunded := domain.PaymentStatusRefunded
	now := s.now()
	updated, err := s.OnTransition(ctx, payment, store.UpdatePaymentParams{
		Status:       &refunded,
		RefundTxHash: &txHash,
		RefundedAt:   &now,
	})
	if err != nil {
		s.logger.Error("refund mined but refunded state not persisted", "payment_id", paymentID, "tx_hash", txHash, "error", err)
		return nil, err
	}
	s.tracker.forget(paymentID.String())
	return updated, nil
}

// refundEligibleFromConfirming gates refunds of in-flight deliveries and makes
// one final status check so a delivered payment is never refunded.
func (s *Service) refundEligibleFromConfirming(ctx context.Context, payment *domain.Payment) error {
	state, ok := s.tracker.snapshot(payment.ID.String())
	if !ok || !state.NeedsAction() {
		return invalidState("refund is only available after cross-chain delivery failed or tracking timed out")
	}

	res, err := s.resolver.Resolve(ctx, payment.TrackingKey())
	if err != nil || res.Degraded {
		return nil
	}
	if res.Status == domain.CanonicalSuccess {
		if _, completeErr := s.completeDelivered(ctx, payment, false); completeErr != nil {
			s.logger.Error("persist late delivery success failed", "payment_id", payment.ID, "error", completeErr)
		}
		return invalidState("cross-chain delivery succeeded; payment completed instead of refunded")
	}
	return nil
}

// MarkManualComplete lets a participant attest delivery once tracking has run
// for the manual override window without a terminal answer.
func (s *Service) MarkManualComplete(ctx context.Context, paymentID uuid.UUID, actor string) (*domain.Payment, error) {
	if _, err := s.loadAuthorized(ctx, paymentID, actor); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	unlock, err := s.lockPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	payment, err := s.loadAuthorized(ctx, paymentID, actor)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentStatusConfirming {
		return nil, invalidState("manual completion requires a confirming payment, payment is %s", payment.Status)
	}

	state, tracked := s.tracker.snapshot(paymentID.String())
	if tracked && state.CanonicalStatus == domain.CanonicalFailed {
		return nil, invalidState("cross-chain delivery failed; request a refund instead")
	}
	if !s.manualOverrideAvailable(payment, s.now()) {
		return nil, invalidState("manual completion is available %s after delivery was confirmed", s.opts.ManualOverrideAfter)
	}

	updated, err := s.completeDelivered(ctx, payment, true)
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment completed manually", "payment_id", paymentID, "actor", actor)
	return updated, nil
}

func (s *Service) manualOverrideAvailable(payment *domain.Payment, now time.Time) bool {
	if payment.Status != domain.PaymentStatusConfirming {
		return false
	}
	since := payment.ConfirmingAt
	if since == nil {
		if state, ok := s.tracker.snapshot(payment.ID.String()); ok {
			started := state.StartedAt
			since = &started
		} else {
			since = &payment.UpdatedAt
		}
	}
	return now.Sub(*since) >= s.opts.ManualOverrideAfter
}
