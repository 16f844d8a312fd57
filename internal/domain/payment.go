/**
 * @description
 * This file defines the core domain models for the settlement-service.
 * A Payment is one funds-lock event on the source chain that is driven through
 * cross-chain delivery until it is completed or refunded.
 *
 * @notes
 * - Amounts are held as decimals in whole token units; conversion to on-chain
 *   base units happens at the chain boundary.
 * - Wallet identities are compared case-insensitively.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the durable lifecycle status of a payment.
type PaymentStatus string

const (
	PaymentStatusEscrowed   PaymentStatus = "escrowed"
	PaymentStatusConfirming PaymentStatus = "confirming"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// IsTerminal reports whether no further transition may leave this status.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusRefunded
}

// Valid reports whether s is one of the known statuses.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusEscrowed, PaymentStatusConfirming, PaymentStatusCompleted, PaymentStatusRefunded:
		return true
	}
	return false
}

// allowedTransitions lists every edge of the lifecycle graph.
// confirming -> escrowed only exists as a rollback when the delivery
// transfer failed before a tracking key was obtained.
var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusEscrowed:   {PaymentStatusConfirming, PaymentStatusRefunded},
	PaymentStatusConfirming: {PaymentStatusCompleted, PaymentStatusRefunded, PaymentStatusEscrowed},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to PaymentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Payment maps to the `payments` table joined with the owning payment link's creator wallet.
type Payment struct {
	ID                  uuid.UUID       `json:"id"`
	PaymentLinkID       *uuid.UUID      `json:"payment_link_id,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	SourceChainID       int64           `json:"source_chain_id"`
	PayerWallet         string          `json:"payer_wallet"`
	RecipientWallet     string          `json:"recipient_wallet"`
	Status              PaymentStatus   `json:"status"`
	SourceTxHash        *string         `json:"source_tx_hash,omitempty"`
	DeliveryMessageID   *string         `json:"delivery_message_id,omitempty"`
	DeliveryTxHash      *string         `json:"delivery_tx_hash,omitempty"`
	DeliveryKeyDegraded bool            `json:"delivery_key_degraded"`
	RefundTxHash        *string         `json:"refund_tx_hash,omitempty"`
	ManualCompletion    bool            `json:"manual_completion"`
	PaidAt              *time.Time      `json:"paid_at,omitempty"`
	ConfirmingAt        *time.Time      `json:"confirming_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	RefundedAt          *time.Time      `json:"refunded_at,omitempty"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// IsParticipant reports whether wallet is the payer or the recipient of the payment.
func (p *Payment) IsParticipant(wallet string) bool {
	actor := strings.TrimSpace(wallet)
	if actor == "" {
		return false
	}
	return strings.EqualFold(actor, strings.TrimSpace(p.PayerWallet)) ||
		strings.EqualFold(actor, strings.TrimSpace(p.RecipientWallet))
}

// TrackingKey returns the delivery message id, or "" when none has been recorded.
func (p *Payment) TrackingKey() string {
	if p.DeliveryMessageID == nil {
		return ""
	}
	return *p.DeliveryMessageID
}
