/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the settlement-service. The application layer
 * depends only on this interface so it can be exercised against in-memory stubs.
 *
 * @dependencies
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/FOwen123/Chromion-2025/internal/domain"
	"github.com/google/uuid"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	ListPaymentsByStatus(ctx context.Context, status domain.PaymentStatus, limit int) ([]domain.Payment, error)

	// UpdatePayment applies params in one transaction only while the stored status
	// still equals expected. It returns the updated payment.
	UpdatePayment(ctx context.Context, paymentID uuid.UUID, expected domain.PaymentStatus, params UpdatePaymentParams) (*domain.Payment, error)
}

// UpdatePaymentParams is a partial update; nil fields are left untouched.
type UpdatePaymentParams struct {
	Status              *domain.PaymentStatus
	DeliveryMessageID   *string
	DeliveryTxHash      *string
	DeliveryKeyDegraded *bool
	RefundTxHash        *string
	ManualCompletion    *bool
	ConfirmingAt        *time.Time
	CompletedAt         *time.Time
	RefundedAt          *time.Time
}

// Apply copies the set fields onto p. Stubs use it to mirror the SQL update.
func (u UpdatePaymentParams) Apply(p *domain.Payment) {
	if u.Status != nil {
		p.Status = *u.Status
	}
	if u.DeliveryMessageID != nil {
		p.DeliveryMessageID = u.DeliveryMessageID
	}
	if u.DeliveryTxHash != nil {
		p.DeliveryTxHash = u.DeliveryTxHash
	}
	if u.DeliveryKeyDegraded != nil {
		p.DeliveryKeyDegraded = *u.DeliveryKeyDegraded
	}
	if u.RefundTxHash != nil {
		p.RefundTxHash = u.RefundTxHash
	}
	if u.ManualCompletion != nil {
		p.ManualCompletion = *u.ManualCompletion
	}
	if u.ConfirmingAt != nil {
		p.ConfirmingAt = u.ConfirmingAt
	}
	if u.CompletedAt != nil {
		p.CompletedAt = u.CompletedAt
	}
	if u.RefundedAt != nil {
		p.RefundedAt = u.RefundedAt
	}
}
