/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Payments live in the `payments` table; the recipient wallet is the creator wallet
 * of the owning row in `payment_links`.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Numeric amounts are read as text and parsed.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FOwen123/Chromion-2025/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrStatusConflict     = errors.New("payment status changed concurrently")
	ErrMessageIDImmutable = errors.New("delivery message id already set")
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const paymentColumns = `
	p.id, p.payment_link_id, p.amount::text, COALESCE(p.currency, ''), COALESCE(p.chain_id, 0),
	p.payer_wallet, COALESCE(pl.creator_wallet, ''), p.status,
	p.tx_hash, p.delivery_message_id, p.delivery_tx_hash, p.delivery_key_degraded,
	p.refund_tx_hash, p.manual_completion,
	p.paid_at, p.confirming_at, p.completed_at, p.refunded_at, p.updated_at`

const paymentFrom = `
	FROM payments p
	LEFT JOIN payment_links pl ON pl.id = p.payment_link_id`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p         domain.Payment
		amountRaw string
		status    string
	)
	err := row.Scan(
		&p.ID, &p.PaymentLinkID, &amountRaw, &p.Currency, &p.SourceChainID,
		&p.PayerWallet, &p.RecipientWallet, &status,
		&p.SourceTxHash, &p.DeliveryMessageID, &p.DeliveryTxHash, &p.DeliveryKeyDegraded,
		&p.RefundTxHash, &p.ManualCompletion,
		&p.PaidAt, &p.ConfirmingAt, &p.CompletedAt, &p.RefundedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(amountRaw)
	if err != nil {
		return nil, fmt.Errorf("parse payment amount %q: %w", amountRaw, err)
	}
	p.Amount = amount
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}

func findPayment(ctx context.Context, q querier, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, err := scanPayment(q.QueryRow(ctx, "SELECT "+paymentColumns+paymentFrom+" WHERE p.id = $1", paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// FindPaymentByID retrieves a payment together with its recipient wallet.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	return findPayment(ctx, r.db, paymentID)
}

// ListPaymentsByStatus returns payments in status, oldest update first.
func (r *PostgresRepository) ListPaymentsByStatus(ctx context.Context, status domain.PaymentStatus, limit int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, "SELECT "+paymentColumns+paymentFrom+" WHERE p.status = $1 ORDER BY p.updated_at ASC LIMIT $2", string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, rows.Err()
}

// UpdatePayment applies a partial update guarded by the expected current status.
// delivery_message_id can only move from NULL to a value, or be rewritten with the same value.
func (r *PostgresRepository) UpdatePayment(ctx context.Context, paymentID uuid.UUID, expected domain.PaymentStatus, params UpdatePaymentParams) (*domain.Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var status *string
	if params.Status != nil {
		value := string(*params.Status)
		status = &value
	}

	query := `
		UPDATE payments SET
			status = COALESCE($3, status),
			delivery_message_id = COALESCE(delivery_message_id, $4),
			delivery_tx_hash = COALESCE($5, delivery_tx_hash),
			delivery_key_degraded = COALESCE($6, delivery_key_degraded),
			refund_tx_hash = COALESCE($7, refund_tx_hash),
			manual_completion = COALESCE($8, manual_completion),
			confirming_at = COALESCE($9, confirming_at),
			completed_at = COALESCE($10, completed_at),
			refunded_at = COALESCE($11, refunded_at),
			updated_at = $12
		WHERE id = $1
		  AND status = $2
		  AND ($4::text IS NULL OR delivery_message_id IS NULL OR delivery_message_id = $4)`

	tag, err := tx.Exec(ctx, query,
		paymentID, string(expected), status,
		params.DeliveryMessageID, params.DeliveryTxHash, params.DeliveryKeyDegraded,
		params.RefundTxHash, params.ManualCompletion,
		params.ConfirmingAt, params.CompletedAt, params.RefundedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}

	if tag.RowsAffected() == 0 {
		current, findErr := findPayment(ctx, tx, paymentID)
		if findErr != nil {
			return nil, findErr
		}
		if current.Status != expected {
			return nil, fmt.Errorf("%w: expected %s, found %s", ErrStatusConflict, expected, current.Status)
		}
		return nil, ErrMessageIDImmutable
	}

	updated, err := findPayment(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}
