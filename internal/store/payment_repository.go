/**
 * @description
 * Data access for payment records. One row per checkout attempt, keyed by the
 * processor's checkout session id.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campfire-labs/settlement-service/internal/domain"
)

var (
	ErrPaymentNotFound      = errors.New("payment record not found")
	ErrBookingNotFound      = errors.New("booking not found")
	ErrCampNotFound         = errors.New("camp not found")
	ErrCommissionExists     = errors.New("commission already recorded for booking")
	ErrOrganisationNotFound = errors.New("organisation not found")
	ErrPayoutNotFound       = errors.New("payout not found")
)

// PaymentRepository handles database operations for payment records.
type PaymentRepository struct {
	db *pgxpool.Pool
}

// NewPaymentRepository creates a new payment repository.
func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// GetBySessionID retrieves the payment record for a checkout session.
func (r *PaymentRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.PaymentRecord, error) {
	query := `
		SELECT id, checkout_session, payment_intent_id, payment_method, amount, currency,
		       status, paid_at, created_at, updated_at
		FROM payment_records
		WHERE checkout_session = $1
	`
	var p domain.PaymentRecord
	if err := r.db.QueryRow(ctx, query, sessionID).Scan(
		&p.ID,
		&p.CheckoutSession,
		&p.PaymentIntentID,
		&p.PaymentMethod,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// MarkSucceeded records a successful checkout: intent id, payment method and
// paid timestamp. The update is an idempotent set, safe under redelivery.
// Refunded rows are never touched; refund is terminal and a late completion
// event must not flip one back.
func (r *PaymentRepository) MarkSucceeded(ctx context.Context, sessionID, paymentIntentID, paymentMethod string, paidAt time.Time) error {
	query := `
		UPDATE payment_records
		SET status = 'succeeded',
		    payment_intent_id = $2,
		    payment_method = NULLIF($3, ''),
		    paid_at = $4,
		    updated_at = NOW()
		WHERE checkout_session = $1
		  AND status <> 'refunded'
	`
	tag, err := r.db.Exec(ctx, query, sessionID, paymentIntentID, paymentMethod, paidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// MarkFailed marks the payment record for an expired or failed checkout.
// A missing row is not an error; the event may reference a foreign session.
func (r *PaymentRepository) MarkFailed(ctx context.Context, sessionID string) (bool, error) {
	query := `
		UPDATE payment_records
		SET status = 'failed',
		    updated_at = NOW()
		WHERE checkout_session = $1
		  AND status NOT IN ('succeeded', 'refunded')
	`
	tag, err := r.db.Exec(ctx, query, sessionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkRefundedByIntent flips a succeeded payment to refunded, keyed by the
// payment intent the charge belongs to. Returns the checkout session so the
// caller can cascade to bookings.
func (r *PaymentRepository) MarkRefundedByIntent(ctx context.Context, paymentIntentID string) (string, error) {
	query := `
		UPDATE payment_records
		SET status = 'refunded',
		    updated_at = NOW()
		WHERE payment_intent_id = $1
		RETURNING checkout_session
	`
	var sessionID string
	if err := r.db.QueryRow(ctx, query, paymentIntentID).Scan(&sessionID); err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrPaymentNotFound
		}
		return "", err
	}
	return sessionID, nil
}
