/**
 * @description
 * Data access for bookings and the per-camp commission configuration that
 * settlement reads when deriving commissions.
 */
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campfire-labs/settlement-service/internal/domain"
)

// BookingRepository handles database operations for bookings.
type BookingRepository struct {
	db *pgxpool.Pool
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(db *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{db: db}
}

// ListBySessionID returns every booking covered by a checkout session,
// oldest first. A session can cover multiple bookings (siblings).
func (r *BookingRepository) ListBySessionID(ctx context.Context, sessionID string) ([]domain.Booking, error) {
	query := `
		SELECT id, checkout_session, camp_id, organisation_id, amount_due, amount_paid,
		       payment_status, status, confirmation_date, created_at, updated_at
		FROM bookings
		WHERE checkout_session = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		var b domain.Booking
		if err := rows.Scan(
			&b.ID,
			&b.CheckoutSession,
			&b.CampID,
			&b.OrganisationID,
			&b.AmountDue,
			&b.AmountPaid,
			&b.PaymentStatus,
			&b.Status,
			&b.ConfirmationDate,
			&b.CreatedAt,
			&b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}

	return bookings, rows.Err()
}

// MarkPaid confirms a booking after a successful checkout. amount_paid is set
// to amount_due, never incremented, so a redelivered event cannot double it.
func (r *BookingRepository) MarkPaid(ctx context.Context, bookingID string, confirmedAt time.Time) error {
	query := `
		UPDATE bookings
		SET payment_status = 'paid',
		    amount_paid = amount_due,
		    status = 'confirmed',
		    confirmation_date = COALESCE(confirmation_date, $2),
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, bookingID, confirmedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

// MarkRefundedBySession cancels and refunds all bookings in a session.
func (r *BookingRepository) MarkRefundedBySession(ctx context.Context, sessionID string) (int64, error) {
	query := `
		UPDATE bookings
		SET payment_status = 'refunded',
		    status = 'cancelled',
		    updated_at = NOW()
		WHERE checkout_session = $1
	`
	tag, err := r.db.Exec(ctx, query, sessionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetCampCommissionInfo loads the camp's owning organisation and its optional
// commission rate override.
func (r *BookingRepository) GetCampCommissionInfo(ctx context.Context, campID string) (*domain.CampCommissionInfo, error) {
	query := `
		SELECT id, organisation_id, commission_rate
		FROM camps
		WHERE id = $1
	`
	var info domain.CampCommissionInfo
	if err := r.db.QueryRow(ctx, query, campID).Scan(
		&info.CampID,
		&info.OrganisationID,
		&info.CommissionRate,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCampNotFound
		}
		return nil, err
	}
	return &info, nil
}
