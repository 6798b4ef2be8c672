/**
 * @description
 * Data access for commission records. The table carries a unique constraint
 * on booking_id; that constraint, not in-memory state, is what makes
 * settlement exactly-once per booking.
 */
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campfire-labs/settlement-service/internal/domain"
)

// CommissionRepository handles database operations for commission records.
type CommissionRepository struct {
	db *pgxpool.Pool
}

// NewCommissionRepository creates a new commission repository.
func NewCommissionRepository(db *pgxpool.Pool) *CommissionRepository {
	return &CommissionRepository{db: db}
}

// Insert writes a new pending commission record. A unique-constraint
// violation on booking_id surfaces as ErrCommissionExists so the caller can
// treat redelivery as a no-op.
func (r *CommissionRepository) Insert(ctx context.Context, c domain.CommissionRecord) (string, error) {
	query := `
		INSERT INTO commission_records (id, booking_id, organisation_id, commission_rate, commission_amount, payment_status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING id
	`
	var id string
	if err := r.db.QueryRow(ctx, query, c.ID, c.BookingID, c.OrganisationID, c.CommissionRate, c.CommissionAmount).Scan(&id); err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return "", ErrCommissionExists
		}
		return "", err
	}
	return id, nil
}

// ListPendingByOrganisation returns pending commissions oldest first.
func (r *CommissionRepository) ListPendingByOrganisation(ctx context.Context, organisationID string) ([]domain.CommissionRecord, error) {
	query := `
		SELECT id, booking_id, organisation_id, commission_rate, commission_amount,
		       payment_status, payout_id, paid_date, created_at
		FROM commission_records
		WHERE organisation_id = $1
		  AND payment_status = 'pending'
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, organisationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commissions []domain.CommissionRecord
	for rows.Next() {
		var c domain.CommissionRecord
		if err := rows.Scan(
			&c.ID,
			&c.BookingID,
			&c.OrganisationID,
			&c.CommissionRate,
			&c.CommissionAmount,
			&c.PaymentStatus,
			&c.PayoutID,
			&c.PaidDate,
			&c.CreatedAt,
		); err != nil {
			return nil, err
		}
		commissions = append(commissions, c)
	}

	return commissions, rows.Err()
}

// ListOrganisationsWithPending returns the ids of organisations that have at
// least one pending commission, with the aggregate pending amount for each.
func (r *CommissionRepository) ListOrganisationsWithPending(ctx context.Context) (map[string]int64, error) {
	query := `
		SELECT organisation_id, SUM(commission_amount)
		FROM commission_records
		WHERE payment_status = 'pending'
		GROUP BY organisation_id
		HAVING SUM(commission_amount) > 0
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var orgID string
		var total int64
		if err := rows.Scan(&orgID, &total); err != nil {
			return nil, err
		}
		totals[orgID] = total
	}

	return totals, rows.Err()
}
