/**
 * @description
 * Data access for payouts. Creating a payout and settling its commissions is
 * a single transaction: the commission update is conditional on
 * payment_status = 'pending', so a commission settled by a concurrent batch
 * (or created after this batch's read) is excluded rather than double-counted.
 */
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campfire-labs/settlement-service/internal/domain"
)

// PayoutRepository handles database operations for payouts.
type PayoutRepository struct {
	db *pgxpool.Pool
}

// NewPayoutRepository creates a new payout repository.
func NewPayoutRepository(db *pgxpool.Pool) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// CreateWithCommissions inserts the payout row and marks the included
// commissions paid, in one transaction. It returns the ids of the commissions
// actually settled; callers must treat that set, not the requested one, as
// the payout's contents.
func (r *PayoutRepository) CreateWithCommissions(ctx context.Context, p domain.Payout, commissionIDs []string, paidDate time.Time) (*domain.Payout, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	insertPayout := `
		INSERT INTO payouts (id, organisation_id, amount, period_start, period_end, status, created_by)
		VALUES ($1, $2, $3, $4, $5, 'processing', $6)
		RETURNING created_at, updated_at
	`
	if err := tx.QueryRow(ctx, insertPayout,
		p.ID, p.OrganisationID, p.Amount, p.PeriodStart, p.PeriodEnd, p.CreatedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert payout: %w", err)
	}

	markPaid := `
		UPDATE commission_records
		SET payment_status = 'paid',
		    paid_date = $1,
		    payout_id = $2
		WHERE id = ANY($3)
		  AND payment_status = 'pending'
		RETURNING id, commission_amount
	`
	rows, err := tx.Query(ctx, markPaid, paidDate, p.ID, commissionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to settle commissions: %w", err)
	}

	var settled []string
	var settledAmount int64
	for rows.Next() {
		var id string
		var amount int64
		if err := rows.Scan(&id, &amount); err != nil {
			rows.Close()
			return nil, err
		}
		settled = append(settled, id)
		settledAmount += amount
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(settled) == 0 {
		// Every candidate was claimed by a concurrent batch; abort rather
		// than record an empty payout.
		return nil, ErrPayoutNotFound
	}

	// Settle the payout against what was actually claimed.
	finalize := `
		UPDATE payouts
		SET amount = $2,
		    status = 'paid',
		    paid_at = $3,
		    updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, finalize, p.ID, settledAmount, paidDate); err != nil {
		return nil, fmt.Errorf("failed to finalize payout: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	p.Amount = settledAmount
	p.CommissionIDs = settled
	p.Status = domain.PayoutPaid
	p.PaidAt = &paidDate
	return &p, nil
}

// UpdateStatusByExternalID applies processor payout.paid / payout.failed
// notifications. A missing row is a no-op: the payout may belong to another
// platform account.
func (r *PayoutRepository) UpdateStatusByExternalID(ctx context.Context, externalPayoutID, status string) (bool, error) {
	query := `
		UPDATE payouts
		SET status = $2,
		    updated_at = NOW()
		WHERE external_payout_id = $1
	`
	tag, err := r.db.Exec(ctx, query, externalPayoutID, status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID retrieves a payout with its commission snapshot.
func (r *PayoutRepository) GetByID(ctx context.Context, payoutID string) (*domain.Payout, error) {
	query := `
		SELECT id, organisation_id, amount, period_start, period_end, status,
		       external_payout_id, created_by, paid_at, created_at, updated_at
		FROM payouts
		WHERE id = $1
	`
	var p domain.Payout
	if err := r.db.QueryRow(ctx, query, payoutID).Scan(
		&p.ID,
		&p.OrganisationID,
		&p.Amount,
		&p.PeriodStart,
		&p.PeriodEnd,
		&p.Status,
		&p.ExternalPayoutID,
		&p.CreatedBy,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}

	commissionQuery := `SELECT id FROM commission_records WHERE payout_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, commissionQuery, payoutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		p.CommissionIDs = append(p.CommissionIDs, id)
	}

	return &p, rows.Err()
}
