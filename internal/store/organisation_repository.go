/**
 * @description
 * Data access for organisations (camp providers). Account reconciliation
 * overwrites the verification columns wholesale with the processor's current
 * truth; the only column that is write-once is payouts_enabled_at, which
 * anchors the deferred-onboarding lockout.
 */
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campfire-labs/settlement-service/internal/domain"
)

// OrganisationRepository handles database operations for organisations.
type OrganisationRepository struct {
	db *pgxpool.Pool
}

// NewOrganisationRepository creates a new organisation repository.
func NewOrganisationRepository(db *pgxpool.Pool) *OrganisationRepository {
	return &OrganisationRepository{db: db}
}

const organisationColumns = `
	id, name, connect_account_id, payouts_enabled, charges_enabled,
	minimum_payout_amount, payout_schedule, onboarding_mode, onboarding_step,
	temp_charges_enabled, restrictions_active, restriction_reason,
	payouts_enabled_at, created_at, updated_at
`

func scanOrganisation(row pgx.Row) (*domain.Organisation, error) {
	var o domain.Organisation
	if err := row.Scan(
		&o.ID,
		&o.Name,
		&o.ConnectAccountID,
		&o.PayoutsEnabled,
		&o.ChargesEnabled,
		&o.MinimumPayoutAmount,
		&o.PayoutSchedule,
		&o.OnboardingMode,
		&o.OnboardingStep,
		&o.TempChargesEnabled,
		&o.RestrictionsActive,
		&o.RestrictionReason,
		&o.PayoutsEnabledAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOrganisationNotFound
		}
		return nil, err
	}
	return &o, nil
}

// GetByID retrieves an organisation.
func (r *OrganisationRepository) GetByID(ctx context.Context, organisationID string) (*domain.Organisation, error) {
	query := `SELECT ` + organisationColumns + ` FROM organisations WHERE id = $1`
	return scanOrganisation(r.db.QueryRow(ctx, query, organisationID))
}

// GetByConnectAccountID retrieves the organisation owning a connected account.
func (r *OrganisationRepository) GetByConnectAccountID(ctx context.Context, accountID string) (*domain.Organisation, error) {
	query := `SELECT ` + organisationColumns + ` FROM organisations WHERE connect_account_id = $1`
	return scanOrganisation(r.db.QueryRow(ctx, query, accountID))
}

// AccountStatusUpdate is the full set of verification columns written on each
// reconciliation pass.
type AccountStatusUpdate struct {
	PayoutsEnabled     bool
	ChargesEnabled     bool
	OnboardingStep     string
	TempChargesEnabled bool
	RestrictionsActive bool
	RestrictionReason  *string
	PayoutsEnabledAt   *time.Time
}

// ApplyAccountStatus overwrites the organisation's verification state.
// payouts_enabled_at is preserved once set, so the deferred-charges lockout
// survives transient reads where the processor reports payouts disabled.
func (r *OrganisationRepository) ApplyAccountStatus(ctx context.Context, organisationID string, u AccountStatusUpdate) error {
	query := `
		UPDATE organisations
		SET payouts_enabled = $2,
		    charges_enabled = $3,
		    onboarding_step = $4,
		    temp_charges_enabled = $5,
		    restrictions_active = $6,
		    restriction_reason = $7,
		    payouts_enabled_at = COALESCE(payouts_enabled_at, $8),
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, organisationID,
		u.PayoutsEnabled, u.ChargesEnabled, u.OnboardingStep, u.TempChargesEnabled,
		u.RestrictionsActive, u.RestrictionReason, u.PayoutsEnabledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrganisationNotFound
	}
	return nil
}

// ListForAccountSync returns organisations that have started onboarding but
// are not yet fully verified, for the scheduled sync sweep.
func (r *OrganisationRepository) ListForAccountSync(ctx context.Context) ([]domain.Organisation, error) {
	query := `SELECT ` + organisationColumns + `
		FROM organisations
		WHERE connect_account_id IS NOT NULL
		  AND onboarding_step <> 'verification_complete'
		ORDER BY updated_at ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []domain.Organisation
	for rows.Next() {
		org, err := scanOrganisation(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, *org)
	}

	return orgs, rows.Err()
}
