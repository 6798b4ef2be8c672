/**
 * @description
 * Payout batching: aggregates pending commissions per organisation, enforces
 * the minimum-payout threshold, and settles each batch in one transaction.
 * Organisations are processed sequentially and in isolation; one failure is
 * collected into the run's error list and the rest of the batch continues.
 */
package app

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/campfire-labs/settlement-service/internal/domain"
	"github.com/campfire-labs/settlement-service/internal/metrics"
)

// CommissionBatchStore defines the commission reads the batcher needs.
type CommissionBatchStore interface {
	ListPendingByOrganisation(ctx context.Context, organisationID string) ([]domain.CommissionRecord, error)
	ListOrganisationsWithPending(ctx context.Context) (map[string]int64, error)
}

// PayoutStore defines the payout writes the batcher needs.
type PayoutStore interface {
	CreateWithCommissions(ctx context.Context, p domain.Payout, commissionIDs []string, paidDate time.Time) (*domain.Payout, error)
}

// OrganisationReader re-fetches payout configuration per organisation.
type OrganisationReader interface {
	GetByID(ctx context.Context, organisationID string) (*domain.Organisation, error)
}

// PayoutRunOptions scopes and overrides a batch run.
type PayoutRunOptions struct {
	// OrganisationID restricts the run to one organisation when non-empty.
	OrganisationID string `json:"organisationId,omitempty"`
	// Manual bypasses the minimum-payout threshold.
	Manual bool `json:"manual,omitempty"`
	// TriggeredBy is recorded on created payouts.
	TriggeredBy string `json:"triggeredBy,omitempty"`
}

// OrganisationPayoutResult describes one successful payout.
type OrganisationPayoutResult struct {
	OrganisationID string `json:"organisationId"`
	PayoutID       string `json:"payoutId"`
	Amount         int64  `json:"amount"`
	Commissions    int    `json:"commissions"`
}

// PayoutRunError is one organisation's failure within a batch.
type PayoutRunError struct {
	OrganisationID string `json:"organisationId"`
	Error          string `json:"error"`
}

// PayoutRunSummary aggregates a batch run.
type PayoutRunSummary struct {
	TotalOrganisations int `json:"totalOrganisations"`
	SuccessfulPayouts  int `json:"successfulPayouts"`
	FailedPayouts      int `json:"failedPayouts"`
	Skipped            int `json:"skipped"`
}

// PayoutRunResult is the structured outcome of a batch run. Operators get
// per-organisation detail, never an opaque boolean.
type PayoutRunResult struct {
	Success   bool                       `json:"success"`
	Processed []OrganisationPayoutResult `json:"processed"`
	Errors    []PayoutRunError           `json:"errors"`
	Summary   PayoutRunSummary           `json:"summary"`
}

// PayoutService batches pending commissions into payouts.
type PayoutService struct {
	commissions CommissionBatchStore
	payouts     PayoutStore
	orgs        OrganisationReader
	publisher   EventPublisher
	now         func() time.Time
}

// NewPayoutService creates a payout batcher.
func NewPayoutService(commissions CommissionBatchStore, payouts PayoutStore, orgs OrganisationReader, publisher EventPublisher) *PayoutService {
	return &PayoutService{
		commissions: commissions,
		payouts:     payouts,
		orgs:        orgs,
		publisher:   publisher,
		now:         time.Now,
	}
}

// Run executes a payout batch. When opts.OrganisationID is set only that
// organisation is considered; otherwise every organisation with a positive
// pending aggregate is a candidate.
func (s *PayoutService) Run(ctx context.Context, opts PayoutRunOptions) (*PayoutRunResult, error) {
	var candidates []string
	if opts.OrganisationID != "" {
		candidates = []string{opts.OrganisationID}
	} else {
		totals, err := s.commissions.ListOrganisationsWithPending(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list organisations with pending commissions: %w", err)
		}
		for orgID := range totals {
			candidates = append(candidates, orgID)
		}
		sort.Strings(candidates)
	}

	result := &PayoutRunResult{
		Processed: []OrganisationPayoutResult{},
		Errors:    []PayoutRunError{},
	}
	result.Summary.TotalOrganisations = len(candidates)

	for _, orgID := range candidates {
		payout, skipped, err := s.processOrganisation(ctx, orgID, opts)
		if err != nil {
			log.Printf("Payout batch failed for organisation %s: %v", orgID, err)
			result.Errors = append(result.Errors, PayoutRunError{OrganisationID: orgID, Error: err.Error()})
			result.Summary.FailedPayouts++
			continue
		}
		if skipped {
			result.Summary.Skipped++
			continue
		}
		result.Processed = append(result.Processed, OrganisationPayoutResult{
			OrganisationID: orgID,
			PayoutID:       payout.ID,
			Amount:         payout.Amount,
			Commissions:    len(payout.CommissionIDs),
		})
		result.Summary.SuccessfulPayouts++
		metrics.PayoutsCreated.Inc()
		metrics.PayoutAmount.Add(float64(payout.Amount))
	}

	result.Success = result.Summary.FailedPayouts == 0
	return result, nil
}

// processOrganisation runs one organisation's unit of work. No partial state
// is committed without the terminal step: the payout insert and commission
// settlement share one transaction in the store.
func (s *PayoutService) processOrganisation(ctx context.Context, orgID string, opts PayoutRunOptions) (*domain.Payout, bool, error) {
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load organisation: %w", err)
	}

	if org.ConnectAccountID == nil || *org.ConnectAccountID == "" {
		log.Printf("Skipping payout for organisation %s: no connected account", orgID)
		return nil, true, nil
	}
	if !org.PayoutsEnabled {
		log.Printf("Skipping payout for organisation %s: payouts disabled", orgID)
		return nil, true, nil
	}

	pending, err := s.commissions.ListPendingByOrganisation(ctx, orgID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list pending commissions: %w", err)
	}
	if len(pending) == 0 {
		return nil, true, nil
	}

	var total int64
	for _, c := range pending {
		total += c.CommissionAmount
	}

	if total < org.MinimumPayoutAmount && !opts.Manual {
		log.Printf("Skipping payout for organisation %s: pending %d below minimum %d", orgID, total, org.MinimumPayoutAmount)
		return nil, true, nil
	}

	commissionIDs := make([]string, len(pending))
	for i, c := range pending {
		commissionIDs[i] = c.ID
	}

	createdBy := opts.TriggeredBy
	if createdBy == "" {
		createdBy = "scheduler"
	}

	now := s.now().UTC()
	payout := domain.Payout{
		ID:             uuid.NewString(),
		OrganisationID: orgID,
		Amount:         total,
		PeriodStart:    pending[0].CreatedAt, // oldest first
		PeriodEnd:      now,
		CreatedBy:      createdBy,
	}

	created, err := s.payouts.CreateWithCommissions(ctx, payout, commissionIDs, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create payout: %w", err)
	}

	s.publishPayout(ctx, *created)
	return created, false, nil
}

func (s *PayoutService) publishPayout(ctx context.Context, payout domain.Payout) {
	if s.publisher == nil {
		return
	}
	payload := domain.PayoutCreatedEvent{
		PayoutID:       payout.ID,
		OrganisationID: payout.OrganisationID,
		Amount:         payout.Amount,
		Commissions:    len(payout.CommissionIDs),
		Timestamp:      s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, EventsExchange, "payout.created", payload); err != nil {
		log.Printf("WARN: failed to publish payout.created for %s: %v", payout.ID, err)
	}

	notification := domain.NotificationEvent{
		Template: "payout_processed",
		Data: map[string]interface{}{
			"payout_id":       payout.ID,
			"organisation_id": payout.OrganisationID,
			"amount":          payout.Amount,
		},
		Timestamp: s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, EventsExchange, "notification.email", notification); err != nil {
		log.Printf("WARN: failed to publish payout notification for %s: %v", payout.ID, err)
	}
}
