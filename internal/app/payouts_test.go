package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campfire-labs/settlement-service/internal/domain"
	"github.com/campfire-labs/settlement-service/internal/store"
)

type commissionBatchStub struct {
	pendingByOrg map[string][]domain.CommissionRecord
}

func (s *commissionBatchStub) ListPendingByOrganisation(ctx context.Context, organisationID string) ([]domain.CommissionRecord, error) {
	return s.pendingByOrg[organisationID], nil
}

func (s *commissionBatchStub) ListOrganisationsWithPending(ctx context.Context) (map[string]int64, error) {
	totals := make(map[string]int64)
	for orgID, pending := range s.pendingByOrg {
		var sum int64
		for _, c := range pending {
			sum += c.CommissionAmount
		}
		if sum > 0 {
			totals[orgID] = sum
		}
	}
	return totals, nil
}

type payoutStoreStub struct {
	created []domain.Payout
	errFor  map[string]error
	// When commissions is set the stub mirrors the store's conditional
	// settlement: only ids still pending are claimed, claimed ids flip to
	// paid, and a batch that claims nothing aborts.
	commissions *commissionBatchStub
	claimed     map[string]bool
}

func (s *payoutStoreStub) CreateWithCommissions(ctx context.Context, p domain.Payout, commissionIDs []string, paidDate time.Time) (*domain.Payout, error) {
	if err, ok := s.errFor[p.OrganisationID]; ok {
		return nil, err
	}

	if s.commissions == nil {
		p.CommissionIDs = commissionIDs
		p.Status = domain.PayoutPaid
		s.created = append(s.created, p)
		return &p, nil
	}

	if s.claimed == nil {
		s.claimed = make(map[string]bool)
	}
	requested := make(map[string]bool, len(commissionIDs))
	for _, id := range commissionIDs {
		requested[id] = true
	}

	var settled []string
	var settledAmount int64
	var remaining []domain.CommissionRecord
	for _, c := range s.commissions.pendingByOrg[p.OrganisationID] {
		if requested[c.ID] && !s.claimed[c.ID] {
			s.claimed[c.ID] = true
			settled = append(settled, c.ID)
			settledAmount += c.CommissionAmount
			continue
		}
		remaining = append(remaining, c)
	}
	s.commissions.pendingByOrg[p.OrganisationID] = remaining

	if len(settled) == 0 {
		return nil, store.ErrPayoutNotFound
	}

	p.CommissionIDs = settled
	p.Amount = settledAmount
	p.Status = domain.PayoutPaid
	s.created = append(s.created, p)
	return &p, nil
}

type orgReaderStub struct {
	orgs map[string]*domain.Organisation
}

func (s *orgReaderStub) GetByID(ctx context.Context, organisationID string) (*domain.Organisation, error) {
	org, ok := s.orgs[organisationID]
	if !ok {
		return nil, store.ErrOrganisationNotFound
	}
	return org, nil
}

func accountID(v string) *string { return &v }

func payableOrg(id string, minimum int64) *domain.Organisation {
	return &domain.Organisation{
		ID:                  id,
		ConnectAccountID:    accountID("acct_" + id),
		PayoutsEnabled:      true,
		MinimumPayoutAmount: minimum,
	}
}

func pendingCommissions(orgID string, amounts ...int64) []domain.CommissionRecord {
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	out := make([]domain.CommissionRecord, len(amounts))
	for i, amount := range amounts {
		out[i] = domain.CommissionRecord{
			ID:               orgID + "_comm_" + string(rune('a'+i)),
			OrganisationID:   orgID,
			CommissionAmount: amount,
			PaymentStatus:    domain.CommissionPending,
			CreatedAt:        base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestPayoutRun_SkipsBelowThreshold(t *testing.T) {
	commissions := &commissionBatchStub{pendingByOrg: map[string][]domain.CommissionRecord{
		"org_1": pendingCommissions("org_1", 2500, 1500), // 4000 total
	}}
	payouts := &payoutStoreStub{}
	orgs := &orgReaderStub{orgs: map[string]*domain.Organisation{
		"org_1": payableOrg("org_1", 5000),
	}}

	svc := NewPayoutService(commissions, payouts, orgs, nil)
	result, err := svc.Run(context.Background(), PayoutRunOptions{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(payouts.created) != 0 {
		t.Fatalf("expected no payout below the minimum, got %d", len(payouts.created))
	}
	if result.Summary.Skipped != 1 {
		t.Fatalf("expected 1 skipped organisation, got %d", result.Summary.Skipped)
	}
	if !result.Success {
		t.Fatal("a skip is not a failure; run should be successful")
	}
}

func TestPayoutRun_ManualOverridesThreshold(t *testing.T) {
	commissions := &commissionBatchStub{pendingByOrg: map[string][]domain.CommissionRecord{
		"org_1": pendingCommissions("org_1", 2500, 1500),
	}}
	payouts := &payoutStoreStub{}
	orgs := &orgReaderStub{orgs: map[string]*domain.Organisation{
		"org_1": payableOrg("org_1", 5000),
	}}

	svc := NewPayoutService(commissions, payouts, orgs, nil)
	result, err := svc.Run(context.Background(), PayoutRunOptions{OrganisationID: "org_1", Manual: true, TriggeredBy: "admin_1"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(payouts.created) != 1 {
		t.Fatalf("expected 1 payout, got %d", len(payouts.created))
	}
	p := payouts.created[0]
	if p.Amount != 4000 {
		t.Fatalf("expected payout amount 4000, got %d", p.Amount)
	}
	if p.CreatedBy != "admin_1" {
		t.Fatalf("expected payout created by admin_1, got %s", p.CreatedBy)
	}
	if result.Summary.SuccessfulPayouts != 1 {
		t.Fatalf("expected 1 successful payout, got %d", result.Summary.SuccessfulPayouts)
	}
}

func TestPayoutRun_MeetsThreshold(t *testing.T) {
	commissions := &commissionBatchStub{pendingByOrg: map[string][]domain.CommissionRecord{
		"org_1": pendingCommissions("org_1", 3000, 2000), // exactly 5000
	}}
	payouts := &payoutStoreStub{}
	orgs := &orgReaderStub{orgs: map[string]*domain.Organisation{
		"org_1": payableOrg("org_1", 5000),
	}}

	svc := NewPayoutService(commissions, payouts, orgs, nil)
	if _, err := svc.Run(context.Background(), PayoutRunOptions{}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(payouts.created) != 1 {
		t.Fatalf("expected payout at exactly the minimum, got %d payouts", len(payouts.created))
	}
	if got := payouts.created[0].CreatedBy; got != "scheduler" {
		t.Fatalf("expected scheduler attribution for unattended runs, got %s", got)
	}
}

func TestPayoutRun_OrganisationFailuresAreIsolated(t *testing.T) {
	commissions := &commissionBatchStub{pendingByOrg: map[string][]domain.CommissionRecord{
		"org_1": pendingCommissions("org_1", 6000),
		"org_2": pendingCommissions("org_2", 7000),
		"org_3": pendingCommissions("org_3", 8000),
	}}
	payouts := &payoutStoreStub{errFor: map[string]error{
		"org_2": errors.New("deadlock detected"),
	}}
	orgs := &orgReaderStub{orgs: map[string]*domain.Organisation{
		"org_1": payableOrg("org_1", 5000),
		"org_2": payableOrg("org_2", 5000),
		"org_3": payableOrg("org_3", 5000),
	}}

	svc := NewPayoutService(commissions, payouts, orgs, nil)
	result, err := svc.Run(context.Background(), PayoutRunOptions{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(payouts.created) != 2 {
		t.Fatalf("expected org_1 and org_3 paid despite org_2 failure, got %d payouts", len(payouts.created))
	}
	if result.Summary.FailedPayouts != 1 {
		t.Fatalf("expected 1 failed organisation, got %d", result.Summary.FailedPayouts)
	}
	if result.Success {
		t.Fatal("run with failures must not report success")
	}
	if len(result.Errors) != 1 || result.Errors[0].OrganisationID != "org_2" {
		t.Fatalf("expected the error attributed to org_2, got %+v", result.Errors)
	}
}

func TestPayoutRun_SkipsIneligibleOrganisations(t *testing.T) {
	noAccount := &domain.Organisation{ID: "org_1", PayoutsEnabled: true}
	disabled := payableOrg("org_2", 0)
	disabled.PayoutsEnabled = false

	commissions := &commissionBatchStub{pendingByOrg: map[string][]domain.CommissionRecord{
		"org_1": pendingCommissions("org_1", 9000),
		"org_2": pendingCommissions("org_2", 9000),
	}}
	payouts := &payoutStoreStub{}
	orgs := &orgReaderStub{orgs: map[string]*domain.Organisation{
		"org_1": noAccount,
		"org_2": disabled,
	}}

	svc := NewPayoutService(commissions, payouts, orgs, nil)
	result, err := svc.Run(context.Background(), PayoutRunOptions{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(payouts.created) != 0 {
		t.Fatalf("expected no payouts for ineligible organisations, got %d", len(payouts.created))
	}
	if result.Summary.Skipped != 2 {
		t.Fatalf("expected 2 skipped organisations, got %d", result.Summary.Skipped)
	}
}

func TestPayoutRun_ScopedRunIgnoresOtherOrganisations(t *testing.T) {
	commissions := &commissionBatchStub{pendingByOrg: map[string][]domain.CommissionRecord{
		"org_1": pendingCommissions("org_1", 6000),
		"org_2": pendingCommissions("org_2", 6000),
	}}
	payouts := &payoutStoreStub{}
	orgs := &orgReaderStub{orgs: map[string]*domain.Organisation{
		"org_1": payableOrg("org_1", 0),
		"org_2": payableOrg("org_2", 0),
	}}

	svc := NewPayoutService(commissions, payouts, orgs, nil)
	result, err := svc.Run(context.Background(), PayoutRunOptions{OrganisationID: "org_2"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(payouts.created) != 1 || payouts.created[0].OrganisationID != "org_2" {
		t.Fatalf("expected only org_2 processed, got %+v", payouts.created)
	}
	if result.Summary.TotalOrganisations != 1 {
		t.Fatalf("expected 1 candidate, got %d", result.Summary.TotalOrganisations)
	}
}

func TestPayoutRun_SequentialBatchesClaimDisjointCommissions(t *testing.T) {
	commissions := &commissionBatchStub{pendingByOrg: map[string][]domain.CommissionRecord{
		"org_1": pendingCommissions("org_1", 3000, 3000),
	}}
	payouts := &payoutStoreStub{commissions: commissions}
	orgs := &orgReaderStub{orgs: map[string]*domain.Organisation{"org_1": payableOrg("org_1", 0)}}

	svc := NewPayoutService(commissions, payouts, orgs, nil)
	if _, err := svc.Run(context.Background(), PayoutRunOptions{}); err != nil {
		t.Fatalf("first run returned error: %v", err)
	}

	// New commissions accrue between batch runs.
	later := pendingCommissions("org_1", 5000)
	later[0].ID = "org_1_comm_later"
	commissions.pendingByOrg["org_1"] = append(commissions.pendingByOrg["org_1"], later...)

	if _, err := svc.Run(context.Background(), PayoutRunOptions{}); err != nil {
		t.Fatalf("second run returned error: %v", err)
	}

	if len(payouts.created) != 2 {
		t.Fatalf("expected 2 payouts, got %d", len(payouts.created))
	}
	seen := make(map[string]int)
	for i, p := range payouts.created {
		for _, id := range p.CommissionIDs {
			if prev, dup := seen[id]; dup {
				t.Fatalf("commission %s included in payouts %d and %d", id, prev, i)
			}
			seen[id] = i
		}
	}
	if got := payouts.created[1].Amount; got != 5000 {
		t.Fatalf("second payout must cover only newly accrued commissions, got %d", got)
	}
}

func TestPayoutRun_AlreadyClaimedCommissionsAreExcluded(t *testing.T) {
	pending := pendingCommissions("org_1", 2000, 3000)
	commissions := &commissionBatchStub{pendingByOrg: map[string][]domain.CommissionRecord{
		"org_1": pending,
	}}
	// The first commission was settled by a batch racing this one between
	// the pending read and the conditional update.
	payouts := &payoutStoreStub{
		commissions: commissions,
		claimed:     map[string]bool{pending[0].ID: true},
	}
	orgs := &orgReaderStub{orgs: map[string]*domain.Organisation{"org_1": payableOrg("org_1", 0)}}

	svc := NewPayoutService(commissions, payouts, orgs, nil)
	result, err := svc.Run(context.Background(), PayoutRunOptions{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(payouts.created) != 1 {
		t.Fatalf("expected 1 payout, got %d", len(payouts.created))
	}
	p := payouts.created[0]
	if len(p.CommissionIDs) != 1 || p.CommissionIDs[0] != pending[1].ID {
		t.Fatalf("expected only the unclaimed commission, got %v", p.CommissionIDs)
	}
	if p.Amount != 3000 {
		t.Fatalf("payout amount must cover only commissions actually settled, got %d", p.Amount)
	}
	if len(result.Processed) != 1 || result.Processed[0].Amount != 3000 {
		t.Fatalf("run result must report the settled amount, got %+v", result.Processed)
	}
}

func TestPayoutRun_PeriodStartIsOldestPendingCommission(t *testing.T) {
	pending := pendingCommissions("org_1", 3000, 3000, 3000)
	commissions := &commissionBatchStub{pendingByOrg: map[string][]domain.CommissionRecord{"org_1": pending}}
	payouts := &payoutStoreStub{}
	orgs := &orgReaderStub{orgs: map[string]*domain.Organisation{"org_1": payableOrg("org_1", 0)}}

	svc := NewPayoutService(commissions, payouts, orgs, nil)
	if _, err := svc.Run(context.Background(), PayoutRunOptions{}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(payouts.created) != 1 {
		t.Fatalf("expected 1 payout, got %d", len(payouts.created))
	}
	if got := payouts.created[0].PeriodStart; !got.Equal(pending[0].CreatedAt) {
		t.Fatalf("expected period start %v, got %v", pending[0].CreatedAt, got)
	}
}

func TestPayoutRun_PublishesCreatedEvent(t *testing.T) {
	commissions := &commissionBatchStub{pendingByOrg: map[string][]domain.CommissionRecord{
		"org_1": pendingCommissions("org_1", 6000),
	}}
	payouts := &payoutStoreStub{}
	orgs := &orgReaderStub{orgs: map[string]*domain.Organisation{"org_1": payableOrg("org_1", 0)}}
	publisher := &publisherStub{}

	svc := NewPayoutService(commissions, payouts, orgs, publisher)
	if _, err := svc.Run(context.Background(), PayoutRunOptions{}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var keys []string
	for _, p := range publisher.published {
		keys = append(keys, p.routingKey)
	}
	if len(keys) != 2 || keys[0] != "payout.created" || keys[1] != "notification.email" {
		t.Fatalf("expected payout.created then notification.email, got %v", keys)
	}
}
