/**
 * @description
 * Account status reconciliation. The local organisation record is always
 * overwritten with the processor's current truth on each pass; nothing local
 * is trusted as newer than the live fetch. The one exception is the
 * deferred-onboarding lockout: once payouts have been enabled,
 * temp_charges_enabled stays false forever, even if a later read transiently
 * reports payouts disabled.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/campfire-labs/settlement-service/internal/domain"
	"github.com/campfire-labs/settlement-service/internal/store"
)

// OrganisationStore defines the organisation operations reconciliation needs.
type OrganisationStore interface {
	GetByID(ctx context.Context, organisationID string) (*domain.Organisation, error)
	GetByConnectAccountID(ctx context.Context, accountID string) (*domain.Organisation, error)
	ApplyAccountStatus(ctx context.Context, organisationID string, u store.AccountStatusUpdate) error
	ListForAccountSync(ctx context.Context) ([]domain.Organisation, error)
}

// ProcessorAccountClient defines the outbound processor calls reconciliation
// needs.
type ProcessorAccountClient interface {
	GetAccount(ctx context.Context, accountID string) (*domain.ConnectAccount, error)
	GetBalance(ctx context.Context, accountID string) (*domain.AccountBalance, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (*domain.AccountLink, error)
}

// AccountStatusResult is the derived status returned to callers.
type AccountStatusResult struct {
	OrganisationID     string                 `json:"organisation_id"`
	ChargesEnabled     bool                   `json:"charges_enabled"`
	PayoutsEnabled     bool                   `json:"payouts_enabled"`
	DetailsSubmitted   bool                   `json:"details_submitted"`
	CurrentlyDue       []string               `json:"currently_due"`
	PastDue            []string               `json:"past_due"`
	OnboardingStep     string                 `json:"onboarding_step"`
	OnboardingMode     string                 `json:"onboarding_mode"`
	TempChargesEnabled bool                   `json:"temp_charges_enabled"`
	RestrictionsActive bool                   `json:"restrictions_active"`
	RestrictionReason  *string                `json:"restriction_reason,omitempty"`
	Balance            *domain.AccountBalance `json:"balance,omitempty"`
	ActionRequired     bool                   `json:"action_required"`
	ContinuationURL    string                 `json:"continuation_url,omitempty"`
}

// AccountSyncService reconciles merchant account state.
type AccountSyncService struct {
	orgs       OrganisationStore
	processor  ProcessorAccountClient
	refreshURL string
	returnURL  string
	now        func() time.Time
}

// NewAccountSyncService creates an account reconciler.
func NewAccountSyncService(orgs OrganisationStore, processor ProcessorAccountClient, refreshURL, returnURL string) *AccountSyncService {
	return &AccountSyncService{
		orgs:       orgs,
		processor:  processor,
		refreshURL: refreshURL,
		returnURL:  returnURL,
		now:        time.Now,
	}
}

// SyncOrganisation fetches the organisation's connected-account state,
// rewrites the local record, and returns the derived status. If requirements
// remain outstanding it also requests a fresh onboarding continuation link.
func (s *AccountSyncService) SyncOrganisation(ctx context.Context, organisationID string) (*AccountStatusResult, error) {
	org, err := s.orgs.GetByID(ctx, organisationID)
	if err != nil {
		return nil, err
	}
	return s.sync(ctx, org)
}

// HandleAccountUpdated is the passive path driven by account.updated events.
// An account with no local organisation is a foreign event: logged, ignored.
func (s *AccountSyncService) HandleAccountUpdated(ctx context.Context, accountID string) error {
	org, err := s.orgs.GetByConnectAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrOrganisationNotFound) {
			log.Printf("No organisation for connected account %s; ignoring", accountID)
			return nil
		}
		return err
	}
	_, err = s.sync(ctx, org)
	return err
}

// SyncAll sweeps every organisation with incomplete onboarding. Failures are
// isolated per organisation.
func (s *AccountSyncService) SyncAll(ctx context.Context) (synced, failed int, err error) {
	orgs, err := s.orgs.ListForAccountSync(ctx)
	if err != nil {
		return 0, 0, err
	}

	for i := range orgs {
		if _, err := s.sync(ctx, &orgs[i]); err != nil {
			log.Printf("Account sync failed for organisation %s: %v", orgs[i].ID, err)
			failed++
			continue
		}
		synced++
	}
	return synced, failed, nil
}

func (s *AccountSyncService) sync(ctx context.Context, org *domain.Organisation) (*AccountStatusResult, error) {
	if org.ConnectAccountID == nil || *org.ConnectAccountID == "" {
		return &AccountStatusResult{
			OrganisationID: org.ID,
			OnboardingStep: domain.OnboardingStepAccountCreated,
			OnboardingMode: org.OnboardingMode,
		}, nil
	}
	accountID := *org.ConnectAccountID

	account, err := s.processor.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account %s: %w", accountID, err)
	}

	step := DeriveOnboardingStep(*account)
	tempCharges := deferredChargesAllowed(*org, *account)

	var restrictionReason *string
	if !account.ChargesEnabled {
		reason := account.Requirements.DisabledReason
		if reason == "" {
			reason = "charges_disabled"
		}
		restrictionReason = &reason
	}

	update := store.AccountStatusUpdate{
		PayoutsEnabled:     account.PayoutsEnabled,
		ChargesEnabled:     account.ChargesEnabled,
		OnboardingStep:     step,
		TempChargesEnabled: tempCharges,
		RestrictionsActive: !account.ChargesEnabled,
		RestrictionReason:  restrictionReason,
	}
	if account.PayoutsEnabled {
		enabledAt := s.now().UTC()
		update.PayoutsEnabledAt = &enabledAt
	}
	if err := s.orgs.ApplyAccountStatus(ctx, org.ID, update); err != nil {
		return nil, fmt.Errorf("failed to persist account status for organisation %s: %w", org.ID, err)
	}

	result := &AccountStatusResult{
		OrganisationID:     org.ID,
		ChargesEnabled:     account.ChargesEnabled,
		PayoutsEnabled:     account.PayoutsEnabled,
		DetailsSubmitted:   account.DetailsSubmitted,
		CurrentlyDue:       account.Requirements.CurrentlyDue,
		PastDue:            account.Requirements.PastDue,
		OnboardingStep:     step,
		OnboardingMode:     org.OnboardingMode,
		TempChargesEnabled: tempCharges,
		RestrictionsActive: !account.ChargesEnabled,
		RestrictionReason:  restrictionReason,
	}

	if balance, err := s.processor.GetBalance(ctx, accountID); err != nil {
		log.Printf("WARN: failed to fetch balance for account %s: %v", accountID, err)
	} else {
		result.Balance = balance
	}

	if len(outstandingRequirements(*account)) > 0 {
		result.ActionRequired = true
		link, err := s.processor.CreateAccountLink(ctx, accountID, s.refreshURL, s.returnURL)
		if err != nil {
			log.Printf("WARN: failed to create onboarding link for account %s: %v", accountID, err)
		} else {
			result.ContinuationURL = link.URL
		}
	}

	return result, nil
}

// DeriveOnboardingStep inspects the account's outstanding requirements in
// priority order. Full verification wins over everything else.
func DeriveOnboardingStep(account domain.ConnectAccount) string {
	if account.DetailsSubmitted && account.PayoutsEnabled {
		return domain.OnboardingStepVerificationComplete
	}

	outstanding := outstandingRequirements(account)
	for _, req := range outstanding {
		if strings.Contains(req, "verification.document") {
			return domain.OnboardingStepIdentityPending
		}
	}
	for _, req := range outstanding {
		if strings.Contains(req, "external_account") {
			return domain.OnboardingStepBankAccountPending
		}
	}
	if account.BusinessProfile.Name != "" && len(outstanding) > 0 {
		return domain.OnboardingStepBusinessInfoPending
	}
	return domain.OnboardingStepAccountCreated
}

// deferredChargesAllowed computes temp_charges_enabled. The grace only
// applies in deferred mode before payouts have ever been enabled; after
// that the flag is permanently off, transient reads notwithstanding.
func deferredChargesAllowed(org domain.Organisation, account domain.ConnectAccount) bool {
	if org.OnboardingMode != domain.OnboardingModeDeferred {
		return false
	}
	if org.PayoutsEnabledAt != nil {
		return false
	}
	return !account.PayoutsEnabled
}

func outstandingRequirements(account domain.ConnectAccount) []string {
	var all []string
	all = append(all, account.Requirements.CurrentlyDue...)
	all = append(all, account.Requirements.PastDue...)
	return all
}
