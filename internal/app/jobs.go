/**
 * @description
 * Scheduled job implementations: the periodic payout batch and the merchant
 * account sync sweep.
 */
package app

import (
	"context"
	"log/slog"
	"time"
)

// PayoutRunner triggers payout batches.
type PayoutRunner interface {
	Run(ctx context.Context, opts PayoutRunOptions) (*PayoutRunResult, error)
}

// AccountSweeper sweeps incomplete merchant accounts.
type AccountSweeper interface {
	SyncAll(ctx context.Context) (synced, failed int, err error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	payouts  PayoutRunner
	accounts AccountSweeper
	logger   *slog.Logger
	timeout  time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(payouts PayoutRunner, accounts AccountSweeper, logger *slog.Logger, timeout time.Duration) *Jobs {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Jobs{
		payouts:  payouts,
		accounts: accounts,
		logger:   logger,
		timeout:  timeout,
	}
}

// RunScheduledPayouts executes the periodic payout batch without the manual
// threshold override.
func (j *Jobs) RunScheduledPayouts() {
	j.logger.Info("starting scheduled payout batch")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	result, err := j.payouts.Run(ctx, PayoutRunOptions{TriggeredBy: "scheduler"})
	if err != nil {
		j.logger.Error("payout batch failed", "error", err)
		return
	}

	j.logger.Info("scheduled payout batch finished",
		"organisations", result.Summary.TotalOrganisations,
		"succeeded", result.Summary.SuccessfulPayouts,
		"failed", result.Summary.FailedPayouts,
		"skipped", result.Summary.Skipped)

	for _, batchErr := range result.Errors {
		j.logger.Error("payout failed for organisation",
			"organisation_id", batchErr.OrganisationID, "error", batchErr.Error)
	}
}

// SyncMerchantAccounts refreshes account state for organisations with
// incomplete onboarding.
func (j *Jobs) SyncMerchantAccounts() {
	j.logger.Info("starting merchant account sync sweep")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	synced, failed, err := j.accounts.SyncAll(ctx)
	if err != nil {
		j.logger.Error("account sync sweep failed", "error", err)
		return
	}

	j.logger.Info("merchant account sync sweep finished", "synced", synced, "failed", failed)
}
