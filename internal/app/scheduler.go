/**
 * @description
 * Cron scheduler setup for the payout batch and account sync jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// ScheduleConfig carries the cron expressions for the scheduled jobs.
type ScheduleConfig struct {
	PayoutSchedule      string
	AccountSyncSchedule string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config ScheduleConfig
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg ScheduleConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.PayoutSchedule, s.jobs.RunScheduledPayouts); err != nil {
		s.logger.Error("failed to schedule payout batch job", "error", err)
	} else {
		s.logger.Info("scheduled payout batch job", "schedule", s.config.PayoutSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.AccountSyncSchedule, s.jobs.SyncMerchantAccounts); err != nil {
		s.logger.Error("failed to schedule account sync job", "error", err)
	} else {
		s.logger.Info("scheduled account sync job", "schedule", s.config.AccountSyncSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
