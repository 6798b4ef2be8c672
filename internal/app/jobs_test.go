package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type payoutRunnerStub struct {
	opts   []PayoutRunOptions
	result *PayoutRunResult
	err    error
}

func (s *payoutRunnerStub) Run(ctx context.Context, opts PayoutRunOptions) (*PayoutRunResult, error) {
	s.opts = append(s.opts, opts)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type accountSweeperStub struct {
	calls int
	err   error
}

func (s *accountSweeperStub) SyncAll(ctx context.Context) (int, int, error) {
	s.calls++
	if s.err != nil {
		return 0, 0, s.err
	}
	return 3, 1, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunScheduledPayouts_UsesSchedulerAttribution(t *testing.T) {
	runner := &payoutRunnerStub{result: &PayoutRunResult{Success: true}}
	jobs := NewJobs(runner, &accountSweeperStub{}, discardLogger(), 0)

	jobs.RunScheduledPayouts()

	if len(runner.opts) != 1 {
		t.Fatalf("expected 1 batch run, got %d", len(runner.opts))
	}
	opts := runner.opts[0]
	if opts.TriggeredBy != "scheduler" {
		t.Fatalf("expected scheduler attribution, got %q", opts.TriggeredBy)
	}
	if opts.Manual {
		t.Fatal("scheduled runs must not bypass the threshold")
	}
	if opts.OrganisationID != "" {
		t.Fatalf("scheduled runs must not be scoped, got %q", opts.OrganisationID)
	}
}

func TestRunScheduledPayouts_SurvivesBatchFailure(t *testing.T) {
	runner := &payoutRunnerStub{err: errors.New("database unavailable")}
	jobs := NewJobs(runner, &accountSweeperStub{}, discardLogger(), 0)

	// Must not panic; the scheduler recovery wrapper is a last resort.
	jobs.RunScheduledPayouts()

	if len(runner.opts) != 1 {
		t.Fatalf("expected the run attempted once, got %d", len(runner.opts))
	}
}

func TestSyncMerchantAccounts_RunsSweep(t *testing.T) {
	sweeper := &accountSweeperStub{}
	jobs := NewJobs(&payoutRunnerStub{result: &PayoutRunResult{}}, sweeper, discardLogger(), 0)

	jobs.SyncMerchantAccounts()

	if sweeper.calls != 1 {
		t.Fatalf("expected 1 sweep, got %d", sweeper.calls)
	}
}

func TestSyncMerchantAccounts_SurvivesSweepFailure(t *testing.T) {
	sweeper := &accountSweeperStub{err: errors.New("processor unavailable")}
	jobs := NewJobs(&payoutRunnerStub{}, sweeper, discardLogger(), 0)

	jobs.SyncMerchantAccounts()

	if sweeper.calls != 1 {
		t.Fatalf("expected 1 attempted sweep, got %d", sweeper.calls)
	}
}
