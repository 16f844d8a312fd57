/**
 * @description
 * Cron scheduler for the periodic reconciliation sweep that resumes delivery
 * tracking for confirming payments.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Resumer resumes tracking for confirming payments.
type Resumer interface {
	ResumeAll(ctx context.Context) (int, error)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	resumer  Resumer
	logger   *slog.Logger
	schedule string
	timeout  time.Duration
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(resumer Resumer, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		resumer:  resumer,
		logger:   logger,
		schedule: schedule,
		timeout:  30 * time.Second,
	}
}

// Start registers the reconciliation job and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.ReconcileConfirming); err != nil {
		s.logger.Error("failed to schedule reconciliation job", "schedule", s.schedule, "error", err)
		return err
	}
	s.logger.Info("scheduled reconciliation job", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// ReconcileConfirming runs one resume sweep.
func (s *Scheduler) ReconcileConfirming() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	resumed, err := s.resumer.ResumeAll(ctx)
	if err != nil {
		s.logger.Error("reconciliation job failed", "error", err)
		return
	}
	s.logger.Debug("reconciliation job finished", "resumed", resumed)
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
