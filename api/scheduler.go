/*
scheduler.go - Nightly maintenance jobs

PURPOSE:
  Runs the housekeeping the engines never do on their own:
  - expire-packages: closes monthly channels past their expiry and writes
    off the leftover units
  - sweep-freezes: completes freezes whose end date has passed and returns
    their subscriptions to active

  Both jobs are idempotent, so a missed or doubled run is harmless. The same
  jobs can be triggered manually via /api/admin/*.

CONFIGURATION:
  Cron specs come from EXPIRE_PACKAGES_SCHEDULE and FREEZE_SWEEP_SCHEDULE.
  An empty spec disables that job.

USAGE:
  s := NewScheduler(subs, balances, m, logger)
  s.Start(expireSpec, sweepSpec)
  // ... later
  <-s.Stop().Done()
*/
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/volan/membership-engine/balance"
	"github.com/volan/membership-engine/core"
	"github.com/volan/membership-engine/metrics"
	"github.com/volan/membership-engine/subscription"
)

const (
	jobExpirePackages = "expire-packages"
	jobSweepFreezes   = "sweep-freezes"

	jobTimeout = 5 * time.Minute
)

type Scheduler struct {
	Subscriptions *subscription.Service
	Balances      *balance.Engine
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	Now           func() core.TimePoint

	cron *cron.Cron
}

func NewScheduler(subs *subscription.Service, balances *balance.Engine, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &Scheduler{
		Subscriptions: subs,
		Balances:      balances,
		Metrics:       m,
		Logger:        logger,
		Now:           core.Today,
		cron:          cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
	}
}

// Start registers the jobs with a non-empty spec and starts the cron loop.
func (s *Scheduler) Start(expireSpec, sweepSpec string) error {
	jobs := []struct {
		name string
		spec string
	}{
		{jobExpirePackages, expireSpec},
		{jobSweepFreezes, sweepSpec},
	}
	for _, j := range jobs {
		if j.spec == "" {
			s.Logger.Info("job disabled", "job", j.name)
			continue
		}
		name := j.name
		if _, err := s.cron.AddFunc(j.spec, func() { s.Run(name) }); err != nil {
			return err
		}
		s.Logger.Info("scheduled job", "job", name, "schedule", j.spec)
	}
	s.cron.Start()
	return nil
}

// Stop stops the cron loop. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Run executes one job synchronously and returns how many records it touched.
func (s *Scheduler) Run(job string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	asOf := s.Now()
	start := time.Now()

	var (
		n   int
		err error
	)
	switch job {
	case jobExpirePackages:
		n, err = s.Balances.ExpirePackages(ctx, asOf)
	case jobSweepFreezes:
		n, err = s.Subscriptions.SweepFreezes(ctx, asOf)
	default:
		s.Logger.Error("unknown job", "job", job)
		return 0, errUnknownAction
	}

	s.Metrics.JobRun(job, err)
	if err != nil {
		s.Logger.Error("job failed", "job", job, "as_of", asOf.String(), "error", err)
		return n, err
	}
	s.Logger.Info("job completed", "job", job, "as_of", asOf.String(), "count", n, "duration", time.Since(start))
	return n, nil
}
