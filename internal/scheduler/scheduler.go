package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/deposit-service/internal/config"
	"github.com/Dan9191/deposit-service/internal/models"
	"github.com/Dan9191/deposit-service/internal/service"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const jobTimeout = 10 * time.Minute

// Jobs is the part of the service the scheduler drives
type Jobs interface {
	SweepMatured(ctx context.Context) ([]models.Request, error)
	ResolveInterestRate(ctx context.Context, requested decimal.Decimal) (decimal.Decimal, error)
	PayInterestToAll(ctx context.Context, annualPercent decimal.Decimal) (*service.InterestRun, error)
}

// Scheduler runs the periodic ledger jobs
type Scheduler struct {
	cron *cron.Cron
	jobs Jobs
	log  *logrus.Logger
}

// New registers the maturity sweep and, when INTEREST_CRON is set, the
// monthly interest run. Expressions carry a leading seconds field.
func New(jobs Jobs, cfg *config.Config, log *logrus.Logger) (*Scheduler, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{log: log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs: jobs,
		log:  log,
	}

	if _, err := s.cron.AddFunc(cfg.SweepCron, func() { s.RunSweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid SWEEP_CRON %q: %w", cfg.SweepCron, err)
	}
	if cfg.InterestCron != "" {
		if _, err := s.cron.AddFunc(cfg.InterestCron, func() { s.RunInterest(context.Background()) }); err != nil {
			return nil, fmt.Errorf("invalid INTEREST_CRON %q: %w", cfg.InterestCron, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.WithField("jobs", len(s.cron.Entries())).Info("Scheduler started")
}

// Stop prevents new runs and waits for running jobs or ctx, whichever ends first
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("Scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("Scheduler stop timed out with jobs still running")
	}
}

// Jobs returns the number of registered jobs
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// RunSweep files matured-fd requests for overdue investments
func (s *Scheduler) RunSweep(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	created, err := s.jobs.SweepMatured(ctx)
	if err != nil {
		s.log.WithError(err).Error("Scheduled maturity sweep failed")
		return err
	}
	s.log.WithField("created", len(created)).Info("Scheduled maturity sweep done")
	return nil
}

// RunInterest pays monthly interest at the configured or reference rate
func (s *Scheduler) RunInterest(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	rate, err := s.jobs.ResolveInterestRate(ctx, decimal.Zero)
	if err != nil {
		s.log.WithError(err).Error("Scheduled interest run has no rate")
		return err
	}
	run, err := s.jobs.PayInterestToAll(ctx, rate)
	if err != nil {
		s.log.WithError(err).Error("Scheduled interest run failed")
		return err
	}
	s.log.WithFields(logrus.Fields{
		"annual_rate": rate.String(),
		"paid":        len(run.Payouts),
		"total":       run.Total.String(),
	}).Info("Scheduled interest run done")
	return nil
}

// cronLogger adapts logrus to cron.Logger
type cronLogger struct {
	log *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
