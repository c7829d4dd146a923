// Package scheduler runs the periodic refresh and claim batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/logging"
	"github.com/josh-kwaku/simsync/internal/service"
)

type batchRunner interface {
	Refresh(ctx context.Context, progress domain.ProgressFunc) (service.BatchResult, error)
	ClaimAll(ctx context.Context, progress domain.ProgressFunc) (service.BatchResult, error)
}

type Config struct {
	RefreshSchedule string
	ClaimSchedule   string
}

type Scheduler struct {
	cron    *cron.Cron
	batches batchRunner
	ctx     context.Context
}

// New registers the jobs. An empty schedule disables that job. Jobs run with
// ctx, so cancelling it stops any batch the scheduler started.
func New(ctx context.Context, batches batchRunner, cfg Config) (*Scheduler, error) {
	cronLog := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn))
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
		batches: batches,
		ctx:     ctx,
	}

	jobs := []struct {
		spec string
		op   string
		run  func(context.Context, domain.ProgressFunc) (service.BatchResult, error)
	}{
		{cfg.RefreshSchedule, service.OperationRefresh, batches.Refresh},
		{cfg.ClaimSchedule, service.OperationClaimAll, batches.ClaimAll},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, s.job(j.op, j.run)); err != nil {
			return nil, fmt.Errorf("New: %s schedule %q: %w", j.op, j.spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) job(op string, run func(context.Context, domain.ProgressFunc) (service.BatchResult, error)) func() {
	return func() {
		ctx, log := logging.With(s.ctx, "trigger", "schedule", "operation", op)
		if ctx.Err() != nil {
			return
		}
		res, err := run(ctx, nil)
		switch {
		case errors.Is(err, domain.ErrBatchInProgress):
			log.Info("scheduled batch skipped, another is running")
		case err != nil:
			log.Error("scheduled batch failed", "error", err)
		default:
			log.Info("scheduled batch finished", "status", res.Status, "message", res.Message)
		}
	}
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs. The returned context is done once running jobs
// have returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
