// Package scheduler runs periodic jobs such as the trading-day rollover on
// cron specs with a seconds field.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

// New creates a runner whose jobs receive baseCtx. Specs are evaluated in
// loc.
func New(baseCtx context.Context, loc *time.Location, logger *zap.Logger) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Add registers job under name. A job that is still running when its next
// tick fires is skipped.
func (r *Runner) Add(name, spec string, job func(context.Context) error) (cron.EntryID, error) {
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		if r.baseCtx.Err() != nil {
			return
		}
		start := time.Now()
		if err := job(r.baseCtx); err != nil {
			r.logger.Error("job_failed", zap.String("job", name), zap.Error(err))
			return
		}
		r.logger.Debug("job_done", zap.String("job", name), zap.Duration("took", time.Since(start)))
	}))
	id, err := r.cron.AddJob(spec, wrapped)
	if err != nil {
		return 0, err
	}
	r.logger.Info("job_scheduled", zap.String("job", name), zap.String("spec", spec))
	return id, nil
}

// Next is the next time the entry will run, or zero before Start.
func (r *Runner) Next(id cron.EntryID) time.Time {
	return r.cron.Entry(id).Next
}

func (r *Runner) Start() {
	r.logger.Info("scheduler_started")
	r.cron.Start()
}

// Stop waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("scheduler_stopped")
}
