package cronrunner

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

func New(logger *zap.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger,
		baseCtx: baseCtx,
		timers:  map[*time.Timer]struct{}{},
	}
}

func (r *Runner) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		if r == nil || r.baseCtx == nil {
			job(context.Background())
			return
		}
		job(r.baseCtx)
	})
}

// After schedules job once, d from now. Pending jobs are dropped on Stop.
func (r *Runner) After(d time.Duration, job func(context.Context)) {
	if r == nil {
		return
	}
	// Register under the lock so an immediate fire cannot observe the map
	// before its own entry is in place.
	r.mu.Lock()
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		r.mu.Lock()
		_, pending := r.timers[timer]
		delete(r.timers, timer)
		r.mu.Unlock()
		if !pending {
			return
		}
		if r.baseCtx.Err() != nil {
			return
		}
		job(r.baseCtx)
	})
	r.timers[timer] = struct{}{}
	r.mu.Unlock()
}

func (r *Runner) Start() {
	if r.logger != nil {
		r.logger.Info("cron started")
	}
	r.cron.Start()
}

func (r *Runner) Stop() {
	r.mu.Lock()
	for timer := range r.timers {
		timer.Stop()
		delete(r.timers, timer)
	}
	r.mu.Unlock()

	ctx := r.cron.Stop()
	<-ctx.Done()
	if r.logger != nil {
		r.logger.Info("cron stopped")
	}
}
