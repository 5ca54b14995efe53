package disqualify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler is the one-shot delay facility rule checks run on.
type Scheduler interface {
	After(d time.Duration, job func(context.Context))
}

// AsyncScheduler defers rule evaluation off the batch-processing hot path.
// The short delay lets the snapshot write settle before the check re-reads
// the account.
type AsyncScheduler struct {
	Checker  *Checker
	Schedule Scheduler
	Delay    time.Duration
	Enabled  bool
}

func (s *AsyncScheduler) AccountUpdated(accountID int64) {
	if s == nil || !s.Enabled || s.Checker == nil || s.Schedule == nil {
		return
	}
	delay := s.Delay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	s.Schedule.After(delay, func(ctx context.Context) {
		if err := s.Checker.CheckAccount(ctx, accountID); err != nil && s.Checker.Logger != nil {
			s.Checker.Logger.Warn("async disqualification check failed",
				zap.Int64("account", accountID), zap.Error(err))
		}
	})
}
