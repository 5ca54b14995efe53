package scheduler

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"contest/internal/config"
	"contest/internal/models"
	"contest/internal/queue"
	"contest/internal/repository"
)

// QueueCreator is the slice of the queue manager the scheduler drives.
type QueueCreator interface {
	CreateQueue(ctx context.Context, contestKey string, accountIDs []int64, autoUpdate bool, initiatorName string) (*queue.Handle, error)
}

// AutoUpdate decides, on each periodic trigger, which accounts across all
// active contests are due for a refresh and hands them to the queue manager
// as per-contest queues.
type AutoUpdate struct {
	Store  repository.Store
	Queues QueueCreator
	Config config.AutoUpdateConfig
	Logger *zap.Logger
}

// runStats is the per-run summary persisted on the scheduler state row.
type runStats struct {
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	Contests       int       `json:"contests"`
	QueuedContests int       `json:"queued_contests"`
	QueuedAccounts int       `json:"queued_accounts"`
	Forced         bool      `json:"forced"`
}

// Run performs one scheduling pass. When force is false the pass is skipped
// if the scheduler is disabled or the previous pass ran too recently; a
// forced pass ignores both guards but still applies per-account selection.
func (s *AutoUpdate) Run(ctx context.Context, force bool) error {
	if s == nil || s.Store == nil || s.Queues == nil {
		return nil
	}
	if !force && !s.Config.Enabled {
		return nil
	}
	now := time.Now().UTC()

	if !force {
		// Claim the run before any selection so two triggers firing at
		// once cannot both pass the guard: the store stamps last_run_at in
		// a single conditional write and only one caller wins. The minute
		// of slack keeps an exactly-on-time cron fire from tripping its
		// own guard.
		won, err := s.Store.ClaimSchedulerRun(ctx, models.SchedulerScopeAutoUpdate, now, s.Config.Interval-time.Minute)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
	}

	stats := runStats{
		RunID:     uuid.NewString(),
		StartedAt: now,
		Forced:    force,
	}

	contests, err := s.Store.ListActiveContests(ctx)
	if err != nil {
		s.saveState(ctx, now, err, stats)
		return err
	}
	stats.Contests = len(contests)

	var runErr error
	for i := range contests {
		contest := &contests[i]
		accounts, err := s.Store.ListAccountsByContest(ctx, contest.ID)
		if err != nil {
			runErr = err
			continue
		}
		var due []int64
		for j := range accounts {
			if shouldRefresh(&accounts[j], now, s.Config) {
				due = append(due, accounts[j].ID)
			}
		}
		if len(due) == 0 {
			continue
		}
		contestKey := strconv.FormatInt(contest.ID, 10)
		handle, err := s.Queues.CreateQueue(ctx, contestKey, due, true, "auto-update")
		if err != nil {
			runErr = err
			if s.Logger != nil {
				s.Logger.Warn("auto-update queue creation failed",
					zap.Int64("contest", contest.ID), zap.Error(err))
			}
			continue
		}
		if handle != nil {
			stats.QueuedContests++
			stats.QueuedAccounts += handle.Total
		}
	}

	s.saveState(ctx, now, runErr, stats)
	if s.Logger != nil {
		s.Logger.Info("auto-update pass finished",
			zap.String("run_id", stats.RunID),
			zap.Int("contests", stats.Contests),
			zap.Int("queued_contests", stats.QueuedContests),
			zap.Int("queued_accounts", stats.QueuedAccounts),
			zap.Bool("forced", force))
	}
	return runErr
}

// shouldRefresh applies the per-account selection rules. Disqualified
// accounts follow the recheck interval only (zero disables rechecks),
// disconnected accounts retry on the error interval, healthy accounts on
// the minimum update interval.
func shouldRefresh(acc *models.Account, now time.Time, cfg config.AutoUpdateConfig) bool {
	if acc.LastUpdateAt == nil {
		return acc.ConnectionStatus != models.ConnectionDisqualified ||
			cfg.DisqualifiedRecheckInterval > 0
	}
	since := now.Sub(*acc.LastUpdateAt)

	switch acc.ConnectionStatus {
	case models.ConnectionDisqualified:
		return cfg.DisqualifiedRecheckInterval > 0 && since >= cfg.DisqualifiedRecheckInterval
	case models.ConnectionDisconnected:
		if since < cfg.MinUpdateInterval {
			return false
		}
		if cfg.ErrorAccountsInterval > 0 {
			return since >= cfg.ErrorAccountsInterval
		}
		return true
	default:
		return since >= cfg.MinUpdateInterval
	}
}

func (s *AutoUpdate) saveState(ctx context.Context, ranAt time.Time, runErr error, stats runStats) {
	state := &models.SchedulerState{
		Scope:     models.SchedulerScopeAutoUpdate,
		LastRunAt: &ranAt,
	}
	if runErr != nil {
		msg := runErr.Error()
		state.LastError = &msg
	}
	if raw, err := json.Marshal(stats); err == nil {
		state.StatsJSON = datatypes.JSON(raw)
	}
	if err := s.Store.SaveSchedulerState(ctx, state); err != nil && s.Logger != nil {
		s.Logger.Warn("save scheduler state failed", zap.Error(err))
	}
}

// ForceRunNow is the administrative trigger: one immediate pass bypassing
// the enabled flag and the re-entrancy guard.
func (s *AutoUpdate) ForceRunNow(ctx context.Context) error {
	return s.Run(ctx, true)
}

// RunAutoUpdateTick is the trigger entry point for the periodic schedule.
// Errors are logged and absorbed.
func (s *AutoUpdate) RunAutoUpdateTick(ctx context.Context) {
	if err := s.Run(ctx, false); err != nil && s.Logger != nil {
		s.Logger.Warn("auto-update tick failed", zap.Error(err))
	}
}
