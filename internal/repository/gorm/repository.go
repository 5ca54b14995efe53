package gormrepository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"contest/internal/models"
	"contest/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Queue snapshots ---------------------------------------------------------

func (s *Store) GetQueueStatus(ctx context.Context, contestKey, queueID string) (*models.QueueStatus, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.QueueStatus
	err := s.db.WithContext(ctx).
		Where("contest_key = ? AND queue_id = ?", contestKey, queueID).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveQueueStatus(ctx context.Context, status *models.QueueStatus) error {
	if s == nil || s.db == nil || status == nil {
		return nil
	}
	if status.ID != 0 {
		return s.db.WithContext(ctx).Save(status).Error
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "contest_key"}, {Name: "queue_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"state",
			"total",
			"completed",
			"succeeded",
			"failed",
			"is_running",
			"timed_out",
			"timeout_reason",
			"accounts_json",
			"initiator_type",
			"initiator_name",
			"started_at",
			"last_update_at",
			"ended_at",
		}),
	}).Create(status).Error
}

func (s *Store) DeleteQueueStatus(ctx context.Context, contestKey, queueID string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("contest_key = ? AND queue_id = ?", contestKey, queueID).
		Delete(&models.QueueStatus{}).Error
}

func (s *Store) ListQueueStatuses(ctx context.Context) ([]models.QueueStatus, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.QueueStatus
	if err := s.db.WithContext(ctx).Order("started_at desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountRunningQueues(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.QueueStatus{}).
		Where("is_running = ?", true).
		Count(&count).Error
	return count, err
}

func (s *Store) AcquireQueueLease(ctx context.Context, contestKey, queueID, token string, ttl time.Duration, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	expires := now.Add(ttl)
	res := s.db.WithContext(ctx).
		Model(&models.QueueStatus{}).
		Where("contest_key = ? AND queue_id = ?", contestKey, queueID).
		Where("is_running = ?", true).
		Where("lease_expires_at IS NULL OR lease_expires_at < ?", now).
		Updates(map[string]any{
			"lease_token":      token,
			"lease_expires_at": expires,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) RenewQueueLease(ctx context.Context, contestKey, queueID, token string, ttl time.Duration, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.QueueStatus{}).
		Where("contest_key = ? AND queue_id = ? AND lease_token = ?", contestKey, queueID, token).
		Update("lease_expires_at", now.Add(ttl))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ReleaseQueueLease(ctx context.Context, contestKey, queueID, token string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.QueueStatus{}).
		Where("contest_key = ? AND queue_id = ? AND lease_token = ?", contestKey, queueID, token).
		Updates(map[string]any{
			"lease_token":      "",
			"lease_expires_at": nil,
		}).Error
}

// --- Active-queue index ------------------------------------------------------

func (s *Store) RegisterActiveQueue(ctx context.Context, entry *models.ActiveQueue) error {
	if s == nil || s.db == nil || entry == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contest_key"}, {Name: "queue_id"}},
		DoNothing: true,
	}).Create(entry).Error
}

func (s *Store) UnregisterActiveQueue(ctx context.Context, contestKey, queueID string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("contest_key = ? AND queue_id = ?", contestKey, queueID).
		Delete(&models.ActiveQueue{}).Error
}

func (s *Store) ListActiveQueues(ctx context.Context, contestKey string) ([]models.ActiveQueue, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ActiveQueue
	err := s.db.WithContext(ctx).
		Where("contest_key = ?", contestKey).
		Order("started_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListAllActiveQueues(ctx context.Context) ([]models.ActiveQueue, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ActiveQueue
	if err := s.db.WithContext(ctx).Order("started_at asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Accounts ----------------------------------------------------------------

func (s *Store) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Account
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListAccountsByContest(ctx context.Context, contestID int64) ([]models.Account, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Account
	err := s.db.WithContext(ctx).
		Where("contest_id = ?", contestID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListAccountsByIDs(ctx context.Context, ids []int64) ([]models.Account, error) {
	if s == nil || s.db == nil || len(ids) == 0 {
		return nil, nil
	}
	var items []models.Account
	err := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateAccountSnapshot(ctx context.Context, id int64, snap repository.AccountSnapshot, now time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	updates := map[string]any{
		"connection_status":    models.ConnectionConnected,
		"balance":              snap.Balance,
		"equity":               snap.Equity,
		"margin":               snap.Margin,
		"profit":               snap.Profit,
		"leverage":             snap.Leverage,
		"orders_total":         snap.OrdersTotal,
		"orders_history_total": snap.OrdersHistoryTotal,
		"error_description":    "",
		"last_update_at":       now,
	}
	if snap.Currency != "" {
		updates["currency"] = snap.Currency
	}
	if snap.Broker != "" {
		updates["broker"] = snap.Broker
	}
	if snap.TraderName != "" {
		updates["trader_name"] = snap.TraderName
	}
	if snap.LastHistoryTime > 0 {
		updates["last_history_time"] = snap.LastHistoryTime
	}
	return s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// MarkAccountDisconnected records a failed refresh. A disqualified account
// keeps its status: only the refresh timestamp advances.
func (s *Store) MarkAccountDisconnected(ctx context.Context, id int64, errDescription string, now time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND connection_status <> ?", id, models.ConnectionDisqualified).
		Updates(map[string]any{
			"connection_status": models.ConnectionDisconnected,
			"error_description": errDescription,
			"last_update_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.db.WithContext(ctx).
			Model(&models.Account{}).
			Where("id = ?", id).
			Update("last_update_at", now).Error
	}
	return nil
}

func (s *Store) MarkAccountDisqualified(ctx context.Context, id int64, reason string, now time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"connection_status": models.ConnectionDisqualified,
			"error_description": reason,
			"last_update_at":    now,
		}).Error
}

// --- Contests ----------------------------------------------------------------

func (s *Store) GetContest(ctx context.Context, id int64) (*models.Contest, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Contest
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListActiveContests(ctx context.Context) ([]models.Contest, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Contest
	err := s.db.WithContext(ctx).
		Where("status = ?", models.ContestActive).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Scheduler state ---------------------------------------------------------

func (s *Store) GetSchedulerState(ctx context.Context, scope string) (*models.SchedulerState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SchedulerState
	err := s.db.WithContext(ctx).Where("scope = ?", scope).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveSchedulerState(ctx context.Context, state *models.SchedulerState) error {
	if s == nil || s.db == nil || state == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_run_at",
			"last_error",
			"stats_json",
		}),
	}).Create(state).Error
}

func (s *Store) ClaimSchedulerRun(ctx context.Context, scope string, now time.Time, minInterval time.Duration) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.SchedulerState{}).
		Where("scope = ?", scope).
		Where("last_run_at IS NULL OR last_run_at < ?", now.Add(-minInterval)).
		Update("last_run_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	// First run for this scope: insert the row, losing to any concurrent
	// insert of the same scope.
	ins := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}},
		DoNothing: true,
	}).Create(&models.SchedulerState{Scope: scope, LastRunAt: &now})
	if ins.Error != nil {
		return false, ins.Error
	}
	return ins.RowsAffected == 1, nil
}

// --- Update history ----------------------------------------------------------

func (s *Store) InsertUpdateHistory(ctx context.Context, entry *models.UpdateHistory) error {
	if s == nil || s.db == nil || entry == nil {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}
	// Trim the ring: drop everything older than the newest HistoryLimit rows.
	sub := s.db.WithContext(ctx).
		Model(&models.UpdateHistory{}).
		Select("id").
		Order("started_at desc").
		Limit(repository.HistoryLimit)
	return s.db.WithContext(ctx).
		Where("id NOT IN (?)", sub).
		Delete(&models.UpdateHistory{}).Error
}

func (s *Store) ListUpdateHistory(ctx context.Context, limit int) ([]models.UpdateHistory, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > repository.HistoryLimit {
		limit = repository.HistoryLimit
	}
	var items []models.UpdateHistory
	err := s.db.WithContext(ctx).
		Order("started_at desc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
