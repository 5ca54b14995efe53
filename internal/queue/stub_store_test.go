package queue

import (
	"context"
	"sync"
	"time"

	"contest/internal/models"
	"contest/internal/repository"
)

// stubStore is a test-only in-memory implementation of repository.Store.
// It implements the full interface; tests use whichever slice they need.
type stubStore struct {
	mu       sync.Mutex
	statuses map[string]*models.QueueStatus
	active   map[string]models.ActiveQueue
	accounts map[int64]*models.Account
	contests map[int64]*models.Contest
	states   map[string]*models.SchedulerState
	history  []models.UpdateHistory
	nextID   uint64
}

func newStubStore() *stubStore {
	return &stubStore{
		statuses: map[string]*models.QueueStatus{},
		active:   map[string]models.ActiveQueue{},
		accounts: map[int64]*models.Account{},
		contests: map[int64]*models.Contest{},
		states:   map[string]*models.SchedulerState{},
	}
}

func statusKey(contestKey, queueID string) string {
	return contestKey + ":" + queueID
}

func copyStatus(src *models.QueueStatus) *models.QueueStatus {
	dup := *src
	dup.AccountsJSON = append([]byte(nil), src.AccountsJSON...)
	return &dup
}

func (s *stubStore) GetQueueStatus(ctx context.Context, contestKey, queueID string) (*models.QueueStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.statuses[statusKey(contestKey, queueID)]
	if !ok {
		return nil, nil
	}
	return copyStatus(item), nil
}

func (s *stubStore) SaveQueueStatus(ctx context.Context, status *models.QueueStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := statusKey(status.ContestKey, status.QueueID)
	if existing, ok := s.statuses[key]; ok {
		dup := copyStatus(status)
		dup.ID = existing.ID
		// Lease columns are owned by the acquire/release calls.
		dup.LeaseToken = existing.LeaseToken
		dup.LeaseExpiresAt = existing.LeaseExpiresAt
		s.statuses[key] = dup
		return nil
	}
	s.nextID++
	dup := copyStatus(status)
	dup.ID = s.nextID
	s.statuses[key] = dup
	status.ID = s.nextID
	return nil
}

func (s *stubStore) DeleteQueueStatus(ctx context.Context, contestKey, queueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.statuses, statusKey(contestKey, queueID))
	return nil
}

func (s *stubStore) ListQueueStatuses(ctx context.Context) ([]models.QueueStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QueueStatus
	for _, item := range s.statuses {
		out = append(out, *copyStatus(item))
	}
	return out, nil
}

func (s *stubStore) CountRunningQueues(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, item := range s.statuses {
		if item.IsRunning {
			n++
		}
	}
	return n, nil
}

func (s *stubStore) AcquireQueueLease(ctx context.Context, contestKey, queueID, token string, ttl time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.statuses[statusKey(contestKey, queueID)]
	if !ok || !item.IsRunning {
		return false, nil
	}
	if item.LeaseExpiresAt != nil && item.LeaseExpiresAt.After(now) {
		return false, nil
	}
	expires := now.Add(ttl)
	item.LeaseToken = token
	item.LeaseExpiresAt = &expires
	return true, nil
}

func (s *stubStore) RenewQueueLease(ctx context.Context, contestKey, queueID, token string, ttl time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.statuses[statusKey(contestKey, queueID)]
	if !ok || item.LeaseToken != token {
		return false, nil
	}
	expires := now.Add(ttl)
	item.LeaseExpiresAt = &expires
	return true, nil
}

func (s *stubStore) ReleaseQueueLease(ctx context.Context, contestKey, queueID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.statuses[statusKey(contestKey, queueID)]
	if !ok || item.LeaseToken != token {
		return nil
	}
	item.LeaseToken = ""
	item.LeaseExpiresAt = nil
	return nil
}

func (s *stubStore) RegisterActiveQueue(ctx context.Context, entry *models.ActiveQueue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[statusKey(entry.ContestKey, entry.QueueID)] = *entry
	return nil
}

func (s *stubStore) UnregisterActiveQueue(ctx context.Context, contestKey, queueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, statusKey(contestKey, queueID))
	return nil
}

func (s *stubStore) ListActiveQueues(ctx context.Context, contestKey string) ([]models.ActiveQueue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ActiveQueue
	for _, entry := range s.active {
		if entry.ContestKey == contestKey {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *stubStore) ListAllActiveQueues(ctx context.Context) ([]models.ActiveQueue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ActiveQueue
	for _, entry := range s.active {
		out = append(out, entry)
	}
	return out, nil
}

func (s *stubStore) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	dup := *acc
	return &dup, nil
}

func (s *stubStore) ListAccountsByContest(ctx context.Context, contestID int64) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Account
	for _, acc := range s.accounts {
		if acc.ContestID == contestID {
			out = append(out, *acc)
		}
	}
	return out, nil
}

func (s *stubStore) ListAccountsByIDs(ctx context.Context, ids []int64) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Account
	for _, id := range ids {
		if acc, ok := s.accounts[id]; ok {
			out = append(out, *acc)
		}
	}
	return out, nil
}

func (s *stubStore) UpdateAccountSnapshot(ctx context.Context, id int64, snap repository.AccountSnapshot, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil
	}
	acc.ConnectionStatus = models.ConnectionConnected
	acc.Balance = snap.Balance
	acc.Equity = snap.Equity
	acc.Margin = snap.Margin
	acc.Profit = snap.Profit
	acc.Leverage = snap.Leverage
	acc.OrdersTotal = snap.OrdersTotal
	acc.OrdersHistoryTotal = snap.OrdersHistoryTotal
	acc.ErrorDescription = ""
	acc.LastUpdateAt = &now
	return nil
}

func (s *stubStore) MarkAccountDisconnected(ctx context.Context, id int64, errDescription string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil
	}
	if acc.ConnectionStatus != models.ConnectionDisqualified {
		acc.ConnectionStatus = models.ConnectionDisconnected
		acc.ErrorDescription = errDescription
	}
	acc.LastUpdateAt = &now
	return nil
}

func (s *stubStore) MarkAccountDisqualified(ctx context.Context, id int64, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil
	}
	acc.ConnectionStatus = models.ConnectionDisqualified
	acc.ErrorDescription = reason
	acc.LastUpdateAt = &now
	return nil
}

func (s *stubStore) GetContest(ctx context.Context, id int64) (*models.Contest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contest, ok := s.contests[id]
	if !ok {
		return nil, nil
	}
	dup := *contest
	return &dup, nil
}

func (s *stubStore) ListActiveContests(ctx context.Context) ([]models.Contest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Contest
	for _, contest := range s.contests {
		if contest.Status == models.ContestActive {
			out = append(out, *contest)
		}
	}
	return out, nil
}

func (s *stubStore) GetSchedulerState(ctx context.Context, scope string) (*models.SchedulerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[scope]
	if !ok {
		return nil, nil
	}
	dup := *state
	return &dup, nil
}

func (s *stubStore) SaveSchedulerState(ctx context.Context, state *models.SchedulerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *state
	s.states[state.Scope] = &dup
	return nil
}

func (s *stubStore) ClaimSchedulerRun(ctx context.Context, scope string, now time.Time, minInterval time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[scope]
	if !ok {
		s.states[scope] = &models.SchedulerState{Scope: scope, LastRunAt: &now}
		return true, nil
	}
	if state.LastRunAt == nil || state.LastRunAt.Before(now.Add(-minInterval)) {
		stamp := now
		state.LastRunAt = &stamp
		return true, nil
	}
	return false, nil
}

func (s *stubStore) InsertUpdateHistory(ctx context.Context, entry *models.UpdateHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, *entry)
	if len(s.history) > repository.HistoryLimit {
		s.history = s.history[len(s.history)-repository.HistoryLimit:]
	}
	return nil
}

func (s *stubStore) ListUpdateHistory(ctx context.Context, limit int) ([]models.UpdateHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.UpdateHistory(nil), s.history...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
