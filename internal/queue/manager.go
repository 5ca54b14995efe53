package queue

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"contest/internal/client/tradeapi"
	"contest/internal/config"
	"contest/internal/models"
	"contest/internal/repository"
)

// Fetcher pulls one fresh account snapshot from the terminal bridge.
type Fetcher interface {
	FetchAccount(ctx context.Context, params tradeapi.FetchParams) (*tradeapi.Snapshot, error)
}

// TickScheduler registers one-shot delayed jobs for batch ticks.
type TickScheduler interface {
	After(d time.Duration, job func(context.Context))
}

// DisqualifyScheduler is told about every successfully refreshed account so
// rule checks can run off the hot path.
type DisqualifyScheduler interface {
	AccountUpdated(accountID int64)
}

// ThrottleFunc maps the number of concurrently running queues to the batch
// size and tick interval one queue should use. It is the only cross-queue
// coordination point; there is no global semaphore.
type ThrottleFunc func(runningQueues int64, batchSize int, interval time.Duration) (int, time.Duration)

// DefaultThrottle leaves a lone queue (or a pair's first) untouched and
// halves the batch while doubling the interval once two or more queues
// compete for the external API.
func DefaultThrottle(runningQueues int64, batchSize int, interval time.Duration) (int, time.Duration) {
	if runningQueues < 2 {
		return batchSize, interval
	}
	size := batchSize / 2
	if size < 1 {
		size = 1
	}
	return size, interval * 2
}

// Handle identifies a freshly created queue.
type Handle struct {
	ContestKey string `json:"contest_id"`
	QueueID    string `json:"queue_id"`
	Total      int    `json:"total"`
}

// BatchResult summarizes one ProcessBatch invocation.
type BatchResult struct {
	ContestKey string `json:"contest_id"`
	QueueID    string `json:"queue_id"`
	Skipped    bool   `json:"skipped"`
	Processed  int    `json:"processed"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	Remaining  int    `json:"remaining"`
	Finished   bool   `json:"finished"`
}

// StatusView is the read model served to monitoring callers.
type StatusView struct {
	ContestKey    string                `json:"contest_id"`
	QueueID       string                `json:"queue_id"`
	State         string                `json:"state"`
	Total         int                   `json:"total"`
	Completed     int                   `json:"completed"`
	Succeeded     int                   `json:"succeeded"`
	Failed        int                   `json:"failed"`
	Progress      int                   `json:"progress"`
	IsRunning     bool                  `json:"is_running"`
	TimedOut      bool                  `json:"timed_out"`
	TimeoutReason string                `json:"timeout_reason,omitempty"`
	InitiatorType string                `json:"initiator_type"`
	InitiatorName string                `json:"initiator_name,omitempty"`
	Accounts      []models.AccountState `json:"accounts"`
	StartedAt     time.Time             `json:"started_at"`
	LastUpdateAt  time.Time             `json:"last_update_at"`
	EndedAt       *time.Time            `json:"ended_at,omitempty"`
}

// ActiveOverview aggregates the global active-queue index for monitoring.
type ActiveOverview struct {
	Contests      map[string][]StatusView `json:"contests"`
	TotalQueues   int                     `json:"total_queues"`
	TotalRunning  int                     `json:"total_running"`
	TotalAccounts int                     `json:"total_accounts"`
	PrunedOrphans int                     `json:"pruned_orphans"`
}

// ClearResult reports what the administrative wipe removed. ClearedQueues
// counts running queues that were force-stopped, ClearedLists index rows
// removed, ClearedStatus snapshot rows deleted. Orphans counts
// inconsistencies found in either direction: index rows whose snapshot was
// already gone plus snapshots the index had lost track of.
type ClearResult struct {
	ClearedQueues int `json:"cleared_queues"`
	ClearedLists  int `json:"cleared_lists"`
	ClearedStatus int `json:"cleared_status"`
	Orphans       int `json:"orphans"`
}

// Manager owns queue lifecycle: creation, batch ticks, stall detection and
// cleanup. All durable state lives in Store; the manager itself is stateless
// and safe to run in several processes as long as they share the store.
type Manager struct {
	Store      repository.Store
	Fetcher    Fetcher
	Ticks      TickScheduler
	Disqualify DisqualifyScheduler
	Throttle   ThrottleFunc
	Config     config.QueueConfig
	APITimeout time.Duration
	Logger     *zap.Logger
}

const queueIDAlphabet = "abcdefghijklmnopqrstuvwxyz"

func newQueueID() string {
	b := make([]byte, 4)
	for i := range b {
		b[i] = queueIDAlphabet[rand.Intn(len(queueIDAlphabet))]
	}
	return "q" + string(b)
}

// CreateQueue partitions the given accounts into a new queue for one contest
// and schedules its first batch tick. An empty account list is a no-op
// success and returns a nil handle.
func (m *Manager) CreateQueue(ctx context.Context, contestKey string, accountIDs []int64, autoUpdate bool, initiatorName string) (*Handle, error) {
	if m == nil || m.Store == nil {
		return nil, nil
	}
	if len(accountIDs) == 0 {
		return nil, nil
	}
	if contestKey == "" {
		contestKey = models.ContestKeyGlobal
	}
	now := time.Now().UTC()

	queueID, err := m.freshQueueID(ctx, contestKey)
	if err != nil {
		return nil, err
	}

	accounts, err := m.Store.ListAccountsByIDs(ctx, accountIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.Account, len(accounts))
	for i := range accounts {
		byID[accounts[i].ID] = &accounts[i]
	}

	states := make([]models.AccountState, 0, len(accountIDs))
	for _, id := range accountIDs {
		st := models.AccountState{AccountID: id, Status: models.AccountPending}
		if acc := byID[id]; acc != nil {
			st.ConnectionStatus = acc.ConnectionStatus
			st.AccountNumber = acc.AccountNumber
			st.TraderName = acc.TraderName
			st.Broker = acc.Broker
			st.Platform = acc.Platform
		}
		states = append(states, st)
	}

	initiatorType := models.InitiatorManual
	if autoUpdate {
		initiatorType = models.InitiatorAuto
	}
	status := &models.QueueStatus{
		ContestKey:    contestKey,
		QueueID:       queueID,
		State:         models.QueueRunning,
		Total:         len(accountIDs),
		IsRunning:     true,
		InitiatorType: initiatorType,
		InitiatorName: initiatorName,
		StartedAt:     now,
		LastUpdateAt:  now,
	}
	if err := status.SetAccounts(states); err != nil {
		return nil, err
	}
	if err := m.Store.SaveQueueStatus(ctx, status); err != nil {
		return nil, err
	}
	if err := m.Store.RegisterActiveQueue(ctx, &models.ActiveQueue{
		ContestKey: contestKey,
		QueueID:    queueID,
		StatusKey:  contestKey + ":" + queueID,
		StartedAt:  now,
	}); err != nil {
		return nil, err
	}

	if m.Ticks != nil {
		ck, qid := contestKey, queueID
		m.Ticks.After(0, func(tctx context.Context) {
			m.RunBatchTick(tctx, ck, qid)
		})
	}

	if m.Logger != nil {
		m.Logger.Info("queue created",
			zap.String("contest", contestKey),
			zap.String("queue", queueID),
			zap.Int("total", len(accountIDs)),
			zap.String("initiator", initiatorType))
	}
	return &Handle{ContestKey: contestKey, QueueID: queueID, Total: len(accountIDs)}, nil
}

func (m *Manager) freshQueueID(ctx context.Context, contestKey string) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		id := newQueueID()
		existing, err := m.Store.GetQueueStatus(ctx, contestKey, id)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique queue id for contest %s", contestKey)
}

// ProcessBatch claims up to batch-size pending accounts and refreshes them
// sequentially, persisting the snapshot after every account. Duplicate or
// late invocations are no-ops: a missing snapshot, a finished queue or a
// held lease all end the call without side effects.
func (m *Manager) ProcessBatch(ctx context.Context, contestKey, queueID string) (*BatchResult, error) {
	result := &BatchResult{ContestKey: contestKey, QueueID: queueID, Skipped: true}
	if m == nil || m.Store == nil || m.Fetcher == nil {
		return result, nil
	}

	status, err := m.Store.GetQueueStatus(ctx, contestKey, queueID)
	if err != nil {
		return result, err
	}
	if status == nil || !status.IsRunning {
		return result, nil
	}

	timedOut, err := m.timeoutIfStalled(ctx, status)
	if err != nil {
		return result, err
	}
	if timedOut {
		return result, nil
	}

	token := uuid.NewString()
	now := time.Now().UTC()
	won, err := m.Store.AcquireQueueLease(ctx, contestKey, queueID, token, m.leaseTTL(), now)
	if err != nil {
		return result, err
	}
	if !won {
		return result, nil
	}
	defer func() {
		if err := m.Store.ReleaseQueueLease(context.WithoutCancel(ctx), contestKey, queueID, token); err != nil {
			m.logWarn("release queue lease failed", err, zap.String("queue", queueID))
		}
	}()

	// Reload under the lease so the claimed sub-states are current.
	status, err = m.Store.GetQueueStatus(ctx, contestKey, queueID)
	if err != nil || status == nil || !status.IsRunning {
		return result, err
	}

	states, err := status.Accounts()
	if err != nil {
		return result, err
	}

	batchSize, interval := m.throttled(ctx)

	var claimed []int
	for i := range states {
		if len(claimed) >= batchSize {
			break
		}
		if states[i].Status == models.AccountPending {
			claimed = append(claimed, i)
		}
	}
	if len(claimed) == 0 {
		if status.Completed >= status.Total {
			result.Finished = true
			return result, m.finalize(ctx, status, states)
		}
		// Nothing pending but earlier claims never finished, most likely
		// a tick that died mid-batch. Leave the queue for stall detection
		// rather than report accounts complete that never ran.
		return result, nil
	}
	result.Skipped = false

	for _, i := range claimed {
		states[i].Status = models.AccountProcessing
	}
	status.LastUpdateAt = time.Now().UTC()
	if err := status.SetAccounts(states); err != nil {
		return result, err
	}
	if err := m.Store.SaveQueueStatus(ctx, status); err != nil {
		return result, err
	}

	ids := make([]int64, 0, len(claimed))
	for _, i := range claimed {
		ids = append(ids, states[i].AccountID)
	}
	accounts, err := m.Store.ListAccountsByIDs(ctx, ids)
	if err != nil {
		return result, err
	}
	byID := make(map[int64]*models.Account, len(accounts))
	for i := range accounts {
		byID[accounts[i].ID] = &accounts[i]
	}

	for _, i := range claimed {
		// Re-up the lease before each fetch. A fetch can take the full API
		// timeout, so without renewal a long batch would outlive its lease
		// and a parallel tick could claim the queue mid-run.
		held, err := m.Store.RenewQueueLease(ctx, contestKey, queueID, token, m.leaseTTL(), time.Now().UTC())
		if err != nil {
			return result, err
		}
		if !held {
			m.logWarn("queue lease lost mid-batch, abandoning tick", nil,
				zap.String("contest", contestKey), zap.String("queue", queueID))
			return result, nil
		}

		st := &states[i]
		st.StartedAt = time.Now().UTC().Unix()

		acc := byID[st.AccountID]
		if acc == nil {
			st.Status = models.AccountFailed
			st.Message = "account no longer exists"
			status.Failed++
			result.Failed++
		} else if snap, ferr := m.fetchOne(ctx, acc, queueID); ferr != nil {
			st.Status = models.AccountFailed
			st.Message = ferr.Error()
			st.ConnectionStatus = models.ConnectionDisconnected
			status.Failed++
			result.Failed++
			if err := m.Store.MarkAccountDisconnected(ctx, acc.ID, ferr.Error(), time.Now().UTC()); err != nil {
				m.logWarn("mark account disconnected failed", err, zap.Int64("account", acc.ID))
			}
		} else {
			st.Status = models.AccountSuccess
			st.Message = ""
			st.ConnectionStatus = models.ConnectionConnected
			status.Succeeded++
			result.Succeeded++
			if err := m.Store.UpdateAccountSnapshot(ctx, acc.ID, snapshotOf(snap), time.Now().UTC()); err != nil {
				m.logWarn("persist account snapshot failed", err, zap.Int64("account", acc.ID))
			}
			if m.Disqualify != nil {
				m.Disqualify.AccountUpdated(acc.ID)
			}
		}
		st.EndedAt = time.Now().UTC().Unix()
		status.Completed++
		result.Processed++

		// Persist after every account so last_update advances with
		// minute-level resolution for stall detection.
		status.LastUpdateAt = time.Now().UTC()
		if err := status.SetAccounts(states); err != nil {
			return result, err
		}
		if err := m.Store.SaveQueueStatus(ctx, status); err != nil {
			return result, err
		}
	}

	remaining := 0
	for i := range states {
		if states[i].Status == models.AccountPending {
			remaining++
		}
	}
	result.Remaining = remaining

	if remaining == 0 {
		if status.Completed >= status.Total {
			result.Finished = true
			return result, m.finalize(ctx, status, states)
		}
		return result, nil
	}

	if m.Ticks != nil {
		ck, qid := contestKey, queueID
		m.Ticks.After(interval, func(tctx context.Context) {
			m.RunBatchTick(tctx, ck, qid)
		})
	}
	return result, nil
}

func (m *Manager) fetchOne(ctx context.Context, acc *models.Account, queueID string) (*tradeapi.Snapshot, error) {
	timeout := m.APITimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return m.Fetcher.FetchAccount(fctx, tradeapi.FetchParams{
		AccountNumber:   acc.AccountNumber,
		Password:        acc.Password,
		Server:          acc.Server,
		Terminal:        acc.Terminal,
		LastHistoryTime: acc.LastHistoryTime,
		QueueBatchID:    queueID,
	})
}

func snapshotOf(snap *tradeapi.Snapshot) repository.AccountSnapshot {
	return repository.AccountSnapshot{
		Balance:            snap.Balance,
		Equity:             snap.Equity,
		Margin:             snap.Margin,
		Profit:             snap.Profit,
		Leverage:           snap.Leverage,
		OrdersTotal:        snap.OrdersTotal,
		OrdersHistoryTotal: snap.OrdersHistoryTotal,
		Currency:           snap.Currency,
		Broker:             snap.Broker,
		TraderName:         snap.TraderName,
		LastHistoryTime:    snap.LastHistoryTime,
	}
}

// finalize closes out a queue once every member has been counted. Callers
// check Completed against Total first; a queue with claims that never
// finished stays running until stall detection times it out.
func (m *Manager) finalize(ctx context.Context, status *models.QueueStatus, states []models.AccountState) error {
	if !status.IsRunning {
		return nil
	}
	now := time.Now().UTC()
	status.State = models.QueueCompleted
	status.IsRunning = false
	status.LastUpdateAt = now
	status.EndedAt = &now
	if states != nil {
		if err := status.SetAccounts(states); err != nil {
			return err
		}
	}
	if err := m.Store.SaveQueueStatus(ctx, status); err != nil {
		return err
	}
	m.recordHistory(ctx, status)
	if m.Logger != nil {
		m.Logger.Info("queue completed",
			zap.String("contest", status.ContestKey),
			zap.String("queue", status.QueueID),
			zap.Int("total", status.Total),
			zap.Int("succeeded", status.Succeeded),
			zap.Int("failed", status.Failed))
	}
	return nil
}

// CheckTimeout force-terminates a stalled queue. Remaining pending and
// processing accounts keep their last known sub-state for diagnosis.
// Idempotent: a queue already terminal is left alone.
func (m *Manager) CheckTimeout(ctx context.Context, contestKey, queueID string) (bool, error) {
	if m == nil || m.Store == nil {
		return false, nil
	}
	status, err := m.Store.GetQueueStatus(ctx, contestKey, queueID)
	if err != nil || status == nil {
		return false, err
	}
	return m.timeoutIfStalled(ctx, status)
}

func (m *Manager) timeoutIfStalled(ctx context.Context, status *models.QueueStatus) (bool, error) {
	if !status.IsRunning || status.Terminal() {
		return false, nil
	}
	stall := m.Config.StallTimeout
	if stall <= 0 {
		stall = 30 * time.Minute
	}
	now := time.Now().UTC()
	idle := now.Sub(status.LastUpdateAt)
	if idle <= stall {
		return false, nil
	}

	status.State = models.QueueTimeout
	status.IsRunning = false
	status.TimedOut = true
	status.TimeoutReason = fmt.Sprintf("no progress for %d minutes, external API may be unresponsive", int(idle.Minutes()))
	status.EndedAt = &now
	if err := m.Store.SaveQueueStatus(ctx, status); err != nil {
		return false, err
	}
	m.recordHistory(ctx, status)
	if m.Logger != nil {
		m.Logger.Warn("queue timed out",
			zap.String("contest", status.ContestKey),
			zap.String("queue", status.QueueID),
			zap.Duration("idle", idle))
	}
	return true, nil
}

// GetStatus reads one queue snapshot, running lazy timeout detection first.
func (m *Manager) GetStatus(ctx context.Context, contestKey, queueID string) (*StatusView, error) {
	if m == nil || m.Store == nil {
		return nil, nil
	}
	if _, err := m.CheckTimeout(ctx, contestKey, queueID); err != nil {
		return nil, err
	}
	status, err := m.Store.GetQueueStatus(ctx, contestKey, queueID)
	if err != nil || status == nil {
		return nil, err
	}
	return m.view(status)
}

func (m *Manager) view(status *models.QueueStatus) (*StatusView, error) {
	states, err := status.Accounts()
	if err != nil {
		return nil, err
	}
	return &StatusView{
		ContestKey:    status.ContestKey,
		QueueID:       status.QueueID,
		State:         status.State,
		Total:         status.Total,
		Completed:     status.Completed,
		Succeeded:     status.Succeeded,
		Failed:        status.Failed,
		Progress:      status.Progress(),
		IsRunning:     status.IsRunning,
		TimedOut:      status.TimedOut,
		TimeoutReason: status.TimeoutReason,
		InitiatorType: status.InitiatorType,
		InitiatorName: status.InitiatorName,
		Accounts:      states,
		StartedAt:     status.StartedAt,
		LastUpdateAt:  status.LastUpdateAt,
		EndedAt:       status.EndedAt,
	}, nil
}

// GetAllActiveQueues aggregates the global index into per-contest lists.
// Index entries whose snapshot is gone are pruned on the way.
func (m *Manager) GetAllActiveQueues(ctx context.Context) (*ActiveOverview, error) {
	overview := &ActiveOverview{Contests: map[string][]StatusView{}}
	if m == nil || m.Store == nil {
		return overview, nil
	}
	entries, err := m.Store.ListAllActiveQueues(ctx)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		status, err := m.Store.GetQueueStatus(ctx, entry.ContestKey, entry.QueueID)
		if err != nil {
			return nil, err
		}
		if status == nil {
			overview.PrunedOrphans++
			if err := m.Store.UnregisterActiveQueue(ctx, entry.ContestKey, entry.QueueID); err != nil {
				m.logWarn("prune orphan index entry failed", err, zap.String("queue", entry.QueueID))
			}
			continue
		}
		if _, err := m.timeoutIfStalled(ctx, status); err != nil {
			return nil, err
		}
		v, err := m.view(status)
		if err != nil {
			return nil, err
		}
		overview.Contests[entry.ContestKey] = append(overview.Contests[entry.ContestKey], *v)
		overview.TotalQueues++
		overview.TotalAccounts += status.Total
		if status.IsRunning {
			overview.TotalRunning++
		}
	}
	return overview, nil
}

// ClearAllQueues force-clears every queue and index entry, reconciling both
// orphan directions: index rows without a snapshot and snapshots missing
// from the index.
func (m *Manager) ClearAllQueues(ctx context.Context) (*ClearResult, error) {
	result := &ClearResult{}
	if m == nil || m.Store == nil {
		return result, nil
	}

	entries, err := m.Store.ListAllActiveQueues(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, entry := range entries {
		key := entry.ContestKey + ":" + entry.QueueID
		seen[key] = true

		status, err := m.Store.GetQueueStatus(ctx, entry.ContestKey, entry.QueueID)
		if err != nil {
			return nil, err
		}
		if status == nil {
			result.Orphans++
		} else {
			if status.IsRunning {
				now := time.Now().UTC()
				status.State = models.QueueStopped
				status.IsRunning = false
				status.EndedAt = &now
				if err := m.Store.SaveQueueStatus(ctx, status); err != nil {
					return nil, err
				}
				m.recordHistory(ctx, status)
				result.ClearedQueues++
			}
			if err := m.Store.DeleteQueueStatus(ctx, entry.ContestKey, entry.QueueID); err != nil {
				return nil, err
			}
			result.ClearedStatus++
		}
		if err := m.Store.UnregisterActiveQueue(ctx, entry.ContestKey, entry.QueueID); err != nil {
			return nil, err
		}
		result.ClearedLists++
	}

	// Reverse direction: snapshots the index lost track of.
	statuses, err := m.Store.ListQueueStatuses(ctx)
	if err != nil {
		return nil, err
	}
	for i := range statuses {
		st := &statuses[i]
		if seen[st.ContestKey+":"+st.QueueID] {
			continue
		}
		result.Orphans++
		if st.IsRunning {
			now := time.Now().UTC()
			st.State = models.QueueStopped
			st.IsRunning = false
			st.EndedAt = &now
			if err := m.Store.SaveQueueStatus(ctx, st); err != nil {
				return nil, err
			}
			m.recordHistory(ctx, st)
			result.ClearedQueues++
		}
		if err := m.Store.DeleteQueueStatus(ctx, st.ContestKey, st.QueueID); err != nil {
			return nil, err
		}
		result.ClearedStatus++
	}

	if m.Logger != nil {
		m.Logger.Info("cleared all queues",
			zap.Int("queues", result.ClearedQueues),
			zap.Int("lists", result.ClearedLists),
			zap.Int("status", result.ClearedStatus),
			zap.Int("orphans", result.Orphans))
	}
	return result, nil
}

// CleanupFinished sweeps terminal queues past the retention age out of both
// the snapshot store and the active index. Index entries without a snapshot
// are dropped immediately.
func (m *Manager) CleanupFinished(ctx context.Context) error {
	if m == nil || m.Store == nil {
		return nil
	}
	age := m.Config.CleanupAge
	if age <= 0 {
		age = 24 * time.Hour
	}
	now := time.Now().UTC()

	entries, err := m.Store.ListAllActiveQueues(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		status, err := m.Store.GetQueueStatus(ctx, entry.ContestKey, entry.QueueID)
		if err != nil {
			return err
		}
		if status == nil {
			if err := m.Store.UnregisterActiveQueue(ctx, entry.ContestKey, entry.QueueID); err != nil {
				return err
			}
			continue
		}
		if !status.Terminal() || status.EndedAt == nil {
			continue
		}
		if now.Sub(*status.EndedAt) < age {
			continue
		}
		if err := m.Store.DeleteQueueStatus(ctx, entry.ContestKey, entry.QueueID); err != nil {
			return err
		}
		if err := m.Store.UnregisterActiveQueue(ctx, entry.ContestKey, entry.QueueID); err != nil {
			return err
		}
	}
	return nil
}

// TimeoutSweep runs stall detection over every indexed queue. Lazy checks on
// reads cover actively watched queues; the sweep catches the rest.
func (m *Manager) TimeoutSweep(ctx context.Context) {
	if m == nil || m.Store == nil {
		return
	}
	entries, err := m.Store.ListAllActiveQueues(ctx)
	if err != nil {
		m.logWarn("timeout sweep list failed", err)
		return
	}
	for _, entry := range entries {
		if _, err := m.CheckTimeout(ctx, entry.ContestKey, entry.QueueID); err != nil {
			m.logWarn("timeout check failed", err, zap.String("queue", entry.QueueID))
		}
	}
}

// RunBatchTick is the trigger entry point for scheduled batch ticks. Errors
// are logged and absorbed so a failed tick never crashes the trigger loop.
func (m *Manager) RunBatchTick(ctx context.Context, contestKey, queueID string) {
	if _, err := m.ProcessBatch(ctx, contestKey, queueID); err != nil {
		m.logWarn("batch tick failed", err,
			zap.String("contest", contestKey),
			zap.String("queue", queueID))
	}
}

func (m *Manager) recordHistory(ctx context.Context, status *models.QueueStatus) {
	endedAt := time.Now().UTC()
	if status.EndedAt != nil {
		endedAt = *status.EndedAt
	}
	entry := &models.UpdateHistory{
		ContestKey: status.ContestKey,
		QueueID:    status.QueueID,
		State:      status.State,
		Total:      status.Total,
		Succeeded:  status.Succeeded,
		Failed:     status.Failed,
		AutoUpdate: status.InitiatorType == models.InitiatorAuto,
		StartedAt:  status.StartedAt,
		EndedAt:    &endedAt,
	}
	if err := m.Store.InsertUpdateHistory(ctx, entry); err != nil {
		m.logWarn("record update history failed", err, zap.String("queue", status.QueueID))
	}
}

func (m *Manager) throttled(ctx context.Context) (int, time.Duration) {
	batchSize := m.Config.BatchSize
	if batchSize <= 0 {
		batchSize = 2
	}
	interval := m.Config.BatchInterval
	if interval <= 0 {
		interval = 300 * time.Second
	}
	throttle := m.Throttle
	if throttle == nil {
		throttle = DefaultThrottle
	}
	running, err := m.Store.CountRunningQueues(ctx)
	if err != nil {
		m.logWarn("count running queues failed", err)
		return batchSize, interval
	}
	return throttle(running, batchSize, interval)
}

func (m *Manager) leaseTTL() time.Duration {
	if m.Config.LeaseTTL > 0 {
		return m.Config.LeaseTTL
	}
	return 5 * time.Minute
}

func (m *Manager) logWarn(msg string, err error, fields ...zap.Field) {
	if m == nil || m.Logger == nil {
		return
	}
	m.Logger.Warn(msg, append(fields, zap.Error(err))...)
}
