package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"contest/internal/models"
)

// HistoryLimit caps the update-run history ring.
const HistoryLimit = 50

// AccountSnapshot carries the refreshed financial fields written back to an
// account after a successful fetch.
type AccountSnapshot struct {
	Balance            decimal.Decimal
	Equity             decimal.Decimal
	Margin             decimal.Decimal
	Profit             decimal.Decimal
	Leverage           int
	OrdersTotal        int
	OrdersHistoryTotal int
	Currency           string
	Broker             string
	TraderName         string
	LastHistoryTime    int64
}

// Store is the durable state behind the queue manager and the auto-update
// scheduler. Queue snapshots and the active index are keyed by
// (contest key, queue id); a missing snapshot reads as (nil, nil).
type Store interface {
	// Queue snapshots.
	GetQueueStatus(ctx context.Context, contestKey, queueID string) (*models.QueueStatus, error)
	SaveQueueStatus(ctx context.Context, status *models.QueueStatus) error
	DeleteQueueStatus(ctx context.Context, contestKey, queueID string) error
	ListQueueStatuses(ctx context.Context) ([]models.QueueStatus, error)
	CountRunningQueues(ctx context.Context) (int64, error)

	// Batch lease. Acquire succeeds only when the queue is running and no
	// unexpired lease is held; it reports whether the caller won the claim.
	// Renew extends a lease the caller still holds and reports false once
	// the token has been replaced or cleared, which tells a long-running
	// batch that another tick took over.
	AcquireQueueLease(ctx context.Context, contestKey, queueID, token string, ttl time.Duration, now time.Time) (bool, error)
	RenewQueueLease(ctx context.Context, contestKey, queueID, token string, ttl time.Duration, now time.Time) (bool, error)
	ReleaseQueueLease(ctx context.Context, contestKey, queueID, token string) error

	// Active-queue index.
	RegisterActiveQueue(ctx context.Context, entry *models.ActiveQueue) error
	UnregisterActiveQueue(ctx context.Context, contestKey, queueID string) error
	ListActiveQueues(ctx context.Context, contestKey string) ([]models.ActiveQueue, error)
	ListAllActiveQueues(ctx context.Context) ([]models.ActiveQueue, error)

	// Accounts.
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	ListAccountsByContest(ctx context.Context, contestID int64) ([]models.Account, error)
	ListAccountsByIDs(ctx context.Context, ids []int64) ([]models.Account, error)
	UpdateAccountSnapshot(ctx context.Context, id int64, snap AccountSnapshot, now time.Time) error
	MarkAccountDisconnected(ctx context.Context, id int64, errDescription string, now time.Time) error
	MarkAccountDisqualified(ctx context.Context, id int64, reason string, now time.Time) error

	// Contests.
	GetContest(ctx context.Context, id int64) (*models.Contest, error)
	ListActiveContests(ctx context.Context) ([]models.Contest, error)

	// Scheduler state. ClaimSchedulerRun stamps last_run_at for scope in a
	// single conditional write when no run newer than now-minInterval
	// exists; it reports whether the caller won the claim.
	GetSchedulerState(ctx context.Context, scope string) (*models.SchedulerState, error)
	SaveSchedulerState(ctx context.Context, state *models.SchedulerState) error
	ClaimSchedulerRun(ctx context.Context, scope string, now time.Time, minInterval time.Duration) (bool, error)

	// Update history (trimmed to HistoryLimit on insert).
	InsertUpdateHistory(ctx context.Context, entry *models.UpdateHistory) error
	ListUpdateHistory(ctx context.Context, limit int) ([]models.UpdateHistory, error)
}
