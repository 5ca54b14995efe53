package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Per-account sub-states inside a queue snapshot.
const (
	AccountPending    = "pending"
	AccountProcessing = "processing"
	AccountSuccess    = "success"
	AccountFailed     = "failed"
)

// Queue terminal/running states. Stopped and timeout are distinct on purpose:
// stopped means an administrator cleared the queue, timeout means stall
// detection force-terminated it.
const (
	QueueRunning   = "running"
	QueueCompleted = "completed"
	QueueStopped   = "stopped"
	QueueTimeout   = "timeout"
)

// Queue initiator provenance.
const (
	InitiatorAuto   = "auto"
	InitiatorManual = "manual"
)

// ContestKeyGlobal marks a queue that is not bound to a single contest.
const ContestKeyGlobal = "global"

type QueueStatus struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement;comment:快照行ID"`
	ContestKey     string         `gorm:"type:text;not null;uniqueIndex:idx_queue_contest,priority:1;comment:比赛标识或global"`
	QueueID        string         `gorm:"type:text;not null;uniqueIndex:idx_queue_contest,priority:2;comment:队列短ID"`
	State          string         `gorm:"type:text;not null;default:running;index;comment:队列状态"`
	Total          int            `gorm:"not null;default:0;comment:账户总数"`
	Completed      int            `gorm:"not null;default:0;comment:已处理数"`
	Succeeded      int            `gorm:"not null;default:0;comment:成功数"`
	Failed         int            `gorm:"not null;default:0;comment:失败数"`
	IsRunning      bool           `gorm:"not null;default:true;index;comment:是否运行中"`
	TimedOut       bool           `gorm:"not null;default:false;comment:是否超时终止"`
	TimeoutReason  string         `gorm:"type:text;comment:超时原因"`
	AccountsJSON   datatypes.JSON `gorm:"type:jsonb;not null;comment:账户子状态列表"`
	InitiatorType  string         `gorm:"type:text;not null;default:manual;comment:发起方式"`
	InitiatorName  string         `gorm:"type:text;comment:发起者标识"`
	StartedAt      time.Time      `gorm:"type:timestamptz;not null;comment:开始时间"`
	LastUpdateAt   time.Time      `gorm:"type:timestamptz;not null;index;comment:最近进度时间"`
	EndedAt        *time.Time     `gorm:"type:timestamptz;comment:结束时间"`
	LeaseToken     string         `gorm:"type:text;comment:批处理租约令牌"`
	LeaseExpiresAt *time.Time     `gorm:"type:timestamptz;comment:租约到期时间"`
}

func (QueueStatus) TableName() string {
	return "queue_statuses"
}

// AccountState is one entry of AccountsJSON. Entries keep enqueue order;
// the display fields are denormalized for monitoring and have no behavior.
type AccountState struct {
	AccountID        int64  `json:"account_id"`
	Status           string `json:"status"`
	Message          string `json:"message,omitempty"`
	ConnectionStatus string `json:"connection_status,omitempty"`
	AccountNumber    string `json:"account_number,omitempty"`
	TraderName       string `json:"trader_name,omitempty"`
	Broker           string `json:"broker,omitempty"`
	Platform         string `json:"platform,omitempty"`
	StartedAt        int64  `json:"started_at,omitempty"`
	EndedAt          int64  `json:"ended_at,omitempty"`
}

func (q *QueueStatus) Accounts() ([]AccountState, error) {
	if len(q.AccountsJSON) == 0 {
		return nil, nil
	}
	var out []AccountState
	if err := json.Unmarshal(q.AccountsJSON, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *QueueStatus) SetAccounts(states []AccountState) error {
	raw, err := json.Marshal(states)
	if err != nil {
		return err
	}
	q.AccountsJSON = datatypes.JSON(raw)
	return nil
}

// Progress returns completed/total as a whole percentage.
func (q *QueueStatus) Progress() int {
	if q.Total <= 0 {
		return 0
	}
	return int(float64(q.Completed) / float64(q.Total) * 100)
}

func (q *QueueStatus) Terminal() bool {
	return q.State != QueueRunning
}
