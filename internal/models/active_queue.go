package models

import "time"

// ActiveQueue is the per-contest index of queues that are still visible to
// monitoring. A row stays after the queue reaches a terminal state and is only
// removed by the cleanup sweep or an administrative clear.
type ActiveQueue struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement;comment:索引行ID"`
	ContestKey string    `gorm:"type:text;not null;uniqueIndex:idx_active_contest_queue,priority:1;comment:比赛标识或global"`
	QueueID    string    `gorm:"type:text;not null;uniqueIndex:idx_active_contest_queue,priority:2;comment:队列短ID"`
	StatusKey  string    `gorm:"type:text;not null;comment:快照定位键"`
	StartedAt  time.Time `gorm:"type:timestamptz;not null;comment:入列时间"`
}

func (ActiveQueue) TableName() string {
	return "active_queues"
}
