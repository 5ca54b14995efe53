package models

import "time"

// UpdateHistory is one summary row per finished queue run. The store keeps
// only the most recent entries (see repository.HistoryLimit).
type UpdateHistory struct {
	ID         uint64     `gorm:"primaryKey;autoIncrement;comment:历史行ID"`
	ContestKey string     `gorm:"type:text;not null;index;comment:比赛标识或global"`
	QueueID    string     `gorm:"type:text;not null;comment:队列短ID"`
	State      string     `gorm:"type:text;not null;comment:终止状态"`
	Total      int        `gorm:"not null;default:0;comment:账户总数"`
	Succeeded  int        `gorm:"not null;default:0;comment:成功数"`
	Failed     int        `gorm:"not null;default:0;comment:失败数"`
	AutoUpdate bool       `gorm:"not null;default:false;comment:是否自动更新"`
	StartedAt  time.Time  `gorm:"type:timestamptz;not null;comment:开始时间"`
	EndedAt    *time.Time `gorm:"type:timestamptz;comment:结束时间"`
}

func (UpdateHistory) TableName() string {
	return "update_run_history"
}
