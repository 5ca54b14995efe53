package models

import (
	"time"

	"gorm.io/datatypes"
)

// SchedulerScopeAutoUpdate is the scope of the auto-update scheduler's state row.
const SchedulerScopeAutoUpdate = "auto_update"

type SchedulerState struct {
	Scope     string         `gorm:"primaryKey;type:text;comment:调度器范围标识"`
	LastRunAt *time.Time     `gorm:"type:timestamptz;comment:最近运行时间"`
	LastError *string        `gorm:"type:text;comment:最近错误信息"`
	StatsJSON datatypes.JSON `gorm:"type:jsonb;comment:本轮统计JSON"`
}

func (SchedulerState) TableName() string {
	return "scheduler_states"
}
