package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ContestActive   = "active"
	ContestFinished = "finished"
	ContestArchived = "archived"
)

type Contest struct {
	ID        int64          `gorm:"primaryKey;autoIncrement;comment:比赛唯一标识"`
	Name      string         `gorm:"type:text;not null;comment:比赛名称"`
	Status    string         `gorm:"type:text;not null;default:active;index;comment:比赛状态"`
	RulesJSON datatypes.JSON `gorm:"type:jsonb;comment:取消资格规则配置"`
	CreatedAt time.Time      `gorm:"type:timestamptz;not null;comment:创建时间"`
}

func (Contest) TableName() string {
	return "contests"
}

// IsActive reports whether accounts of this contest may be refreshed.
// Finished and archived contests are frozen.
func (c *Contest) IsActive() bool {
	return c != nil && c.Status == ContestActive
}
