package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ConnectionConnected    = "connected"
	ConnectionDisconnected = "disconnected"
	ConnectionDisqualified = "disqualified"
)

type Account struct {
	ID                 int64            `gorm:"primaryKey;autoIncrement;comment:账户唯一标识"`
	ContestID          int64            `gorm:"index;not null;comment:所属比赛ID"`
	AccountNumber      string           `gorm:"type:text;not null;index;comment:交易账号"`
	Password           string           `gorm:"type:text;not null;comment:账户密码"`
	Server             string           `gorm:"type:text;not null;comment:交易服务器"`
	Terminal           string           `gorm:"type:text;not null;comment:终端类型"`
	TraderName         string           `gorm:"type:text;comment:交易者姓名"`
	Broker             string           `gorm:"type:text;comment:经纪商名称"`
	Platform           string           `gorm:"type:text;comment:交易平台"`
	ConnectionStatus   string           `gorm:"type:text;not null;default:connected;index;comment:连接状态"`
	Balance            decimal.Decimal  `gorm:"type:numeric(20,2);not null;default:0;comment:余额"`
	Equity             decimal.Decimal  `gorm:"type:numeric(20,2);not null;default:0;comment:净值"`
	Margin             decimal.Decimal  `gorm:"type:numeric(20,2);not null;default:0;comment:保证金"`
	Profit             decimal.Decimal  `gorm:"type:numeric(20,2);not null;default:0;comment:浮动盈亏"`
	Leverage           int              `gorm:"not null;default:0;comment:杠杆倍数"`
	OrdersTotal        int              `gorm:"not null;default:0;comment:持仓订单数"`
	OrdersHistoryTotal int              `gorm:"not null;default:0;comment:历史订单数"`
	Currency           string           `gorm:"type:text;comment:账户币种"`
	ErrorDescription   string           `gorm:"type:text;comment:最近错误描述"`
	LastUpdateAt       *time.Time       `gorm:"type:timestamptz;index;comment:最近刷新时间"`
	LastHistoryTime    int64            `gorm:"not null;default:0;comment:历史同步水位"`
	InitialDeposit     *decimal.Decimal `gorm:"type:numeric(20,2);comment:初始入金"`
	CreatedAt          time.Time        `gorm:"type:timestamptz;not null;comment:注册时间"`
}

func (Account) TableName() string {
	return "contest_accounts"
}
