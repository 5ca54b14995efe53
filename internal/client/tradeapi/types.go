package tradeapi

import (
	"github.com/shopspring/decimal"
)

// ErrorClass buckets fetch failures for retry and display decisions.
type ErrorClass string

const (
	ErrorAuth     ErrorClass = "auth"
	ErrorNetwork  ErrorClass = "network"
	ErrorTimeout  ErrorClass = "timeout"
	ErrorProtocol ErrorClass = "protocol"
)

// FetchParams identifies the trading account to refresh.
type FetchParams struct {
	AccountNumber   string
	Password        string
	Server          string
	Terminal        string
	LastHistoryTime int64
	QueueBatchID    string
}

// Snapshot is the normalized account state returned by the terminal API.
type Snapshot struct {
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
	ConnectionStatus   string
}

// Wire shapes of the terminal API. Field names follow the upstream service
// and cannot change.
type accountPayload struct {
	Balance          decimal.Decimal `json:"i_bal"`
	Equity           decimal.Decimal `json:"i_equi"`
	Margin           decimal.Decimal `json:"i_marg"`
	Profit           decimal.Decimal `json:"i_prof"`
	Leverage         int             `json:"leverage"`
	OrdersTotal      int             `json:"i_ordtotal"`
	Currency         string          `json:"i_cur"`
	Broker           string          `json:"i_firma"`
	TraderName       string          `json:"i_fio"`
	ConnectionStatus string          `json:"connection_status"`
}

type statisticsPayload struct {
	OrdersHistoryTotal int `json:"ACCOUNT_ORDERS_HISTORY_TOTAL"`
}

type fetchResponse struct {
	Account         *accountPayload    `json:"acc"`
	Statistics      *statisticsPayload `json:"statistics"`
	Error           string             `json:"error"`
	LastHistoryTime int64              `json:"last_history_time"`
}
