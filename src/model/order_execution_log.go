package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderExecutionStatus values describe one interaction with the exchange.
const (
	OrderExecutionStatusAccepted        = "accepted"
	OrderExecutionStatusRejected        = "rejected"
	OrderExecutionStatusCancelRequested = "cancel_requested"
	OrderExecutionStatusCanceled        = "canceled"
	OrderExecutionStatusCanceledError   = "canceled_error"
	OrderExecutionStatusPartFilled      = "part_filled"
	OrderExecutionStatusFilled          = "filled"
	OrderExecutionStatusExpired         = "expired"
)

const (
	OrderDirectionEntry = "entry"
	OrderDirectionExit  = "exit"
)

// OrderExecutionLog stores the history of every request sent to the exchange
// and every execution report received for our orders. Audit only.
type OrderExecutionLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Symbol    string          `gorm:"size:30;index" json:"symbol"`
	Side      string          `gorm:"size:10" json:"side"`
	OrderType string          `gorm:"size:20" json:"order_type"`
	Quantity  decimal.Decimal `gorm:"type:numeric" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:numeric" json:"price"`

	ExchangeOrderID  string `gorm:"size:64;index" json:"exchange_order_id"`
	ExchangeClientID string `gorm:"size:64" json:"exchange_client_id"`

	Status       string          `gorm:"size:30;not null" json:"status"` // see OrderExecutionStatus* constants
	Reason       string          `gorm:"size:255" json:"reason"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Fee          decimal.Decimal `gorm:"type:numeric" json:"fee"`
	FeeAsset     string          `gorm:"size:20" json:"fee_asset"`
	EventTime    *time.Time      `json:"event_time,omitempty"`
	RequestedAt  time.Time       `json:"requested_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TableName allows you to control the exact table name for execution logs.
func (OrderExecutionLog) TableName() string {
	return "order_execution_logs"
}
