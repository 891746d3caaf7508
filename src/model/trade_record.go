package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is one completed round trip: an entry fill and the exit fill
// that closed it. Rows are append-only.
type TradeRecord struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Timestamp    time.Time       `gorm:"index;not null" json:"timestamp"`
	Symbol       string          `gorm:"size:30;index;not null" json:"symbol"`
	Side         string          `gorm:"size:10;not null" json:"side"` // closing side
	Qty          decimal.Decimal `gorm:"type:numeric" json:"qty"`
	EntryPrice   decimal.Decimal `gorm:"type:numeric" json:"entry_price"`
	ExitPrice    decimal.Decimal `gorm:"type:numeric" json:"exit_price"`
	ProfitPct    decimal.Decimal `gorm:"type:numeric" json:"profit_pct"`
	FeePct       decimal.Decimal `gorm:"type:numeric" json:"fee_pct"`
	QuoteVolume  decimal.Decimal `gorm:"type:numeric" json:"quote_volume"`
	DurationSec  float64         `json:"duration_sec"`
	EntryOrderID string          `gorm:"size:64" json:"entry_order_id"`
	ExitOrderID  string          `gorm:"size:64" json:"exit_order_id"`

	// Free balances right after the close.
	BaseAsset  string          `gorm:"size:20" json:"base_asset"`
	BaseFree   decimal.Decimal `gorm:"type:numeric" json:"base_free"`
	QuoteAsset string          `gorm:"size:20" json:"quote_asset"`
	QuoteFree  decimal.Decimal `gorm:"type:numeric" json:"quote_free"`

	CreatedAt time.Time `json:"created_at"`
}

func (TradeRecord) TableName() string {
	return "trade_records"
}
