package connectors

import (
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------
// REST PAYLOADS
// -----------------------------

type binanceOrderResponse struct {
	Symbol              string          `json:"symbol"`
	OrderID             int64           `json:"orderId"`
	ClientOrderID       string          `json:"clientOrderId"`
	Price               decimal.Decimal `json:"price"`
	OrigQty             decimal.Decimal `json:"origQty"`
	ExecutedQty         decimal.Decimal `json:"executedQty"`
	CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
	Status              string          `json:"status"`
	TimeInForce         string          `json:"timeInForce"`
	Type                string          `json:"type"`
	Side                string          `json:"side"`
}

type binanceBalance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

type binanceAccount struct {
	CanTrade bool             `json:"canTrade"`
	Balances []binanceBalance `json:"balances"`
}

type binanceFilter struct {
	FilterType  string `json:"filterType"`
	TickSize    string `json:"tickSize"`
	StepSize    string `json:"stepSize"`
	MinQty      string `json:"minQty"`
	MinNotional string `json:"minNotional"`
}

type binanceSymbol struct {
	Symbol     string          `json:"symbol"`
	Status     string          `json:"status"`
	BaseAsset  string          `json:"baseAsset"`
	QuoteAsset string          `json:"quoteAsset"`
	Filters    []binanceFilter `json:"filters"`
}

type binanceExchangeInfo struct {
	Symbols []binanceSymbol `json:"symbols"`
}

type binanceListenKey struct {
	ListenKey string `json:"listenKey"`
}

// SymbolFilters are the trading rules of one symbol from exchangeInfo.
type SymbolFilters struct {
	Symbol      string
	Status      string
	BaseAsset   string
	QuoteAsset  string
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// -----------------------------
// STREAM PAYLOADS
// -----------------------------

// BookTicker is a best bid/ask update from the <symbol>@bookTicker stream.
type BookTicker struct {
	UpdateID   int64           `json:"u"`
	Symbol     string          `json:"s"`
	BidPrice   decimal.Decimal `json:"b"`
	BidQty     decimal.Decimal `json:"B"`
	AskPrice   decimal.Decimal `json:"a"`
	AskQty     decimal.Decimal `json:"A"`
	ReceivedAt time.Time       `json:"-"`
}

const EventTypeExecutionReport = "executionReport"

type userDataEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
}

// ExecutionReport is an order update from the user data stream.
//
// encoding/json folds keys case-insensitively, so every key of the payload
// that has a twin in the other case is declared.
type ExecutionReport struct {
	EventType         string          `json:"e"`
	EventTime         int64           `json:"E"`
	Symbol            string          `json:"s"`
	ClientOrderID     string          `json:"c"`
	Side              string          `json:"S"`
	OrderType         string          `json:"o"`
	TimeInForce       string          `json:"f"`
	Quantity          decimal.Decimal `json:"q"`
	Price             decimal.Decimal `json:"p"`
	StopPrice         decimal.Decimal `json:"P"`
	IcebergQty        decimal.Decimal `json:"F"`
	OrderListID       int64           `json:"g"`
	OrigClientOrderID string          `json:"C"`
	ExecutionType     string          `json:"x"`
	OrderStatus       string          `json:"X"`
	RejectReason      string          `json:"r"`
	OrderID           int64           `json:"i"`
	LastQty           decimal.Decimal `json:"l"`
	CumQty            decimal.Decimal `json:"z"`
	LastPrice         decimal.Decimal `json:"L"`
	Commission        decimal.Decimal `json:"n"`
	CommissionAsset   string          `json:"N"`
	TransactionTime   int64           `json:"T"`
	TradeID           int64           `json:"t"`
	Ignore            int64           `json:"I"`
	IsWorking         bool            `json:"w"`
	IsMaker           bool            `json:"m"`
	IgnoreM           bool            `json:"M"`
	CreationTime      int64           `json:"O"`
	CumQuote          decimal.Decimal `json:"Z"`
	LastQuote         decimal.Decimal `json:"Y"`
	QuoteOrderQty     decimal.Decimal `json:"Q"`
	WorkingTime       int64           `json:"W"`
	PreventedMatchID  int64           `json:"v"`
	STPMode           string          `json:"V"`
}
