package position

import (
	"context"
	"errors"
	"marketmaker/src/model"
	"time"

	"github.com/shopspring/decimal"
)

// State is the lifecycle stage of the single tracked position.
type State string

const (
	StateFlat         State = "FLAT"
	StateEntryPending State = "ENTRY_PENDING"
	StateHolding      State = "HOLDING"
	StateExitPending  State = "EXIT_PENDING"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus mirrors the exchange order status reported on acks and execution reports.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the venue will not fill the order any further.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	}
	return false
}

const (
	OrderTypeLimit = "LIMIT"
	TimeInForceGTC = "GTC"
)

var (
	ErrNotFlat      = errors.New("rejected: not flat")
	ErrEdgeTooSmall = errors.New("rejected: edge below target spread")
	ErrZeroQuantity = errors.New("rejected: quantity rounds to zero")
	ErrNoOrderID    = errors.New("exchange ack without order id")
)

// OrderRequest is a new order sent through the gateway.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          string
	TimeInForce   string
	Qty           decimal.Decimal
	Price         decimal.Decimal
	ClientOrderID string
}

// OrderAck is the exchange response to a submit, cancel or query.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	Status        OrderStatus
	ExecutedQty   decimal.Decimal
	QuoteQty      decimal.Decimal
}

// OrderGateway is the signed REST surface of the venue.
type OrderGateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (OrderAck, error)
	QueryOrder(ctx context.Context, symbol, orderID string) (OrderAck, error)
	GetFreeBalance(ctx context.Context, asset string) (decimal.Decimal, error)
}

// ErrorClassifier tells venue rejections apart from transport failures.
type ErrorClassifier interface {
	IsInsufficientBalance(err error) bool
	IsUnknownOrder(err error) bool
}

type transportOnly struct{}

func (transportOnly) IsInsufficientBalance(error) bool { return false }
func (transportOnly) IsUnknownOrder(error) bool        { return false }

// Fill is an execution report for one of the account's orders.
type Fill struct {
	OrderID   string
	Side      Side
	Status    OrderStatus
	TradeID   int64
	LastQty   decimal.Decimal
	LastPrice decimal.Decimal
	CumQty    decimal.Decimal
	CumQuote  decimal.Decimal
	Fee       decimal.Decimal
	FeeAsset  string
	EventTime time.Time
}

// Position is the single position for the configured symbol. Only the
// Machine mutates it; everybody else gets copies from Snapshot.
type Position struct {
	State           State           `json:"state"`
	EntryOrderID    string          `json:"entry_order_id,omitempty"`
	OrderedQty      decimal.Decimal `json:"ordered_qty"`
	EntryLimitPrice decimal.Decimal `json:"entry_limit_price"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	EntryQty        decimal.Decimal `json:"entry_qty"`
	EntryPlacedAt   time.Time       `json:"entry_placed_at"`
	TargetExitPrice decimal.Decimal `json:"target_exit_price"`
	HeldAt          time.Time       `json:"held_at"`
	ExitOrderID     string          `json:"exit_order_id,omitempty"`
	ExitQty         decimal.Decimal `json:"exit_qty"`
	CancelRequested bool            `json:"cancel_requested"`
	ExitAttempts    int             `json:"exit_attempts"`
	NextExitAttempt time.Time       `json:"next_exit_attempt"`

	entryFilledQty   decimal.Decimal
	entryFilledQuote decimal.Decimal
	entryFeeQuote    decimal.Decimal

	// exit fills of the current exit order, plus any carried over from an
	// exit order that was canceled after partially filling
	exitFilledQty   decimal.Decimal
	exitFilledQuote decimal.Decimal
	exitCarryQty    decimal.Decimal
	exitCarryQuote  decimal.Decimal
	exitFeeQuote    decimal.Decimal

	nextCancelAttempt time.Time
}

// Result describes what a single machine operation did.
type Result struct {
	From    State
	To      State
	Ignored bool
	OrderID string
	Trade   *model.TradeRecord
}

func ignored(s State) Result {
	return Result{From: s, To: s, Ignored: true}
}
