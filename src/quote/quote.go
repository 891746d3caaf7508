package quote

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// edgePlaces is the precision used for the edge percentage.
const edgePlaces = 6

var (
	ErrInvalidTick = errors.New("invalid tick")

	hundred = decimal.NewFromInt(100)
)

// Quote is the maker-adjusted view of a single top-of-book tick.
type Quote struct {
	Bid      decimal.Decimal `json:"bid"`
	Ask      decimal.Decimal `json:"ask"`
	TickSize decimal.Decimal `json:"tick_size"`
	MyBid    decimal.Decimal `json:"my_bid"`
	MyAsk    decimal.Decimal `json:"my_ask"`
	EdgePct  decimal.Decimal `json:"edge_pct"`
}

// Calculate improves both sides of the book by one tick and returns the
// expected edge between them, as a percentage of the adjusted ask.
func Calculate(bid, ask, tickSize decimal.Decimal) (Quote, error) {
	if !bid.IsPositive() || !ask.IsPositive() || !tickSize.IsPositive() {
		return Quote{}, fmt.Errorf("%w: bid=%s ask=%s tick=%s", ErrInvalidTick, bid, ask, tickSize)
	}

	myBid := bid.Add(tickSize)
	myAsk := ask.Sub(tickSize)
	if !myAsk.IsPositive() {
		return Quote{}, fmt.Errorf("%w: adjusted ask %s is not positive", ErrInvalidTick, myAsk)
	}

	edge := myAsk.Sub(myBid).Div(myAsk).Mul(hundred).Round(edgePlaces)

	return Quote{
		Bid:      bid,
		Ask:      ask,
		TickSize: tickSize,
		MyBid:    myBid,
		MyAsk:    myAsk,
		EdgePct:  edge,
	}, nil
}

// Exceeds reports whether the quote's edge is strictly greater than target.
func (q Quote) Exceeds(target decimal.Decimal) bool {
	return q.EdgePct.GreaterThan(target)
}

// RoundDown truncates value to a multiple of step. A non-positive step
// leaves value unchanged.
func RoundDown(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	if !value.IsPositive() {
		return decimal.Zero
	}
	return value.Sub(value.Mod(step))
}

// RoundToTick truncates a price onto the tick grid.
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	return RoundDown(price, tick)
}
