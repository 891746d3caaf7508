package executors

import (
	"context"
	"errors"
	"fmt"
	"marketmaker/src/connectors"
	"marketmaker/src/position"
	"marketmaker/src/quote"
	"marketmaker/src/utils"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// ErrFeedClosed is returned by a consumer whose input channel was closed.
var ErrFeedClosed = errors.New("feed closed")

// Machine is the position state machine as driven by the consumers.
type Machine interface {
	CanEnter(q quote.Quote) bool
	TryEnter(ctx context.Context, q quote.Quote, qty decimal.Decimal) (position.Result, error)
	Tick(ctx context.Context, now time.Time) (position.Result, error)
	OnFill(ctx context.Context, f position.Fill) (position.Result, error)
	Snapshot() position.Position
}

// BalanceSource reads free balances from the venue.
type BalanceSource interface {
	GetFreeBalance(ctx context.Context, asset string) (decimal.Decimal, error)
}

// EntrySettings control how the listener sizes and gates entries.
type EntrySettings struct {
	QuoteAsset           string
	QuoteBalanceFraction decimal.Decimal
	Window               utils.HourWindow
	Location             *time.Location
}

// MarketDataListener turns book ticks into quotes and entry decisions.
type MarketDataListener struct {
	machine  Machine
	balances BalanceSource
	filters  connectors.SymbolFilters
	settings EntrySettings
	now      func() time.Time
	log      *logger.Entry
}

func NewMarketDataListener(machine Machine, balances BalanceSource, filters connectors.SymbolFilters, settings EntrySettings) *MarketDataListener {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	return &MarketDataListener{
		machine:  machine,
		balances: balances,
		filters:  filters,
		settings: settings,
		now:      time.Now,
		log:      logger.WithFields(logger.Fields{"component": "MarketDataListener", "symbol": filters.Symbol}),
	}
}

// Run consumes ticks one at a time until the channel closes or ctx is done.
// Per-tick errors are logged and never end the loop.
func (l *MarketDataListener) Run(ctx context.Context, ticks <-chan connectors.BookTicker) error {
	l.log.Info("market data listener started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				l.log.Error("market data feed closed")
				return ErrFeedClosed
			}
			l.handle(ctx, tick)
		}
	}
}

func (l *MarketDataListener) handle(ctx context.Context, tick connectors.BookTicker) {
	q, err := quote.Calculate(tick.BidPrice, tick.AskPrice, l.filters.TickSize)
	if err != nil {
		l.log.WithError(err).WithFields(logger.Fields{
			"bid": tick.BidPrice.String(),
			"ask": tick.AskPrice.String(),
		}).Warn("tick dropped")
		return
	}

	now := l.now()
	if _, err := l.machine.Tick(ctx, now); err != nil {
		l.log.WithError(err).Warn("position tick failed")
	}

	if !l.machine.CanEnter(q) {
		return
	}
	if !l.settings.Window.Contains(now.In(l.settings.Location)) {
		l.log.WithField("window", l.settings.Window.String()).Debug("outside trading hours, entry skipped")
		return
	}

	qty, err := l.entryQuantity(ctx, q)
	if err != nil {
		l.log.WithError(err).Warn("entry skipped")
		return
	}

	res, err := l.machine.TryEnter(ctx, q, qty)
	switch {
	case errors.Is(err, position.ErrNotFlat), errors.Is(err, position.ErrEdgeTooSmall):
		l.log.WithError(err).Debug("entry not taken")
	case err != nil:
		l.log.WithError(err).Warn("entry attempt failed")
	default:
		l.log.WithFields(logger.Fields{
			"order_id": res.OrderID,
			"bid":      q.Bid.String(),
			"ask":      q.Ask.String(),
			"edge_pct": q.EdgePct.String(),
			"qty":      qty.String(),
		}).Info("entered")
	}
}

var errBelowMinimum = errors.New("insufficient balance for minimum order")

// entryQuantity sizes the order from a fresh quote balance read.
func (l *MarketDataListener) entryQuantity(ctx context.Context, q quote.Quote) (decimal.Decimal, error) {
	free, err := l.balances.GetFreeBalance(ctx, l.settings.QuoteAsset)
	if err != nil {
		return decimal.Zero, err
	}
	qty := quote.RoundDown(free.Mul(l.settings.QuoteBalanceFraction).Div(q.MyBid), l.filters.StepSize)
	if !qty.IsPositive() || qty.LessThan(l.filters.MinQty) || qty.Mul(q.MyBid).LessThan(l.filters.MinNotional) {
		return decimal.Zero, fmt.Errorf("%w: free=%s qty=%s min_qty=%s min_notional=%s",
			errBelowMinimum, free, qty, l.filters.MinQty, l.filters.MinNotional)
	}
	return qty, nil
}
