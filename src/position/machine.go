package position

import (
	"context"
	"errors"
	"fmt"
	"marketmaker/src/model"
	"marketmaker/src/quote"
	"marketmaker/src/utils"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const cancelRetryInterval = time.Second

var (
	errNoFreeBalance  = errors.New("no free balance available for exit")
	errEntryStillOpen = errors.New("entry order still open")
)

// Config holds the per-symbol trading parameters of the machine.
type Config struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	LotStep    decimal.Decimal

	TargetSpread decimal.Decimal
	EntryTimeout time.Duration
	TimeInForce  string

	// ExitRetryAttempts extra submissions are made, ExitRetryDelay apart,
	// when the venue rejects an exit for insufficient balance.
	ExitRetryAttempts int
	ExitRetryDelay    time.Duration
	// ExitRetryInterval schedules the next attempt once the immediate
	// retries are used up. Driven by Tick.
	ExitRetryInterval time.Duration

	// FeeAssetPrice values commissions paid in neither base nor quote asset.
	FeeAssetPrice decimal.Decimal
}

type Option func(*Machine)

func WithLogger(l *logger.Entry) Option {
	return func(m *Machine) { m.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithSleep replaces the wait used between exit retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Machine) { m.sleep = sleep }
}

func WithClassifier(c ErrorClassifier) Option {
	return func(m *Machine) { m.classify = c }
}

func WithClientOrderID(gen func() string) Option {
	return func(m *Machine) { m.newClientID = gen }
}

// Machine owns the Position and serializes every transition on it.
//
// The lock covers only in-memory check-decide-mutate steps. Gateway calls
// run with the lock released; while one is outstanding the machine is
// marked busy so that no second order can be started, and the result is
// committed under the lock together with the state change.
type Machine struct {
	cfg         Config
	gateway     OrderGateway
	classify    ErrorClassifier
	log         *logger.Entry
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	newClientID func() string

	mu         sync.Mutex
	pos        Position
	submitting bool
	cancelling bool
	settled    chan struct{} // closed when the outstanding submit commits
	seenTrades map[string]struct{}
}

func NewMachine(cfg Config, gateway OrderGateway, opts ...Option) *Machine {
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = TimeInForceGTC
	}
	if cfg.ExitRetryInterval <= 0 {
		cfg.ExitRetryInterval = 5 * time.Second
	}

	m := &Machine{
		cfg:         cfg,
		gateway:     gateway,
		classify:    transportOnly{},
		log:         logger.WithField("component", "position"),
		now:         time.Now,
		sleep:       utils.SleepContext,
		newClientID: newClientOrderID,
		pos:         Position{State: StateFlat},
		seenTrades:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithField("symbol", cfg.Symbol)
	return m
}

func newClientOrderID() string {
	return "mm-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Snapshot returns a consistent copy of the position.
func (m *Machine) Snapshot() Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// CanEnter reports whether TryEnter would currently accept q.
func (m *Machine) CanEnter(q quote.Quote) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idleFlatLocked() && q.Exceeds(m.cfg.TargetSpread)
}

func (m *Machine) idleFlatLocked() bool {
	return m.pos.State == StateFlat && !m.submitting && !m.cancelling
}

func (m *Machine) beginSubmitLocked() {
	m.submitting = true
	m.settled = make(chan struct{})
}

func (m *Machine) endSubmitLocked() {
	m.submitting = false
	if m.settled != nil {
		close(m.settled)
		m.settled = nil
	}
}

// TryEnter places a buy at q.MyBid for qty and moves FLAT -> ENTRY_PENDING.
// It is a no-op returning ErrNotFlat while any position or order exists.
func (m *Machine) TryEnter(ctx context.Context, q quote.Quote, qty decimal.Decimal) (Result, error) {
	m.mu.Lock()
	if !m.idleFlatLocked() {
		state := m.pos.State
		m.mu.Unlock()
		return ignored(state), ErrNotFlat
	}
	if !q.Exceeds(m.cfg.TargetSpread) {
		m.mu.Unlock()
		return ignored(StateFlat), ErrEdgeTooSmall
	}
	qty = quote.RoundDown(qty, m.cfg.LotStep)
	if !qty.IsPositive() {
		m.mu.Unlock()
		return ignored(StateFlat), ErrZeroQuantity
	}
	m.beginSubmitLocked()
	m.mu.Unlock()

	req := OrderRequest{
		Symbol:        m.cfg.Symbol,
		Side:          SideBuy,
		Type:          OrderTypeLimit,
		TimeInForce:   m.cfg.TimeInForce,
		Qty:           qty,
		Price:         q.MyBid,
		ClientOrderID: m.newClientID(),
	}
	ack, err := m.gateway.SubmitOrder(ctx, req)
	if err == nil && ack.OrderID == "" {
		err = ErrNoOrderID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.endSubmitLocked()

	if err != nil {
		m.log.WithError(err).WithFields(logger.Fields{
			"price": req.Price.String(),
			"qty":   qty.String(),
		}).Warn("entry order not placed, staying flat")
		return Result{From: StateFlat, To: StateFlat}, fmt.Errorf("submit entry: %w", err)
	}

	m.pos = Position{
		State:           StateEntryPending,
		EntryOrderID:    ack.OrderID,
		OrderedQty:      qty,
		EntryLimitPrice: q.MyBid,
		EntryPlacedAt:   m.now(),
		TargetExitPrice: q.MyAsk,
	}
	m.log.WithFields(logger.Fields{
		"order_id":    ack.OrderID,
		"price":       req.Price.String(),
		"qty":         qty.String(),
		"target_exit": q.MyAsk.String(),
		"edge_pct":    q.EdgePct.String(),
	}).Info("entry order placed")

	return Result{From: StateFlat, To: StateEntryPending, OrderID: ack.OrderID}, nil
}

// Tick cancels a stale entry order and re-attempts an exit that is due.
func (m *Machine) Tick(ctx context.Context, now time.Time) (Result, error) {
	m.mu.Lock()
	switch {
	case m.staleEntryLocked(now):
		return m.cancelStaleEntry(ctx, now)
	case m.exitDueLocked(now):
		return m.placeExit(ctx)
	}
	state := m.pos.State
	m.mu.Unlock()
	return ignored(state), nil
}

func (m *Machine) staleEntryLocked(now time.Time) bool {
	return m.pos.State == StateEntryPending &&
		!m.cancelling &&
		now.Sub(m.pos.EntryPlacedAt) > m.cfg.EntryTimeout &&
		!now.Before(m.pos.nextCancelAttempt)
}

func (m *Machine) exitDueLocked(now time.Time) bool {
	return m.pos.State == StateHolding &&
		!m.submitting &&
		!now.Before(m.pos.NextExitAttempt)
}

// cancelStaleEntry must be called with m.mu held and releases it.
func (m *Machine) cancelStaleEntry(ctx context.Context, now time.Time) (Result, error) {
	orderID := m.pos.EntryOrderID
	m.cancelling = true
	m.pos.CancelRequested = true
	m.mu.Unlock()

	m.log.WithField("order_id", orderID).Info("entry order stale, requesting cancel")
	ack, err := m.gateway.CancelOrder(ctx, m.cfg.Symbol, orderID)
	if err != nil && m.classify.IsUnknownOrder(err) {
		m.log.WithField("order_id", orderID).Info("entry order unknown to venue on cancel, querying final state")
		ack, err = m.queryClosedEntry(ctx, orderID)
	}

	m.mu.Lock()
	m.cancelling = false

	// A fill observed while the cancel was outstanding takes precedence.
	if m.pos.State != StateEntryPending || m.pos.EntryOrderID != orderID {
		state := m.pos.State
		m.mu.Unlock()
		m.log.WithField("order_id", orderID).Info("entry advanced during cancel, cancel result ignored")
		return ignored(state), nil
	}
	m.pos.CancelRequested = false

	if err != nil {
		m.pos.nextCancelAttempt = now.Add(cancelRetryInterval)
		m.mu.Unlock()
		if errors.Is(err, errEntryStillOpen) {
			m.log.WithField("order_id", orderID).Info("entry order still open on venue, cancel will be retried")
			return ignored(StateEntryPending), nil
		}
		m.log.WithError(err).WithField("order_id", orderID).Warn("cancel of stale entry failed, will retry")
		return ignored(StateEntryPending), fmt.Errorf("cancel entry: %w", err)
	}

	if ack.ExecutedQty.GreaterThan(m.pos.entryFilledQty) {
		m.pos.entryFilledQty = ack.ExecutedQty
		m.pos.entryFilledQuote = ack.QuoteQty
		if !ack.QuoteQty.IsPositive() {
			m.pos.entryFilledQuote = ack.ExecutedQty.Mul(m.pos.EntryLimitPrice)
		}
	}
	if !m.pos.entryFilledQty.IsPositive() {
		m.clearLocked()
		m.mu.Unlock()
		m.log.WithField("order_id", orderID).Info("stale entry canceled, back to flat")
		return Result{From: StateEntryPending, To: StateFlat, OrderID: orderID}, nil
	}

	m.holdLocked()
	m.log.WithFields(logger.Fields{
		"order_id": orderID,
		"qty":      m.pos.EntryQty.String(),
		"status":   ack.Status,
	}).Info("stale entry closed after filling, exiting filled quantity")
	return m.placeExit(ctx)
}

// queryClosedEntry reads the final state of an entry order the venue no
// longer accepts a cancel for. Execution reports for it may never arrive.
func (m *Machine) queryClosedEntry(ctx context.Context, orderID string) (OrderAck, error) {
	ack, err := m.gateway.QueryOrder(ctx, m.cfg.Symbol, orderID)
	if err != nil {
		if m.classify.IsUnknownOrder(err) {
			m.log.WithFields(logger.Fields{
				"order_id": orderID,
				"alert":    true,
			}).Error("entry order not found on venue, treating it as unfilled")
			return OrderAck{OrderID: orderID, Status: OrderStatusCanceled}, nil
		}
		return OrderAck{}, fmt.Errorf("query entry: %w", err)
	}
	if !ack.Status.Terminal() {
		return OrderAck{}, errEntryStillOpen
	}
	return ack, nil
}

// OnFill applies an execution report. Reports for orders the machine does
// not track, duplicates and late reports are ignored.
func (m *Machine) OnFill(ctx context.Context, f Fill) (Result, error) {
	for {
		m.mu.Lock()
		if m.tracksLocked(f.OrderID) || !m.submitting {
			break
		}
		// The report may belong to the order being submitted right now.
		settled := m.settled
		m.mu.Unlock()
		select {
		case <-settled:
		case <-ctx.Done():
			return Result{Ignored: true}, ctx.Err()
		}
	}

	switch {
	case f.OrderID == m.pos.EntryOrderID && m.pos.EntryOrderID != "":
		return m.onEntryReport(ctx, f)
	case f.OrderID == m.pos.ExitOrderID && m.pos.ExitOrderID != "":
		return m.onExitReport(f)
	}

	state := m.pos.State
	m.mu.Unlock()
	m.log.WithFields(logger.Fields{
		"order_id": f.OrderID,
		"status":   f.Status,
	}).Debug("execution report for untracked order ignored")
	return ignored(state), nil
}

func (m *Machine) tracksLocked(orderID string) bool {
	return orderID != "" && (orderID == m.pos.EntryOrderID || orderID == m.pos.ExitOrderID)
}

// onEntryReport must be called with m.mu held and releases it.
func (m *Machine) onEntryReport(ctx context.Context, f Fill) (Result, error) {
	if f.Side != SideBuy {
		state := m.pos.State
		m.mu.Unlock()
		return ignored(state), nil
	}
	if m.pos.State != StateEntryPending {
		// The quantity is already settled by the cancel ack or query; only the
		// commission of a trade report seen late is still owed.
		state := m.pos.State
		if m.firstSeenLocked(f) {
			m.pos.entryFeeQuote = m.pos.entryFeeQuote.Add(m.feeQuote(f))
		}
		m.mu.Unlock()
		return ignored(state), nil
	}

	switch f.Status {
	case OrderStatusPartiallyFilled:
		m.applyEntryFillLocked(f)
		m.mu.Unlock()
		m.log.WithFields(logger.Fields{
			"order_id": f.OrderID,
			"cum_qty":  f.CumQty.String(),
		}).Info("entry partially filled")
		return Result{From: StateEntryPending, To: StateEntryPending, OrderID: f.OrderID}, nil

	case OrderStatusFilled:
		m.applyEntryFillLocked(f)
		m.holdLocked()
		m.log.WithFields(logger.Fields{
			"order_id": f.OrderID,
			"price":    m.pos.EntryPrice.String(),
			"qty":      m.pos.EntryQty.String(),
		}).Info("entry filled")
		return m.placeExit(ctx)

	case OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		m.applyEntryFillLocked(f)
		if !m.pos.entryFilledQty.IsPositive() {
			m.clearLocked()
			m.mu.Unlock()
			m.log.WithFields(logger.Fields{
				"order_id": f.OrderID,
				"status":   f.Status,
			}).Info("entry order closed by venue without fills, back to flat")
			return Result{From: StateEntryPending, To: StateFlat, OrderID: f.OrderID}, nil
		}
		m.holdLocked()
		return m.placeExit(ctx)
	}

	m.mu.Unlock()
	return ignored(StateEntryPending), nil
}

// onExitReport must be called with m.mu held and releases it.
func (m *Machine) onExitReport(f Fill) (Result, error) {
	if f.Side != SideSell || m.pos.State != StateExitPending {
		state := m.pos.State
		m.mu.Unlock()
		return ignored(state), nil
	}
	defer m.mu.Unlock()

	switch f.Status {
	case OrderStatusPartiallyFilled:
		m.applyExitFillLocked(f)
		return Result{From: StateExitPending, To: StateExitPending, OrderID: f.OrderID}, nil

	case OrderStatusFilled:
		m.applyExitFillLocked(f)
		record := m.closeLocked(f)
		m.log.WithFields(logger.Fields{
			"order_id":   f.OrderID,
			"entry":      record.EntryPrice.String(),
			"exit":       record.ExitPrice.String(),
			"qty":        record.Qty.String(),
			"profit_pct": record.ProfitPct.String(),
		}).Info("round trip closed")
		return Result{From: StateExitPending, To: StateFlat, OrderID: f.OrderID, Trade: record}, nil

	case OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		// Inventory is still held; put the remainder back up for exit.
		m.applyExitFillLocked(f)
		m.pos.exitCarryQty = m.pos.exitCarryQty.Add(m.pos.exitFilledQty)
		m.pos.exitCarryQuote = m.pos.exitCarryQuote.Add(m.pos.exitFilledQuote)
		m.pos.exitFilledQty = decimal.Zero
		m.pos.exitFilledQuote = decimal.Zero
		m.pos.State = StateHolding
		m.pos.ExitOrderID = ""
		m.pos.ExitQty = decimal.Zero
		m.pos.NextExitAttempt = time.Time{}
		m.log.WithFields(logger.Fields{
			"order_id": f.OrderID,
			"status":   f.Status,
			"alert":    true,
		}).Error("exit order closed by venue before filling, exit will be placed again")
		return Result{From: StateExitPending, To: StateHolding, OrderID: f.OrderID}, nil
	}

	return ignored(StateExitPending), nil
}

// placeExit submits the exit order for a HOLDING position. It must be
// called with m.mu held and releases it.
func (m *Machine) placeExit(ctx context.Context) (Result, error) {
	if m.submitting {
		m.mu.Unlock()
		return ignored(StateHolding), nil
	}
	remaining := m.pos.EntryQty.Sub(m.pos.exitCarryQty)
	price := m.pos.TargetExitPrice
	entryID := m.pos.EntryOrderID
	m.beginSubmitLocked()
	m.mu.Unlock()

	ack, qty, err := m.submitExitWithRetry(ctx, remaining, price)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.endSubmitLocked()

	if err != nil {
		m.pos.ExitAttempts++
		m.pos.NextExitAttempt = m.now().Add(m.cfg.ExitRetryInterval)
		m.log.WithError(err).WithFields(logger.Fields{
			"entry_order_id": entryID,
			"price":          price.String(),
			"attempts":       m.pos.ExitAttempts,
			"next_attempt":   m.pos.NextExitAttempt,
			"alert":          true,
		}).Error("exit order not placed, holding inventory")
		return Result{From: StateHolding, To: StateHolding}, fmt.Errorf("submit exit: %w", err)
	}

	m.pos.State = StateExitPending
	m.pos.ExitOrderID = ack.OrderID
	m.pos.ExitQty = qty
	m.pos.ExitAttempts = 0
	m.pos.NextExitAttempt = time.Time{}
	m.log.WithFields(logger.Fields{
		"order_id": ack.OrderID,
		"price":    price.String(),
		"qty":      qty.String(),
	}).Info("exit order placed")

	return Result{From: StateHolding, To: StateExitPending, OrderID: ack.OrderID}, nil
}

func (m *Machine) submitExitWithRetry(ctx context.Context, remaining, price decimal.Decimal) (OrderAck, decimal.Decimal, error) {
	var lastErr error
	for attempt := 0; attempt <= m.cfg.ExitRetryAttempts; attempt++ {
		if attempt > 0 {
			m.log.WithError(lastErr).WithField("delay", m.cfg.ExitRetryDelay).Warn("exit rejected for balance, retrying after settlement delay")
			if err := m.sleep(ctx, m.cfg.ExitRetryDelay); err != nil {
				return OrderAck{}, decimal.Zero, err
			}
		}

		qty, err := m.exitQuantity(ctx, remaining)
		if err != nil {
			lastErr = err
			if errors.Is(err, errNoFreeBalance) {
				continue
			}
			return OrderAck{}, decimal.Zero, err
		}

		ack, err := m.gateway.SubmitOrder(ctx, OrderRequest{
			Symbol:        m.cfg.Symbol,
			Side:          SideSell,
			Type:          OrderTypeLimit,
			TimeInForce:   m.cfg.TimeInForce,
			Qty:           qty,
			Price:         price,
			ClientOrderID: m.newClientID(),
		})
		if err == nil && ack.OrderID == "" {
			err = ErrNoOrderID
		}
		if err == nil {
			return ack, qty, nil
		}
		lastErr = err
		if !m.classify.IsInsufficientBalance(err) {
			return OrderAck{}, decimal.Zero, err
		}
	}
	return OrderAck{}, decimal.Zero, lastErr
}

// exitQuantity is the held quantity capped by the free base balance, on the lot grid.
func (m *Machine) exitQuantity(ctx context.Context, remaining decimal.Decimal) (decimal.Decimal, error) {
	free, err := m.gateway.GetFreeBalance(ctx, m.cfg.BaseAsset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("free %s balance: %w", m.cfg.BaseAsset, err)
	}
	qty := decimal.Min(remaining, free)
	qty = quote.RoundDown(qty, m.cfg.LotStep)
	if !qty.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: free=%s held=%s", errNoFreeBalance, free, remaining)
	}
	return qty, nil
}

func (m *Machine) applyEntryFillLocked(f Fill) {
	if f.CumQty.GreaterThan(m.pos.entryFilledQty) {
		m.pos.entryFilledQty = f.CumQty
		m.pos.entryFilledQuote = cumQuote(f)
	}
	if m.firstSeenLocked(f) {
		m.pos.entryFeeQuote = m.pos.entryFeeQuote.Add(m.feeQuote(f))
	}
}

func (m *Machine) applyExitFillLocked(f Fill) {
	if f.CumQty.GreaterThan(m.pos.exitFilledQty) {
		m.pos.exitFilledQty = f.CumQty
		m.pos.exitFilledQuote = cumQuote(f)
	}
	if m.firstSeenLocked(f) {
		m.pos.exitFeeQuote = m.pos.exitFeeQuote.Add(m.feeQuote(f))
	}
}

// cumQuote prefers the venue's cumulative quote quantity.
func cumQuote(f Fill) decimal.Decimal {
	if f.CumQuote.IsPositive() {
		return f.CumQuote
	}
	return f.CumQty.Mul(f.LastPrice)
}

// firstSeenLocked dedupes fees of replayed trade reports.
func (m *Machine) firstSeenLocked(f Fill) bool {
	if f.TradeID <= 0 {
		return true
	}
	key := fmt.Sprintf("%s:%d", f.OrderID, f.TradeID)
	if _, ok := m.seenTrades[key]; ok {
		return false
	}
	m.seenTrades[key] = struct{}{}
	return true
}

func (m *Machine) feeQuote(f Fill) decimal.Decimal {
	v, ok := feeInQuote(f.Fee, f.FeeAsset, f.LastPrice, m.cfg.BaseAsset, m.cfg.QuoteAsset, m.cfg.FeeAssetPrice)
	if !ok {
		m.log.WithFields(logger.Fields{
			"fee":       f.Fee.String(),
			"fee_asset": f.FeeAsset,
		}).Warn("fee asset has no configured price, fee not counted in profit")
	}
	return v
}

func (m *Machine) holdLocked() {
	m.pos.State = StateHolding
	m.pos.EntryQty = m.pos.entryFilledQty
	m.pos.EntryPrice = vwap(m.pos.entryFilledQuote, m.pos.entryFilledQty)
	m.pos.HeldAt = m.now()
	m.pos.CancelRequested = false
	m.pos.NextExitAttempt = time.Time{}
}

func (m *Machine) closeLocked(f Fill) *model.TradeRecord {
	closedAt := m.now()
	qty := m.pos.exitCarryQty.Add(m.pos.exitFilledQty)
	quoteQty := m.pos.exitCarryQuote.Add(m.pos.exitFilledQuote)
	exitPrice := vwap(quoteQty, qty)

	feePct := FeePct(m.pos.entryFeeQuote.Add(m.pos.exitFeeQuote), m.pos.EntryPrice, qty)

	ts := f.EventTime
	if ts.IsZero() {
		ts = closedAt
	}

	record := &model.TradeRecord{
		Timestamp:    ts,
		Symbol:       m.cfg.Symbol,
		Side:         string(SideSell),
		Qty:          qty,
		EntryPrice:   m.pos.EntryPrice,
		ExitPrice:    exitPrice,
		ProfitPct:    ProfitPct(m.pos.EntryPrice, exitPrice, feePct),
		FeePct:       feePct,
		QuoteVolume:  quoteQty,
		DurationSec:  closedAt.Sub(m.pos.EntryPlacedAt).Seconds(),
		EntryOrderID: m.pos.EntryOrderID,
		ExitOrderID:  m.pos.ExitOrderID,
		BaseAsset:    m.cfg.BaseAsset,
		QuoteAsset:   m.cfg.QuoteAsset,
	}
	m.clearLocked()
	return record
}

func (m *Machine) clearLocked() {
	m.pos = Position{State: StateFlat}
	m.seenTrades = make(map[string]struct{})
}
