package executors

import (
	"context"
	"errors"
	"marketmaker/src/connectors"
	"marketmaker/src/model"
	"marketmaker/src/position"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu      sync.Mutex
	fails   int
	calls   int
	records []model.TradeRecord
}

func (l *fakeLedger) Append(_ context.Context, record *model.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.fails > 0 {
		l.fails--
		return errors.New("database is locked")
	}
	l.records = append(l.records, *record)
	return nil
}

func (l *fakeLedger) snapshot() []model.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.TradeRecord(nil), l.records...)
}

type memoryLogs struct {
	mu   sync.Mutex
	rows []model.OrderExecutionLog
}

func (m *memoryLogs) Create(_ context.Context, entry *model.OrderExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, *entry)
	return nil
}

func (m *memoryLogs) statuses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r.Status)
	}
	return out
}

type processorHarness struct {
	gw       *fakeGateway
	machine  *position.Machine
	listener *MarketDataListener
	proc     *ExecutionProcessor
	ledger   *fakeLedger
	logs     *memoryLogs
	sleeps   []time.Duration
}

func newProcessorHarness(t *testing.T) *processorHarness {
	t.Helper()
	h := &processorHarness{gw: newFakeGateway(), ledger: &fakeLedger{}, logs: &memoryLogs{}}
	h.machine = newTestMachine(h.gw, func() time.Time { return testNow })
	h.listener = newTestListener(t, h.machine, h.gw, testNow)
	h.proc = NewExecutionProcessor(h.machine, h.ledger, h.logs, h.gw, ProcessorSettings{
		Symbol:              "ETHBUSD",
		BaseAsset:           "ETH",
		QuoteAsset:          "BUSD",
		LedgerRetryAttempts: 3,
		LedgerRetryDelay:    500 * time.Millisecond,
	})
	h.proc.sleep = func(_ context.Context, dur time.Duration) error {
		h.sleeps = append(h.sleeps, dur)
		return nil
	}
	return h
}

func report(orderID int64, side, status, price, qty string, tradeID int64) connectors.ExecutionReport {
	return connectors.ExecutionReport{
		EventType:       connectors.EventTypeExecutionReport,
		EventTime:       1741082400100,
		Symbol:          "ETHBUSD",
		ClientOrderID:   "mm-test",
		Side:            side,
		OrderType:       "LIMIT",
		ExecutionType:   "TRADE",
		OrderStatus:     status,
		RejectReason:    "NONE",
		OrderID:         orderID,
		LastQty:         d(qty),
		CumQty:          d(qty),
		LastPrice:       d(price),
		CumQuote:        d(price).Mul(d(qty)),
		CommissionAsset: "BUSD",
		Commission:      d("0"),
		TransactionTime: 1741082400000,
		TradeID:         tradeID,
	}
}

// roundTrip enters on a wide book and fills both legs.
func (h *processorHarness) roundTrip(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	h.listener.handle(ctx, tick("1800.00", "1820.00"))
	require.Equal(t, position.StateEntryPending, h.machine.Snapshot().State)

	h.proc.handle(ctx, report(1, "BUY", "FILLED", "1800.01", "0.4999", 11))
	snap := h.machine.Snapshot()
	require.Equal(t, position.StateExitPending, snap.State)
	require.Equal(t, "2", snap.ExitOrderID)

	h.gw.setFree("ETH", "0.5001")
	h.gw.setFree("BUSD", "1009.98")
	h.proc.handle(ctx, report(2, "SELL", "FILLED", "1819.99", "0.4999", 12))
}

func TestProcessorRecordsRoundTrip(t *testing.T) {
	h := newProcessorHarness(t)
	h.roundTrip(t)

	assert.Equal(t, position.StateFlat, h.machine.Snapshot().State)

	exits := h.gw.submitted()
	require.Len(t, exits, 2)
	assert.Equal(t, position.SideSell, exits[1].Side)
	assert.True(t, exits[1].Price.Equal(d("1819.99")))
	assert.True(t, exits[1].Qty.Equal(d("0.4999")))

	records := h.ledger.snapshot()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "ETHBUSD", rec.Symbol)
	assert.Equal(t, "SELL", rec.Side)
	assert.True(t, rec.Qty.Equal(d("0.4999")), rec.Qty.String())
	assert.True(t, rec.EntryPrice.Equal(d("1800.01")), rec.EntryPrice.String())
	assert.True(t, rec.ExitPrice.Equal(d("1819.99")), rec.ExitPrice.String())
	assert.True(t, rec.ProfitPct.IsPositive(), rec.ProfitPct.String())
	assert.True(t, rec.FeePct.IsZero())
	assert.Equal(t, "1", rec.EntryOrderID)
	assert.Equal(t, "2", rec.ExitOrderID)
	assert.Equal(t, time.UnixMilli(1741082400000).UTC(), rec.Timestamp)
	assert.Equal(t, "ETH", rec.BaseAsset)
	assert.True(t, rec.BaseFree.Equal(d("0.5001")))
	assert.Equal(t, "BUSD", rec.QuoteAsset)
	assert.True(t, rec.QuoteFree.Equal(d("1009.98")))

	assert.Equal(t, []string{model.OrderExecutionStatusFilled, model.OrderExecutionStatusFilled}, h.logs.statuses())
	assert.Empty(t, h.sleeps)
}

func TestProcessorRetriesLedgerAppend(t *testing.T) {
	h := newProcessorHarness(t)
	h.ledger.fails = 2
	h.roundTrip(t)

	assert.Len(t, h.ledger.snapshot(), 1)
	assert.Equal(t, 3, h.ledger.calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, h.sleeps)
}

func TestProcessorGivesUpOnLedgerAfterRetries(t *testing.T) {
	h := newProcessorHarness(t)
	h.ledger.fails = 10
	h.roundTrip(t)

	assert.Empty(t, h.ledger.snapshot())
	assert.Equal(t, 3, h.ledger.calls)
	assert.Equal(t, position.StateFlat, h.machine.Snapshot().State)
}

func TestProcessorIgnoresOtherSymbolsAndEvents(t *testing.T) {
	h := newProcessorHarness(t)
	ctx := context.Background()
	h.listener.handle(ctx, tick("1800.00", "1820.00"))

	foreign := report(1, "BUY", "FILLED", "1800.01", "0.4999", 11)
	foreign.Symbol = "BTCBUSD"
	h.proc.handle(ctx, foreign)

	other := report(1, "BUY", "FILLED", "1800.01", "0.4999", 11)
	other.EventType = "outboundAccountPosition"
	h.proc.handle(ctx, other)

	assert.Equal(t, position.StateEntryPending, h.machine.Snapshot().State)
	assert.Empty(t, h.logs.statuses())
}

func TestProcessorLogsEntryCancel(t *testing.T) {
	h := newProcessorHarness(t)
	ctx := context.Background()
	h.listener.handle(ctx, tick("1800.00", "1820.00"))

	canceled := report(1, "BUY", "CANCELED", "0", "0", 0)
	canceled.ExecutionType = "CANCELED"
	h.proc.handle(ctx, canceled)

	assert.Equal(t, position.StateFlat, h.machine.Snapshot().State)
	assert.Equal(t, []string{model.OrderExecutionStatusCanceled}, h.logs.statuses())
	assert.Empty(t, h.ledger.snapshot())
}

func TestProcessorRunStopsOnClosedFeed(t *testing.T) {
	h := newProcessorHarness(t)
	reports := make(chan connectors.ExecutionReport)
	close(reports)

	err := h.proc.Run(context.Background(), reports)
	require.ErrorIs(t, err, ErrFeedClosed)
}

func TestToFill(t *testing.T) {
	r := report(42, "SELL", "PARTIALLY_FILLED", "1819.99", "0.1", 7)
	r.CumQty = d("0.3")
	r.Commission = d("0.00012")
	r.CommissionAsset = "BNB"

	f := ToFill(r)
	assert.Equal(t, "42", f.OrderID)
	assert.Equal(t, position.SideSell, f.Side)
	assert.Equal(t, position.OrderStatusPartiallyFilled, f.Status)
	assert.Equal(t, int64(7), f.TradeID)
	assert.True(t, f.LastQty.Equal(d("0.1")))
	assert.True(t, f.CumQty.Equal(d("0.3")))
	assert.True(t, f.Fee.Equal(d("0.00012")))
	assert.Equal(t, "BNB", f.FeeAsset)
	assert.Equal(t, time.UnixMilli(1741082400000).UTC(), f.EventTime)

	r.TransactionTime = 0
	assert.Equal(t, time.UnixMilli(1741082400100).UTC(), ToFill(r).EventTime)
}
