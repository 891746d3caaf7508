package executors

import (
	"context"
	"marketmaker/src/connectors"
	"marketmaker/src/model"
	"marketmaker/src/position"
	"marketmaker/src/utils"
	"strconv"
	"time"

	logger "github.com/sirupsen/logrus"
)

// TradeLedger stores completed round trips.
type TradeLedger interface {
	Append(ctx context.Context, record *model.TradeRecord) error
}

// ProcessorSettings configure the execution event processor.
type ProcessorSettings struct {
	Symbol              string
	BaseAsset           string
	QuoteAsset          string
	LedgerRetryAttempts int
	LedgerRetryDelay    time.Duration
}

// ExecutionProcessor applies the account's execution reports to the
// position and writes every closed round trip to the ledger.
type ExecutionProcessor struct {
	machine  Machine
	ledger   TradeLedger
	logs     connectors.ExecutionLogWriter
	balances BalanceSource
	settings ProcessorSettings
	sleep    func(ctx context.Context, d time.Duration) error
	log      *logger.Entry
}

// NewExecutionProcessor builds a processor. logs and balances may be nil.
func NewExecutionProcessor(machine Machine, ledger TradeLedger, logs connectors.ExecutionLogWriter, balances BalanceSource, settings ProcessorSettings) *ExecutionProcessor {
	if settings.LedgerRetryAttempts <= 0 {
		settings.LedgerRetryAttempts = 3
	}
	if settings.LedgerRetryDelay <= 0 {
		settings.LedgerRetryDelay = 500 * time.Millisecond
	}
	return &ExecutionProcessor{
		machine:  machine,
		ledger:   ledger,
		logs:     logs,
		balances: balances,
		settings: settings,
		sleep:    utils.SleepContext,
		log:      logger.WithFields(logger.Fields{"component": "ExecutionProcessor", "symbol": settings.Symbol}),
	}
}

// Run consumes execution reports in feed order until the channel closes or
// ctx is done.
func (p *ExecutionProcessor) Run(ctx context.Context, reports <-chan connectors.ExecutionReport) error {
	p.log.Info("execution processor started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case report, ok := <-reports:
			if !ok {
				p.log.Error("user data feed closed")
				return ErrFeedClosed
			}
			p.handle(ctx, report)
		}
	}
}

func (p *ExecutionProcessor) handle(ctx context.Context, report connectors.ExecutionReport) {
	if report.EventType != connectors.EventTypeExecutionReport || report.Symbol != p.settings.Symbol {
		return
	}

	fill := ToFill(report)
	p.record(ctx, report, fill)

	res, err := p.machine.OnFill(ctx, fill)
	if err != nil {
		p.log.WithError(err).WithField("order_id", fill.OrderID).Warn("execution report handling failed")
	}
	if res.Trade == nil {
		return
	}

	p.snapshotBalances(ctx, res.Trade)
	p.appendTrade(ctx, res.Trade)
}

// ToFill maps an execution report to the machine's fill event.
func ToFill(r connectors.ExecutionReport) position.Fill {
	eventTime := utils.FromEpochMillis(r.TransactionTime)
	if eventTime.IsZero() {
		eventTime = utils.FromEpochMillis(r.EventTime)
	}
	return position.Fill{
		OrderID:   strconv.FormatInt(r.OrderID, 10),
		Side:      position.Side(r.Side),
		Status:    position.OrderStatus(r.OrderStatus),
		TradeID:   r.TradeID,
		LastQty:   r.LastQty,
		LastPrice: r.LastPrice,
		CumQty:    r.CumQty,
		CumQuote:  r.CumQuote,
		Fee:       r.Commission,
		FeeAsset:  r.CommissionAsset,
		EventTime: eventTime,
	}
}

var executionStatus = map[position.OrderStatus]string{
	position.OrderStatusNew:             model.OrderExecutionStatusAccepted,
	position.OrderStatusPartiallyFilled: model.OrderExecutionStatusPartFilled,
	position.OrderStatusFilled:          model.OrderExecutionStatusFilled,
	position.OrderStatusCanceled:        model.OrderExecutionStatusCanceled,
	position.OrderStatusExpired:         model.OrderExecutionStatusExpired,
	position.OrderStatusRejected:        model.OrderExecutionStatusRejected,
}

// record writes the report to the audit log. Best effort.
func (p *ExecutionProcessor) record(ctx context.Context, r connectors.ExecutionReport, f position.Fill) {
	if p.logs == nil {
		return
	}
	status, ok := executionStatus[f.Status]
	if !ok {
		status = string(f.Status)
	}
	eventTime := f.EventTime
	entry := &model.OrderExecutionLog{
		Symbol:           r.Symbol,
		Side:             r.Side,
		OrderType:        r.OrderType,
		Quantity:         r.LastQty,
		Price:            r.LastPrice,
		ExchangeOrderID:  f.OrderID,
		ExchangeClientID: r.ClientOrderID,
		Status:           status,
		Reason:           r.ExecutionType,
		Fee:              r.Commission,
		FeeAsset:         r.CommissionAsset,
		EventTime:        &eventTime,
		RequestedAt:      eventTime,
	}
	if r.RejectReason != "" && r.RejectReason != "NONE" {
		reason := r.RejectReason
		entry.ErrorMessage = &reason
	}
	if err := p.logs.Create(ctx, entry); err != nil {
		p.log.WithError(err).WithField("order_id", f.OrderID).Warn("failed to record execution report")
	}
}

func (p *ExecutionProcessor) snapshotBalances(ctx context.Context, record *model.TradeRecord) {
	if p.balances == nil {
		return
	}
	if v, err := p.balances.GetFreeBalance(ctx, p.settings.BaseAsset); err == nil {
		record.BaseFree = v
	} else {
		p.log.WithError(err).Warn("base balance snapshot failed")
	}
	if v, err := p.balances.GetFreeBalance(ctx, p.settings.QuoteAsset); err == nil {
		record.QuoteFree = v
	} else {
		p.log.WithError(err).Warn("quote balance snapshot failed")
	}
}

// appendTrade retries ledger writes a bounded number of times. The round
// trip is already closed in memory; a lost record is reported, not retried
// forever.
func (p *ExecutionProcessor) appendTrade(ctx context.Context, record *model.TradeRecord) {
	var err error
	for attempt := 1; attempt <= p.settings.LedgerRetryAttempts; attempt++ {
		if err = p.ledger.Append(ctx, record); err == nil {
			p.log.WithFields(logger.Fields{
				"entry_price": record.EntryPrice.String(),
				"exit_price":  record.ExitPrice.String(),
				"qty":         record.Qty.String(),
				"profit_pct":  record.ProfitPct.String(),
				"fee_pct":     record.FeePct.String(),
				"duration_s":  record.DurationSec,
			}).Info("trade recorded")
			return
		}
		p.log.WithError(err).WithField("attempt", attempt).Warn("trade ledger append failed")
		if attempt < p.settings.LedgerRetryAttempts {
			if sleepErr := p.sleep(ctx, p.settings.LedgerRetryDelay); sleepErr != nil {
				break
			}
		}
	}
	p.log.WithError(err).WithFields(logger.Fields{
		"entry_order_id": record.EntryOrderID,
		"exit_order_id":  record.ExitOrderID,
		"profit_pct":     record.ProfitPct.String(),
		"alert":          true,
	}).Error("trade record lost")
}
