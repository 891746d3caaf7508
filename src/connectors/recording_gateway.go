package connectors

import (
	"context"
	"marketmaker/src/model"
	"marketmaker/src/position"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// ExecutionLogWriter persists order execution log rows.
type ExecutionLogWriter interface {
	Create(ctx context.Context, entry *model.OrderExecutionLog) error
}

// RecordingGateway writes an OrderExecutionLog row for every submit and
// cancel passing through it. Write failures are logged and never change
// the outcome of the call.
type RecordingGateway struct {
	next position.OrderGateway
	logs ExecutionLogWriter
	now  func() time.Time
	log  *logger.Entry
}

func NewRecordingGateway(next position.OrderGateway, logs ExecutionLogWriter) *RecordingGateway {
	return &RecordingGateway{
		next: next,
		logs: logs,
		now:  time.Now,
		log:  logger.WithField("component", "RecordingGateway"),
	}
}

func (g *RecordingGateway) SubmitOrder(ctx context.Context, req position.OrderRequest) (position.OrderAck, error) {
	requestedAt := g.now()
	ack, err := g.next.SubmitOrder(ctx, req)

	entry := &model.OrderExecutionLog{
		Symbol:           req.Symbol,
		Side:             string(req.Side),
		OrderType:        req.Type,
		Quantity:         req.Qty,
		Price:            req.Price,
		ExchangeOrderID:  ack.OrderID,
		ExchangeClientID: req.ClientOrderID,
		Status:           model.OrderExecutionStatusAccepted,
		Reason:           directionOf(req.Side),
		RequestedAt:      requestedAt,
	}
	if err != nil {
		entry.Status = model.OrderExecutionStatusRejected
		entry.ErrorMessage = errorMessage(err)
	}
	g.write(ctx, entry)
	return ack, err
}

func (g *RecordingGateway) CancelOrder(ctx context.Context, symbol, orderID string) (position.OrderAck, error) {
	requestedAt := g.now()
	ack, err := g.next.CancelOrder(ctx, symbol, orderID)

	entry := &model.OrderExecutionLog{
		Symbol:          symbol,
		ExchangeOrderID: orderID,
		Status:          model.OrderExecutionStatusCanceled,
		Reason:          "cancel",
		Quantity:        ack.ExecutedQty,
		RequestedAt:     requestedAt,
	}
	if err != nil {
		entry.Status = model.OrderExecutionStatusCanceledError
		entry.ErrorMessage = errorMessage(err)
	}
	g.write(ctx, entry)
	return ack, err
}

// QueryOrder is read only and is not logged.
func (g *RecordingGateway) QueryOrder(ctx context.Context, symbol, orderID string) (position.OrderAck, error) {
	return g.next.QueryOrder(ctx, symbol, orderID)
}

func (g *RecordingGateway) GetFreeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return g.next.GetFreeBalance(ctx, asset)
}

func (g *RecordingGateway) write(ctx context.Context, entry *model.OrderExecutionLog) {
	if g.logs == nil {
		return
	}
	if err := g.logs.Create(ctx, entry); err != nil {
		g.log.WithError(err).WithFields(logger.Fields{
			"order_id": entry.ExchangeOrderID,
			"status":   entry.Status,
		}).Warn("failed to write order execution log")
	}
}

func directionOf(side position.Side) string {
	if side == position.SideSell {
		return model.OrderDirectionExit
	}
	return model.OrderDirectionEntry
}

func errorMessage(err error) *string {
	msg := err.Error()
	return &msg
}
