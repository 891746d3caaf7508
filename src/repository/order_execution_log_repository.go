package repository

import (
	"context"
	"marketmaker/src/database"
	"marketmaker/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OrderExecutionLogRepository stores the audit trail of exchange interactions.
type OrderExecutionLogRepository struct {
	db *gorm.DB
}

func NewOrderExecutionLogRepository() *OrderExecutionLogRepository {
	logger.WithField("component", "OrderExecutionLogRepository").
		Info("Creating new OrderExecutionLogRepository with MainDB")

	return &OrderExecutionLogRepository{
		db: database.MainDB,
	}
}

func (r *OrderExecutionLogRepository) WithDB(db *gorm.DB) *OrderExecutionLogRepository {
	return &OrderExecutionLogRepository{db: db}
}

func (r *OrderExecutionLogRepository) Create(ctx context.Context, entry *model.OrderExecutionLog) error {
	err := r.db.WithContext(ctx).Create(entry).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderExecutionLogRepository",
			"op":       "Create",
			"order_id": entry.ExchangeOrderID,
			"status":   entry.Status,
		}).WithError(err).Error("Failed to create order execution log")
	}
	return err
}

// FindByExchangeOrderID returns the log of one order, oldest first.
func (r *OrderExecutionLogRepository) FindByExchangeOrderID(ctx context.Context, orderID string) ([]model.OrderExecutionLog, error) {
	var entries []model.OrderExecutionLog
	err := r.db.WithContext(ctx).
		Where("exchange_order_id = ?", orderID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}
