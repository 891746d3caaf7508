package repository

import (
	"context"
	"errors"
	"marketmaker/src/database"
	"marketmaker/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultTradeLimit = 50

var ErrNilTradeRecord = errors.New("nil trade record")

// TradeRepository is the append-only ledger of completed round trips.
type TradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository creates a new repository instance using the main database.
func NewTradeRepository() *TradeRepository {
	logger.WithField("component", "TradeRepository").
		Info("Creating new TradeRepository with MainDB")

	return &TradeRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *TradeRepository) WithDB(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Append inserts one trade record. Records are never updated.
func (r *TradeRepository) Append(ctx context.Context, record *model.TradeRecord) error {
	if record == nil {
		return ErrNilTradeRecord
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":           "TradeRepository",
			"op":             "Append",
			"symbol":         record.Symbol,
			"entry_order_id": record.EntryOrderID,
			"exit_order_id":  record.ExitOrderID,
		}).WithError(err).Error("Failed to append trade record")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":       "TradeRepository",
		"op":         "Append",
		"id":         record.ID,
		"profit_pct": record.ProfitPct.String(),
	}).Info("Trade record appended")
	return nil
}

// FindLatest returns the most recent records, newest first.
func (r *TradeRepository) FindLatest(ctx context.Context, limit int) ([]model.TradeRecord, error) {
	if limit <= 0 {
		limit = defaultTradeLimit
	}

	var records []model.TradeRecord
	err := r.db.WithContext(ctx).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
