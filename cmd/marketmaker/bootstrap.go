package marketmaker

import (
	"context"
	"errors"
	"fmt"
	"marketmaker/src/connectors"
	"marketmaker/src/executors"
	"marketmaker/src/quote"
	"marketmaker/src/utils"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// ErrInsufficientBalance stops the bot before it subscribes to anything.
var ErrInsufficientBalance = errors.New("INSUFFICIENT BALANCE")

type symbolSource interface {
	GetSymbolFilters(ctx context.Context, symbol string) (connectors.SymbolFilters, error)
}

// LoadFilters fetches and validates the trading rules of the symbol.
func LoadFilters(ctx context.Context, src symbolSource, cfg executors.Config) (connectors.SymbolFilters, error) {
	filters, err := src.GetSymbolFilters(ctx, cfg.Symbol)
	if err != nil {
		return connectors.SymbolFilters{}, fmt.Errorf("load %s filters: %w", cfg.Symbol, err)
	}
	if filters.Status != "" && filters.Status != "TRADING" {
		return connectors.SymbolFilters{}, fmt.Errorf("symbol %s is not trading (status %s)", cfg.Symbol, filters.Status)
	}
	if !filters.TickSize.IsPositive() || !filters.StepSize.IsPositive() {
		return connectors.SymbolFilters{}, fmt.Errorf("symbol %s has no tick size or lot step", cfg.Symbol)
	}
	if filters.BaseAsset != "" && filters.BaseAsset != cfg.BaseAsset ||
		filters.QuoteAsset != "" && filters.QuoteAsset != cfg.QuoteAsset {
		return connectors.SymbolFilters{}, fmt.Errorf("symbol %s trades %s/%s, configured %s/%s",
			cfg.Symbol, filters.BaseAsset, filters.QuoteAsset, cfg.BaseAsset, cfg.QuoteAsset)
	}
	return filters, nil
}

// CheckStartupBalance fails when the usable quote balance cannot pay for a
// minimum order.
func CheckStartupBalance(ctx context.Context, balances executors.BalanceSource, filters connectors.SymbolFilters, cfg executors.Config) (decimal.Decimal, error) {
	free, err := balances.GetFreeBalance(ctx, cfg.QuoteAsset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read %s balance: %w", cfg.QuoteAsset, err)
	}
	usable := free.Mul(cfg.QuoteBalanceFraction)
	if !usable.IsPositive() || usable.LessThan(filters.MinNotional) {
		return usable, fmt.Errorf("%w: usable %s %s below min notional %s",
			ErrInsufficientBalance, usable, cfg.QuoteAsset, filters.MinNotional)
	}
	logger.WithFields(logger.Fields{
		"asset":  cfg.QuoteAsset,
		"free":   free.String(),
		"usable": usable.String(),
	}).Info("startup balance check passed")
	return usable, nil
}

// EntrySettings builds the listener settings from the executor config.
func EntrySettings(cfg executors.Config) (executors.EntrySettings, error) {
	window, err := utils.ParseHourWindow(cfg.TradingHours)
	if err != nil {
		return executors.EntrySettings{}, err
	}
	loc, err := time.LoadLocation(cfg.TradingTimezone)
	if err != nil {
		return executors.EntrySettings{}, fmt.Errorf("trading timezone %q: %w", cfg.TradingTimezone, err)
	}
	if !cfg.QuoteBalanceFraction.IsPositive() || cfg.QuoteBalanceFraction.GreaterThan(decimal.NewFromInt(1)) {
		return executors.EntrySettings{}, fmt.Errorf("quote balance fraction %s must be in (0, 1]", cfg.QuoteBalanceFraction)
	}
	return executors.EntrySettings{
		QuoteAsset:           cfg.QuoteAsset,
		QuoteBalanceFraction: cfg.QuoteBalanceFraction,
		Window:               window,
		Location:             loc,
	}, nil
}

// MinEntryQty is the smallest lot-aligned quantity passing the symbol filters at price.
func MinEntryQty(filters connectors.SymbolFilters, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	qty := decimal.Max(filters.MinQty, filters.MinNotional.Div(price))
	aligned := quote.RoundDown(qty, filters.StepSize)
	if aligned.LessThan(qty) {
		aligned = aligned.Add(filters.StepSize)
	}
	return aligned
}
