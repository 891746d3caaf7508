package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"marketmaker/cmd/marketmaker"
	"marketmaker/src/connectors"
	"marketmaker/src/executors"
	"marketmaker/src/quote"
	"marketmaker/src/security"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type exchange interface {
	GetSymbolFilters(ctx context.Context, symbol string) (connectors.SymbolFilters, error)
	GetFreeBalance(ctx context.Context, asset string) (decimal.Decimal, error)
}

type topOfBook interface {
	TopOfBook() (connectors.BookTicker, error)
}

// Preflight checks the symbol, the account and the live market without
// placing orders.
type Preflight struct {
	Log *logrus.Entry
	Out io.Writer
}

// Report is what the preflight found.
type Report struct {
	Filters     connectors.SymbolFilters
	Quote       quote.Quote
	Signed      bool
	BaseFree    decimal.Decimal
	QuoteFree   decimal.Decimal
	EntryQty    decimal.Decimal
	MinEntryQty decimal.Decimal
	EdgeOK      bool
	BalanceErr  error
}

func (p *Preflight) Start() error {
	if p.Log == nil {
		p.Log = logrus.WithField("cmd", "preflight")
	}
	if p.Out == nil {
		p.Out = os.Stdout
	}
	config := executors.GetConfig()
	connConfig := connectors.GetConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	apiKey, err := security.ResolveSecret(connConfig.BinanceAPIKey)
	if err != nil {
		return fmt.Errorf("decrypt api key: %w", err)
	}
	apiSecret, err := security.ResolveSecret(connConfig.BinanceAPISecret)
	if err != nil {
		return fmt.Errorf("decrypt api secret: %w", err)
	}
	connConfig.BinanceAPIKey = apiKey
	client := connectors.NewBinanceClientFromConfig(connConfig, apiSecret)

	ticker := connectors.NewMarketTicker(connConfig.BinanceBaseURL, config.BaseAsset, config.QuoteAsset,
		&http.Client{Timeout: connConfig.HTTPTimeout})

	report, err := Run(ctx, client, ticker, config, apiKey != "" && apiSecret != "")
	if err != nil {
		p.Log.WithError(err).Error("Preflight failed")
		return err
	}
	Print(p.Out, config, report)
	if report.BalanceErr != nil {
		return report.BalanceErr
	}
	return nil
}

// Run gathers the report. Balances are read only when signed is true.
func Run(ctx context.Context, ex exchange, book topOfBook, config executors.Config, signed bool) (Report, error) {
	filters, err := marketmaker.LoadFilters(ctx, ex, config)
	if err != nil {
		return Report{}, err
	}

	tick, err := book.TopOfBook()
	if err != nil {
		return Report{}, fmt.Errorf("top of book: %w", err)
	}
	q, err := quote.Calculate(tick.BidPrice, tick.AskPrice, filters.TickSize)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Filters:     filters,
		Quote:       q,
		Signed:      signed,
		MinEntryQty: marketmaker.MinEntryQty(filters, q.MyBid),
		EdgeOK:      q.Exceeds(config.TargetSpread),
	}
	if !signed {
		return report, nil
	}

	if report.BaseFree, err = ex.GetFreeBalance(ctx, config.BaseAsset); err != nil {
		return Report{}, fmt.Errorf("read %s balance: %w", config.BaseAsset, err)
	}
	usable, err := marketmaker.CheckStartupBalance(ctx, ex, filters, config)
	if err != nil && !errors.Is(err, marketmaker.ErrInsufficientBalance) {
		return Report{}, err
	}
	report.BalanceErr = err
	if config.QuoteBalanceFraction.IsPositive() {
		report.QuoteFree = usable.Div(config.QuoteBalanceFraction)
	}
	report.EntryQty = quote.RoundDown(usable.Div(q.MyBid), filters.StepSize)
	return report, nil
}

func Print(w io.Writer, config executors.Config, r Report) {
	_, _ = fmt.Fprintf(w, "symbol        %s (%s/%s)\n", r.Filters.Symbol, config.BaseAsset, config.QuoteAsset)
	_, _ = fmt.Fprintf(w, "tick size     %s\n", r.Filters.TickSize)
	_, _ = fmt.Fprintf(w, "lot step      %s\n", r.Filters.StepSize)
	_, _ = fmt.Fprintf(w, "min qty       %s\n", r.Filters.MinQty)
	_, _ = fmt.Fprintf(w, "min notional  %s\n", r.Filters.MinNotional)
	_, _ = fmt.Fprintf(w, "book          %s / %s\n", r.Quote.Bid, r.Quote.Ask)
	_, _ = fmt.Fprintf(w, "my quote      %s / %s\n", r.Quote.MyBid, r.Quote.MyAsk)
	_, _ = fmt.Fprintf(w, "edge          %s%% (target %s%%, enter=%t)\n", r.Quote.EdgePct, config.TargetSpread, r.EdgeOK)
	_, _ = fmt.Fprintf(w, "min entry qty %s\n", r.MinEntryQty)
	if !r.Signed {
		_, _ = fmt.Fprintln(w, "balances      skipped, no API credentials")
		return
	}
	_, _ = fmt.Fprintf(w, "free %-8s %s\n", config.BaseAsset, r.BaseFree)
	_, _ = fmt.Fprintf(w, "free %-8s %s\n", config.QuoteAsset, r.QuoteFree)
	_, _ = fmt.Fprintf(w, "entry qty     %s\n", r.EntryQty)
	if r.BalanceErr != nil {
		_, _ = fmt.Fprintf(w, "balance       %v\n", r.BalanceErr)
	}
}
