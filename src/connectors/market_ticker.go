package connectors

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
)

// MarketTicker reads the public ticker through goex. Used by preflight to
// show the live top of book without opening a stream.
type MarketTicker struct {
	exchange goex.API
	pair     goex.CurrencyPair
}

func NewMarketTicker(endpoint, baseAsset, quoteAsset string, httpClient *http.Client) *MarketTicker {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if endpoint == "" {
		endpoint = binance.GLOBAL_API_BASE_URL
	}
	apiConfig := &goex.APIConfig{
		HttpClient: httpClient,
		Endpoint:   endpoint,
	}
	return &MarketTicker{
		exchange: binance.NewWithConfig(apiConfig),
		pair:     goex.NewCurrencyPair(goex.Currency{Symbol: baseAsset}, goex.Currency{Symbol: quoteAsset}),
	}
}

// TopOfBook returns the current best bid and ask.
func (m *MarketTicker) TopOfBook() (BookTicker, error) {
	ticker, err := m.exchange.GetTicker(m.pair)
	if err != nil {
		return BookTicker{}, fmt.Errorf("get ticker %s: %w", m.pair.ToSymbol(""), err)
	}
	if ticker == nil || ticker.Buy <= 0 || ticker.Sell <= 0 {
		return BookTicker{}, errors.New("ticker without bid or ask")
	}
	return BookTicker{
		Symbol:     m.pair.ToSymbol(""),
		BidPrice:   decimal.NewFromFloat(ticker.Buy),
		AskPrice:   decimal.NewFromFloat(ticker.Sell),
		ReceivedAt: time.Now(),
	}, nil
}
