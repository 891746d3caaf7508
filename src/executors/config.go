package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	Symbol     string `envconfig:"SYMBOL" default:"ETHBUSD"`
	BaseAsset  string `envconfig:"BASE_ASSET" default:"ETH"`
	QuoteAsset string `envconfig:"QUOTE_ASSET" default:"BUSD"`

	TargetSpread         decimal.Decimal `envconfig:"TARGET_SPREAD" default:"0.01"` // percent
	EntryTimeout         time.Duration   `envconfig:"ENTRY_TIMEOUT" default:"10s"`
	QuoteBalanceFraction decimal.Decimal `envconfig:"QUOTE_BALANCE_FRACTION" default:"0.9"`

	ExitRetryAttempts int             `envconfig:"EXIT_RETRY_ATTEMPTS" default:"1"`
	ExitRetryDelay    time.Duration   `envconfig:"EXIT_RETRY_DELAY" default:"2s"`
	ExitRetryInterval time.Duration   `envconfig:"EXIT_RETRY_INTERVAL" default:"5s"`
	FeeAssetPrice     decimal.Decimal `envconfig:"FEE_ASSET_PRICE" default:"0"`

	TradingHours    string `envconfig:"TRADING_HOURS" default:"3-20"`
	TradingTimezone string `envconfig:"TRADING_TIMEZONE" default:"UTC"`

	HeartbeatInterval   time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"1s"`
	LedgerRetryAttempts int           `envconfig:"LEDGER_RETRY_ATTEMPTS" default:"3"`
	LedgerRetryDelay    time.Duration `envconfig:"LEDGER_RETRY_DELAY" default:"500ms"`
	FeedBuffer          int           `envconfig:"FEED_BUFFER" default:"256"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
