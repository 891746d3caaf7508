package marketmaker

import (
	"context"
	"errors"
	"marketmaker/src/connectors"
	"marketmaker/src/database"
	"marketmaker/src/executors"
	"marketmaker/src/position"
	"marketmaker/src/repository"
	"marketmaker/src/security"
	"marketmaker/src/server"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

type MarketMaker struct {
	Log *logrus.Entry
}

func (m *MarketMaker) Start() error {
	if m.Log == nil {
		m.Log = logrus.WithField("cmd", "run")
	}
	config := executors.GetConfig()
	connConfig := connectors.GetConfig()
	serverConfig := server.GetConfig()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	settings, err := EntrySettings(config)
	if err != nil {
		m.Log.WithError(err).Error("Invalid entry settings")
		return err
	}

	apiKey, err := security.ResolveSecret(connConfig.BinanceAPIKey)
	if err != nil {
		m.Log.WithError(err).Error("Failed to decrypt API Key")
		return err
	}
	apiSecret, err := security.ResolveSecret(connConfig.BinanceAPISecret)
	if err != nil {
		m.Log.WithError(err).Error("Failed to decrypt API Secret")
		return err
	}
	if apiKey == "" || apiSecret == "" {
		err := errors.New("no valid key/secret set for exchange")
		m.Log.WithError(err).Error("BINANCE_API_KEY and BINANCE_API_SECRET are required")
		return err
	}
	connConfig.BinanceAPIKey = apiKey

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		m.Log.WithError(err).Error("Failed to connect to main database")
		return err
	}

	client := connectors.NewBinanceClientFromConfig(connConfig, apiSecret)

	filters, err := LoadFilters(ctx, client, config)
	if err != nil {
		m.Log.WithError(err).Error("Failed to load symbol filters")
		return err
	}
	m.Log.WithFields(logrus.Fields{
		"symbol":       filters.Symbol,
		"tick_size":    filters.TickSize.String(),
		"step_size":    filters.StepSize.String(),
		"min_qty":      filters.MinQty.String(),
		"min_notional": filters.MinNotional.String(),
	}).Info("symbol filters loaded")

	if _, err := CheckStartupBalance(ctx, client, filters, config); err != nil {
		m.Log.WithError(err).Error("Startup balance check failed")
		return err
	}

	executionLogs := repository.NewOrderExecutionLogRepository()
	trades := repository.NewTradeRepository()
	gateway := connectors.NewRecordingGateway(client, executionLogs)

	machine := position.NewMachine(position.Config{
		Symbol:            config.Symbol,
		BaseAsset:         config.BaseAsset,
		QuoteAsset:        config.QuoteAsset,
		LotStep:           filters.StepSize,
		TargetSpread:      config.TargetSpread,
		EntryTimeout:      config.EntryTimeout,
		ExitRetryAttempts: config.ExitRetryAttempts,
		ExitRetryDelay:    config.ExitRetryDelay,
		ExitRetryInterval: config.ExitRetryInterval,
		FeeAssetPrice:     config.FeeAssetPrice,
	}, gateway, position.WithClassifier(connectors.Classifier{}))

	streamOpts := []connectors.StreamOption{
		connectors.WithPingInterval(connConfig.StreamPingInterval),
		connectors.WithReadTimeout(connConfig.StreamReadTimeout),
	}
	ticks := make(chan connectors.BookTicker, config.FeedBuffer)
	reports := make(chan connectors.ExecutionReport, config.FeedBuffer)
	bookFeed := connectors.NewBookTickerFeed(connConfig.BinanceStreamURL, config.Symbol, streamOpts...)
	userFeed := connectors.NewUserDataFeed(connConfig.BinanceStreamURL, client, connConfig.ListenKeyKeepAlive, streamOpts...)

	feeds := []func(ctx context.Context) error{
		func(ctx context.Context) error { return bookFeed.Run(ctx, ticks) },
		func(ctx context.Context) error { return userFeed.Run(ctx, reports) },
	}
	if serverConfig.Enabled {
		router := server.NewRouter(machine, trades)
		feeds = append(feeds, func(ctx context.Context) error {
			return server.Run(ctx, serverConfig.Port, router)
		})
	}

	pair := executors.Pair{
		MarketData: executors.NewMarketDataListener(machine, client, filters, settings),
		Execution: executors.NewExecutionProcessor(machine, trades, executionLogs, client, executors.ProcessorSettings{
			Symbol:              config.Symbol,
			BaseAsset:           config.BaseAsset,
			QuoteAsset:          config.QuoteAsset,
			LedgerRetryAttempts: config.LedgerRetryAttempts,
			LedgerRetryDelay:    config.LedgerRetryDelay,
		}),
		Machine:   machine,
		Ticks:     ticks,
		Reports:   reports,
		Feeds:     feeds,
		Heartbeat: config.HeartbeatInterval,
	}

	m.Log.WithFields(logrus.Fields{
		"symbol":        config.Symbol,
		"target_spread": config.TargetSpread.String(),
		"trading_hours": settings.Window.String(),
	}).Info("Starting market maker")

	if err := executors.StartLoop(ctx, pair); err != nil {
		m.Log.WithError(err).Error("Market maker stopped")
		return err
	}
	return nil
}
