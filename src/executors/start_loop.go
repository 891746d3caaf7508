package executors

import (
	"context"
	"errors"
	"marketmaker/src/connectors"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Pair bundles the two consumers of one symbol with the feeds that produce
// their input.
type Pair struct {
	MarketData *MarketDataListener
	Execution  *ExecutionProcessor
	Machine    Machine

	Ticks   <-chan connectors.BookTicker
	Reports <-chan connectors.ExecutionReport

	// Feeds run alongside the consumers, e.g. the websocket readers that
	// fill Ticks and Reports.
	Feeds []func(ctx context.Context) error

	// Heartbeat drives Tick when no market data arrives. Zero disables it.
	Heartbeat time.Duration
}

// StartLoop runs the pair until ctx is done or any worker fails. A closed
// feed is fatal: nobody is left to drive or reconcile the position.
func StartLoop(ctx context.Context, p Pair) error {
	if p.MarketData == nil || p.Execution == nil || p.Machine == nil {
		return errors.New("start loop: market data, execution and machine are required")
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, feed := range p.Feeds {
		feed := feed
		g.Go(func() error {
			return feed(gctx)
		})
	}

	g.Go(func() error {
		return p.MarketData.Run(gctx, p.Ticks)
	})
	g.Go(func() error {
		return p.Execution.Run(gctx, p.Reports)
	})

	if p.Heartbeat > 0 {
		g.Go(func() error {
			return heartbeat(gctx, p.Machine, p.Heartbeat)
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		// Feeds close their channels on shutdown; that is not a failure.
		logger.Info("loop stopped")
		return nil
	}
	if err != nil {
		logger.WithError(err).Error("loop stopped with error")
	}
	return err
}

func heartbeat(ctx context.Context, machine Machine, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if _, err := machine.Tick(ctx, now); err != nil {
				logger.WithError(err).Warn("heartbeat tick failed")
			}
		}
	}
}
