package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"marketmaker/src/handler"
	"marketmaker/src/model"
	"marketmaker/src/position"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

type PositionSource interface {
	Snapshot() position.Position
}

type TradeSource interface {
	FindLatest(ctx context.Context, limit int) ([]model.TradeRecord, error)
}

// NewRouter exposes the health check and the read-only status routes.
func NewRouter(positions PositionSource, trades TradeSource) http.Handler {
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})
	r.Get("/position", handler.PositionHandler(positions))
	r.Get("/trades", handler.TradesHandler(trades))

	return r
}

// Run serves h on port until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, port string, h http.Handler) error {
	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, h)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
