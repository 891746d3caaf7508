package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"marketmaker/src/model"
	"marketmaker/src/position"

	logger "github.com/sirupsen/logrus"
)

const maxTradesPageSize = 500

type positionSource interface {
	Snapshot() position.Position
}

type tradeLister interface {
	FindLatest(ctx context.Context, limit int) ([]model.TradeRecord, error)
}

// PositionHandler returns the current position of the market maker.
func PositionHandler(source positionSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, source.Snapshot())
	}
}

// TradesHandler lists the most recent completed round trips, newest first.
// Supports ?limit=<n>.
func TradesHandler(repo tradeLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 || parsed > maxTradesPageSize {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		trades, err := repo.FindLatest(r.Context(), limit)
		if err != nil {
			logger.WithError(err).Error("failed to load trades")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if trades == nil {
			trades = []model.TradeRecord{}
		}
		writeJSON(w, trades)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
