package handler

import (
	"context"
	"encoding/json"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/model"
	"tradeengine/src/repository"
)

type tradeSearcher interface {
	Search(ctx context.Context, opts repository.TradeSearchOptions) ([]model.CompletedTrade, error)
}

// SearchTradesHandler lists completed round-trip trades, newest first.
// Supports pagination and filters (accountId, strategyId, symbol, from, to).
func SearchTradesHandler(repo tradeSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := parseUintParam(r, "accountId")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		strategyID, err := parseOptionalUintParam(r, "strategyId")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		from, err := parseTimeParam(r, "from")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		to, err := parseTimeParam(r, "to")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, offset, err := parsePagination(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		trades, err := repo.Search(r.Context(), repository.TradeSearchOptions{
			AccountID:  accountID,
			StrategyID: strategyID,
			Symbol:     r.URL.Query().Get("symbol"),
			From:       from,
			To:         to,
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search completed trades")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(trades); err != nil {
			logger.WithError(err).Error("failed to encode trade search response")
		}
	}
}

// DefaultSearchTradesHandler wires the handler to the production repository implementation.
func DefaultSearchTradesHandler() http.HandlerFunc {
	return SearchTradesHandler(repository.NewCompletedTradeRepository())
}
