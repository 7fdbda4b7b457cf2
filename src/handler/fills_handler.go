package handler

import (
	"context"
	"encoding/json"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/model"
	"tradeengine/src/repository"
)

type fillSearcher interface {
	Search(ctx context.Context, opts repository.FillSearchOptions) ([]model.Fill, error)
}

// SearchFillsHandler lists raw fills, newest first. Supports pagination and
// filters (accountId, strategyId, symbol, status, side, from, to).
func SearchFillsHandler(repo fillSearcher) http.HandlerFunc {
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

		fills, err := repo.Search(r.Context(), repository.FillSearchOptions{
			AccountID:  accountID,
			StrategyID: strategyID,
			Symbol:     r.URL.Query().Get("symbol"),
			Status:     r.URL.Query().Get("status"),
			Side:       r.URL.Query().Get("side"),
			From:       from,
			To:         to,
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search fills")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(fills); err != nil {
			logger.WithError(err).Error("failed to encode fill search response")
		}
	}
}

// DefaultSearchFillsHandler wires the handler to the production repository implementation.
func DefaultSearchFillsHandler() http.HandlerFunc {
	return SearchFillsHandler(repository.NewFillRepository())
}
