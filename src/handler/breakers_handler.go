package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/auth"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

type breakerSearcher interface {
	Search(ctx context.Context, opts repository.BreakerSearchOptions) ([]model.CircuitBreakerState, error)
}

type breakerResolver interface {
	ResolveByOperator(ctx context.Context, breakerID uint, operator string) error
}

// SearchBreakersHandler lists circuit breaker states, newest trip first.
// Supports pagination and filters (accountId, strategyId, status).
func SearchBreakersHandler(repo breakerSearcher) http.HandlerFunc {
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

		limit, offset, err := parsePagination(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		states, err := repo.Search(r.Context(), repository.BreakerSearchOptions{
			AccountID:  accountID,
			StrategyID: strategyID,
			Status:     r.URL.Query().Get("status"),
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search circuit breakers")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(states); err != nil {
			logger.WithError(err).Error("failed to encode breaker search response")
		}
	}
}

type resolveBreakerPayload struct {
	Operator string `json:"operator"`
}

// ResolveBreakerHandler resolves an active breaker ahead of its cooldown.
// The operator name comes from the X-Operator header when the auth
// middleware captured one, otherwise from the request body. Covered
// strategies end stopped; nothing auto-resumes.
func ResolveBreakerHandler(resolver breakerResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		breakerID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid breaker id", http.StatusBadRequest)
			return
		}

		operator, _ := auth.GetOperatorFromContext(r.Context())
		if operator == "" {
			var payload resolveBreakerPayload
			decoder := json.NewDecoder(r.Body)
			decoder.DisallowUnknownFields()
			if err := decoder.Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
				logger.WithError(err).Warn("invalid breaker resolve payload")
				http.Error(w, "Invalid payload", http.StatusBadRequest)
				return
			}
			operator = strings.TrimSpace(payload.Operator)
		}

		if operator == "" {
			http.Error(w, "operator is required", http.StatusBadRequest)
			return
		}

		if err := resolver.ResolveByOperator(r.Context(), uint(breakerID), operator); err != nil {
			switch {
			case errors.Is(err, repository.ErrBreakerNotFound):
				http.Error(w, "breaker not found", http.StatusNotFound)
			case errors.Is(err, repository.ErrBreakerAlreadyResolved):
				http.Error(w, "breaker is not active", http.StatusConflict)
			default:
				logger.WithError(err).WithField("breaker_id", breakerID).
					Error("failed to resolve circuit breaker")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
			return
		}

		logger.WithFields(map[string]interface{}{
			"breaker_id": breakerID,
			"operator":   operator,
		}).Info("Circuit breaker resolved by operator")

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "resolved"}); err != nil {
			logger.WithError(err).Error("failed to encode breaker resolve response")
		}
	}
}

// DefaultSearchBreakersHandler wires the handler to the production repository implementation.
func DefaultSearchBreakersHandler() http.HandlerFunc {
	return SearchBreakersHandler(repository.NewCircuitBreakerRepository())
}
