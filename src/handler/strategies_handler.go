package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/model"
	"tradeengine/src/repository"
)

type strategyLister interface {
	List(ctx context.Context, opts repository.StrategySearchOptions) ([]model.Strategy, error)
}

type strategyStarter interface {
	FindByID(ctx context.Context, id uint) (*model.Strategy, error)
	SetStatus(ctx context.Context, id uint, status string) error
}

type breakerGuard interface {
	IsActive(ctx context.Context, accountID, strategyID uint) (bool, error)
}

// ListStrategiesHandler lists strategies with their current status.
// Supports pagination and filters (accountId, status).
func ListStrategiesHandler(repo strategyLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := parseUintParam(r, "accountId")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, offset, err := parsePagination(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		strategies, err := repo.List(r.Context(), repository.StrategySearchOptions{
			AccountID: accountID,
			Status:    r.URL.Query().Get("status"),
			Limit:     limit,
			Offset:    offset,
		})
		if err != nil {
			logger.WithError(err).Error("failed to list strategies")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(strategies); err != nil {
			logger.WithError(err).Error("failed to encode strategy list response")
		}
	}
}

// StartStrategyHandler moves a strategy into running so the engine's rescan
// picks it up. Refused while a breaker still covers the strategy; resolve
// the breaker first.
func StartStrategyHandler(repo strategyStarter, guard breakerGuard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		strategyID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid strategy id", http.StatusBadRequest)
			return
		}

		strategy, err := repo.FindByID(r.Context(), uint(strategyID))
		if err != nil {
			logger.WithError(err).Error("failed to fetch strategy")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if strategy == nil {
			http.Error(w, "strategy not found", http.StatusNotFound)
			return
		}

		if strategy.Status != model.StrategyStatusRunning {
			active, err := guard.IsActive(r.Context(), strategy.AccountID, strategy.ID)
			if err != nil {
				logger.WithError(err).Error("failed to check breaker state")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if active {
				http.Error(w, "a circuit breaker covers this strategy", http.StatusConflict)
				return
			}

			if err := repo.SetStatus(r.Context(), strategy.ID, model.StrategyStatusRunning); err != nil {
				logger.WithError(err).Error("failed to start strategy")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			logger.WithField("strategy_id", strategy.ID).Info("Strategy started by operator")
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": model.StrategyStatusRunning}); err != nil {
			logger.WithError(err).Error("failed to encode strategy start response")
		}
	}
}

// StopStrategyHandler moves a strategy into stopped. The running loop
// notices the status flip on its next cycle and retires.
func StopStrategyHandler(repo strategyStarter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		strategyID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid strategy id", http.StatusBadRequest)
			return
		}

		strategy, err := repo.FindByID(r.Context(), uint(strategyID))
		if err != nil {
			logger.WithError(err).Error("failed to fetch strategy")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if strategy == nil {
			http.Error(w, "strategy not found", http.StatusNotFound)
			return
		}

		if strategy.Status != model.StrategyStatusStopped {
			if err := repo.SetStatus(r.Context(), strategy.ID, model.StrategyStatusStopped); err != nil {
				logger.WithError(err).Error("failed to stop strategy")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			logger.WithField("strategy_id", strategy.ID).Info("Strategy stopped by operator")
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": model.StrategyStatusStopped}); err != nil {
			logger.WithError(err).Error("failed to encode strategy stop response")
		}
	}
}

// DefaultListStrategiesHandler wires the handler to the production repository implementation.
func DefaultListStrategiesHandler() http.HandlerFunc {
	return ListStrategiesHandler(repository.NewStrategyRepository())
}
