package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/auth"
	"tradeengine/src/events"
	"tradeengine/src/handler"
	"tradeengine/src/repository"
	"tradeengine/src/risk"
)

// Deps carries what the ops API serves: the database behind the read
// endpoints, the breaker supervisor behind the resolve endpoint, and the
// event bus behind the websocket stream.
type Deps struct {
	DB         *gorm.DB
	Bus        *events.Bus
	Supervisor *risk.Supervisor
}

// NewRouter builds the ops API router. Split from Start so tests can drive
// the routes through httptest.
func NewRouter(config *Config, deps Deps) *chi.Mux {
	fills := repository.NewFillRepository().WithDB(deps.DB)
	trades := repository.NewCompletedTradeRepository().WithDB(deps.DB)
	breakers := repository.NewCircuitBreakerRepository().WithDB(deps.DB)
	strategies := repository.NewStrategyRepository().WithDB(deps.DB)

	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck error")
		}
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", EventsHandler(deps.Bus))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.RequireToken(config.APIToken))

		r.Get("/trades", handler.SearchTradesHandler(trades))
		r.Get("/fills", handler.SearchFillsHandler(fills))
		r.Get("/breakers", handler.SearchBreakersHandler(breakers))
		r.Post("/breakers/{id}/resolve", handler.ResolveBreakerHandler(deps.Supervisor))
		r.Get("/strategies", handler.ListStrategiesHandler(strategies))
		r.Post("/strategies/{id}/start", handler.StartStrategyHandler(strategies, deps.Supervisor))
		r.Post("/strategies/{id}/stop", handler.StopStrategyHandler(strategies))
	})

	return r
}

// Start runs the ops HTTP server until ctx is canceled, then shuts down
// gracefully.
func Start(ctx context.Context, config *Config, deps Deps) error {
	addr := ":" + config.Port
	srv := &http.Server{
		Addr:    addr,
		Handler: NewRouter(config, deps),
	}

	go func() {
		<-ctx.Done()

		logger.Info("Shutting down ops server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Shutdown error")
		}
	}()

	logger.Infof("Ops server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
