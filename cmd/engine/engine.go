package engine

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tradeengine/src/cache"
	"tradeengine/src/connectors"
	"tradeengine/src/database"
	"tradeengine/src/events"
	"tradeengine/src/executors"
	"tradeengine/src/matcher"
	"tradeengine/src/repository"
	"tradeengine/src/risk"
	"tradeengine/src/security"
	"tradeengine/src/server"
)

// Engine is the trading daemon: the strategy runner with the risk gate,
// plus the ops API sharing the same bus and supervisor.
type Engine struct {
}

func (t *Engine) Start() error {
	config := GetConfig()
	execCfg := executors.GetConfig()
	riskCfg := risk.GetConfig()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	// Initialize read-only database
	if err := database.InitReadOnlyDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to read-only database")
		return err
	}

	masterKey, err := security.ParseKey(security.GetConfig().MasterKey)
	if err != nil {
		return fmt.Errorf("parsing credentials master key: %w", err)
	}

	dedupStore, err := cache.New(config.CacheConfig("dedup", execCfg.DedupTTL()))
	if err != nil {
		return err
	}
	defer dedupStore.Close()

	peakStore, err := cache.New(config.CacheConfig("peaks", riskCfg.PeakCacheTTL()))
	if err != nil {
		return err
	}
	defer peakStore.Close()

	eventsCfg := events.GetConfig()
	bus := events.NewBus(eventsCfg.BufferSize)
	defer bus.Close()

	if eventsCfg.KafkaEnabled {
		sink := events.NewKafkaSink(bus, eventsCfg)
		sink.Start(ctx)
		defer sink.Close()
	}

	pool := executors.NewConnectorPool(executors.BinanceFactory, masterKey)

	riskMgr := risk.NewManager(
		repository.NewCompletedTradeRepository(),
		executors.NewVenueExposure(pool),
		peakStore,
		riskCfg,
	)

	// The canceler is attached below, once the runner exists.
	supervisor := risk.NewSupervisor(
		repository.NewCircuitBreakerRepository(),
		repository.NewStrategyRepository(),
		repository.NewCompletedTradeRepository(),
		bus,
		nil,
	)

	var newsGate *risk.NewsGate
	if riskCfg.NewsGateEnabled {
		newsGate = risk.NewNewsGate(connectors.NewCalendarClient(), risk.NewsWindowConfig{
			BlockBefore:  time.Duration(riskCfg.NewsBlockBefore) * time.Minute,
			BlockAfter:   time.Duration(riskCfg.NewsBlockAfter) * time.Minute,
			Countries:    strings.Split(riskCfg.NewsCountries, ","),
			RefreshEvery: time.Duration(riskCfg.NewsRefreshEveryM) * time.Minute,
		})
	}

	accounts := repository.NewAccountRepository()
	tradeMatcher := matcher.NewMatcherWithRouter(
		database.MainDB,
		func(ctx context.Context, accountID uint) (matcher.FundingSource, error) {
			account, err := accounts.FindByID(ctx, accountID)
			if err != nil {
				return nil, err
			}
			if account == nil {
				return nil, fmt.Errorf("account %d not found", accountID)
			}
			return pool.For(account)
		},
		bus,
	)

	engine := executors.NewEngine(
		database.MainDB,
		pool,
		riskMgr,
		supervisor,
		newsGate,
		tradeMatcher,
		dedupStore,
		bus,
		execCfg,
	)

	signalSource := executors.NewDBSignalSource(
		repository.NewTradingSignalRepository(),
		repository.NewFillRepository(),
	)

	runner, err := executors.NewRunner(database.MainDB, engine, signalSource, bus, execCfg)
	if err != nil {
		return err
	}
	supervisor.SetCanceler(runner)

	if config.OpsServer {
		go func() {
			if err := server.Start(ctx, server.GetConfig(), server.Deps{
				DB:         database.MainDB,
				Bus:        bus,
				Supervisor: supervisor,
			}); err != nil {
				logrus.WithError(err).Error("Ops server stopped")
			}
		}()
	}

	logrus.WithFields(map[string]interface{}{
		"poolSize":    execCfg.PoolSize,
		"rescanEvery": execCfg.RescanEvery(),
		"newsGate":    riskCfg.NewsGateEnabled,
	}).Info("Starting strategy runner")

	return runner.Run(ctx)
}
