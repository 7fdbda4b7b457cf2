package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/database"
	"tradeengine/src/events"
	"tradeengine/src/repository"
	"tradeengine/src/risk"
	"tradeengine/src/server"
)

var APP_NAME = os.Getenv("APP_NAME")

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)

	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logger.SetFormatter(&logger.JSONFormatter{})
		return
	}

	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

// main runs the ops API on its own, against the shared database. The full
// daemon (runner plus ops API in one process) is the cmd binary's engine
// command.
func main() {
	_ = godotenv.Load()

	SetupLogger()
	defer handlePanic()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	bus := events.NewBus(events.GetConfig().BufferSize)
	defer bus.Close()

	// A standalone ops server resolves breakers but cancels no loops;
	// engine processes notice the resolved rows on their next rescan.
	supervisor := risk.NewSupervisor(
		repository.NewCircuitBreakerRepository(),
		repository.NewStrategyRepository(),
		repository.NewCompletedTradeRepository(),
		bus,
		nil,
	)

	if err := server.Start(ctx, server.GetConfig(), server.Deps{
		DB:         database.MainDB,
		Bus:        bus,
		Supervisor: supervisor,
	}); err != nil {
		logger.WithError(err).Fatal("Ops server stopped")
	}
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}
