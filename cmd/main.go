package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"tradeengine/cmd/engine"
	"tradeengine/cmd/keys"
	"tradeengine/src/database"
	"tradeengine/src/events"
	"tradeengine/src/repository"
	"tradeengine/src/risk"
	"tradeengine/src/server"
)

var Version string

func main() {
	// Missing .env is fine; deployments configure through real env vars.
	_ = godotenv.Load()

	app := cli.NewApp()
	app.Name = "tradeengine"
	app.Usage = "The tradeengine command line interface"
	app.Version = Version

	app.Commands = []cli.Command{
		engineCMD,
		serverCMD,
		keysCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	engineCMD = cli.Command{
		Name:        "engine",
		Usage:       "run the trading engine",
		Action:      engineAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the strategy runner with the ops API attached`,
	}
	serverCMD = cli.Command{
		Name:        "server",
		Usage:       "run the ops API on its own",
		Action:      serverAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the ops API without the strategy runner`,
	}
	keysCMD = cli.Command{
		Name:  "keys",
		Usage: "manage the credentials master key and account API keys",
		Subcommands: []cli.Command{
			{
				Name:   "generate",
				Usage:  "print a fresh master key",
				Action: keysGenerateAction,
			},
			{
				Name:      "encrypt",
				Usage:     "encrypt one value with the master key",
				ArgsUsage: "<plaintext>",
				Action:    keysEncryptAction,
			},
			{
				Name:      "decrypt",
				Usage:     "decrypt one stored value",
				ArgsUsage: "<ciphertext>",
				Action:    keysDecryptAction,
			},
			{
				Name:  "set",
				Usage: "encrypt and store API credentials for an account",
				Flags: []cli.Flag{
					cli.UintFlag{Name: "account", Usage: "account id"},
					cli.StringFlag{Name: "key", Usage: "exchange API key"},
					cli.StringFlag{Name: "secret", Usage: "exchange API secret"},
				},
				Action: keysSetAction,
			},
		},
	}
)

func engineAction(_ *cli.Context) error {

	logrus.Info("Starting engine CMD")

	eng := &engine.Engine{}
	err := eng.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func serverAction(_ *cli.Context) error {

	logrus.Info("Starting server CMD")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
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

	err := server.Start(ctx, server.GetConfig(), server.Deps{
		DB:         database.MainDB,
		Bus:        bus,
		Supervisor: supervisor,
	})
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func keysGenerateAction(_ *cli.Context) error {
	return keys.Generate()
}

func keysEncryptAction(c *cli.Context) error {
	return keys.Encrypt(c.Args().First())
}

func keysDecryptAction(c *cli.Context) error {
	return keys.Decrypt(c.Args().First())
}

func keysSetAction(c *cli.Context) error {
	return keys.SetCredentials(c.Uint("account"), c.String("key"), c.String("secret"))
}
