package main

import (
	"fmt"
	"marketmaker/cmd/keys"
	"marketmaker/cmd/marketmaker"
	"marketmaker/cmd/preflight"
	"marketmaker/src/database"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func main() {
	// .env is optional; the real environment wins.
	_ = godotenv.Load()
	SetupLogger()

	app := cli.NewApp()
	app.Name = "marketmaker"
	app.Usage = "Binance single-symbol market maker"
	app.Version = Version

	app.Commands = []cli.Command{
		runCMD,
		preflightCMD,
		keysCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func SetupLogger() {
	config := database.GetConfig()

	level, err := logrus.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(config.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

var (
	runCMD = cli.Command{
		Name:        "run",
		Usage:       "run the market maker",
		Action:      runAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Stream the book, quote and trade the configured symbol until interrupted`,
	}
	preflightCMD = cli.Command{
		Name:        "preflight",
		Usage:       "check symbol, balances and market",
		Action:      preflightAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Print symbol filters, free balances and the live quote without trading`,
	}
	keysCMD = cli.Command{
		Name:        "keys",
		Usage:       "encrypt API credentials",
		Action:      keysAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Read the API key and secret from stdin and print enc: values for the env file`,
	}
)

func runAction(_ *cli.Context) error {
	logrus.Info("Starting market maker CMD")

	mm := &marketmaker.MarketMaker{Log: logrus.WithField("cmd", "run")}
	if err := mm.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func preflightAction(_ *cli.Context) error {
	logrus.Info("Starting preflight CMD")

	p := &preflight.Preflight{Log: logrus.WithField("cmd", "preflight"), Out: os.Stdout}
	if err := p.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func keysAction(_ *cli.Context) error {
	k := &keys.Keys{In: os.Stdin, Out: os.Stdout}
	return k.Start()
}
