package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"

	"tradebot-go/internal/app"
	"tradebot-go/internal/config"
	"tradebot-go/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		boot := util.NewLogger("info")
		boot.Fatal().Err(err).Str("path", *cfgPath).Msg("load config")
	}
	if cfg.Execution.Mode == "live" {
		cfg.Execution.Mode = "paper"
	}

	log, closer := app.Logger(cfg.App)
	defer closer.Close()

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("wire app")
	}
	defer a.Close()

	log.Info().Msg("paper engine started")
	if err := a.Run(ctx); err != nil {
		log.Error().Err(err).Msg("paper engine stopped")
		return
	}
	log.Info().Msg("shutting down")
}
