// Binary executor trades with real orders. It refuses to start without -confirm-live.
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
	confirm := flag.Bool("confirm-live", false, "acknowledge that real orders will be sent")
	flag.Parse()

	boot := util.NewLogger("info")
	if !*confirm {
		boot.Fatal().Msg("refusing to trade live without -confirm-live")
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		boot.Fatal().Err(err).Str("path", *cfgPath).Msg("load config")
	}
	cfg.Execution.Mode = "live"
	if err := cfg.Validate(); err != nil {
		boot.Fatal().Err(err).Msg("config not usable for live trading")
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

	log.Warn().Str("venue", cfg.Execution.Venue).Strs("symbols", cfg.Exchange.Symbols).Msg("live executor started")
	if err := a.Run(ctx); err != nil {
		log.Error().Err(err).Msg("live executor stopped")
		return
	}
	log.Info().Msg("shutting down")
}
