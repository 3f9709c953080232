// Binary dexexec sends a single market order through the Jupiter venue.
package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"tradebot-go/internal/app"
	"tradebot-go/internal/config"
	"tradebot-go/internal/execution"
	"tradebot-go/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	symbol := flag.String("symbol", "", "configured dex pair symbol (default: first pair)")
	side := flag.String("side", "BUY", "BUY or SELL")
	qty := flag.Float64("qty", 0, "base quantity")
	price := flag.Float64("price", 0, "reference price in quote units, sizes the quote leg of a buy")
	confirm := flag.Bool("confirm-live", false, "acknowledge that a real swap will be sent")
	flag.Parse()

	log := util.NewLogger("info")
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if len(cfg.Dex.Pairs) == 0 {
		log.Fatal().Msg("no dex.pairs configured")
	}
	if !*confirm {
		log.Fatal().Msg("refusing to swap without -confirm-live")
	}

	venue, err := app.NewJupiterVenue(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("venue")
	}
	retryMin, retryMax := cfg.Execution.RetryBounds()
	exec := execution.NewLiveExecutor(venue, cfg.Execution.MaxRetries, retryMin, retryMax, log)

	sym := *symbol
	if sym == "" {
		sym = cfg.Dex.Pairs[0].Symbol
	}
	order := execution.Order{
		Symbol: sym,
		Side:   execution.Side(strings.ToUpper(*side)),
		Action: execution.ActionOpen,
		Qty:    *qty,
		Price:  *price,
		Time:   time.Now().UTC(),
	}
	if order.Side == execution.Sell {
		order.Action = execution.ActionClose
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second+cfg.Dex.ConfirmTimeout())
	defer cancel()
	fill, err := exec.Execute(ctx, order)
	if err != nil {
		log.Fatal().Err(err).Msg("swap")
	}
	fmt.Printf("filled %s %s qty=%.9f avg=%.6f tx=%s\n", fill.Side, fill.Symbol, fill.Qty, fill.Price, fill.VenueOrderID)
}
