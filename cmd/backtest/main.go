// Binary backtest replays historical bars through the decision cycle and
// prints a performance report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"tradebot-go/internal/app"
	"tradebot-go/internal/backtest"
	"tradebot-go/internal/config"
	"tradebot-go/internal/exchange"
	"tradebot-go/internal/signal"
	"tradebot-go/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	dataPath := flag.String("data", "", "CSV of bars (timestamp,open,high,low,close,volume); overrides backtest.data_path")
	synthetic := flag.Int("synthetic", 0, "generate this many synthetic bars instead of loading data")
	seed := flag.Int64("seed", 1, "seed for -synthetic")
	symbol := flag.String("symbol", "", "symbol to test (default: first configured symbol)")
	from := flag.String("from", "", "fetch bars from the exchange starting at this RFC3339 time")
	to := flag.String("to", "", "end of the exchange range (default: now)")
	save := flag.String("save", "", "write the loaded bars to this CSV")
	tradesCSV := flag.String("trades", "", "write closed trades to this CSV; overrides backtest.trades_csv")
	chart := flag.String("chart", "", "write an HTML equity chart; overrides backtest.chart_path")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		boot := util.NewLogger("info")
		boot.Fatal().Err(err).Str("path", *cfgPath).Msg("load config")
	}
	log, closer := app.Logger(cfg.App)
	defer closer.Close()

	sym := signal.NormalizeSymbol(*symbol)
	if sym == "" {
		sym = signal.NormalizeSymbol(cfg.Exchange.Symbols[0])
	}
	if *dataPath == "" {
		*dataPath = cfg.Backtest.DataPath
	}
	if *tradesCSV == "" {
		*tradesCSV = cfg.Backtest.TradesCSV
	}
	if *chart == "" {
		*chart = cfg.Backtest.ChartPath
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bars, err := loadBars(ctx, cfg, log, sym, *dataPath, *synthetic, *seed, *from, *to)
	if err != nil {
		log.Fatal().Err(err).Msg("load bars")
	}
	if *save != "" {
		if err := exchange.WriteBarsCSV(*save, bars); err != nil {
			log.Fatal().Err(err).Msg("save bars")
		}
	}

	runner, err := backtest.NewRunner(backtest.Config{
		Symbol:        sym,
		Timeframe:     cfg.Exchange.Timeframe,
		StrategyMode:  cfg.Strategy.Mode,
		Strategy:      cfg.StrategyParams(),
		Risk:          cfg.RiskConfig(),
		SlippageBps:   cfg.Backtest.SlippageBps,
		Annualization: cfg.Backtest.Annualization,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("backtest config")
	}
	rep, err := runner.Run(ctx, bars, cfg.Backtest.InitialBalance)
	if err != nil {
		log.Fatal().Err(err).Msg("backtest")
	}
	fmt.Println(rep.String())

	if *tradesCSV != "" {
		if err := writeFile(*tradesCSV, func(f *os.File) error { return backtest.WriteTradesCSV(f, rep.Trades) }); err != nil {
			log.Error().Err(err).Msg("write trades")
		}
	}
	if *chart != "" {
		if err := writeFile(*chart, func(f *os.File) error { return backtest.RenderEquityChart(rep, f) }); err != nil {
			log.Error().Err(err).Msg("write chart")
		}
	}
}

func loadBars(ctx context.Context, cfg *config.Config, log zerolog.Logger, sym, dataPath string,
	synthetic int, seed int64, from, to string) ([]signal.Bar, error) {
	step, err := exchange.ParseTimeframe(cfg.Exchange.Timeframe)
	if err != nil {
		return nil, err
	}
	switch {
	case synthetic > 0:
		start := time.Now().UTC().Truncate(step).Add(-time.Duration(synthetic) * step)
		return exchange.NewSynthetic(sym, start, step, 30000, seed).Generate(synthetic), nil
	case from != "":
		start, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return nil, fmt.Errorf("parse -from: %w", err)
		}
		end := time.Now().UTC()
		if to != "" {
			if end, err = time.Parse(time.RFC3339, to); err != nil {
				return nil, fmt.Errorf("parse -to: %w", err)
			}
		}
		bn := exchange.NewBinance(exchange.BinanceOptions{
			BaseURL:           cfg.Exchange.BaseURL,
			RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
			Timeout:           cfg.Exchange.Timeout(),
		}, log)
		return exchange.FetchRange(ctx, bn, sym, cfg.Exchange.Timeframe, start, end)
	case dataPath != "":
		src, err := exchange.LoadCSV(dataPath, sym)
		if err != nil {
			return nil, err
		}
		return src.Bars(), nil
	default:
		return nil, fmt.Errorf("no data: pass -data, -synthetic or -from")
	}
}

func writeFile(path string, fn func(*os.File) error) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
