// Package backtest replays historical bars through the live decision cycle.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tradebot-go/internal/engine"
	"tradebot-go/internal/exchange"
	"tradebot-go/internal/execution"
	"tradebot-go/internal/portfolio"
	"tradebot-go/internal/risk"
	"tradebot-go/internal/signal"
	"tradebot-go/internal/strategy"
)

// ErrNoBars is returned when Run gets an empty series.
var ErrNoBars = errors.New("backtest needs at least one bar")

// Config selects the strategy, risk thresholds and fill model of a run.
type Config struct {
	Symbol       string
	Timeframe    string
	StrategyMode string
	Strategy     strategy.Params
	Risk         risk.Config
	SlippageBps  float64
	// Annualization is the number of bars per year used for Sharpe; 0 derives it from Timeframe.
	Annualization float64
}

// Runner executes backtests.
type Runner struct {
	cfg Config
	log zerolog.Logger
}

// NewRunner validates the configuration.
func NewRunner(cfg Config, log zerolog.Logger) (*Runner, error) {
	if err := cfg.Risk.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Strategy.Indicators.Validate(); err != nil {
		return nil, err
	}
	if cfg.Annualization < 0 {
		return nil, fmt.Errorf("annualization must be >= 0")
	}
	return &Runner{cfg: cfg, log: log}, nil
}

// Run replays bars in order starting from initialBalance. Fills happen at the
// bar close and the bar time is the clock. Any position still open after the
// last bar is closed at its close with reason end_of_backtest.
func (r *Runner) Run(ctx context.Context, bars []signal.Bar, initialBalance float64) (Report, error) {
	if len(bars) == 0 {
		return Report{}, ErrNoBars
	}
	if !(initialBalance > 0) {
		return Report{}, fmt.Errorf("initial balance must be > 0, got %v", initialBalance)
	}
	if err := signal.ValidateSeries(bars); err != nil {
		return Report{}, err
	}
	symbol := signal.NormalizeSymbol(r.cfg.Symbol)
	if symbol == "" {
		symbol = signal.NormalizeSymbol(bars[0].Symbol)
	}

	strat, err := strategy.Build(r.cfg.StrategyMode, symbol, r.cfg.Strategy)
	if err != nil {
		return Report{}, err
	}
	gate, err := risk.NewGate(symbol, r.cfg.Risk, risk.State{})
	if err != nil {
		return Report{}, err
	}
	ledger := portfolio.NewLedger(initialBalance)
	exec := execution.NewSimulatedExecutor(r.cfg.SlippageBps, r.log)
	trader, err := engine.NewTrader(symbol, strat, gate, ledger, exec, r.log,
		engine.WithSlippageAllowance(r.cfg.SlippageBps))
	if err != nil {
		return Report{}, err
	}

	equity := make([]EquityPoint, 0, len(bars))
	for _, bar := range bars {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		bar.Symbol = symbol
		if _, err := trader.Cycle(ctx, bar, false); err != nil {
			if errors.Is(err, engine.ErrInvariant) {
				return Report{}, err
			}
			r.log.Debug().Err(err).Time("bar", bar.Time).Msg("cycle skipped")
		}
		marks := map[string]float64{symbol: bar.Close}
		equity = append(equity, EquityPoint{Time: bar.Time, Equity: ledger.Summary(marks).Equity})
	}

	last := bars[len(bars)-1]
	if _, err := trader.Flatten(ctx, last.Time, portfolio.ReasonEndOfBacktest); err != nil {
		return Report{}, fmt.Errorf("close at end of backtest: %w", err)
	}
	equity[len(equity)-1].Equity = ledger.Balance()

	annual := r.cfg.Annualization
	if annual == 0 {
		annual = annualization(r.cfg.Timeframe, bars)
	}
	rep := buildReport(symbol, len(bars), initialBalance, ledger.Balance(), ledger.Trades(), equity, annual)
	r.log.Info().Str("sym", symbol).Int("bars", rep.Bars).Int("trades", rep.TradeCount).
		Float64("return_pct", rep.TotalReturnPercent).Float64("max_dd_pct", rep.MaxDrawdownPercent).
		Float64("sharpe", rep.Sharpe).Msg("backtest finished")
	return rep, nil
}

const year = 365 * 24 * time.Hour

// annualization returns bars per year from the timeframe, falling back to the
// median spacing of the series.
func annualization(timeframe string, bars []signal.Bar) float64 {
	if d, err := exchange.ParseTimeframe(timeframe); err == nil {
		return float64(year) / float64(d)
	}
	if len(bars) < 2 {
		return 0
	}
	span := bars[len(bars)-1].Time.Sub(bars[0].Time) / time.Duration(len(bars)-1)
	if span <= 0 {
		return 0
	}
	return float64(year) / float64(span)
}
