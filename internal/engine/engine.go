package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"tradebot-go/internal/metrics"
	"tradebot-go/internal/portfolio"
	"tradebot-go/internal/risk"
	"tradebot-go/internal/signal"
)

// Engine routes closed bars to per-symbol traders, one bar at a time.
type Engine struct {
	traders  map[string]*Trader
	ledger   *portfolio.Ledger
	halt     *risk.Halt
	log      zerolog.Logger
	flatten  bool
	cycleErr func(symbol string, err error)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithFlattenOnShutdown closes every open position when Run stops on cancellation.
func WithFlattenOnShutdown(on bool) Option {
	return func(e *Engine) { e.flatten = on }
}

// WithCycleErrorHook observes non-fatal cycle errors.
func WithCycleErrorHook(fn func(symbol string, err error)) Option {
	return func(e *Engine) { e.cycleErr = fn }
}

// New builds an engine over traders sharing ledger and halt.
func New(ledger *portfolio.Ledger, halt *risk.Halt, log zerolog.Logger, traders []*Trader, opts ...Option) (*Engine, error) {
	if ledger == nil || halt == nil {
		return nil, errors.New("engine needs a ledger and a halt flag")
	}
	e := &Engine{traders: make(map[string]*Trader, len(traders)), ledger: ledger, halt: halt, log: log}
	for _, t := range traders {
		if _, dup := e.traders[t.Symbol()]; dup {
			return nil, fmt.Errorf("duplicate trader for %s", t.Symbol())
		}
		e.traders[t.Symbol()] = t
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Ledger returns the shared ledger.
func (e *Engine) Ledger() *portfolio.Ledger { return e.ledger }

// Halt returns the process-wide halt flag.
func (e *Engine) Halt() *risk.Halt { return e.halt }

// Trader returns the trader of symbol.
func (e *Engine) Trader(symbol string) (*Trader, bool) {
	t, ok := e.traders[signal.NormalizeSymbol(symbol)]
	return t, ok
}

// Traders returns traders ordered by symbol.
func (e *Engine) Traders() []*Trader {
	out := make([]*Trader, 0, len(e.traders))
	for _, t := range e.traders {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol() < out[j].Symbol() })
	return out
}

// Marks returns the last close of every symbol that has seen a bar.
func (e *Engine) Marks() map[string]float64 {
	marks := make(map[string]float64, len(e.traders))
	for sym, t := range e.traders {
		if px := t.LastPrice(); px > 0 {
			marks[sym] = px
		}
	}
	return marks
}

// Run consumes bars until the channel closes, ctx is cancelled, or an
// invariant violation halts trading. A cycle in flight always completes.
func (e *Engine) Run(ctx context.Context, bars <-chan signal.Bar) error {
	for {
		select {
		case <-ctx.Done():
			if e.flatten {
				e.Shutdown(context.WithoutCancel(ctx))
			}
			return ctx.Err()
		case bar, ok := <-bars:
			if !ok {
				return nil
			}
			if err := e.Process(context.WithoutCancel(ctx), bar); err != nil {
				return err
			}
		}
	}
}

// Process runs one cycle for bar. It returns only fatal errors.
func (e *Engine) Process(ctx context.Context, bar signal.Bar) error {
	halted := e.halt.Engaged()
	t, ok := e.Trader(bar.Symbol)
	if !ok {
		e.log.Debug().Str("sym", bar.Symbol).Msg("bar for untraded symbol")
		return nil
	}
	_, err := t.Cycle(ctx, bar, halted)
	switch {
	case errors.Is(err, ErrInvariant):
		e.halt.Engage(err.Error())
		e.log.Error().Err(err).Str("sym", t.Symbol()).Msg("trading halted")
		return err
	case err != nil:
		e.log.Warn().Err(err).Str("sym", t.Symbol()).Time("bar", bar.Time).Msg("cycle skipped")
		if e.cycleErr != nil {
			e.cycleErr(t.Symbol(), err)
		}
	}
	metrics.Equity.Set(e.ledger.Summary(e.Marks()).Equity)
	return nil
}

// Shutdown closes every open position at its last price with reason shutdown.
func (e *Engine) Shutdown(ctx context.Context) {
	now := time.Now().UTC()
	for _, t := range e.Traders() {
		trade, err := t.Flatten(ctx, now, portfolio.ReasonShutdown)
		if err != nil {
			e.log.Error().Err(err).Str("sym", t.Symbol()).Msg("shutdown close failed")
			continue
		}
		if trade != nil {
			e.log.Info().Str("sym", t.Symbol()).Float64("pnl", trade.PnL).Msg("closed on shutdown")
		}
	}
}
