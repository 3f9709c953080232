// Package engine runs the per-bar decision cycle: forced exits, indicators,
// fusion, risk gate, execution and ledger bookkeeping.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradebot-go/internal/execution"
	"tradebot-go/internal/indicator"
	"tradebot-go/internal/metrics"
	"tradebot-go/internal/portfolio"
	"tradebot-go/internal/risk"
	"tradebot-go/internal/signal"
	"tradebot-go/internal/strategy"
)

var (
	// ErrInvariant is fatal: the ledger or gate reached a state that must not happen.
	ErrInvariant = errors.New("engine invariant violated")
	// ErrStaleBar is returned for bars not newer than the last processed one.
	ErrStaleBar = errors.New("stale bar")
	// ErrSymbolMismatch is returned when a bar is routed to the wrong trader.
	ErrSymbolMismatch = errors.New("bar symbol does not match trader")
)

// ReasonInsufficientCash is the denial used when free cash cannot cover a new entry.
const ReasonInsufficientCash = "insufficient_cash"

// Persister stores the durable side effects of a cycle.
type Persister interface {
	SaveOpen(ctx context.Context, pos portfolio.Position, st risk.State) error
	SaveClose(ctx context.Context, trade portfolio.Trade, st risk.State) error
	SaveRiskState(ctx context.Context, symbol string, st risk.State) error
}

// CycleResult describes what one cycle did.
type CycleResult struct {
	Signal   signal.Signal
	Decision risk.Decision
	Exit     risk.Exit
	Opened   *portfolio.Position
	Closed   *portfolio.Trade
}

// TraderOption customizes a Trader.
type TraderOption func(*Trader)

// WithRecorders appends trade recorders notified on every close.
func WithRecorders(recs ...portfolio.TradeRecorder) TraderOption {
	return func(t *Trader) { t.recorders = append(t.recorders, recs...) }
}

// WithPersister sets the durable store.
func WithPersister(p Persister) TraderOption {
	return func(t *Trader) { t.persist = p }
}

// WithSlippageAllowance makes the entry cash check assume a fill up to bps
// worse than the bar close.
func WithSlippageAllowance(bps float64) TraderOption {
	return func(t *Trader) {
		if bps > 0 {
			t.slippage = bps / 10000
		}
	}
}

// Trader owns the strategy and risk gate of one symbol. The ledger is shared.
type Trader struct {
	symbol    string
	strategy  strategy.Strategy
	gate      *risk.Gate
	ledger    *portfolio.Ledger
	exec      execution.Executor
	recorders []portfolio.TradeRecorder
	persist   Persister
	slippage  float64
	log       zerolog.Logger

	mu        sync.RWMutex
	lastBar   time.Time
	lastPrice float64
	lastSig   signal.Signal
}

// NewTrader assembles a trader for symbol.
func NewTrader(symbol string, strat strategy.Strategy, gate *risk.Gate, ledger *portfolio.Ledger,
	exec execution.Executor, log zerolog.Logger, opts ...TraderOption) (*Trader, error) {
	symbol = signal.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, errors.New("trader needs a symbol")
	}
	if strat == nil || gate == nil || ledger == nil || exec == nil {
		return nil, errors.New("trader needs strategy, gate, ledger and executor")
	}
	t := &Trader{
		symbol:   symbol,
		strategy: strat,
		gate:     gate,
		ledger:   ledger,
		exec:     exec,
		log:      log.With().Str("sym", symbol).Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Symbol returns the traded symbol.
func (t *Trader) Symbol() string { return t.symbol }

// Strategy returns the signal source.
func (t *Trader) Strategy() strategy.Strategy { return t.strategy }

// RiskState returns a copy of the gate's bookkeeping.
func (t *Trader) RiskState() risk.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gate.State()
}

// LastPrice returns the last close seen, or 0 before the first bar.
func (t *Trader) LastPrice() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastPrice
}

// LastSignal returns the signal of the latest cycle.
func (t *Trader) LastSignal() signal.Signal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSig
}

// SetEmergencyStop toggles the symbol's manual stop and persists it.
func (t *Trader) SetEmergencyStop(ctx context.Context, on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gate.SetEmergencyStop(on)
	return t.saveState(ctx)
}

// Warm feeds historical bars to the strategy without trading. Bars older than
// the last processed one are skipped.
func (t *Trader) Warm(bars []signal.Bar) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, bar := range bars {
		if signal.ValidateBar(bar) != nil || !bar.Time.After(t.lastBar) {
			continue
		}
		if _, err := t.strategy.OnBar(bar); err != nil && !errors.Is(err, indicator.ErrInsufficientData) {
			t.log.Warn().Err(err).Time("bar", bar.Time).Msg("warmup bar rejected")
			continue
		}
		t.lastBar = bar.Time
		t.lastPrice = bar.Close
		n++
	}
	return n
}

// Cycle processes one closed bar. halted is the process-wide halt flag read
// once for the cycle. Only errors wrapping ErrInvariant are fatal.
func (t *Trader) Cycle(ctx context.Context, bar signal.Bar, halted bool) (CycleResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var res CycleResult
	if signal.NormalizeSymbol(bar.Symbol) != t.symbol {
		return res, fmt.Errorf("%w: %s != %s", ErrSymbolMismatch, bar.Symbol, t.symbol)
	}
	if err := signal.ValidateBar(bar); err != nil {
		return res, err
	}
	if !t.lastBar.IsZero() && !bar.Time.After(t.lastBar) {
		return res, fmt.Errorf("%w: %s <= %s", ErrStaleBar, bar.Time.Format(time.RFC3339), t.lastBar.Format(time.RFC3339))
	}
	t.lastBar = bar.Time
	t.lastPrice = bar.Close

	before := t.gate.State()
	if t.gate.Rollover(bar.Time, t.ledger.Balance()) {
		t.log.Info().Time("day", t.gate.State().DayStart).Msg("risk day rolled over")
	}

	forced := false
	var exitErr error
	if pos, ok := t.ledger.Position(t.symbol); ok {
		exit := t.gate.CheckExit(pos, bar.Close)
		res.Exit = exit
		if exit.Kind != risk.ExitNone {
			forced = true
			metrics.ForcedExitsTotal.WithLabelValues(t.symbol, string(exit.Kind)).Inc()
			t.log.Info().Str("kind", string(exit.Kind)).Str("reason", exit.Reason).Msg("forced exit")
			res.Closed, exitErr = t.closePosition(ctx, pos, bar, exit.CloseReason())
		}
	}

	// the strategy sees every accepted bar, even when the forced exit failed
	sig, err := t.strategy.OnBar(bar)
	if exitErr != nil {
		return res, exitErr
	}
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientData) {
			t.log.Debug().Time("bar", bar.Time).Msg("warming up")
			return res, t.saveIfChanged(ctx, before)
		}
		return res, fmt.Errorf("strategy: %w", err)
	}
	res.Signal = sig
	t.lastSig = sig
	metrics.SignalsTotal.WithLabelValues(t.symbol, string(sig.Direction)).Inc()
	if forced {
		return res, t.saveIfChanged(ctx, before)
	}

	var held *portfolio.Position
	if pos, ok := t.ledger.Position(t.symbol); ok {
		held = &pos
	}
	dec := t.gate.Evaluate(risk.Input{
		Signal:   sig,
		Price:    bar.Close,
		Balance:  t.ledger.Balance(),
		Now:      bar.Time,
		Position: held,
		Halted:   halted,
	})
	need := dec.Quantity * bar.Close * (1 + t.slippage)
	if dec.Allow && dec.Action == risk.ActionOpen && need > t.ledger.AvailableCash() {
		dec = risk.Decision{Reason: ReasonInsufficientCash, Action: risk.ActionNone,
			Detail: fmt.Sprintf("need %.2f have %.2f", need, t.ledger.AvailableCash())}
	}
	res.Decision = dec
	if !dec.Allow {
		if dec.Reason != risk.ReasonHold {
			metrics.RiskDenialsTotal.WithLabelValues(t.symbol, dec.Reason).Inc()
			t.log.Info().Str("signal", string(sig.Direction)).Str("reason", dec.Reason).Str("detail", dec.Detail).Msg("risk denied")
		}
		return res, t.saveIfChanged(ctx, before)
	}

	switch dec.Action {
	case risk.ActionOpen:
		pos, err := t.openPosition(ctx, dec, bar)
		if err != nil {
			return res, err
		}
		res.Opened = pos
	case risk.ActionClose:
		trade, err := t.closePosition(ctx, *held, bar, portfolio.ReasonSignal)
		if err != nil {
			return res, err
		}
		res.Closed = trade
	}
	return res, nil
}

func orderSide(side portfolio.Side, action execution.Action) execution.Side {
	long := side == portfolio.Long
	if action == execution.ActionClose {
		long = !long
	}
	if long {
		return execution.Buy
	}
	return execution.Sell
}

func (t *Trader) openPosition(ctx context.Context, dec risk.Decision, bar signal.Bar) (*portfolio.Position, error) {
	side := orderSide(dec.Side, execution.ActionOpen)
	order := execution.Order{
		ClientID: execution.ClientOrderID(t.symbol, side, bar.Time, execution.ActionOpen),
		Symbol:   t.symbol,
		Side:     side,
		Action:   execution.ActionOpen,
		Qty:      dec.Quantity,
		Price:    bar.Close,
		Time:     bar.Time,
	}
	fill, err := t.exec.Execute(ctx, order)
	if err != nil {
		t.log.Error().Err(err).Str("client_id", order.ClientID).Msg("open order failed")
		return nil, fmt.Errorf("execute open: %w", err)
	}
	stop, take := t.gate.Levels(dec.Side, fill.Price)
	pos, err := t.ledger.Open(portfolio.OpenRequest{
		Symbol:     t.symbol,
		Side:       dec.Side,
		Price:      fill.Price,
		Quantity:   fill.Qty,
		At:         bar.Time,
		StopLoss:   stop,
		TakeProfit: take,
	})
	if err != nil {
		// the order is already filled, so a position now exists with no ledger entry
		return nil, fmt.Errorf("%w: ledger open after fill %s: %w", ErrInvariant, order.ClientID, err)
	}
	t.gate.RecordOpen()
	t.log.Info().Str("side", string(pos.Side)).Float64("qty", pos.Quantity).Float64("px", pos.EntryPrice).
		Float64("sl", pos.StopLossPrice).Float64("tp", pos.TakeProfitPrice).Msg("position opened")
	metrics.OpenPositions.Set(float64(len(t.ledger.Positions())))
	if t.persist != nil {
		if err := t.persist.SaveOpen(ctx, pos, t.gate.State()); err != nil {
			metrics.PersistFailuresTotal.WithLabelValues(t.symbol, "open").Inc()
			return &pos, fmt.Errorf("%w: persist open: %w", ErrInvariant, err)
		}
	}
	return &pos, nil
}

func (t *Trader) closePosition(ctx context.Context, pos portfolio.Position, bar signal.Bar, reason portfolio.CloseReason) (*portfolio.Trade, error) {
	side := orderSide(pos.Side, execution.ActionClose)
	order := execution.Order{
		ClientID: execution.ClientOrderID(t.symbol, side, bar.Time, execution.ActionClose),
		Symbol:   t.symbol,
		Side:     side,
		Action:   execution.ActionClose,
		Qty:      pos.Quantity,
		Price:    bar.Close,
		Time:     bar.Time,
	}
	fill, err := t.exec.Execute(ctx, order)
	if err != nil {
		t.log.Error().Err(err).Str("client_id", order.ClientID).Str("reason", string(reason)).Msg("close order failed")
		return nil, fmt.Errorf("execute close: %w", err)
	}
	trade, err := t.ledger.Close(t.symbol, fill.Price, bar.Time, reason)
	if err != nil {
		if errors.Is(err, portfolio.ErrInvariant) {
			return nil, fmt.Errorf("%w: %w", ErrInvariant, err)
		}
		return nil, fmt.Errorf("ledger close: %w", err)
	}
	t.gate.RecordClose(trade.PnL)
	t.log.Info().Str("side", string(trade.Side)).Float64("pnl", trade.PnL).Float64("pnl_pct", trade.PnLPercent).
		Str("reason", string(reason)).Msg("position closed")
	for _, rec := range t.recorders {
		if err := rec.Record(trade); err != nil {
			t.log.Error().Err(err).Msg("record trade failed")
		}
	}
	metrics.DailyPnL.WithLabelValues(t.symbol).Set(t.gate.State().DailyPnL)
	metrics.OpenPositions.Set(float64(len(t.ledger.Positions())))
	if t.persist != nil {
		if err := t.persist.SaveClose(ctx, trade, t.gate.State()); err != nil {
			metrics.PersistFailuresTotal.WithLabelValues(t.symbol, "close").Inc()
			return &trade, fmt.Errorf("%w: persist close: %w", ErrInvariant, err)
		}
	}
	return &trade, nil
}

// Flatten closes the open position, if any, at the last seen price.
func (t *Trader) Flatten(ctx context.Context, at time.Time, reason portfolio.CloseReason) (*portfolio.Trade, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.ledger.Position(t.symbol)
	if !ok || t.lastPrice <= 0 {
		return nil, nil
	}
	if at.IsZero() {
		at = t.lastBar
	}
	return t.closePosition(ctx, pos, signal.Bar{Symbol: t.symbol, Time: at, Close: t.lastPrice}, reason)
}

func (t *Trader) saveState(ctx context.Context) error {
	if t.persist == nil {
		return nil
	}
	if err := t.persist.SaveRiskState(ctx, t.symbol, t.gate.State()); err != nil {
		metrics.PersistFailuresTotal.WithLabelValues(t.symbol, "risk_state").Inc()
		t.log.Error().Err(err).Msg("persist risk state failed")
	}
	return nil
}

func (t *Trader) saveIfChanged(ctx context.Context, before risk.State) error {
	if t.gate.State() == before {
		return nil
	}
	metrics.DailyPnL.WithLabelValues(t.symbol).Set(t.gate.State().DailyPnL)
	return t.saveState(ctx)
}
