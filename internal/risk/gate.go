package risk

import (
	"fmt"
	"time"

	"tradebot-go/internal/portfolio"
	"tradebot-go/internal/signal"
)

// State is the per-symbol risk bookkeeping for one trading day.
type State struct {
	DailyPnL        float64   `json:"daily_pnl"`
	TradesToday     int       `json:"trades_today"`
	DayStart        time.Time `json:"day_start"`
	DayStartBalance float64   `json:"day_start_balance"`
	EmergencyStop   bool      `json:"emergency_stop"`
}

// Action is what the caller must do with an allowed decision.
type Action string

const (
	ActionNone  Action = "none"
	ActionOpen  Action = "open"
	ActionClose Action = "close"
)

// Denial reasons. They double as metric labels.
const (
	ReasonEmergencyStop = "emergency_stop"
	ReasonMaxTrades     = "max_trades_per_day"
	ReasonDailyLoss     = "daily_loss_limit"
	ReasonHold          = "hold"
	ReasonNoPyramiding  = "no_pyramiding"
	ReasonShortDisabled = "short_disabled"
	ReasonInvalidInput  = "invalid_input"
)

// Input is everything Evaluate looks at for one signal.
type Input struct {
	Signal   signal.Signal
	Price    float64
	Balance  float64
	Now      time.Time
	Position *portfolio.Position
	Halted   bool
}

// Decision is the gate's verdict.
type Decision struct {
	Allow    bool           `json:"allow"`
	Reason   string         `json:"reason"`
	Detail   string         `json:"detail,omitempty"`
	Action   Action         `json:"action"`
	Side     portfolio.Side `json:"side,omitempty"`
	Quantity float64        `json:"quantity,omitempty"`
}

func deny(reason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail, Action: ActionNone}
}

// ExitKind names a forced exit.
type ExitKind string

const (
	ExitNone       ExitKind = "none"
	ExitStopLoss   ExitKind = "stop_loss"
	ExitTakeProfit ExitKind = "take_profit"
)

// Exit is the result of CheckExit.
type Exit struct {
	Kind   ExitKind
	Reason string
}

// CloseReason maps the exit to the ledger's close reason.
func (e Exit) CloseReason() portfolio.CloseReason {
	if e.Kind == ExitTakeProfit {
		return portfolio.ReasonTakeProfit
	}
	return portfolio.ReasonStopLoss
}

// Gate guards one symbol. It is not safe for concurrent use; each symbol's
// cycle owns its gate.
type Gate struct {
	symbol string
	cfg    Config
	state  State
}

// NewGate builds a gate starting from state, typically restored from storage.
func NewGate(symbol string, cfg Config, state State) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gate{symbol: symbol, cfg: cfg, state: state}, nil
}

// Symbol returns the guarded symbol.
func (g *Gate) Symbol() string { return g.symbol }

// Config returns the thresholds.
func (g *Gate) Config() Config { return g.cfg }

// State returns a copy of the bookkeeping.
func (g *Gate) State() State { return g.state }

// Rollover resets the daily counters when now falls on a later UTC day than
// the current one. It reports whether a reset happened.
func (g *Gate) Rollover(now time.Time, balance float64) bool {
	day := now.UTC().Truncate(24 * time.Hour)
	if !g.state.DayStart.IsZero() && !day.After(g.state.DayStart) {
		return false
	}
	g.state.DayStart = day
	g.state.DailyPnL = 0
	g.state.TradesToday = 0
	g.state.DayStartBalance = balance
	return true
}

// SetEmergencyStop toggles the per-symbol manual stop.
func (g *Gate) SetEmergencyStop(on bool) { g.state.EmergencyStop = on }

// RecordOpen counts a new position against today's trade limit.
func (g *Gate) RecordOpen() { g.state.TradesToday++ }

// RecordClose adds realized PnL to today's total.
func (g *Gate) RecordClose(pnl float64) { g.state.DailyPnL += pnl }

// Levels computes stop-loss and take-profit prices for a new entry.
func (g *Gate) Levels(side portfolio.Side, entry float64) (stop, take float64) {
	return g.cfg.Levels(side, entry)
}

// Evaluate applies the checks in order: day rollover, emergency stop, trade
// count, daily loss, HOLD, then open-position handling and sizing.
func (g *Gate) Evaluate(in Input) Decision {
	if !finitePositive(in.Price) || !finitePositive(in.Balance) {
		return deny(ReasonInvalidInput, fmt.Sprintf("price=%v balance=%v", in.Price, in.Balance))
	}
	g.Rollover(in.Now, in.Balance)

	if in.Halted || g.state.EmergencyStop {
		return deny(ReasonEmergencyStop, "trading halted")
	}
	if g.state.TradesToday >= g.cfg.MaxTradesPerDay {
		return deny(ReasonMaxTrades, fmt.Sprintf("%d trades today (max %d)", g.state.TradesToday, g.cfg.MaxTradesPerDay))
	}
	limit := -g.cfg.MaxDailyLossPercent / 100 * g.state.DayStartBalance
	if g.state.DailyPnL <= limit {
		return deny(ReasonDailyLoss, fmt.Sprintf("daily pnl %.2f <= limit %.2f", g.state.DailyPnL, limit))
	}
	dir := in.Signal.Direction
	if dir != signal.Buy && dir != signal.Sell {
		return deny(ReasonHold, in.Signal.Reason)
	}

	if pos := in.Position; pos != nil {
		held := signal.Buy
		if pos.Side == portfolio.Short {
			held = signal.Sell
		}
		if dir.Opposes(held) {
			return Decision{Allow: true, Reason: "opposing signal", Detail: in.Signal.Reason,
				Action: ActionClose, Side: pos.Side, Quantity: pos.Quantity}
		}
		return deny(ReasonNoPyramiding, fmt.Sprintf("%s position already open", pos.Side))
	}

	side := portfolio.Long
	if dir == signal.Sell {
		if !g.cfg.AllowShort {
			return deny(ReasonShortDisabled, "sell signal without position")
		}
		side = portfolio.Short
	}
	qty := g.cfg.Quantity(in.Balance, in.Price)
	if !finitePositive(qty) {
		return deny(ReasonInvalidInput, fmt.Sprintf("quantity=%v", qty))
	}
	return Decision{Allow: true, Reason: "signal", Detail: in.Signal.Reason,
		Action: ActionOpen, Side: side, Quantity: qty}
}

// CheckExit compares price with the position's stop and target. When both
// are breached the stop-loss wins.
func (g *Gate) CheckExit(pos portfolio.Position, price float64) Exit {
	if !finitePositive(price) {
		return Exit{Kind: ExitNone}
	}
	var stopHit, takeHit bool
	switch pos.Side {
	case portfolio.Long:
		stopHit = pos.StopLossPrice > 0 && price <= pos.StopLossPrice
		takeHit = pos.TakeProfitPrice > 0 && price >= pos.TakeProfitPrice
	case portfolio.Short:
		stopHit = pos.StopLossPrice > 0 && price >= pos.StopLossPrice
		takeHit = pos.TakeProfitPrice > 0 && price <= pos.TakeProfitPrice
	}
	switch {
	case stopHit:
		return Exit{Kind: ExitStopLoss, Reason: fmt.Sprintf("price %.4f crossed stop %.4f", price, pos.StopLossPrice)}
	case takeHit:
		return Exit{Kind: ExitTakeProfit, Reason: fmt.Sprintf("price %.4f crossed target %.4f", price, pos.TakeProfitPrice)}
	}
	return Exit{Kind: ExitNone}
}
