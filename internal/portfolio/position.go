// Package portfolio tracks open positions, closed trades and realized P&L.
package portfolio

import (
	"errors"
	"time"
)

// Side of an open position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

func (s Side) sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// CloseReason explains why a position was closed.
type CloseReason string

const (
	ReasonSignal        CloseReason = "signal"
	ReasonStopLoss      CloseReason = "stop_loss"
	ReasonTakeProfit    CloseReason = "take_profit"
	ReasonEndOfBacktest CloseReason = "end_of_backtest"
	ReasonShutdown      CloseReason = "shutdown"
)

var (
	// ErrInvariant marks ledger states that must never occur; callers halt on it.
	ErrInvariant = errors.New("ledger invariant violated")
	// ErrPositionExists is returned when opening a symbol that already has a position.
	ErrPositionExists = errors.New("position already open")
	// ErrNoPosition is returned when closing a symbol without a position.
	ErrNoPosition = errors.New("no open position")
	// ErrInsufficientCash is returned when free cash cannot cover the entry notional.
	ErrInsufficientCash = errors.New("insufficient cash")
)

// Position is one open position. At most one exists per symbol.
type Position struct {
	Symbol          string    `json:"symbol"`
	Side            Side      `json:"side"`
	EntryPrice      float64   `json:"entry_price"`
	Quantity        float64   `json:"quantity"`
	OpenedAt        time.Time `json:"opened_at"`
	StopLossPrice   float64   `json:"stop_loss_price"`
	TakeProfitPrice float64   `json:"take_profit_price"`
}

// Notional is the cash locked at entry.
func (p Position) Notional() float64 { return p.EntryPrice * p.Quantity }

// PnL is the profit of closing the position at price.
func (p Position) PnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Quantity * p.Side.sign()
}

// Trade is an immutable closed-position record.
type Trade struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price"`
	Quantity   float64     `json:"quantity"`
	PnL        float64     `json:"pnl"`
	PnLPercent float64     `json:"pnl_percent"`
	OpenedAt   time.Time   `json:"opened_at"`
	ClosedAt   time.Time   `json:"closed_at"`
	Reason     CloseReason `json:"reason"`
}

// Summary is a point-in-time view of the ledger.
type Summary struct {
	InitialBalance float64 `json:"initial_balance"`
	Balance        float64 `json:"balance"`
	Cash           float64 `json:"cash"`
	Equity         float64 `json:"equity"`
	TotalPnL       float64 `json:"total_pnl"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	TradeCount     int     `json:"trade_count"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRate        float64 `json:"win_rate"`
	OpenPositions  int     `json:"open_positions"`
}
