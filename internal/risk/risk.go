// Package risk decides whether a signal may trade and at what size.
package risk

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"tradebot-go/internal/portfolio"
)

// Limits caps the notional of a single order. Zero disables the cap.
type Limits struct {
	MaxNotionalPerTrade float64
}

func (l Limits) Allow(notional float64) bool {
	return l.MaxNotionalPerTrade <= 0 || notional <= l.MaxNotionalPerTrade
}

// Config holds the risk thresholds. Percent values are in percent (2 means 2%).
type Config struct {
	StopLossPercent     float64
	TakeProfitPercent   float64
	PositionSizePercent float64
	MaxDailyLossPercent float64
	MaxTradesPerDay     int
	AllowShort          bool
	Limits              Limits
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		StopLossPercent:     2,
		TakeProfitPercent:   5,
		PositionSizePercent: 10,
		MaxDailyLossPercent: 5,
		MaxTradesPerDay:     10,
	}
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid risk config")

// Validate checks ranges.
func (c Config) Validate() error {
	switch {
	case c.StopLossPercent < 0 || c.StopLossPercent >= 100:
		return fmt.Errorf("%w: stop_loss_percent must be in [0,100)", ErrInvalidConfig)
	case c.TakeProfitPercent < 0:
		return fmt.Errorf("%w: take_profit_percent must be >= 0", ErrInvalidConfig)
	case c.PositionSizePercent <= 0 || c.PositionSizePercent > 100:
		return fmt.Errorf("%w: position_size_percent must be in (0,100]", ErrInvalidConfig)
	case c.MaxDailyLossPercent <= 0 || c.MaxDailyLossPercent > 100:
		return fmt.Errorf("%w: max_daily_loss_percent must be in (0,100]", ErrInvalidConfig)
	case c.MaxTradesPerDay < 1:
		return fmt.Errorf("%w: max_trades_per_day must be >= 1", ErrInvalidConfig)
	case c.Limits.MaxNotionalPerTrade < 0:
		return fmt.Errorf("%w: max_notional_per_trade must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// Levels returns the stop-loss and take-profit prices for an entry. A zero
// percent disables the level and yields 0.
func (c Config) Levels(side portfolio.Side, entry float64) (stop, take float64) {
	e := decimal.NewFromFloat(entry)
	hundred := decimal.NewFromInt(100)
	sl := decimal.NewFromFloat(c.StopLossPercent).Div(hundred)
	tp := decimal.NewFromFloat(c.TakeProfitPercent).Div(hundred)
	one := decimal.NewFromInt(1)
	if side == portfolio.Short {
		sl, tp = sl.Neg(), tp.Neg()
	}
	if c.StopLossPercent > 0 {
		stop = e.Mul(one.Sub(sl)).InexactFloat64()
	}
	if c.TakeProfitPercent > 0 {
		take = e.Mul(one.Add(tp)).InexactFloat64()
	}
	return stop, take
}

// Quantity sizes a new position as balance × size% / price, capped by the notional limit.
func (c Config) Quantity(balance, price float64) float64 {
	if !finitePositive(balance) || !finitePositive(price) {
		return 0
	}
	qty := balance * c.PositionSizePercent / 100 / price
	if !c.Limits.Allow(qty * price) {
		qty = c.Limits.MaxNotionalPerTrade / price
	}
	return qty
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// Halt is the process-wide emergency stop. It is engaged by a single writer
// (the shutdown or invariant handler) and read once per cycle.
type Halt struct {
	engaged atomic.Bool
	reason  atomic.Value
}

// Engage sets the flag; the first reason wins.
func (h *Halt) Engage(reason string) {
	if h.engaged.CompareAndSwap(false, true) {
		h.reason.Store(reason)
	}
}

// Engaged reports whether the halt is active.
func (h *Halt) Engaged() bool { return h.engaged.Load() }

// Reason returns why the halt was engaged.
func (h *Halt) Reason() string {
	if r, ok := h.reason.Load().(string); ok {
		return r
	}
	return ""
}
