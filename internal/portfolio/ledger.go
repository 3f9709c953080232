package portfolio

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const epsilon = 1e-9

var tradeNamespace = uuid.MustParse("6f1c1f55-2a8e-4c55-9d1f-3b3f0b8e7a21")

// OpenRequest describes a fill that opens a position.
type OpenRequest struct {
	Symbol     string
	Side       Side
	Price      float64
	Quantity   float64
	At         time.Time
	StopLoss   float64
	TakeProfit float64
}

// Ledger tracks cash, open positions and closed trades. Opening locks the entry
// notional out of free cash; closing releases it together with the trade's PnL.
// It is safe for concurrent readers.
type Ledger struct {
	mu        sync.RWMutex
	initial   float64
	cash      float64
	realized  float64
	positions map[string]Position
	trades    []Trade
}

// NewLedger constructs a ledger funded with initialBalance.
func NewLedger(initialBalance float64) *Ledger {
	return &Ledger{
		initial:   initialBalance,
		cash:      initialBalance,
		positions: make(map[string]Position),
	}
}

func validAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// Open records a new position.
func (l *Ledger) Open(req OpenRequest) (Position, error) {
	if !validAmount(req.Price) || !validAmount(req.Quantity) {
		return Position{}, fmt.Errorf("%w: open %s qty=%v price=%v", ErrInvariant, req.Symbol, req.Quantity, req.Price)
	}
	if req.Side != Long && req.Side != Short {
		return Position{}, fmt.Errorf("%w: unknown side %q", ErrInvariant, req.Side)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.positions[req.Symbol]; ok {
		return Position{}, fmt.Errorf("%w: %w: %s", ErrInvariant, ErrPositionExists, req.Symbol)
	}
	notional := req.Price * req.Quantity
	if notional > l.cash+epsilon {
		return Position{}, fmt.Errorf("%w: need %.2f have %.2f", ErrInsufficientCash, notional, l.cash)
	}
	pos := Position{
		Symbol:          req.Symbol,
		Side:            req.Side,
		EntryPrice:      req.Price,
		Quantity:        req.Quantity,
		OpenedAt:        req.At,
		StopLossPrice:   req.StopLoss,
		TakeProfitPrice: req.TakeProfit,
	}
	l.cash -= notional
	l.positions[req.Symbol] = pos
	return pos, nil
}

// Close closes the full position of symbol at price and appends the trade.
func (l *Ledger) Close(symbol string, price float64, at time.Time, reason CloseReason) (Trade, error) {
	if !validAmount(price) {
		return Trade{}, fmt.Errorf("%w: close %s price=%v", ErrInvariant, symbol, price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return Trade{}, fmt.Errorf("%w: %w: %s", ErrInvariant, ErrNoPosition, symbol)
	}
	pnl := pos.PnL(price)
	trade := Trade{
		ID:         tradeID(pos, at),
		Symbol:     symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Quantity:   pos.Quantity,
		PnL:        pnl,
		PnLPercent: pnl / pos.Notional() * 100,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   at,
		Reason:     reason,
	}
	l.cash += pos.Notional() + pnl
	l.realized += pnl
	delete(l.positions, symbol)
	l.trades = append(l.trades, trade)
	return trade, nil
}

// tradeID is stable for the same position and close time so replays produce the same ids.
func tradeID(pos Position, closedAt time.Time) string {
	key := fmt.Sprintf("%s|%s|%d|%d", pos.Symbol, pos.Side, pos.OpenedAt.UnixNano(), closedAt.UnixNano())
	return uuid.NewSHA1(tradeNamespace, []byte(key)).String()
}

// Position returns the open position for symbol.
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	return pos, ok
}

// Positions returns open positions ordered by symbol.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Trades returns a copy of the closed trades in close order.
func (l *Ledger) Trades() []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Balance is the initial balance plus realized PnL.
func (l *Ledger) Balance() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.initial + l.realized
}

// AvailableCash reports free cash that can be deployed into new positions.
func (l *Ledger) AvailableCash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// InitialBalance returns the starting bankroll.
func (l *Ledger) InitialBalance() float64 { return l.initial }

// Summary returns balances, optionally marked to market using the supplied prices.
// Positions without a mark are valued at entry.
func (l *Ledger) Summary(marks map[string]float64) Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var unrealized float64
	for sym, pos := range l.positions {
		if mark, ok := marks[sym]; ok && validAmount(mark) {
			unrealized += pos.PnL(mark)
		}
	}
	s := Summary{
		InitialBalance: l.initial,
		Balance:        l.initial + l.realized,
		Cash:           l.cash,
		TotalPnL:       l.realized,
		UnrealizedPnL:  unrealized,
		TradeCount:     len(l.trades),
		OpenPositions:  len(l.positions),
	}
	s.Equity = s.Balance + unrealized
	for _, t := range l.trades {
		if t.PnL > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	if s.TradeCount > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TradeCount)
	}
	return s
}

// Restore replaces ledger state with persisted positions and trades.
func (l *Ledger) Restore(positions []Position, trades []Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	restored := make(map[string]Position, len(positions))
	var locked float64
	for _, p := range positions {
		if !validAmount(p.EntryPrice) || !validAmount(p.Quantity) {
			return fmt.Errorf("%w: restore %s", ErrInvariant, p.Symbol)
		}
		if _, dup := restored[p.Symbol]; dup {
			return fmt.Errorf("%w: %w: %s", ErrInvariant, ErrPositionExists, p.Symbol)
		}
		restored[p.Symbol] = p
		locked += p.Notional()
	}
	var realized float64
	for _, t := range trades {
		realized += t.PnL
	}
	cash := l.initial + realized - locked
	if cash < -epsilon {
		return fmt.Errorf("%w: restored positions exceed balance", ErrInvariant)
	}
	l.positions = restored
	l.trades = append([]Trade(nil), trades...)
	l.realized = realized
	l.cash = cash
	return nil
}
