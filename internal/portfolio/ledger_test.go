package portfolio

import (
	"errors"
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestOpenCloseLongPnL(t *testing.T) {
	ledger := NewLedger(10000)

	pos, err := ledger.Open(OpenRequest{Symbol: "BTCUSDT", Side: Long, Price: 50000, Quantity: 0.02, At: t0})
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	if math.Abs(ledger.AvailableCash()-9000) > 1e-6 {
		t.Fatalf("expected 1000 locked, cash %.2f", ledger.AvailableCash())
	}

	snap := ledger.Summary(map[string]float64{"BTCUSDT": 51000})
	if math.Abs(snap.UnrealizedPnL-20) > 1e-6 {
		t.Fatalf("expected unrealized 20, got %.4f", snap.UnrealizedPnL)
	}
	if math.Abs(snap.Equity-10020) > 1e-6 {
		t.Fatalf("equity did not balance: %.4f", snap.Equity)
	}

	trade, err := ledger.Close(pos.Symbol, 52500, t0.Add(time.Hour), ReasonTakeProfit)
	if err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if math.Abs(trade.PnL-50) > 1e-6 {
		t.Fatalf("expected pnl 50, got %.4f", trade.PnL)
	}
	if math.Abs(trade.PnLPercent-5) > 1e-6 {
		t.Fatalf("expected pnl%% 5, got %.4f", trade.PnLPercent)
	}
	if math.Abs(ledger.AvailableCash()-10050) > 1e-6 || math.Abs(ledger.Balance()-10050) > 1e-6 {
		t.Fatalf("cash and balance should include pnl")
	}
	if _, ok := ledger.Position("BTCUSDT"); ok {
		t.Fatalf("position should be gone")
	}
}

func TestShortPnLIsMirrored(t *testing.T) {
	ledger := NewLedger(1000)
	if _, err := ledger.Open(OpenRequest{Symbol: "ETHUSDT", Side: Short, Price: 100, Quantity: 2, At: t0}); err != nil {
		t.Fatalf("open: %v", err)
	}
	trade, err := ledger.Close("ETHUSDT", 90, t0.Add(time.Minute), ReasonSignal)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if math.Abs(trade.PnL-20) > 1e-9 {
		t.Fatalf("expected short pnl 20, got %.4f", trade.PnL)
	}
}

func TestOpenRejectsPyramiding(t *testing.T) {
	ledger := NewLedger(1000)
	req := OpenRequest{Symbol: "BTCUSDT", Side: Long, Price: 100, Quantity: 1, At: t0}
	if _, err := ledger.Open(req); err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err := ledger.Open(req)
	if !errors.Is(err, ErrPositionExists) || !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrPositionExists invariant, got %v", err)
	}
}

func TestOpenInsufficientCash(t *testing.T) {
	ledger := NewLedger(10)
	_, err := ledger.Open(OpenRequest{Symbol: "BTCUSDT", Side: Long, Price: 200, Quantity: 0.1, At: t0})
	if !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("expected cash error, got %v", err)
	}
	if errors.Is(err, ErrInvariant) {
		t.Fatalf("insufficient cash is not an invariant violation")
	}
}

func TestInvariantViolations(t *testing.T) {
	ledger := NewLedger(1000)
	if _, err := ledger.Open(OpenRequest{Symbol: "BTCUSDT", Side: Long, Price: math.NaN(), Quantity: 1}); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected invariant error for NaN price, got %v", err)
	}
	if _, err := ledger.Open(OpenRequest{Symbol: "BTCUSDT", Side: Long, Price: 100, Quantity: 0}); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected invariant error for zero qty, got %v", err)
	}
	if _, err := ledger.Close("BTCUSDT", 100, t0, ReasonSignal); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}
}

func TestWinRateZeroWithoutTrades(t *testing.T) {
	s := NewLedger(10000).Summary(nil)
	if s.WinRate != 0 || s.TradeCount != 0 {
		t.Fatalf("expected zero win rate, got %.2f", s.WinRate)
	}
}

func TestSummaryCountsWinsAndLosses(t *testing.T) {
	ledger := NewLedger(1000)
	for i, exit := range []float64{110, 90, 120} {
		at := t0.Add(time.Duration(i) * time.Hour)
		if _, err := ledger.Open(OpenRequest{Symbol: "BTCUSDT", Side: Long, Price: 100, Quantity: 1, At: at}); err != nil {
			t.Fatalf("open: %v", err)
		}
		if _, err := ledger.Close("BTCUSDT", exit, at.Add(time.Minute), ReasonSignal); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	s := ledger.Summary(nil)
	if s.Wins != 2 || s.Losses != 1 || math.Abs(s.WinRate-2.0/3.0) > 1e-9 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if math.Abs(s.TotalPnL-20) > 1e-9 {
		t.Fatalf("expected total pnl 20, got %.4f", s.TotalPnL)
	}
}

func TestTradeIDsAreDeterministic(t *testing.T) {
	run := func() string {
		l := NewLedger(1000)
		_, _ = l.Open(OpenRequest{Symbol: "BTCUSDT", Side: Long, Price: 100, Quantity: 1, At: t0})
		tr, _ := l.Close("BTCUSDT", 101, t0.Add(time.Hour), ReasonSignal)
		return tr.ID
	}
	if a, b := run(), run(); a == "" || a != b {
		t.Fatalf("expected stable ids, got %q and %q", a, b)
	}
}

func TestRestore(t *testing.T) {
	ledger := NewLedger(1000)
	positions := []Position{{Symbol: "BTCUSDT", Side: Long, EntryPrice: 100, Quantity: 2, OpenedAt: t0}}
	trades := []Trade{{ID: "x", Symbol: "ETHUSDT", PnL: -50}}
	if err := ledger.Restore(positions, trades); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if math.Abs(ledger.Balance()-950) > 1e-9 || math.Abs(ledger.AvailableCash()-750) > 1e-9 {
		t.Fatalf("unexpected restored balances %.2f / %.2f", ledger.Balance(), ledger.AvailableCash())
	}
	if len(ledger.Positions()) != 1 || len(ledger.Trades()) != 1 {
		t.Fatalf("restore lost state")
	}

	dup := append(positions, positions[0])
	if err := ledger.Restore(dup, nil); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected invariant error for duplicate positions, got %v", err)
	}
}
