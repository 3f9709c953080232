package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tradebot-go/internal/portfolio"
	"tradebot-go/internal/risk"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var opened = time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

func TestOpenCloseRoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	pos := portfolio.Position{Symbol: "BTCUSDT", Side: portfolio.Long, EntryPrice: 50000, Quantity: 0.02,
		OpenedAt: opened, StopLossPrice: 49000, TakeProfitPrice: 52500}
	st := risk.State{TradesToday: 1, DayStart: opened.Truncate(24 * time.Hour), DayStartBalance: 10000}
	if err := s.SaveOpen(ctx, pos, st); err != nil {
		t.Fatalf("SaveOpen: %v", err)
	}
	positions, err := s.Positions(ctx)
	if err != nil || len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d (%v)", len(positions), err)
	}
	if positions[0] != pos {
		t.Fatalf("position mismatch: %+v vs %+v", positions[0], pos)
	}

	trade := portfolio.Trade{ID: "t1", Symbol: "BTCUSDT", Side: portfolio.Long, EntryPrice: 50000, ExitPrice: 52500,
		Quantity: 0.02, PnL: 50, PnLPercent: 5, OpenedAt: opened, ClosedAt: opened.Add(time.Hour), Reason: portfolio.ReasonTakeProfit}
	st.DailyPnL = 50
	if err := s.SaveClose(ctx, trade, st); err != nil {
		t.Fatalf("SaveClose: %v", err)
	}
	if positions, _ := s.Positions(ctx); len(positions) != 0 {
		t.Fatalf("position should be removed on close")
	}
	trades, err := s.Trades(ctx, 0)
	if err != nil || len(trades) != 1 || trades[0] != trade {
		t.Fatalf("unexpected trades %+v (%v)", trades, err)
	}
	loaded, err := s.LoadRiskState(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("LoadRiskState: %v", err)
	}
	if loaded.DailyPnL != 50 || loaded.TradesToday != 1 || !loaded.DayStart.Equal(st.DayStart) {
		t.Fatalf("unexpected risk state %+v", loaded)
	}
}

func TestRecordIsIdempotent(t *testing.T) {
	s := openTemp(t)
	trade := portfolio.Trade{ID: "dup", Symbol: "ETHUSDT", Side: portfolio.Short, EntryPrice: 10, ExitPrice: 9,
		Quantity: 1, PnL: 1, PnLPercent: 10, OpenedAt: opened, ClosedAt: opened.Add(time.Minute), Reason: portfolio.ReasonSignal}
	for i := 0; i < 2; i++ {
		if err := s.Record(trade); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	trades, err := s.Trades(context.Background(), 10)
	if err != nil || len(trades) != 1 {
		t.Fatalf("expected single trade, got %d (%v)", len(trades), err)
	}
}

func TestTradesLimitKeepsNewest(t *testing.T) {
	s := openTemp(t)
	for i := 0; i < 5; i++ {
		tr := portfolio.Trade{ID: string(rune('a' + i)), Symbol: "BTCUSDT", Side: portfolio.Long, EntryPrice: 1, ExitPrice: 1,
			Quantity: 1, OpenedAt: opened, ClosedAt: opened.Add(time.Duration(i) * time.Hour), Reason: portfolio.ReasonSignal}
		if err := s.Record(tr); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	trades, err := s.Trades(context.Background(), 2)
	if err != nil || len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d (%v)", len(trades), err)
	}
	if trades[0].ID != "d" || trades[1].ID != "e" {
		t.Fatalf("expected newest two in order, got %s %s", trades[0].ID, trades[1].ID)
	}
}

func TestLoadRiskStateMissing(t *testing.T) {
	s := openTemp(t)
	if _, err := s.LoadRiskState(context.Background(), "NONE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SaveRiskState(context.Background(), "NONE", risk.State{EmergencyStop: true}); err != nil {
		t.Fatalf("SaveRiskState: %v", err)
	}
	st, err := s.LoadRiskState(context.Background(), "NONE")
	if err != nil || !st.EmergencyStop {
		t.Fatalf("expected emergency stop persisted, got %+v (%v)", st, err)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
