package integration

import (
	"bytes"
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tradebot-go/internal/backtest"
	"tradebot-go/internal/engine"
	"tradebot-go/internal/exchange"
	"tradebot-go/internal/execution"
	"tradebot-go/internal/portfolio"
	"tradebot-go/internal/risk"
	sig "tradebot-go/internal/signal"
	"tradebot-go/internal/store"
	"tradebot-go/internal/strategy"
)

func wave(n int) []sig.Bar {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]sig.Bar, n)
	for i := range bars {
		px := 100 + 10*math.Sin(float64(i)/8)
		bars[i] = sig.Bar{Symbol: "BTCUSDT", Time: start.Add(time.Duration(i) * time.Hour),
			Open: px, High: px + 0.5, Low: px - 0.5, Close: px, Volume: 10}
	}
	return bars
}

// The paper engine fed from a CSV file must book the same trades as a
// backtest over the same bars, and persist them.
func TestPaperFlowMatchesBacktest(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bars.csv")
	if err := exchange.WriteBarsCSV(csvPath, wave(400)); err != nil {
		t.Fatalf("write bars: %v", err)
	}
	src, err := exchange.LoadCSV(csvPath, "BTCUSDT")
	if err != nil {
		t.Fatalf("load bars: %v", err)
	}
	bars := src.Bars()

	db, err := store.Open(filepath.Join(dir, "bot.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	strat, err := strategy.Build("sma_cross", "BTCUSDT", strategy.DefaultParams())
	if err != nil {
		t.Fatalf("strategy: %v", err)
	}
	gate, err := risk.NewGate("BTCUSDT", risk.DefaultConfig(), risk.State{})
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	ledger := portfolio.NewLedger(10000)
	trader, err := engine.NewTrader("BTCUSDT", strat, gate, ledger, execution.NewSimulatedExecutor(0, logger), logger,
		engine.WithPersister(db), engine.WithRecorders(db))
	if err != nil {
		t.Fatalf("trader: %v", err)
	}
	eng, err := engine.New(ledger, &risk.Halt{}, logger, []*engine.Trader{trader})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ch := make(chan sig.Bar, len(bars))
	for _, b := range bars {
		ch <- b
	}
	close(ch)
	if err := eng.Run(ctx, ch); err != nil {
		t.Fatalf("run: %v", err)
	}

	paperTrades := ledger.Trades()
	if len(paperTrades) == 0 {
		t.Fatalf("expected the wave to produce trades")
	}
	if !strings.Contains(buf.String(), "position opened") {
		t.Fatalf("expected open log line, got %s", buf.String())
	}

	runner, err := backtest.NewRunner(backtest.Config{
		Symbol:       "BTCUSDT",
		Timeframe:    "1h",
		StrategyMode: "sma_cross",
		Strategy:     strategy.DefaultParams(),
		Risk:         risk.DefaultConfig(),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	rep, err := runner.Run(ctx, bars, 10000)
	if err != nil {
		t.Fatalf("backtest: %v", err)
	}
	if len(rep.Trades) < len(paperTrades) {
		t.Fatalf("backtest booked %d trades, paper %d", len(rep.Trades), len(paperTrades))
	}
	for i, tr := range paperTrades {
		if rep.Trades[i] != tr {
			t.Fatalf("trade %d differs:\npaper    %+v\nbacktest %+v", i, tr, rep.Trades[i])
		}
	}

	stored, err := db.Trades(ctx, 0)
	if err != nil {
		t.Fatalf("stored trades: %v", err)
	}
	if len(stored) != len(paperTrades) {
		t.Fatalf("expected %d stored trades, got %d", len(paperTrades), len(stored))
	}
	positions, err := db.Positions(ctx)
	if err != nil {
		t.Fatalf("stored positions: %v", err)
	}
	if _, open := ledger.Position("BTCUSDT"); open != (len(positions) == 1) {
		t.Fatalf("stored positions %v disagree with ledger", positions)
	}
}

func TestStubFeedDrivesEngine(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	feed := exchange.NewFeed(exchange.ProviderStub, []string{"BTCUSDT"}, "1m", zerolog.Nop(),
		exchange.WithStubInterval(5*time.Millisecond))
	strat, _ := strategy.Build("fusion", "BTCUSDT", strategy.DefaultParams())
	gate, _ := risk.NewGate("BTCUSDT", risk.DefaultConfig(), risk.State{})
	ledger := portfolio.NewLedger(1000)
	trader, err := engine.NewTrader("BTCUSDT", strat, gate, ledger, execution.NewSimulatedExecutor(5, zerolog.Nop()), zerolog.Nop())
	if err != nil {
		t.Fatalf("trader: %v", err)
	}
	eng, _ := engine.New(ledger, &risk.Halt{}, zerolog.Nop(), []*engine.Trader{trader})

	bars := make(chan sig.Bar, 16)
	go func() { _ = feed.Run(ctx, bars) }()
	if err := eng.Run(ctx, bars); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline, got %v", err)
	}
	if trader.LastPrice() <= 0 {
		t.Fatalf("expected the engine to see stub bars")
	}
	if eq := ledger.Summary(eng.Marks()).Equity; eq <= 0 {
		t.Fatalf("expected positive equity, got %v", eq)
	}
}
