package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot-go/internal/config"
	"tradebot-go/internal/exchange"
	"tradebot-go/internal/portfolio"
	"tradebot-go/internal/risk"
	"tradebot-go/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.App.APIAddr = ""
	cfg.App.MetricsAddr = ""
	cfg.Exchange.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	cfg.Store.Path = filepath.Join(dir, "bot.db")
	cfg.Paper.FillsPath = filepath.Join(dir, "trades.jsonl")
	cfg.Paper.CSVPath = filepath.Join(dir, "trades.csv")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRunWithStubFeed(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, zerolog.Nop(), WithFeedOptions(exchange.WithStubInterval(5*time.Millisecond)))
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	traders := a.Engine().Traders()
	require.Len(t, traders, 2)
	for _, tr := range traders {
		assert.Positive(t, tr.LastPrice(), tr.Symbol())
	}
	assert.False(t, a.Engine().Halt().Engaged())
}

func TestRestoresPersistedState(t *testing.T) {
	cfg := testConfig(t)
	opened := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	st, err := store.Open(cfg.Store.Path)
	require.NoError(t, err)
	pos := portfolio.Position{Symbol: "BTCUSDT", Side: portfolio.Long, EntryPrice: 50000, Quantity: 0.02,
		StopLossPrice: 49000, TakeProfitPrice: 52500, OpenedAt: opened}
	state := risk.State{DailyPnL: -12, TradesToday: 3, DayStart: opened.Truncate(24 * time.Hour), DayStartBalance: 10000}
	require.NoError(t, st.SaveOpen(context.Background(), pos, state))
	require.NoError(t, st.SaveClose(context.Background(), portfolio.Trade{ID: "t1", Symbol: "ETHUSDT", Side: portfolio.Long,
		EntryPrice: 100, ExitPrice: 110, Quantity: 1, PnL: 10, OpenedAt: opened, ClosedAt: opened.Add(time.Hour),
		Reason: portfolio.ReasonSignal}, risk.State{}))
	require.NoError(t, st.Close())

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	ledger := a.Engine().Ledger()
	got, ok := ledger.Position("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 0.02, got.Quantity, 1e-12)
	assert.Len(t, ledger.Trades(), 1)
	assert.InDelta(t, 10010, ledger.Balance(), 1e-9)
	assert.InDelta(t, 10010-1000, ledger.AvailableCash(), 1e-9)

	tr, ok := a.Engine().Trader("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 3, tr.RiskState().TradesToday)
}

func TestWarmupFromMarketData(t *testing.T) {
	cfg := testConfig(t)
	cfg.Exchange.Symbols = []string{"BTCUSDT"}
	cfg.Exchange.Timeframe = "1m"
	cfg.Exchange.WarmupBars = 50
	cfg.Strategy.Mode = "sma_cross"

	start := time.Now().UTC().Truncate(time.Minute).Add(-60 * time.Minute)
	bars := exchange.NewSynthetic("BTCUSDT", start, time.Minute, 100, 7).Generate(60)
	a, err := New(context.Background(), cfg, zerolog.Nop(), WithMarketData(exchange.NewSyntheticSource(bars)))
	require.NoError(t, err)
	defer a.Close()

	tr, _ := a.Engine().Trader("BTCUSDT")
	assert.Positive(t, tr.LastPrice())
	assert.Empty(t, a.Engine().Ledger().Trades(), "warmup never trades")
}

func TestJupiterVenueNeedsKey(t *testing.T) {
	t.Setenv("SOLANA_PRIVATE_KEY_BASE58", "")
	cfg := testConfig(t)
	cfg.Execution.Mode = "live"
	cfg.Execution.Venue = "jupiter"
	cfg.Dex.Pairs = []config.DexPair{{Symbol: "SOLUSDC", BaseMint: "So11111111111111111111111111111111111111112",
		QuoteMint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", BaseDecimals: 9, QuoteDecimals: 6}}
	require.NoError(t, cfg.Validate())

	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestUnknownStrategyFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategy.Mode = "nope"
	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
