// Package app assembles the trading runtime from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tradebot-go/internal/api"
	"tradebot-go/internal/config"
	"tradebot-go/internal/dex/solana"
	"tradebot-go/internal/engine"
	"tradebot-go/internal/exchange"
	"tradebot-go/internal/execution"
	"tradebot-go/internal/metrics"
	"tradebot-go/internal/portfolio"
	"tradebot-go/internal/risk"
	"tradebot-go/internal/signal"
	"tradebot-go/internal/store"
	"tradebot-go/internal/strategy"
)

const (
	testnetRESTURL   = "https://testnet.binance.vision"
	testnetStreamURL = "wss://testnet.binance.vision"
)

// App is a wired runtime: feed, engine, API and persistence.
type App struct {
	cfg    *config.Config
	log    zerolog.Logger
	engine *engine.Engine
	feed   *exchange.Feed
	api    *api.Server
	store  *store.Store

	closers  []io.Closer
	feedOpts []exchange.Option
	venue    execution.Venue
	market   exchange.MarketData
}

// Option customizes New.
type Option func(*App)

// WithFeedOptions passes extra options to the bar feed.
func WithFeedOptions(opts ...exchange.Option) Option {
	return func(a *App) { a.feedOpts = append(a.feedOpts, opts...) }
}

// WithVenue overrides the order venue used in live mode.
func WithVenue(v execution.Venue) Option {
	return func(a *App) { a.venue = v }
}

// WithMarketData overrides the source of warmup bars.
func WithMarketData(md exchange.MarketData) Option {
	return func(a *App) { a.market = md }
}

// New wires every component described by cfg. Close must be called on the
// returned App even when Run is never called.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg, log: log}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	ex := cfg.Exchange
	restURL, streamURL := ex.BaseURL, ex.StreamURL
	if ex.Testnet {
		if restURL == "" {
			restURL = testnetRESTURL
		}
		if streamURL == "" {
			streamURL = testnetStreamURL
		}
	}
	bn := exchange.NewBinance(exchange.BinanceOptions{
		APIKey:            ex.APIKey,
		APISecret:         ex.APISecret,
		BaseURL:           restURL,
		RequestsPerSecond: ex.RequestsPerSecond,
		Timeout:           ex.Timeout(),
	}, log)
	if a.market == nil && ex.Feed == exchange.ProviderBinance {
		a.market = bn
	}

	var positions []portfolio.Position
	var trades []portfolio.Trade
	if !cfg.Store.Disabled {
		a.store, err = store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.store)
		if positions, err = a.store.Positions(ctx); err != nil {
			return nil, fmt.Errorf("restore positions: %w", err)
		}
		if trades, err = a.store.Trades(ctx, 0); err != nil {
			return nil, fmt.Errorf("restore trades: %w", err)
		}
	}

	balance, fetched, err := a.startingBalance(ctx, bn)
	if err != nil {
		return nil, err
	}
	if fetched {
		// a venue balance already reflects past trades and excludes open positions
		for _, p := range positions {
			balance += p.Notional()
		}
		trades = nil
	}
	ledger := portfolio.NewLedger(balance)
	if err := ledger.Restore(positions, trades); err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	}

	exec, err := a.executor(bn)
	if err != nil {
		return nil, err
	}

	var recorders []portfolio.TradeRecorder
	if p := cfg.Paper.FillsPath; p != "" {
		rec, err := portfolio.NewJSONLRecorder(p)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rec)
		recorders = append(recorders, rec)
	}
	if p := cfg.Paper.CSVPath; p != "" {
		rec, err := portfolio.NewCSVRecorder(p)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rec)
		recorders = append(recorders, rec)
	}

	traders := make([]*engine.Trader, 0, len(ex.Symbols))
	for _, sym := range ex.Symbols {
		t, err := a.trader(ctx, sym, ledger, exec, recorders)
		if err != nil {
			return nil, err
		}
		traders = append(traders, t)
	}

	a.engine, err = engine.New(ledger, &risk.Halt{}, log, traders,
		engine.WithFlattenOnShutdown(cfg.Execution.FlattenOnShutdown))
	if err != nil {
		return nil, err
	}

	feedOpts := []exchange.Option{}
	if streamURL != "" {
		feedOpts = append(feedOpts, exchange.WithStreamBaseURL(streamURL))
	}
	feedOpts = append(feedOpts, a.feedOpts...)
	a.feed = exchange.NewFeed(ex.Feed, ex.Symbols, ex.Timeframe, log, feedOpts...)

	if cfg.App.APIAddr != "" {
		apiCfg := api.Config{Addr: cfg.App.APIAddr, Mode: cfg.Execution.Mode, Engine: a.engine, Log: log}
		if a.store != nil {
			apiCfg.Trades = a.store
		}
		if a.api, err = api.NewServer(apiCfg); err != nil {
			return nil, err
		}
	}

	log.Info().Str("mode", cfg.Execution.Mode).Str("feed", ex.Feed).Strs("symbols", ex.Symbols).
		Float64("balance", ledger.Balance()).Int("restored_positions", len(positions)).Msg("app wired")
	return a, nil
}

func (a *App) startingBalance(ctx context.Context, bn exchange.BalanceSource) (float64, bool, error) {
	if a.cfg.Execution.Mode != "live" || a.cfg.Execution.Venue != "binance" {
		return a.cfg.Paper.StartingCash, false, nil
	}
	bal, err := bn.FetchBalance(ctx, a.cfg.Exchange.QuoteAsset)
	if err != nil {
		return 0, false, fmt.Errorf("fetch %s balance: %w", a.cfg.Exchange.QuoteAsset, err)
	}
	if bal <= 0 {
		return 0, false, fmt.Errorf("no free %s balance", a.cfg.Exchange.QuoteAsset)
	}
	return bal, true, nil
}

func (a *App) executor(bn *exchange.Binance) (execution.Executor, error) {
	ec := a.cfg.Execution
	retryMin, retryMax := ec.RetryBounds()
	opts := execution.Options{
		Mode:        ec.Mode,
		SlippageBps: ec.SlippageBps,
		MaxRetries:  ec.MaxRetries,
		RetryMin:    retryMin,
		RetryMax:    retryMax,
	}
	if ec.Mode != "live" {
		return execution.New(opts, nil, a.log)
	}
	venue := a.venue
	if venue == nil {
		switch ec.Venue {
		case "jupiter":
			v, err := a.jupiterVenue()
			if err != nil {
				return nil, err
			}
			venue = v
		default:
			venue = bn
		}
	}
	return execution.New(opts, venue, a.log)
}

func (a *App) jupiterVenue() (*solana.JupiterVenue, error) {
	return NewJupiterVenue(a.cfg, a.log)
}

// NewJupiterVenue builds the on-chain venue from the dex and wallet sections.
func NewJupiterVenue(cfg *config.Config, log zerolog.Logger) (*solana.JupiterVenue, error) {
	key, err := solana.LoadPrivateKey(cfg.Wallet.PrivateKeyBase58)
	if err != nil {
		return nil, err
	}
	d := cfg.Dex
	client := solana.NewJupiterClient(solana.JupiterOptions{
		RPCURL:              d.RpcURL,
		BaseURL:             d.JupiterBase,
		Commitment:          d.Commitment,
		PriorityFeeLamports: d.PriorityFeeLamports,
		ConfirmTimeout:      d.ConfirmTimeout(),
	}, key)
	pairs := make([]solana.Pair, 0, len(d.Pairs))
	for _, p := range d.Pairs {
		pairs = append(pairs, solana.Pair{
			Symbol:        p.Symbol,
			BaseMint:      p.BaseMint,
			QuoteMint:     p.QuoteMint,
			BaseDecimals:  p.BaseDecimals,
			QuoteDecimals: p.QuoteDecimals,
		})
	}
	return solana.NewJupiterVenue(client, pairs, d.SlippageBps, log)
}

func (a *App) trader(ctx context.Context, symbol string, ledger *portfolio.Ledger,
	exec execution.Executor, recorders []portfolio.TradeRecorder) (*engine.Trader, error) {
	symbol = signal.NormalizeSymbol(symbol)
	strat, err := strategy.Build(a.cfg.Strategy.Mode, symbol, a.cfg.StrategyParams())
	if err != nil {
		return nil, err
	}
	var state risk.State
	if a.store != nil {
		state, err = a.store.LoadRiskState(ctx, symbol)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("restore risk state %s: %w", symbol, err)
		}
	}
	gate, err := risk.NewGate(symbol, a.cfg.RiskConfig(), state)
	if err != nil {
		return nil, err
	}
	opts := []engine.TraderOption{
		engine.WithRecorders(recorders...),
		engine.WithSlippageAllowance(a.cfg.Execution.SlippageBps),
	}
	if a.store != nil {
		opts = append(opts, engine.WithPersister(a.store))
	}
	t, err := engine.NewTrader(symbol, strat, gate, ledger, exec, a.log, opts...)
	if err != nil {
		return nil, err
	}
	a.warm(ctx, t)
	return t, nil
}

// warm replays recent closed bars so indicators are ready before the first
// live bar. Failures only delay the first signal.
func (a *App) warm(ctx context.Context, t *engine.Trader) {
	n := a.cfg.Exchange.WarmupBars
	if a.market == nil || n <= 0 {
		return
	}
	step, err := exchange.ParseTimeframe(a.cfg.Exchange.Timeframe)
	if err != nil {
		return
	}
	since := time.Now().UTC().Add(-time.Duration(n+1) * step)
	bars, err := a.market.FetchOHLCV(ctx, t.Symbol(), a.cfg.Exchange.Timeframe, since, n)
	if err != nil {
		a.log.Warn().Err(err).Str("sym", t.Symbol()).Msg("warmup fetch failed")
		return
	}
	// the newest kline may still be open
	if len(bars) > 0 && bars[len(bars)-1].Time.Add(step).After(time.Now().UTC()) {
		bars = bars[:len(bars)-1]
	}
	fed := t.Warm(bars)
	a.log.Info().Str("sym", t.Symbol()).Int("bars", fed).Int("needed", t.Strategy().Warmup()).Msg("warmed up")
}

// Engine returns the wired engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Run starts the feed, engine, API and metrics endpoint and blocks until ctx
// is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	bars := make(chan signal.Bar, 256)

	g.Go(func() error { return a.feed.Run(gctx, bars) })
	g.Go(func() error {
		return a.engine.Run(gctx, bars)
	})
	if a.api != nil {
		g.Go(func() error { return a.api.Run(gctx) })
	}
	if addr := a.cfg.App.MetricsAddr; addr != "" {
		srv := metrics.Serve(addr, a.log)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		a.log.Info().Str("addr", addr).Msg("metrics up")
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the store and the trade recorders.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
