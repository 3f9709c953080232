// Package exchange hosts connectors for centralized venues and bar sources.
package exchange

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradebot-go/internal/metrics"
	"tradebot-go/internal/signal"
)

const (
	// ProviderStub emits deterministic synthetic bars (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance streams closed klines from Binance public websockets.
	ProviderBinance = "binance"
)

// Feed represents a pluggable market data stream implementation.
type Feed struct {
	provider      string
	symbols       []string
	timeframe     string
	log           zerolog.Logger
	stubInterval  time.Duration
	streamBaseURL string
	reconnectMin  time.Duration
	reconnectMax  time.Duration
	mu            sync.RWMutex
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const (
	defaultStubInterval  = 500 * time.Millisecond
	defaultStreamBaseURL = "wss://stream.binance.com:9443"
)

// WithStubInterval overrides how often the stub provider emits a bar.
func WithStubInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.stubInterval = d
		}
	}
}

// WithStreamBaseURL points the binance provider at another websocket host.
func WithStreamBaseURL(base string) Option {
	return func(f *Feed) {
		if base != "" {
			f.streamBaseURL = strings.TrimSuffix(base, "/")
		}
	}
}

// WithReconnectBackoff bounds the delay between reconnect attempts.
func WithReconnectBackoff(min, max time.Duration) Option {
	return func(f *Feed) {
		if min > 0 {
			f.reconnectMin = min
		}
		if max >= min && max > 0 {
			f.reconnectMax = max
		}
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, timeframe string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	if timeframe == "" {
		timeframe = "1m"
	}
	f := &Feed{
		provider:      strings.ToLower(provider),
		timeframe:     timeframe,
		log:           log,
		stubInterval:  defaultStubInterval,
		streamBaseURL: defaultStreamBaseURL,
		reconnectMin:  time.Second,
		reconnectMax:  30 * time.Second,
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetSymbols replaces the tracked symbol list (deduplicated, sorted for determinism).
func (f *Feed) SetSymbols(symbols []string) {
	f.setSymbols(symbols)
}

func (f *Feed) setSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = signal.NormalizeSymbol(sym)
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

func (f *Feed) snapshotSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Run pushes closed bars onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- signal.Bar) error {
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

func (f *Feed) emit(ctx context.Context, out chan<- signal.Bar, bar signal.Bar) error {
	select {
	case out <- bar:
		metrics.BarsTotal.WithLabelValues(bar.Symbol).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runStub emits one synthetic bar per symbol per interval. Bar times advance by
// the timeframe from the current wall clock so they are strictly increasing.
func (f *Feed) runStub(ctx context.Context, out chan<- signal.Bar) error {
	step, err := ParseTimeframe(f.timeframe)
	if err != nil {
		step = time.Minute
	}
	ticker := time.NewTicker(f.stubInterval)
	defer ticker.Stop()

	gens := make(map[string]*Synthetic)
	start := time.Now().UTC().Truncate(step)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, s := range f.snapshotSymbols() {
				g := gens[s]
				if g == nil {
					g = NewSynthetic(s, start, step, 100, int64(len(gens)+1))
					gens[s] = g
				}
				if err := f.emit(ctx, out, g.Next()); err != nil {
					return err
				}
			}
		}
	}
}
