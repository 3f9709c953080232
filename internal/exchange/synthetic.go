package exchange

import (
	"context"
	"math"
	"math/rand"
	"time"

	"tradebot-go/internal/signal"
)

// Synthetic generates a deterministic random-walk bar series. It backs the
// stub feed and offline backtests.
type Synthetic struct {
	symbol     string
	step       time.Duration
	next       time.Time
	price      float64
	drift      float64
	volatility float64
	rng        *rand.Rand
}

// NewSynthetic starts a series at start with the given opening price and seed.
func NewSynthetic(symbol string, start time.Time, step time.Duration, price float64, seed int64) *Synthetic {
	return &Synthetic{
		symbol:     symbol,
		step:       step,
		next:       start,
		price:      price,
		volatility: 0.005,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// WithDrift sets the mean per-bar return (0.001 = +0.1% per bar).
func (s *Synthetic) WithDrift(drift float64) *Synthetic { s.drift = drift; return s }

// WithVolatility sets the per-bar return spread; 0 gives a smooth series.
func (s *Synthetic) WithVolatility(v float64) *Synthetic { s.volatility = math.Max(v, 0); return s }

// Next returns the following bar.
func (s *Synthetic) Next() signal.Bar {
	open := s.price
	ret := s.drift + (s.rng.Float64()*2-1)*s.volatility
	closePx := math.Max(open*(1+ret), 1e-8)
	wick := math.Abs(closePx-open) * 0.5
	bar := signal.Bar{
		Symbol: s.symbol,
		Time:   s.next,
		Open:   open,
		High:   math.Max(open, closePx) + wick,
		Low:    math.Max(math.Min(open, closePx)-wick, 1e-8),
		Close:  closePx,
		Volume: 1 + s.rng.Float64()*10,
	}
	s.price = closePx
	s.next = s.next.Add(s.step)
	return bar
}

// Generate returns the next n bars.
func (s *Synthetic) Generate(n int) []signal.Bar {
	out := make([]signal.Bar, n)
	for i := range out {
		out[i] = s.Next()
	}
	return out
}

// SyntheticSource serves a pre-generated series through MarketData.
type SyntheticSource struct {
	bars []signal.Bar
}

// NewSyntheticSource wraps bars, which must be ordered.
func NewSyntheticSource(bars []signal.Bar) *SyntheticSource { return &SyntheticSource{bars: bars} }

// FetchOHLCV returns up to limit bars at or after since.
func (s *SyntheticSource) FetchOHLCV(_ context.Context, _ string, _ string, since time.Time, limit int) ([]signal.Bar, error) {
	return window(s.bars, since, limit), nil
}

func window(bars []signal.Bar, since time.Time, limit int) []signal.Bar {
	out := make([]signal.Bar, 0)
	for _, b := range bars {
		if b.Time.Before(since) {
			continue
		}
		out = append(out, b)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
