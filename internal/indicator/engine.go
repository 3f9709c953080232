// Package indicator computes rolling technical indicators from closing prices.
package indicator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"tradebot-go/internal/signal"
)

var (
	// ErrInsufficientData is returned until every indicator has seen its period of closes.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInvalidPrice is returned for non-finite or non-positive closes.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrInvalidParams is returned for periods or multipliers out of range.
	ErrInvalidParams = errors.New("invalid indicator parameters")
	// ErrOutOfOrder is returned when a bar is not newer than the last one ingested.
	ErrOutOfOrder = errors.New("bar out of order")
)

// Params configures the indicator set.
type Params struct {
	RSIPeriod  int     `yaml:"rsi_period" default:"14"`
	MACDFast   int     `yaml:"macd_fast" default:"12"`
	MACDSlow   int     `yaml:"macd_slow" default:"26"`
	MACDSignal int     `yaml:"macd_signal" default:"9"`
	BBPeriod   int     `yaml:"bb_period" default:"20"`
	BBStdDev   float64 `yaml:"bb_std_dev" default:"2"`
	EMAFast    int     `yaml:"ema_fast" default:"12"`
	EMASlow    int     `yaml:"ema_slow" default:"26"`
	SMAFast    int     `yaml:"sma_fast" default:"5"`
	SMASlow    int     `yaml:"sma_slow" default:"20"`
}

// DefaultParams returns the stock indicator settings.
func DefaultParams() Params {
	return Params{
		RSIPeriod: 14, MACDFast: 12, MACDSlow: 26, MACDSignal: 9,
		BBPeriod: 20, BBStdDev: 2, EMAFast: 12, EMASlow: 26, SMAFast: 5, SMASlow: 20,
	}
}

// Validate checks ranges and orderings.
func (p Params) Validate() error {
	switch {
	case p.RSIPeriod < 2:
		return fmt.Errorf("%w: rsi_period must be >= 2", ErrInvalidParams)
	case p.MACDFast < 1 || p.MACDSignal < 1:
		return fmt.Errorf("%w: macd periods must be >= 1", ErrInvalidParams)
	case p.MACDFast >= p.MACDSlow:
		return fmt.Errorf("%w: macd_fast must be < macd_slow", ErrInvalidParams)
	case p.BBPeriod < 2:
		return fmt.Errorf("%w: bb_period must be >= 2", ErrInvalidParams)
	case !(p.BBStdDev > 0):
		return fmt.Errorf("%w: bb_std_dev must be > 0", ErrInvalidParams)
	case p.EMAFast < 1 || p.EMASlow < 1 || p.SMAFast < 1 || p.SMASlow < 1:
		return fmt.Errorf("%w: moving average periods must be >= 1", ErrInvalidParams)
	case p.EMAFast >= p.EMASlow:
		return fmt.Errorf("%w: ema_fast must be < ema_slow", ErrInvalidParams)
	case p.SMAFast >= p.SMASlow:
		return fmt.Errorf("%w: sma_fast must be < sma_slow", ErrInvalidParams)
	}
	return nil
}

// Warmup is the number of closes needed before every indicator is ready.
func (p Params) Warmup() int {
	return max(p.RSIPeriod+1, p.MACDSlow+p.MACDSignal-1, p.BBPeriod, p.EMASlow, p.SMASlow)
}

// Snapshot is the indicator state after one close.
type Snapshot struct {
	Time      time.Time `json:"time"`
	Close     float64   `json:"close"`
	RSI       float64   `json:"rsi"`
	MACD      MACDValue `json:"macd"`
	Bollinger Bands     `json:"bollinger"`
	EMAFast   float64   `json:"ema_fast"`
	EMASlow   float64   `json:"ema_slow"`
	SMAFast   float64   `json:"sma_fast"`
	SMASlow   float64   `json:"sma_slow"`
	Bars      int       `json:"bars"`
}

// Values flattens the snapshot into name -> value, used for logging and the status API.
func (s Snapshot) Values() map[string]float64 {
	return map[string]float64{
		"close":          s.Close,
		"rsi":            s.RSI,
		"macd":           s.MACD.Line,
		"macd_signal":    s.MACD.Signal,
		"macd_histogram": s.MACD.Histogram,
		"bb_upper":       s.Bollinger.Upper,
		"bb_middle":      s.Bollinger.Middle,
		"bb_lower":       s.Bollinger.Lower,
		"ema_fast":       s.EMAFast,
		"ema_slow":       s.EMASlow,
		"sma_fast":       s.SMAFast,
		"sma_slow":       s.SMASlow,
	}
}

// Engine owns the indicator state of one symbol. It is not safe for concurrent use.
type Engine struct {
	params  Params
	rsi     *RSI
	macd    *MACD
	bb      *Bollinger
	emaFast *EMA
	emaSlow *EMA
	smaFast *SMA
	smaSlow *SMA

	bars    int
	last    time.Time
	cur     Snapshot
	prev    Snapshot
	hasCur  bool
	hasPrev bool
}

// NewEngine validates params and returns an empty engine.
func NewEngine(p Params) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		params:  p,
		rsi:     NewRSI(p.RSIPeriod),
		macd:    NewMACD(p.MACDFast, p.MACDSlow, p.MACDSignal),
		bb:      NewBollinger(p.BBPeriod, p.BBStdDev),
		emaFast: NewEMA(p.EMAFast),
		emaSlow: NewEMA(p.EMASlow),
		smaFast: NewSMA(p.SMAFast),
		smaSlow: NewSMA(p.SMASlow),
	}, nil
}

// Warmup is the number of bars needed before Update returns a snapshot.
func (e *Engine) Warmup() int { return e.params.Warmup() }

// Bars returns how many bars were ingested.
func (e *Engine) Bars() int { return e.bars }

// Update ingests a closed bar. It returns ErrInsufficientData until the
// warmup is complete; the bar is still consumed in that case.
func (e *Engine) Update(bar signal.Bar) (Snapshot, error) {
	c := bar.Close
	if math.IsNaN(c) || math.IsInf(c, 0) || c <= 0 {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidPrice, c)
	}
	if e.bars > 0 && !bar.Time.After(e.last) {
		return Snapshot{}, fmt.Errorf("%w: %s <= %s", ErrOutOfOrder,
			bar.Time.Format(time.RFC3339), e.last.Format(time.RFC3339))
	}
	e.bars++
	e.last = bar.Time
	e.rsi.Update(c)
	e.macd.Update(c)
	e.bb.Update(c)
	e.emaFast.Update(c)
	e.emaSlow.Update(c)
	e.smaFast.Update(c)
	e.smaSlow.Update(c)

	snap, ok := e.snapshot(bar.Time, c)
	if !ok {
		return Snapshot{}, ErrInsufficientData
	}
	if e.hasCur {
		e.prev, e.hasPrev = e.cur, true
	}
	e.cur, e.hasCur = snap, true
	return snap, nil
}

func (e *Engine) snapshot(ts time.Time, c float64) (Snapshot, bool) {
	rsi, ok1 := e.rsi.Value()
	macd, ok2 := e.macd.Value()
	bb, ok3 := e.bb.Value()
	ef, ok4 := e.emaFast.Value()
	es, ok5 := e.emaSlow.Value()
	sf, ok6 := e.smaFast.Value()
	ss, ok7 := e.smaSlow.Value()
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return Snapshot{}, false
	}
	return Snapshot{
		Time: ts, Close: c, RSI: rsi, MACD: macd, Bollinger: bb,
		EMAFast: ef, EMASlow: es, SMAFast: sf, SMASlow: ss, Bars: e.bars,
	}, true
}

// Current returns the latest snapshot, if any.
func (e *Engine) Current() (Snapshot, bool) { return e.cur, e.hasCur }

// Previous returns the snapshot before the latest one, if any.
func (e *Engine) Previous() (Snapshot, bool) { return e.prev, e.hasPrev }
