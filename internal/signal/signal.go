// Package signal standardizes payloads shared between data ingestion, strategy and risk layers.
package signal

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Bar is one OHLCV candle. Bars are immutable once produced.
type Bar struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Direction is the discrete trade intent of a signal or vote.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	Hold Direction = "HOLD"
)

// Opposes reports whether d points the other way from other. HOLD opposes nothing.
func (d Direction) Opposes(other Direction) bool {
	return (d == Buy && other == Sell) || (d == Sell && other == Buy)
}

// Vote is a single indicator's opinion. Hold means neutral.
type Vote struct {
	Indicator string    `json:"indicator"`
	Direction Direction `json:"direction"`
	Detail    string    `json:"detail,omitempty"`
}

// Signal is the fused decision of one cycle. It is never persisted.
type Signal struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Agreeing  int       `json:"agreeing"`
	Total     int       `json:"total"`
	Strength  float64   `json:"strength"`
	Votes     []Vote    `json:"votes,omitempty"`
	Reason    string    `json:"reason"`
	Time      time.Time `json:"time"`
}

// HoldSignal builds a HOLD signal carrying the reason it was produced.
func HoldSignal(symbol string, ts time.Time, reason string) Signal {
	return Signal{Symbol: symbol, Direction: Hold, Reason: reason, Time: ts}
}

// ErrUnorderedSeries is returned when bars are not strictly increasing in time.
var ErrUnorderedSeries = errors.New("bars must be strictly increasing in time")

// ErrBadBar is returned for bars with non-finite or non-positive prices.
var ErrBadBar = errors.New("bar has invalid price")

// ValidateBar checks the prices of a single bar.
func ValidateBar(b Bar) error {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: %s at %s", ErrBadBar, b.Symbol, b.Time.Format(time.RFC3339))
		}
	}
	if math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) || b.Volume < 0 {
		return fmt.Errorf("%w: volume %s at %s", ErrBadBar, b.Symbol, b.Time.Format(time.RFC3339))
	}
	return nil
}

// ValidateSeries checks every bar and the strict time ordering of the series.
func ValidateSeries(bars []Bar) error {
	for i, b := range bars {
		if err := ValidateBar(b); err != nil {
			return err
		}
		if i > 0 && !b.Time.After(bars[i-1].Time) {
			return fmt.Errorf("%w: index %d (%s <= %s)", ErrUnorderedSeries, i,
				b.Time.Format(time.RFC3339), bars[i-1].Time.Format(time.RFC3339))
		}
	}
	return nil
}

// NormalizeSymbol turns "BTC/USDT" or "btc-usdt" into "BTCUSDT".
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
}
