package strategy

import (
	"fmt"
	"math"

	"tradebot-go/internal/indicator"
	"tradebot-go/internal/signal"
)

// Momentum votes when the close moved more than threshold percent over the last lookback bars.
type Momentum struct {
	threshold float64
	lookback  int
	closes    []float64
}

// NewMomentum builds a momentum voter; thresholdPct is in percent (1 means 1%).
func NewMomentum(thresholdPct float64, lookback int) *Momentum {
	if thresholdPct <= 0 {
		thresholdPct = 1
	}
	if lookback <= 0 {
		lookback = 1
	}
	return &Momentum{threshold: thresholdPct, lookback: lookback}
}

func (m *Momentum) Name() string { return "momentum" }

// Observe records every close, including warmup bars.
func (m *Momentum) Observe(bar signal.Bar) {
	m.closes = append(m.closes, bar.Close)
	if extra := len(m.closes) - (m.lookback + 1); extra > 0 {
		m.closes = m.closes[extra:]
	}
}

// Change returns the percent change over the window, false until the window is full.
func (m *Momentum) Change() (float64, bool) {
	if len(m.closes) < m.lookback+1 {
		return 0, false
	}
	oldest, latest := m.closes[0], m.closes[len(m.closes)-1]
	if oldest <= 0 {
		return 0, false
	}
	return (latest - oldest) / oldest * 100, true
}

func (m *Momentum) Vote(_ *indicator.Snapshot, _ indicator.Snapshot) signal.Vote {
	change, ok := m.Change()
	if !ok || math.Abs(change) <= m.threshold {
		return neutral(m.Name())
	}
	dir := signal.Buy
	label := "positive"
	if change < 0 {
		dir, label = signal.Sell, "negative"
	}
	return signal.Vote{Indicator: m.Name(), Direction: dir,
		Detail: fmt.Sprintf("strong %s momentum (%.2f%%)", label, change)}
}
