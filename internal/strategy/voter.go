package strategy

import (
	"fmt"

	"tradebot-go/internal/indicator"
	"tradebot-go/internal/signal"
)

// Voter turns indicator snapshots into one directional opinion.
// prev is nil on the first ready snapshot; crossover voters stay neutral then.
type Voter interface {
	Name() string
	Vote(prev *indicator.Snapshot, cur indicator.Snapshot) signal.Vote
}

// Observer is implemented by voters that keep their own history of bars.
type Observer interface {
	Observe(bar signal.Bar)
}

func neutral(name string) signal.Vote {
	return signal.Vote{Indicator: name, Direction: signal.Hold}
}

// RSIVoter buys oversold and sells overbought.
type RSIVoter struct {
	Oversold   float64
	Overbought float64
}

func (RSIVoter) Name() string { return "rsi" }

func (v RSIVoter) Vote(_ *indicator.Snapshot, cur indicator.Snapshot) signal.Vote {
	switch {
	case cur.RSI < v.Oversold:
		return signal.Vote{Indicator: v.Name(), Direction: signal.Buy, Detail: fmt.Sprintf("RSI oversold (%.2f)", cur.RSI)}
	case cur.RSI > v.Overbought:
		return signal.Vote{Indicator: v.Name(), Direction: signal.Sell, Detail: fmt.Sprintf("RSI overbought (%.2f)", cur.RSI)}
	}
	return neutral(v.Name())
}

// MACDVoter follows MACD line crossings of the signal line.
type MACDVoter struct{}

func (MACDVoter) Name() string { return "macd" }

func (v MACDVoter) Vote(prev *indicator.Snapshot, cur indicator.Snapshot) signal.Vote {
	if prev == nil {
		return neutral(v.Name())
	}
	switch crossing(prev.MACD.Line, prev.MACD.Signal, cur.MACD.Line, cur.MACD.Signal) {
	case signal.Buy:
		return signal.Vote{Indicator: v.Name(), Direction: signal.Buy, Detail: "MACD bullish crossover"}
	case signal.Sell:
		return signal.Vote{Indicator: v.Name(), Direction: signal.Sell, Detail: "MACD bearish crossover"}
	}
	return neutral(v.Name())
}

// BollingerVoter buys at or under the lower band and sells at or over the upper band.
type BollingerVoter struct{}

func (BollingerVoter) Name() string { return "bollinger" }

func (v BollingerVoter) Vote(_ *indicator.Snapshot, cur indicator.Snapshot) signal.Vote {
	switch {
	case cur.Close <= cur.Bollinger.Lower:
		return signal.Vote{Indicator: v.Name(), Direction: signal.Buy,
			Detail: fmt.Sprintf("close %.4f <= lower band %.4f", cur.Close, cur.Bollinger.Lower)}
	case cur.Close >= cur.Bollinger.Upper:
		return signal.Vote{Indicator: v.Name(), Direction: signal.Sell,
			Detail: fmt.Sprintf("close %.4f >= upper band %.4f", cur.Close, cur.Bollinger.Upper)}
	}
	return neutral(v.Name())
}

// MACrossVoter follows fast/slow EMA crossings.
type MACrossVoter struct{}

func (MACrossVoter) Name() string { return "ma_cross" }

func (v MACrossVoter) Vote(prev *indicator.Snapshot, cur indicator.Snapshot) signal.Vote {
	if prev == nil {
		return neutral(v.Name())
	}
	switch crossing(prev.EMAFast, prev.EMASlow, cur.EMAFast, cur.EMASlow) {
	case signal.Buy:
		return signal.Vote{Indicator: v.Name(), Direction: signal.Buy, Detail: "fast EMA crossed above slow EMA"}
	case signal.Sell:
		return signal.Vote{Indicator: v.Name(), Direction: signal.Sell, Detail: "fast EMA crossed below slow EMA"}
	}
	return neutral(v.Name())
}

// MATrendVoter votes with the side the fast SMA sits on relative to the slow SMA.
type MATrendVoter struct{}

func (MATrendVoter) Name() string { return "ma_trend" }

func (v MATrendVoter) Vote(_ *indicator.Snapshot, cur indicator.Snapshot) signal.Vote {
	switch {
	case cur.SMAFast > cur.SMASlow:
		return signal.Vote{Indicator: v.Name(), Direction: signal.Buy,
			Detail: fmt.Sprintf("SMA fast %.4f above slow %.4f", cur.SMAFast, cur.SMASlow)}
	case cur.SMAFast < cur.SMASlow:
		return signal.Vote{Indicator: v.Name(), Direction: signal.Sell,
			Detail: fmt.Sprintf("SMA fast %.4f below slow %.4f", cur.SMAFast, cur.SMASlow)}
	}
	return neutral(v.Name())
}

// crossing reports Buy when a crosses above b, Sell when it crosses below.
func crossing(prevA, prevB, curA, curB float64) signal.Direction {
	switch {
	case prevA <= prevB && curA > curB:
		return signal.Buy
	case prevA >= prevB && curA < curB:
		return signal.Sell
	}
	return signal.Hold
}
