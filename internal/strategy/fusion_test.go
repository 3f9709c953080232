package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot-go/internal/indicator"
	"tradebot-go/internal/signal"
)

type fixedVoter struct {
	name string
	dir  signal.Direction
}

func (f fixedVoter) Name() string { return f.name }

func (f fixedVoter) Vote(_ *indicator.Snapshot, _ indicator.Snapshot) signal.Vote {
	return signal.Vote{Indicator: f.name, Direction: f.dir}
}

func voters(dirs ...signal.Direction) []Voter {
	out := make([]Voter, len(dirs))
	for i, d := range dirs {
		out[i] = fixedVoter{name: string(rune('a' + i)), dir: d}
	}
	return out
}

func TestFuseMajorityBuy(t *testing.T) {
	f, err := NewFuser(voters(signal.Buy, signal.Buy, signal.Buy, signal.Hold, signal.Sell), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, f.MinAgree())

	sig := f.Fuse("BTCUSDT", time.Now(), nil, indicator.Snapshot{})
	assert.Equal(t, signal.Buy, sig.Direction)
	assert.Equal(t, 3, sig.Agreeing)
	assert.Equal(t, 5, sig.Total)
	assert.InDelta(t, 0.6, sig.Strength, 1e-9)
	assert.Len(t, sig.Votes, 5)
}

func TestFuseTieIsHold(t *testing.T) {
	f, err := NewFuser(voters(signal.Buy, signal.Buy, signal.Sell, signal.Sell), 1)
	require.NoError(t, err)
	sig := f.Fuse("BTCUSDT", time.Now(), nil, indicator.Snapshot{})
	assert.Equal(t, signal.Hold, sig.Direction)
	assert.Contains(t, sig.Reason, "tie")
}

func TestFuseBelowThresholdIsHold(t *testing.T) {
	f, err := NewFuser(voters(signal.Sell, signal.Sell, signal.Hold, signal.Hold, signal.Hold), 3)
	require.NoError(t, err)
	sig := f.Fuse("BTCUSDT", time.Now(), nil, indicator.Snapshot{})
	assert.Equal(t, signal.Hold, sig.Direction)
	assert.Equal(t, 2, sig.Agreeing)
}

func TestNewFuserRejectsBadThreshold(t *testing.T) {
	_, err := NewFuser(voters(signal.Buy), 2)
	assert.Error(t, err)
	_, err = NewFuser(nil, 0)
	assert.True(t, errors.Is(err, ErrNoVoters))
}

func TestCrossoverVotersNeutralWithoutPrevious(t *testing.T) {
	cur := indicator.Snapshot{EMAFast: 2, EMASlow: 1, MACD: indicator.MACDValue{Line: 2, Signal: 1}}
	assert.Equal(t, signal.Hold, MACDVoter{}.Vote(nil, cur).Direction)
	assert.Equal(t, signal.Hold, MACrossVoter{}.Vote(nil, cur).Direction)

	prev := indicator.Snapshot{EMAFast: 1, EMASlow: 1, MACD: indicator.MACDValue{Line: 0.5, Signal: 1}}
	assert.Equal(t, signal.Buy, MACDVoter{}.Vote(&prev, cur).Direction)
	assert.Equal(t, signal.Buy, MACrossVoter{}.Vote(&prev, cur).Direction)

	// no crossing when already above
	assert.Equal(t, signal.Hold, MACrossVoter{}.Vote(&cur, cur).Direction)
}

func TestRSIAndBollingerVoters(t *testing.T) {
	v := RSIVoter{Oversold: 30, Overbought: 70}
	assert.Equal(t, signal.Buy, v.Vote(nil, indicator.Snapshot{RSI: 20}).Direction)
	assert.Equal(t, signal.Sell, v.Vote(nil, indicator.Snapshot{RSI: 80}).Direction)
	assert.Equal(t, signal.Hold, v.Vote(nil, indicator.Snapshot{RSI: 50}).Direction)

	bands := indicator.Bands{Upper: 110, Middle: 100, Lower: 90}
	b := BollingerVoter{}
	assert.Equal(t, signal.Buy, b.Vote(nil, indicator.Snapshot{Close: 90, Bollinger: bands}).Direction)
	assert.Equal(t, signal.Sell, b.Vote(nil, indicator.Snapshot{Close: 111, Bollinger: bands}).Direction)
	assert.Equal(t, signal.Hold, b.Vote(nil, indicator.Snapshot{Close: 100, Bollinger: bands}).Direction)
}

func TestBuildModes(t *testing.T) {
	s, err := Build("fusion", "BTCUSDT", DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, "fusion", s.Name())
	assert.Equal(t, 34, s.Warmup())

	s, err = Build("sma_cross", "BTCUSDT", DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, "sma_cross", s.Name())

	_, err = Build("obi", "BTCUSDT", DefaultParams())
	assert.ErrorIs(t, err, ErrUnknownMode)

	p := DefaultParams()
	p.Voters = []string{"rsi", "astrology"}
	_, err = Build("fusion", "BTCUSDT", p)
	assert.Error(t, err)
}

func TestSMACrossStrategyBuysRisingSeries(t *testing.T) {
	s, err := Build("sma_cross", "BTCUSDT", DefaultParams())
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var last signal.Signal
	for i := 0; i < 60; i++ {
		c := 100 + float64(i)
		sig, err := s.OnBar(signal.Bar{Symbol: "BTCUSDT", Time: start.Add(time.Duration(i) * time.Hour),
			Open: c, High: c, Low: c, Close: c, Volume: 1})
		if i+1 < s.Warmup() {
			require.ErrorIs(t, err, indicator.ErrInsufficientData)
			assert.Equal(t, signal.Hold, sig.Direction)
			continue
		}
		require.NoError(t, err)
		last = sig
	}
	assert.Equal(t, signal.Buy, last.Direction)
	assert.Equal(t, 1, last.Agreeing)
}
