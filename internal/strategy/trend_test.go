package strategy

import (
	"testing"
	"time"

	"tradebot-go/internal/indicator"
	"tradebot-go/internal/signal"
)

func feed(m *Momentum, closes ...float64) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		m.Observe(signal.Bar{Symbol: "BTCUSDT", Time: now.Add(time.Duration(i) * time.Minute), Close: c})
	}
}

func TestMomentumLongVote(t *testing.T) {
	m := NewMomentum(1, 1)
	feed(m, 100, 102)
	v := m.Vote(nil, indicator.Snapshot{})
	if v.Direction != signal.Buy {
		t.Fatalf("expected buy vote, got %s", v.Direction)
	}
}

func TestMomentumShortVote(t *testing.T) {
	m := NewMomentum(1, 3)
	feed(m, 100, 99.5, 99, 98)
	v := m.Vote(nil, indicator.Snapshot{})
	if v.Direction != signal.Sell {
		t.Fatalf("expected sell vote, got %s", v.Direction)
	}
	change, ok := m.Change()
	if !ok || change >= 0 {
		t.Fatalf("expected negative change, got %.4f", change)
	}
}

func TestMomentumNeutralInsideThreshold(t *testing.T) {
	m := NewMomentum(1, 1)
	feed(m, 100, 100.5)
	if v := m.Vote(nil, indicator.Snapshot{}); v.Direction != signal.Hold {
		t.Fatalf("expected neutral for a 0.5%% move, got %s", v.Direction)
	}
}

func TestMomentumNeedsFullWindow(t *testing.T) {
	m := NewMomentum(1, 5)
	feed(m, 100, 150)
	if v := m.Vote(nil, indicator.Snapshot{}); v.Direction != signal.Hold {
		t.Fatalf("expected neutral before lookback is filled")
	}
}
