package signal

import (
	"errors"
	"math"
	"testing"
	"time"
)

func bar(ts time.Time, close float64) Bar {
	return Bar{Symbol: "BTCUSDT", Time: ts, Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func TestValidateSeriesOrdered(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []Bar{bar(now, 100), bar(now.Add(time.Hour), 101), bar(now.Add(2*time.Hour), 102)}
	if err := ValidateSeries(bars); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateSeriesRejectsDuplicateTimestamp(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []Bar{bar(now, 100), bar(now, 101)}
	if err := ValidateSeries(bars); !errors.Is(err, ErrUnorderedSeries) {
		t.Fatalf("expected ErrUnorderedSeries, got %v", err)
	}
}

func TestValidateBarRejectsNaN(t *testing.T) {
	b := bar(time.Now(), math.NaN())
	if err := ValidateBar(b); !errors.Is(err, ErrBadBar) {
		t.Fatalf("expected ErrBadBar, got %v", err)
	}
}

func TestDirectionOpposes(t *testing.T) {
	if !Buy.Opposes(Sell) || !Sell.Opposes(Buy) {
		t.Fatalf("buy and sell should oppose")
	}
	if Hold.Opposes(Buy) || Buy.Opposes(Buy) {
		t.Fatalf("hold and same-direction should not oppose")
	}
}

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{"BTC/USDT": "BTCUSDT", " eth-usdt ": "ETHUSDT", "SOLUSDT": "SOLUSDT"}
	for in, want := range cases {
		if got := NormalizeSymbol(in); got != want {
			t.Fatalf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}
