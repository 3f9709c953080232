package exchange

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot-go/internal/signal"
)

type countingSource struct {
	bars  []signal.Bar
	calls int
}

func (c *countingSource) FetchOHLCV(_ context.Context, _ string, _ string, since time.Time, limit int) ([]signal.Bar, error) {
	c.calls++
	return window(c.bars, since, limit), nil
}

func TestParseTimeframe(t *testing.T) {
	cases := map[string]time.Duration{"1m": time.Minute, "15m": 15 * time.Minute, "4h": 4 * time.Hour, "1d": 24 * time.Hour, "1w": 7 * 24 * time.Hour}
	for tf, want := range cases {
		got, err := ParseTimeframe(tf)
		require.NoError(t, err, tf)
		assert.Equal(t, want, got, tf)
	}
	for _, bad := range []string{"", "m", "0h", "1y", "xh"} {
		_, err := ParseTimeframe(bad)
		assert.Error(t, err, bad)
	}
}

func TestFetchRangePages(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := NewSynthetic("BTCUSDT", start, time.Minute, 100, 7).Generate(2500)
	src := &countingSource{bars: bars}

	end := start.Add(2400 * time.Minute)
	got, err := FetchRange(context.Background(), src, "BTCUSDT", "1m", start, end)
	require.NoError(t, err)
	assert.Len(t, got, 2400)
	assert.Equal(t, 3, src.calls)
	assert.NoError(t, signal.ValidateSeries(got))
	assert.True(t, got[len(got)-1].Time.Before(end))
}

func TestFetchRangeRejectsEmptyRange(t *testing.T) {
	now := time.Now()
	_, err := FetchRange(context.Background(), &countingSource{}, "BTCUSDT", "1m", now, now)
	assert.Error(t, err)
}

func TestCSVRoundTripAndValidation(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := NewSynthetic("ETHUSDT", start, time.Hour, 2000, 3).Generate(50)
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, WriteBarsCSV(path, bars))

	src, err := LoadCSV(path, "ETHUSDT")
	require.NoError(t, err)
	require.Len(t, src.Bars(), 50)
	assert.Equal(t, bars[10].Time, src.Bars()[10].Time)
	assert.InDelta(t, bars[10].Close, src.Bars()[10].Close, 1e-9)

	page, err := src.FetchOHLCV(context.Background(), "ETHUSDT", "1h", bars[45].Time, 100)
	require.NoError(t, err)
	assert.Len(t, page, 5)

	unordered := "timestamp,open,high,low,close,volume\n2024-01-01T01:00:00Z,1,1,1,1,1\n2024-01-01T00:00:00Z,1,1,1,1,1\n"
	_, err = ReadBarsCSV(strings.NewReader(unordered), "X")
	assert.ErrorIs(t, err, signal.ErrUnorderedSeries)

	require.NoError(t, os.WriteFile(path, []byte("1,2,3\n"), 0o644))
	_, err = LoadCSV(path, "X")
	assert.Error(t, err)
}

func TestSyntheticDriftRises(t *testing.T) {
	bars := NewSynthetic("BTCUSDT", time.Now(), time.Minute, 100, 1).WithDrift(0.001).WithVolatility(0).Generate(10)
	for i := 1; i < len(bars); i++ {
		assert.Greater(t, bars[i].Close, bars[i-1].Close)
	}
}
