package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradebot-go/internal/signal"
)

// MarketData serves historical OHLCV bars.
type MarketData interface {
	// FetchOHLCV returns up to limit closed bars starting at since, oldest first.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]signal.Bar, error)
}

// BalanceSource reports free balances of an account.
type BalanceSource interface {
	FetchBalance(ctx context.Context, asset string) (float64, error)
}

// PageLimit is the number of bars requested per FetchRange page.
const PageLimit = 1000

// ParseTimeframe converts exchange intervals such as "1m", "4h", "1d" or "1w" to a duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	tf = strings.TrimSpace(tf)
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	var unit time.Duration
	switch tf[len(tf)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	return time.Duration(n) * unit, nil
}

// FetchRange pages through md until every bar in [start, end) was fetched.
// Bars are deduplicated and returned strictly increasing in time.
func FetchRange(ctx context.Context, md MarketData, symbol, timeframe string, start, end time.Time) ([]signal.Bar, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("empty range %s - %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	var out []signal.Bar
	since := start
	for since.Before(end) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		page, err := md.FetchOHLCV(ctx, symbol, timeframe, since, PageLimit)
		if err != nil {
			return out, fmt.Errorf("fetch %s %s since %s: %w", symbol, timeframe, since.Format(time.RFC3339), err)
		}
		advanced := false
		for _, b := range page {
			if b.Time.Before(start) || !b.Time.Before(end) {
				continue
			}
			if n := len(out); n > 0 && !b.Time.After(out[n-1].Time) {
				continue
			}
			out = append(out, b)
			advanced = true
		}
		if len(page) < PageLimit || !advanced {
			break
		}
		since = out[len(out)-1].Time.Add(time.Millisecond)
	}
	return out, nil
}
