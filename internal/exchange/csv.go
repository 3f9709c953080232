package exchange

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tradebot-go/internal/signal"
)

// CSVSource serves bars loaded from a CSV file with the columns
// timestamp,open,high,low,close,volume. Timestamps are epoch milliseconds or RFC3339.
type CSVSource struct {
	bars []signal.Bar
}

// LoadCSV reads and validates a bar file for symbol.
func LoadCSV(path, symbol string) (*CSVSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	bars, err := ReadBarsCSV(file, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &CSVSource{bars: bars}, nil
}

// Bars returns the loaded series.
func (c *CSVSource) Bars() []signal.Bar { return c.bars }

// FetchOHLCV returns up to limit bars at or after since.
func (c *CSVSource) FetchOHLCV(_ context.Context, _ string, _ string, since time.Time, limit int) ([]signal.Bar, error) {
	return window(c.bars, since, limit), nil
}

// ReadBarsCSV parses bars; a header row is detected and skipped.
func ReadBarsCSV(r io.Reader, symbol string) ([]signal.Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	var bars []signal.Bar
	for line := 1; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 6 {
			return nil, fmt.Errorf("line %d: expected 6 columns, got %d", line, len(rec))
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "timestamp") {
			continue
		}
		ts, err := parseTimestamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			vals[i] = v
		}
		bars = append(bars, signal.Bar{Symbol: symbol, Time: ts,
			Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]})
	}
	if err := signal.ValidateSeries(bars); err != nil {
		return nil, err
	}
	return bars, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}

// WriteBarsCSV writes bars in the format ReadBarsCSV reads.
func WriteBarsCSV(path string, bars []signal.Bar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	w := csv.NewWriter(file)
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	if err := w.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, b := range bars {
		row := []string{strconv.FormatInt(b.Time.UnixMilli(), 10), f(b.Open), f(b.High), f(b.Low), f(b.Close), f(b.Volume)}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Close()
}
