package portfolio

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// TradeRecorder captures closed trades for later inspection.
type TradeRecorder interface {
	Record(Trade) error
}

// JSONLRecorder appends trades as JSON lines for later analysis.
type JSONLRecorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLRecorder creates/opens the target file and returns a recorder.
func NewJSONLRecorder(path string) (*JSONLRecorder, error) {
	file, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &JSONLRecorder{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Record writes a single trade to the underlying JSONL file.
func (r *JSONLRecorder) Record(trade Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return os.ErrClosed
	}
	return r.enc.Encode(trade)
}

// Close flushes and closes the file handle.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// CSVHeader is the column order of trade CSV files.
var CSVHeader = []string{
	"id", "symbol", "side", "entry_price", "exit_price", "quantity",
	"pnl", "pnl_percent", "opened_at", "closed_at", "reason",
}

// CSVRow renders a trade in CSVHeader order.
func CSVRow(t Trade) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		t.ID, t.Symbol, string(t.Side), f(t.EntryPrice), f(t.ExitPrice), f(t.Quantity),
		f(t.PnL), f(t.PnLPercent), t.OpenedAt.UTC().Format(time.RFC3339), t.ClosedAt.UTC().Format(time.RFC3339),
		string(t.Reason),
	}
}

// CSVRecorder appends trades to a CSV file, writing the header when the file is new.
type CSVRecorder struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

// NewCSVRecorder creates/opens the target file and returns a recorder.
func NewCSVRecorder(path string) (*CSVRecorder, error) {
	file, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	w := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := w.Write(CSVHeader); err != nil {
			file.Close()
			return nil, err
		}
		w.Flush()
	}
	return &CSVRecorder{file: file, w: w}, nil
}

// Record appends one row and flushes it.
func (r *CSVRecorder) Record(trade Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return os.ErrClosed
	}
	if err := r.w.Write(CSVRow(trade)); err != nil {
		return err
	}
	r.w.Flush()
	return r.w.Error()
}

// Close flushes and closes the file handle.
func (r *CSVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	r.w.Flush()
	err := r.file.Close()
	r.file = nil
	return err
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
