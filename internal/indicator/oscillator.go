package indicator

import "math"

// RSI is the relative strength index over simple averages of the last period deltas.
type RSI struct {
	period  int
	prev    float64
	hasPrev bool
	gains   *rolling
	losses  *rolling
}

// NewRSI builds an RSI. It needs period+1 closes before producing a value.
func NewRSI(period int) *RSI {
	return &RSI{period: period, gains: newRolling(period), losses: newRolling(period)}
}

// Update ingests the next close.
func (r *RSI) Update(v float64) {
	if !r.hasPrev {
		r.prev, r.hasPrev = v, true
		return
	}
	delta := v - r.prev
	r.prev = v
	r.gains.push(math.Max(delta, 0))
	r.losses.push(math.Max(-delta, 0))
}

// Value returns RSI in [0,100]. An average loss of zero yields 100.
func (r *RSI) Value() (float64, bool) {
	if !r.gains.full() {
		return 0, false
	}
	avgGain := math.Max(r.gains.mean(), 0)
	avgLoss := math.Max(r.losses.mean(), 0)
	if avgLoss <= 1e-12 {
		return 100, true
	}
	rsi := 100 - 100/(1+avgGain/avgLoss)
	return clamp(rsi, 0, 100), true
}

// MACDValue groups the three MACD outputs.
type MACDValue struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD tracks EMA(fast) - EMA(slow) and its signal EMA.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
	line   float64
}

// NewMACD builds a MACD. It is ready after slow+signal-1 closes.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{fast: NewEMA(fast), slow: NewEMA(slow), signal: NewEMA(signal)}
}

// Update ingests the next close.
func (m *MACD) Update(v float64) {
	m.fast.Update(v)
	m.slow.Update(v)
	f, okFast := m.fast.Value()
	s, okSlow := m.slow.Value()
	if !okFast || !okSlow {
		return
	}
	m.line = f - s
	m.signal.Update(m.line)
}

// Value returns line, signal and histogram once the signal line is seeded.
func (m *MACD) Value() (MACDValue, bool) {
	sig, ok := m.signal.Value()
	if !ok {
		return MACDValue{}, false
	}
	return MACDValue{Line: m.line, Signal: sig, Histogram: m.line - sig}, true
}

// Bands are Bollinger outputs.
type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Bollinger computes SMA(period) ± k sample standard deviations.
type Bollinger struct {
	k   float64
	win *rolling
}

// NewBollinger builds Bollinger bands over period closes.
func NewBollinger(period int, k float64) *Bollinger {
	return &Bollinger{k: k, win: newRolling(period)}
}

// Update ingests the next close.
func (b *Bollinger) Update(v float64) { b.win.push(v) }

// Value returns the bands once period closes were seen.
func (b *Bollinger) Value() (Bands, bool) {
	if !b.win.full() {
		return Bands{}, false
	}
	mid := b.win.mean()
	width := b.k * math.Sqrt(b.win.sampleVariance())
	return Bands{Upper: mid + width, Middle: mid, Lower: mid - width}, true
}

// ComputeRSI returns the RSI at the last close of the series.
func ComputeRSI(closes []float64, period int) (float64, error) {
	if period < 1 {
		return 0, ErrInvalidParams
	}
	if len(closes) < period+1 {
		return 0, ErrInsufficientData
	}
	r := NewRSI(period)
	for _, c := range closes {
		r.Update(c)
	}
	v, _ := r.Value()
	return v, nil
}

// ComputeMACD returns the MACD at the last close of the series.
func ComputeMACD(closes []float64, fast, slow, signal int) (MACDValue, error) {
	if fast < 1 || slow <= fast || signal < 1 {
		return MACDValue{}, ErrInvalidParams
	}
	m := NewMACD(fast, slow, signal)
	for _, c := range closes {
		m.Update(c)
	}
	v, ok := m.Value()
	if !ok {
		return MACDValue{}, ErrInsufficientData
	}
	return v, nil
}

// ComputeBollinger returns the bands at the last close of the series.
func ComputeBollinger(closes []float64, period int, k float64) (Bands, error) {
	if period < 2 || k <= 0 {
		return Bands{}, ErrInvalidParams
	}
	if len(closes) < period {
		return Bands{}, ErrInsufficientData
	}
	b := NewBollinger(period, k)
	for _, c := range closes {
		b.Update(c)
	}
	v, _ := b.Value()
	return v, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
