package indicator

// SMA is the arithmetic mean of the last period closes.
type SMA struct {
	period int
	win    *rolling
}

// NewSMA builds a simple moving average. period must be at least 1.
func NewSMA(period int) *SMA {
	return &SMA{period: period, win: newRolling(period)}
}

// Update ingests the next close.
func (s *SMA) Update(v float64) { s.win.push(v) }

// Value returns the average once period closes were seen.
func (s *SMA) Value() (float64, bool) {
	if !s.win.full() {
		return 0, false
	}
	return s.win.mean(), true
}

// EMA is an exponential moving average seeded with the SMA of its first period closes.
type EMA struct {
	period int
	k      float64
	seed   *SMA
	seen   int
	value  float64
	ready  bool
}

// NewEMA builds an exponential moving average with multiplier 2/(period+1).
func NewEMA(period int) *EMA {
	return &EMA{period: period, k: 2 / float64(period+1), seed: NewSMA(period)}
}

// Update ingests the next value.
func (e *EMA) Update(v float64) {
	if e.ready {
		e.value += (v - e.value) * e.k
		return
	}
	e.seed.Update(v)
	e.seen++
	if e.seen >= e.period {
		e.value, _ = e.seed.Value()
		e.ready = true
	}
}

// Value returns the current average once seeded.
func (e *EMA) Value() (float64, bool) {
	return e.value, e.ready
}

// ComputeSMA returns the SMA at the last close of the series.
func ComputeSMA(closes []float64, period int) (float64, error) {
	if period < 1 {
		return 0, ErrInvalidParams
	}
	if len(closes) < period {
		return 0, ErrInsufficientData
	}
	s := NewSMA(period)
	for _, c := range closes {
		s.Update(c)
	}
	v, _ := s.Value()
	return v, nil
}

// ComputeEMA returns the EMA at the last close of the series.
func ComputeEMA(closes []float64, period int) (float64, error) {
	if period < 1 {
		return 0, ErrInvalidParams
	}
	if len(closes) < period {
		return 0, ErrInsufficientData
	}
	e := NewEMA(period)
	for _, c := range closes {
		e.Update(c)
	}
	v, _ := e.Value()
	return v, nil
}
