package indicator

// rolling keeps the last size values with running sum and sum of squares.
// Values are stored relative to the first value seen so that sums of large
// prices keep their precision; sums are rebuilt from the buffer every time the
// ring wraps to stop floating-point drift from accumulating.
type rolling struct {
	buf     []float64
	next    int
	count   int
	shift   float64
	shifted bool
	sum     float64
	sumSq   float64
}

func newRolling(size int) *rolling {
	if size < 1 {
		size = 1
	}
	return &rolling{buf: make([]float64, size)}
}

func (r *rolling) push(v float64) {
	if !r.shifted {
		r.shift = v
		r.shifted = true
	}
	x := v - r.shift
	if r.count == len(r.buf) {
		old := r.buf[r.next]
		r.sum -= old
		r.sumSq -= old * old
	} else {
		r.count++
	}
	r.buf[r.next] = x
	r.sum += x
	r.sumSq += x * x
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.resync()
	}
}

func (r *rolling) resync() {
	r.sum, r.sumSq = 0, 0
	for i := 0; i < r.count; i++ {
		r.sum += r.buf[i]
		r.sumSq += r.buf[i] * r.buf[i]
	}
}

func (r *rolling) full() bool { return r.count == len(r.buf) }

func (r *rolling) len() int { return r.count }

func (r *rolling) mean() float64 {
	if r.count == 0 {
		return 0
	}
	return r.shift + r.sum/float64(r.count)
}

// sampleVariance uses the n-1 denominator; it is floored at zero.
func (r *rolling) sampleVariance() float64 {
	if r.count < 2 {
		return 0
	}
	n := float64(r.count)
	v := (r.sumSq - r.sum*r.sum/n) / (n - 1)
	if v < 0 {
		return 0
	}
	return v
}
