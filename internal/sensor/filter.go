package sensor

import "codeberg.org/mutker/airnode/internal/errors"

// DefaultWindowSize is the number of samples averaged by the filter.
const DefaultWindowSize = 5

// Filter is a moving average over the most recent samples. Until the ring
// wraps for the first time only the populated slots are averaged.
type Filter struct {
	buf   []float64
	index int
	full  bool
}

func NewFilter(size int) (*Filter, error) {
	if size <= 0 {
		return nil, errors.New().WithData(ErrInvalidWindow, size)
	}

	return &Filter{buf: make([]float64, size)}, nil
}

// Push stores q, overwriting the oldest sample once the ring is full.
func (f *Filter) Push(q float64) {
	f.buf[f.index] = q
	f.index = (f.index + 1) % len(f.buf)
	if f.index == 0 {
		f.full = true
	}
}

// Average returns the mean of the last min(pushes, size) samples, or 0 when
// nothing has been pushed.
func (f *Filter) Average() float64 {
	n := f.Len()
	if n == 0 {
		return 0
	}

	var sum float64
	for _, q := range f.buf[:n] {
		sum += q
	}

	return sum / float64(n)
}

// Len returns the number of samples contributing to the average.
func (f *Filter) Len() int {
	if f.full {
		return len(f.buf)
	}

	return f.index
}

func (f *Filter) Full() bool {
	return f.full
}

func (f *Filter) Reset() {
	clear(f.buf)
	f.index = 0
	f.full = false
}
