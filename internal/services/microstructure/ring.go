package microstructure

// rolling is a fixed-capacity window over the most recent values.
type rolling struct {
	buf   []float64
	head  int
	count int
}

func newRolling(n int) *rolling {
	if n <= 0 {
		n = 1
	}
	return &rolling{buf: make([]float64, n)}
}

func (r *rolling) push(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *rolling) full() bool { return r.count == len(r.buf) }

func (r *rolling) len() int { return r.count }

// sum is recomputed on read; windows are small and this keeps float drift out.
func (r *rolling) sum() float64 {
	s := 0.0
	for i := 0; i < r.count; i++ {
		s += r.buf[(r.head-1-i+len(r.buf))%len(r.buf)]
	}
	return s
}

func (r *rolling) mean() float64 {
	if r.count == 0 {
		return 0
	}
	return r.sum() / float64(r.count)
}
