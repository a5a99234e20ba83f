package circuitbreaker

import "time"

// outcome is one recorded call result.
type outcome struct {
	at       time.Time
	success  bool
	duration time.Duration
}

// window accumulates recent call outcomes and reports the aggregate stats
// the state machine needs to evaluate its transition thresholds.
type window interface {
	record(o outcome)
	reset()
	stats(slowCallThreshold time.Duration) windowStats
}

// windowStats is a point-in-time summary of a window's contents.
type windowStats struct {
	Total             int
	Successes         int
	Failures          int
	SlowCalls         int
	ConsecutiveFails  int
	ConsecutiveOK     int
}

// FailureRate returns the fraction of recorded calls that failed.
func (s windowStats) FailureRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Total)
}

// SuccessRate returns the fraction of recorded calls that succeeded.
func (s windowStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Total)
}

// SlowCallRate returns the fraction of recorded calls considered slow.
func (s windowStats) SlowCallRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.SlowCalls) / float64(s.Total)
}

// countWindow is a fixed-size ring buffer of the last N outcomes.
type countWindow struct {
	size    int
	buf     []outcome
	next    int
	filled  bool
	consFail int
	consOK   int
}

func newCountWindow(size int) *countWindow {
	if size <= 0 {
		size = 10
	}
	return &countWindow{size: size, buf: make([]outcome, size)}
}

func (w *countWindow) record(o outcome) {
	w.buf[w.next] = o
	w.next = (w.next + 1) % w.size
	if w.next == 0 {
		w.filled = true
	}
	if o.success {
		w.consOK++
		w.consFail = 0
	} else {
		w.consFail++
		w.consOK = 0
	}
}

func (w *countWindow) reset() {
	w.buf = make([]outcome, w.size)
	w.next = 0
	w.filled = false
	w.consFail = 0
	w.consOK = 0
}

func (w *countWindow) stats(slowThreshold time.Duration) windowStats {
	n := w.next
	if w.filled {
		n = w.size
	}
	var s windowStats
	for i := 0; i < n; i++ {
		o := w.buf[i]
		s.Total++
		if o.success {
			s.Successes++
		} else {
			s.Failures++
		}
		if slowThreshold > 0 && o.duration >= slowThreshold {
			s.SlowCalls++
		}
	}
	s.ConsecutiveFails = w.consFail
	s.ConsecutiveOK = w.consOK
	return s
}

// timeWindow retains outcomes recorded within the last duration d, ejecting
// stale entries lazily on insert.
type timeWindow struct {
	d        time.Duration
	entries  []outcome
	consFail int
	consOK   int
}

func newTimeWindow(d time.Duration) *timeWindow {
	if d <= 0 {
		d = 60 * time.Second
	}
	return &timeWindow{d: d}
}

func (w *timeWindow) record(o outcome) {
	cutoff := o.at.Add(-w.d)
	pruned := w.entries[:0]
	for _, e := range w.entries {
		if e.at.After(cutoff) {
			pruned = append(pruned, e)
		}
	}
	w.entries = append(pruned, o)

	if o.success {
		w.consOK++
		w.consFail = 0
	} else {
		w.consFail++
		w.consOK = 0
	}
}

func (w *timeWindow) reset() {
	w.entries = nil
	w.consFail = 0
	w.consOK = 0
}

func (w *timeWindow) stats(slowThreshold time.Duration) windowStats {
	var s windowStats
	for _, o := range w.entries {
		s.Total++
		if o.success {
			s.Successes++
		} else {
			s.Failures++
		}
		if slowThreshold > 0 && o.duration >= slowThreshold {
			s.SlowCalls++
		}
	}
	s.ConsecutiveFails = w.consFail
	s.ConsecutiveOK = w.consOK
	return s
}
