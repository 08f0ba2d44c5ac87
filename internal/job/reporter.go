package job

import "sync/atomic"

// Reporter is the progress/cancellation handle an Operation receives.
// Progress is monotonic non-decreasing (spec §3 "Progress is monotonic
// non-decreasing"): a lower value than the one already stored is
// silently dropped rather than applied.
type Reporter struct {
	progress atomic.Int32
}

func newReporter() *Reporter {
	return &Reporter{}
}

// Report sets progress to value, clamped to [0,100], unless value is
// lower than the value already stored.
func (r *Reporter) Report(value int32) {
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}
	for {
		current := r.progress.Load()
		if value <= current {
			return
		}
		if r.progress.CompareAndSwap(current, value) {
			return
		}
	}
}

// Value returns the current progress.
func (r *Reporter) Value() int32 {
	return r.progress.Load()
}
