package repo

import "context"

// ProgressReporter receives coarse progress updates during a
// long-running repository operation (spec §4.3 "all accept a progress
// reporter").
type ProgressReporter interface {
	Report(value int32)
}

// noopReporter discards progress; used when a caller has none.
type noopReporter struct{}

func (noopReporter) Report(int32) {}

// pollCancellation returns ctx.Err() if ctx has already been
// cancelled. Called at every network callback boundary per spec §4.3.
func pollCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
