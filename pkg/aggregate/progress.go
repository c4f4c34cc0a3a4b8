package aggregate

// ProgressObserver receives aggregation progress. fraction is in [0, 1] and
// never decreases within a run; label is the tenant being reported on.
type ProgressObserver interface {
	OnProgress(fraction float64, label string)
}

// ProgressFunc adapts a function to ProgressObserver.
type ProgressFunc func(fraction float64, label string)

// OnProgress implements ProgressObserver.
func (f ProgressFunc) OnProgress(fraction float64, label string) {
	f(fraction, label)
}

type nopObserver struct{}

func (nopObserver) OnProgress(float64, string) {}
