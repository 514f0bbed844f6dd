package aggregate

// RunningAverage is an O(1) online mean over a session's lifetime.
// The zero value is ready to use. Count never decreases.
type RunningAverage struct {
	total float64
	count uint64
}

// Add records a sample.
func (a *RunningAverage) Add(value float64) {
	a.total += value
	a.count++
}

// AddIfValid records a sample only when ok is true, so callers can feed
// rates that are undefined on the first tick without branching.
func (a *RunningAverage) AddIfValid(value float64, ok bool) {
	if !ok {
		return
	}
	a.Add(value)
}

// Average returns total/count, or 0 with no samples. Callers display
// the zero-count case as "no data", not as a real zero.
func (a *RunningAverage) Average() float64 {
	if a.count == 0 {
		return 0
	}
	return a.total / float64(a.count)
}

// HasSamples reports whether at least one sample was recorded.
func (a *RunningAverage) HasSamples() bool {
	return a.count > 0
}

// Count returns the number of recorded samples.
func (a *RunningAverage) Count() uint64 {
	return a.count
}
