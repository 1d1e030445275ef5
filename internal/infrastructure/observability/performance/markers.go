package performance

import "time"

// Marker represents a single in-flight measurement for an operation
type Marker struct {
	Operation string
	StartTime time.Time
	Duration  time.Duration
	Err       error
	completed bool
	tracker   *Tracker
}

// Finish completes the marker and records it. A non-nil err counts as a failure.
// Calling Finish more than once has no effect.
func (m *Marker) Finish(err error) time.Duration {
	if m == nil || m.completed {
		return 0
	}
	m.completed = true
	m.Duration = time.Since(m.StartTime)
	m.Err = err
	m.tracker.Observe(m.Operation, m.Duration, err != nil)
	return m.Duration
}

// Completed reports whether Finish has been called.
func (m *Marker) Completed() bool {
	return m != nil && m.completed
}
