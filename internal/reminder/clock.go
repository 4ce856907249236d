package reminder

import "time"

// Clock supplies the current wall-clock time. Minute resolution is all the
// scheduler needs; tests substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now returns the current local time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
