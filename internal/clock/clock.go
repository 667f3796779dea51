package clock

import "time"

// Clock abstracts wall-clock reads for deterministic tests.
// Params: none.
// Returns: current time for lifecycle and window computations.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
// Params: none.
// Returns: current UTC timestamp.
type RealClock struct{}

// Now returns current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}
