package warehouse

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock is a package-level time source so tests can freeze time via SetClock.
// Production code uses the real clock; tests inject a fake for deterministic
// SCD validity intervals.
var clock clockwork.Clock = clockwork.NewRealClock()

// SetClock swaps the time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()

		return
	}

	clock = c
}

// Now returns the current time from the injected clock, in UTC.
func Now() time.Time {
	return clock.Now().UTC()
}
