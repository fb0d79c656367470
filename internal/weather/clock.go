package weather

import "github.com/jonboulle/clockwork"

// clock is the package time source so tests can freeze time via SetClock.
// Production code uses the real clock.
var clock = clockwork.NewRealClock()

// SetClock swaps the package time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}
