package storecache

import "time"

// Clock provides the current time. Tests inject a fake to simulate expiry.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock used when Options.Clock is nil.
var SystemClock Clock = systemClock{}
