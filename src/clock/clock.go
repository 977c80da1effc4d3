// Package clock abstracts wall time and one-shot timers so that timing
// logic can be driven by a manual clock in tests.
package clock

import "time"

// Timer is a cancellable one-shot timer.
type Timer interface {
	// Stop cancels the timer. It reports whether the call stopped the
	// timer before it fired and is safe to call any number of times.
	Stop() bool
}

// Clock provides the current time and schedules callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
