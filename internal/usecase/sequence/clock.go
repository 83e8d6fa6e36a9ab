package sequence

import "time"

// Timer is a pending deferred callback.
type Timer interface {
	Stop() bool
}

// Clock schedules deferred callbacks. The real implementation wraps
// time.AfterFunc; tests substitute a manual clock so sequences run without
// real delays.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// NewRealClock returns a Clock backed by the runtime timers.
func NewRealClock() Clock {
	return realClock{}
}
