package timer

import (
	"sync"
	"time"
)

// Timer is a cancellable one-shot timer handle. In contrast to time.Timer,
// the callback and Stop are serialized: once Stop returns true the callback
// is guaranteed to never run.
type Timer struct {
	mtx     sync.Mutex
	t       *time.Timer
	stopped bool
	fired   bool
}

// AfterFunc schedules fn to run once after d, returning the handle to cancel
// it.
func AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		tm.mtx.Lock()
		if tm.stopped {
			tm.mtx.Unlock()
			return
		}
		tm.fired = true
		tm.mtx.Unlock()
		fn()
	})
	return tm
}

// Stop cancels the timer. It returns true if the callback was prevented from
// running, false if it already ran or started running.
func (tm *Timer) Stop() bool {
	tm.mtx.Lock()
	defer tm.mtx.Unlock()
	if tm.fired || tm.stopped {
		return false
	}
	tm.stopped = true
	tm.t.Stop()
	return true
}

// Fired reports whether the callback ran.
func (tm *Timer) Fired() bool {
	tm.mtx.Lock()
	defer tm.mtx.Unlock()
	return tm.fired
}
