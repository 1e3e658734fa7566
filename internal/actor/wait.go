package actor

import (
	"sync"
	"time"
)

// waitOnCondWithTimeout waits on cond for at most timeout, re-locking the
// associated mutex before returning (matching sync.Cond.Wait's contract).
// sync.Cond has no native timeout support, so a timer goroutine wakes the
// waiter by broadcasting after the timeout elapses; the caller re-checks its
// predicate and its own deadline afterward, so a spurious wake from this
// timer firing after the real condition became true is harmless.
func waitOnCondWithTimeout(cond *sync.Cond, timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	defer timer.Stop()
	cond.Wait()
}
