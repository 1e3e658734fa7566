// Package policy implements the Policy Queue of §4.5: the per-host pending
// transfer queue that sits between the sync client (which discovers
// divergent paths) and the transfer pipeline (which streams them).
package policy

import (
	"sync"

	"github.com/driftmirror/driftmirror/internal/wire"
)

// Stats reports the bookkeeping counters for one host (§4.5 stats()).
type Stats struct {
	Remaining uint64
	Completed uint64
}

// Policy is the interface both Fanout and Chain satisfy.
type Policy interface {
	// Push enqueues file for delivery to host.
	Push(host string, file wire.PolicyFile)
	// Pop blocks until a plan destined for host is available, then returns
	// it.
	Pop(host string) wire.PolicyPlan
	// Complete marks one of host's plans as delivered, for Stats.
	Complete(host string)
	// Stats reports host's current counters.
	Stats(host string) Stats
	// WaitUntilEmpty blocks until every host's pending queue has drained.
	WaitUntilEmpty()
}

// counters is the shared remaining/completed/total-remaining bookkeeping
// used by both policies.
type counters struct {
	mu             sync.Mutex
	popCond        *sync.Cond
	emptyCond      *sync.Cond
	remaining      map[string]uint64
	completed      map[string]uint64
	totalRemaining uint64
}

func newCounters() *counters {
	c := &counters{
		remaining: make(map[string]uint64),
		completed: make(map[string]uint64),
	}
	c.popCond = sync.NewCond(&c.mu)
	c.emptyCond = sync.NewCond(&c.mu)
	return c
}

// must be called with c.mu held.
func (c *counters) incRemaining(host string) {
	c.remaining[host]++
	c.totalRemaining++
}

// must be called with c.mu held.
func (c *counters) decRemaining(host string) {
	c.remaining[host]--
	c.totalRemaining--
	if c.totalRemaining == 0 {
		c.emptyCond.Broadcast()
	}
}

func (c *counters) complete(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed[host]++
}

func (c *counters) stats(host string) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Remaining: c.remaining[host], Completed: c.completed[host]}
}

func (c *counters) waitUntilEmpty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.totalRemaining > 0 {
		c.emptyCond.Wait()
	}
}
