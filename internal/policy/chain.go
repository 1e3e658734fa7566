package policy

import "github.com/driftmirror/driftmirror/internal/wire"

// Chain is one global queue keyed by file: pop(host) requires host to be
// the first step of the plan, and the plan's remaining steps encode
// forwarding through downstream peers. The core topology doesn't exercise
// forwarding (every plan pushed here has a single step), but the pop
// contract -- only returning entries whose current step matches the
// caller -- is implemented in full (§4.5).
type Chain struct {
	*counters
	queue []wire.PolicyPlan
}

// NewChain creates an empty Chain policy.
func NewChain() *Chain {
	return &Chain{counters: newCounters()}
}

func (c *Chain) Push(host string, file wire.PolicyFile) {
	plan := wire.PolicyPlan{File: file, Steps: wire.PlanStep{Host: host}}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, plan)
	c.incRemaining(host)
	c.popCond.Broadcast()
}

// Pop blocks until the global queue holds an entry whose first step is
// host, then removes and returns it. Entries destined for other hosts are
// left in place, preserving their relative order.
func (c *Chain) Pop(host string) wire.PolicyPlan {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		for i, plan := range c.queue {
			if plan.Steps.Host == host {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				c.decRemaining(host)
				return plan
			}
		}
		c.popCond.Wait()
	}
}

func (c *Chain) Complete(host string) { c.complete(host) }

func (c *Chain) Stats(host string) Stats { return c.stats(host) }

func (c *Chain) WaitUntilEmpty() { c.waitUntilEmpty() }
