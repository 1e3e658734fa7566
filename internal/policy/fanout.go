package policy

import "github.com/driftmirror/driftmirror/internal/wire"

// Fanout is one independent per-host FIFO: a file pushed to N peers is
// enqueued N times, once per host (§4.5). This is the policy the core
// synchronization topology actually uses.
type Fanout struct {
	*counters
	queues map[string][]wire.PolicyPlan
}

// NewFanout creates an empty Fanout policy.
func NewFanout() *Fanout {
	return &Fanout{
		counters: newCounters(),
		queues:   make(map[string][]wire.PolicyPlan),
	}
}

func (f *Fanout) Push(host string, file wire.PolicyFile) {
	plan := wire.PolicyPlan{File: file, Steps: wire.PlanStep{Host: host}}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[host] = append(f.queues[host], plan)
	f.incRemaining(host)
	f.popCond.Broadcast()
}

func (f *Fanout) Pop(host string) wire.PolicyPlan {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.queues[host]) == 0 {
		f.popCond.Wait()
	}
	plan := f.queues[host][0]
	f.queues[host] = f.queues[host][1:]
	f.decRemaining(host)
	return plan
}

func (f *Fanout) Complete(host string) { f.complete(host) }

func (f *Fanout) Stats(host string) Stats { return f.stats(host) }

func (f *Fanout) WaitUntilEmpty() { f.waitUntilEmpty() }
