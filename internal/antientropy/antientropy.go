// Package antientropy implements the Anti-Entropy Loop of §4.9: a
// dedicated goroutine on the primary that periodically checks each
// replica's root hash against the local index and triggers a full
// resynchronization if anything drifted since the last pass. It exists to
// catch changes the watcher missed (a notification dropped, a path outside
// the watcher's platform support, a process restart).
package antientropy

import (
	"time"

	"github.com/driftmirror/driftmirror/internal/index"
	"github.com/driftmirror/driftmirror/internal/logging"
	"github.com/driftmirror/driftmirror/internal/policy"
	"github.com/driftmirror/driftmirror/internal/syncclient"
	"github.com/driftmirror/driftmirror/internal/xerrors"
)

// DefaultInterval is the primary's sleep between passes (§4.9: "sleep 1s
// (primary)").
const DefaultInterval = 1 * time.Second

// inFlightWaiter is satisfied by the transfer pipeline; it's an interface
// here so this package doesn't need to import internal/transfer (which
// itself depends on internal/policy and internal/pconn) just for one
// method.
type inFlightWaiter interface {
	WaitUntilIdle()
}

// Loop drives the anti-entropy pass described in §4.9 against a fixed set
// of replica sync clients.
type Loop struct {
	index    *index.Index
	policy   policy.Policy
	pipeline inFlightWaiter
	replicas []*syncclient.Client
	interval time.Duration
	logger   *logging.Logger
}

// New creates a Loop. interval is the sleep between passes; pass
// antientropy.DefaultInterval for the primary's default cadence, or a
// configured interval for a differently-tuned deployment.
func New(idx *index.Index, p policy.Policy, pipeline inFlightWaiter, replicas []*syncclient.Client, interval time.Duration, logger *logging.Logger) *Loop {
	return &Loop{
		index:    idx,
		policy:   p,
		pipeline: pipeline,
		replicas: replicas,
		interval: interval,
		logger:   logger,
	}
}

// Run executes the loop described in §4.9 until stop is closed:
//
//	loop:
//	    sleep interval
//	    wait until policy queue empty
//	    wait until transfer in-flight counter == 0
//	    for each replica: resp := replica.call_info(); any_drift |= (resp.hash != index.hash())
//	    if any_drift: for each replica: replica.cast_fullsync()
//
// Any per-replica error is caught, logged, and the pass continues to the
// next replica (§4.9: "Any error is caught, logged, and the loop continues
// after the next sleep."); Run itself never returns except via stop.
func (l *Loop) Run(stop <-chan struct{}) {
	for {
		select {
		case <-time.After(l.interval):
		case <-stop:
			return
		}

		l.pass()
	}
}

func (l *Loop) pass() {
	l.policy.WaitUntilEmpty()
	l.pipeline.WaitUntilIdle()

	localHash := l.index.Hash("")
	anyDrift := false

	for _, replica := range l.replicas {
		resp, err := replica.CallInfo()
		if err != nil {
			if l.logger != nil {
				l.logger.Warn(xerrors.Wrap(xerrors.KindIO, err, "anti-entropy info check"))
			}
			continue
		}
		if len(resp.Payloads) == 0 {
			continue
		}
		if resp.Payloads[0].Hash != localHash {
			anyDrift = true
		}
	}

	if anyDrift {
		for _, replica := range l.replicas {
			replica.CastFullsync()
		}
	}
}
