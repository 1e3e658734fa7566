package antientropy

import (
	"net"
	"testing"
	"time"

	"github.com/driftmirror/driftmirror/internal/fsops"
	"github.com/driftmirror/driftmirror/internal/index"
	"github.com/driftmirror/driftmirror/internal/policy"
	"github.com/driftmirror/driftmirror/internal/syncclient"
	"github.com/driftmirror/driftmirror/internal/syncserver"
)

var testPSK = []byte("0123456789abcdef0123456789abcdef")

type noopWaiter struct{}

func (noopWaiter) WaitUntilIdle() {}

func startReplica(t *testing.T, idx *index.Index) net.Listener {
	t.Helper()
	root := idx.Root()
	scanner := fsops.NewScanner(root, nil)
	server := syncserver.New(root, idx, scanner, testPSK, "replica-1", nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go server.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return ln
}

// TestPassTriggersFullsyncOnDrift exercises §4.9's per-pass check: when a
// replica's reported root hash differs from the primary's, pass() must
// cast a fullsync to it, which ends up pushing the divergent path.
func TestPassTriggersFullsyncOnDrift(t *testing.T) {
	replicaIndex := index.New(fsops.NewRoot(fsops.Absolute(t.TempDir())), nil)
	ln := startReplica(t, replicaIndex)

	primaryIndex := index.New(fsops.NewRoot(fsops.Absolute("/primary")), nil)
	primaryIndex.Update(fsops.NewFileRecord(fsops.Absolute("/primary/a.txt"), 0644, 7))

	q := policy.NewFanout()
	dial := func() (net.Conn, error) { return net.Dial("tcp", ln.Addr().String()) }
	client := syncclient.New("replica-1", primaryIndex, q, testPSK, dial, nil)
	go client.Run()

	waitFor(t, func() bool {
		_, err := client.CallInfo()
		return err == nil
	})

	loop := New(primaryIndex, q, noopWaiter{}, []*syncclient.Client{client}, time.Hour, nil)
	loop.pass()

	waitFor(t, func() bool { return q.Stats("replica-1").Remaining > 0 })

	first := q.Pop("replica-1")
	if first.File.Path != "" {
		t.Fatalf("expected the root pushed first after drift detection, got %+v", first.File)
	}
	plan := q.Pop("replica-1")
	if plan.File.Path != "a.txt" {
		t.Fatalf("expected a.txt pushed after drift detection, got %+v", plan.File)
	}
}

// TestPassNoDriftLeavesPolicyEmpty checks the converse: a replica already
// matching the primary's root hash must not receive a fullsync trigger.
func TestPassNoDriftLeavesPolicyEmpty(t *testing.T) {
	replicaIndex := index.New(fsops.NewRoot(fsops.Absolute(t.TempDir())), nil)
	ln := startReplica(t, replicaIndex)

	primaryIndex := index.New(fsops.NewRoot(fsops.Absolute("/primary")), nil)

	q := policy.NewFanout()
	dial := func() (net.Conn, error) { return net.Dial("tcp", ln.Addr().String()) }
	client := syncclient.New("replica-1", primaryIndex, q, testPSK, dial, nil)
	go client.Run()

	waitFor(t, func() bool {
		_, err := client.CallInfo()
		return err == nil
	})

	loop := New(primaryIndex, q, noopWaiter{}, []*syncclient.Client{client}, time.Hour, nil)
	loop.pass()

	time.Sleep(50 * time.Millisecond)
	if stats := q.Stats("replica-1"); stats.Remaining != 0 {
		t.Fatalf("expected no pushes when replica already matches, got %+v", stats)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition did not become true in time")
}
