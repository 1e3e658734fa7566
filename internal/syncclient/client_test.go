package syncclient_test

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

// TestFullsyncPushesDivergentPath is an end-to-end check of §4.7/§4.8's
// DIFF_REQ/DIFF_RESP/DIFF_COMMIT round trip: the primary's index has a file
// the replica's empty index doesn't, so a fullsync pass must push the root
// (whose hash differs as well) followed by that path onto the transfer
// policy.
func TestFullsyncPushesDivergentPath(t *testing.T) {
	replicaRoot := fsops.NewRoot(fsops.Absolute(t.TempDir()))
	replicaIndex := index.New(replicaRoot, nil)
	scanner := fsops.NewScanner(replicaRoot, nil)
	server := syncserver.New(replicaRoot, replicaIndex, scanner, testPSK, "replica-1", nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go server.Serve(ln)

	primaryRoot := fsops.NewRoot(fsops.Absolute("/primary"))
	primaryIndex := index.New(primaryRoot, nil)
	primaryIndex.Update(fsops.NewFileRecord(fsops.Absolute("/primary/a.txt"), 0644, 99))

	q := policy.NewFanout()
	dial := func() (net.Conn, error) { return net.Dial("tcp", ln.Addr().String()) }
	client := syncclient.New("replica-1", primaryIndex, q, testPSK, dial, nil)
	go client.Run()

	client.CastFullsync()

	waitFor(t, func() bool { return q.Stats("replica-1").Remaining > 0 })

	first := q.Pop("replica-1")
	if first.File.Path != "" {
		t.Fatalf("expected the root to be pushed first, got %+v", first.File)
	}
	plan := q.Pop("replica-1")
	if plan.File.Path != "a.txt" {
		t.Fatalf("expected a.txt to be pushed, got %+v", plan.File)
	}
}

// TestCallInfoReturnsReplicaStatus exercises §4.7's call_info(): a
// synchronous INFO_REQ/INFO_RESP round trip used by the anti-entropy loop.
func TestCallInfoReturnsReplicaStatus(t *testing.T) {
	replicaRoot := fsops.NewRoot(fsops.Absolute(t.TempDir()))
	replicaIndex := index.New(replicaRoot, nil)
	replicaIndex.Update(fsops.NewFileRecord(fsops.Absolute(string(replicaRoot.Absolute)+"/x"), 0644, 7))
	scanner := fsops.NewScanner(replicaRoot, nil)
	server := syncserver.New(replicaRoot, replicaIndex, scanner, testPSK, "replica-1", nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go server.Serve(ln)

	primaryIndex := index.New(fsops.NewRoot(fsops.Absolute("/primary")), nil)
	dial := func() (net.Conn, error) { return net.Dial("tcp", ln.Addr().String()) }
	client := syncclient.New("replica-1", primaryIndex, policy.NewFanout(), testPSK, dial, nil)
	go client.Run()

	resp, err := client.CallInfo()
	if err != nil {
		t.Fatalf("CallInfo: %v", err)
	}
	if len(resp.Payloads) != 1 || resp.Payloads[0].InstanceID != "replica-1" {
		t.Fatalf("unexpected payloads: %+v", resp.Payloads)
	}
	if resp.Payloads[0].Hash != replicaIndex.Hash("") {
		t.Fatalf("expected reported hash to match replica's index hash")
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
