package control

import (
	"net"
	"testing"

	"github.com/driftmirror/driftmirror/internal/fsops"
	"github.com/driftmirror/driftmirror/internal/index"
	"github.com/driftmirror/driftmirror/internal/syncclient"
	"github.com/driftmirror/driftmirror/internal/wire"
)

func newTestIndex() *index.Index {
	root := fsops.NewRoot(fsops.Absolute("/tmp/root"))
	idx := index.New(root, nil)
	idx.Update(fsops.NewFileRecord(fsops.Absolute("/tmp/root/a.txt"), 0644, 42))
	return idx
}

func roundTripConn(t *testing.T, e *Endpoint, req wire.Message) wire.Message {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan struct{})
	go func() { e.handleConn(serverConn); close(done) }()

	if err := sendMessage(clientConn, req); err != nil {
		t.Fatalf("sendMessage: %v", err)
	}
	resp, err := receiveMessage(clientConn)
	if err != nil {
		t.Fatalf("receiveMessage: %v", err)
	}
	<-done
	return resp
}

func TestEndpointInfoReportsIndexState(t *testing.T) {
	idx := newTestIndex()
	e := NewEndpoint("primary-1", idx, nil, nil)

	resp := roundTripConn(t, e, &wire.InfoReq{})
	info, ok := resp.(*wire.InfoResp)
	if !ok {
		t.Fatalf("expected *wire.InfoResp, got %T", resp)
	}
	if len(info.Payloads) != 1 || info.Payloads[0].InstanceID != "primary-1" {
		t.Fatalf("unexpected payloads: %+v", info.Payloads)
	}
	if info.Payloads[0].Hash != idx.Hash("") {
		t.Fatalf("expected reported hash to match index root hash")
	}
	if info.Payloads[0].FilesIndexed != idx.Size() {
		t.Fatalf("expected reported count to match index size")
	}
}

func TestEndpointInspectReportsChildHashes(t *testing.T) {
	idx := newTestIndex()
	e := NewEndpoint("primary-1", idx, nil, nil)

	resp := roundTripConn(t, e, &wire.InspectReq{Path: ""})
	inspect, ok := resp.(*wire.InspectResp)
	if !ok {
		t.Fatalf("expected *wire.InspectResp, got %T", resp)
	}
	if inspect.Hash != idx.Hash("") {
		t.Fatalf("expected root hash %d, got %d", idx.Hash(""), inspect.Hash)
	}
	if len(inspect.Children) != 1 || inspect.Children[0].Path != "a.txt" {
		t.Fatalf("unexpected children: %+v", inspect.Children)
	}
}

func TestEndpointInspectUnknownPathReportsZeroHash(t *testing.T) {
	idx := newTestIndex()
	e := NewEndpoint("primary-1", idx, nil, nil)

	resp := roundTripConn(t, e, &wire.InspectReq{Path: "does/not/exist"})
	inspect := resp.(*wire.InspectResp)
	if inspect.Hash != 0 || len(inspect.Children) != 0 {
		t.Fatalf("expected zero-value response for unindexed path, got %+v", inspect)
	}
}

func TestEndpointSyncTriggersFullsyncOnEveryReplica(t *testing.T) {
	idx := newTestIndex()
	client := syncclient.New("replica-1", idx, nil, nil, nil, nil)
	e := NewEndpoint("primary-1", idx, []*syncclient.Client{client}, nil)

	resp := roundTripConn(t, e, &wire.FullsyncCmd{})
	if _, ok := resp.(*wire.FlushCmd); !ok {
		t.Fatalf("expected *wire.FlushCmd acknowledgment, got %T", resp)
	}
}

func TestEndpointLogReqAcksWithoutALogger(t *testing.T) {
	idx := newTestIndex()
	e := NewEndpoint("primary-1", idx, nil, nil)

	resp := roundTripConn(t, e, &wire.LogReq{Level: "warn", Message: "disk nearly full"})
	if _, ok := resp.(*wire.LogResp); !ok {
		t.Fatalf("expected *wire.LogResp, got %T", resp)
	}
}
