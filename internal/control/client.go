package control

import (
	"github.com/driftmirror/driftmirror/internal/wire"
	"github.com/driftmirror/driftmirror/internal/xerrors"
)

// Info dials the control socket at path and issues the "info" command.
func Info(path string) (*wire.InfoResp, error) {
	resp, err := roundTrip(path, &wire.InfoReq{})
	if err != nil {
		return nil, err
	}
	info, ok := resp.(*wire.InfoResp)
	if !ok {
		return nil, xerrors.New(xerrors.KindProtocol, "expected INFO_RESP from control socket")
	}
	return info, nil
}

// Sync dials the control socket at path and issues the "sync" command,
// triggering an asynchronous fullsync pass against every replica the
// endpoint is configured with.
func Sync(path string) error {
	_, err := roundTrip(path, &wire.FullsyncCmd{})
	return err
}

// Inspect dials the control socket at path and issues the "inspect <path>"
// command for relPath (a root-relative path; the empty string inspects the
// root).
func Inspect(path, relPath string) (*wire.InspectResp, error) {
	resp, err := roundTrip(path, &wire.InspectReq{Path: relPath})
	if err != nil {
		return nil, err
	}
	inspect, ok := resp.(*wire.InspectResp)
	if !ok {
		return nil, xerrors.New(xerrors.KindProtocol, "expected INSPECT_RESP from control socket")
	}
	return inspect, nil
}

func roundTrip(path string, req wire.Message) (wire.Message, error) {
	conn, err := Dial(path)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := sendMessage(conn, req); err != nil {
		return nil, err
	}
	return receiveMessage(conn)
}
