package control

import (
	"net"

	"github.com/google/uuid"

	"github.com/driftmirror/driftmirror/internal/fsops"
	"github.com/driftmirror/driftmirror/internal/index"
	"github.com/driftmirror/driftmirror/internal/logging"
	"github.com/driftmirror/driftmirror/internal/syncclient"
	"github.com/driftmirror/driftmirror/internal/wire"
	"github.com/driftmirror/driftmirror/internal/xerrors"
)

// Endpoint serves the control socket's command set. It runs in the same
// process as the primary or replica it inspects, so every command reads
// straight from the in-memory index rather than round-tripping a network
// connection.
type Endpoint struct {
	instanceID string
	index      *index.Index
	replicas   []*syncclient.Client // empty on a replica
	logger     *logging.Logger
}

// NewEndpoint creates an Endpoint. replicas is the set of sync clients
// whose fullsync the "sync" command triggers; pass nil on a replica, which
// has no peers of its own to push to.
func NewEndpoint(instanceID string, idx *index.Index, replicas []*syncclient.Client, logger *logging.Logger) *Endpoint {
	return &Endpoint{instanceID: instanceID, index: idx, replicas: replicas, logger: logger}
}

// Serve accepts connections from ln until it errors (e.g. because the
// daemon closed the listener to shut down), handling each in its own
// goroutine: the control protocol is one request per connection, matching
// how a short-lived control CLI invocation works (§6).
func (e *Endpoint) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go e.handleConn(conn)
	}
}

func (e *Endpoint) handleConn(conn net.Conn) {
	defer conn.Close()

	// Each request gets its own correlation id for logging, the same way
	// the teacher tags an SSH-transported session with its own identifier
	// so a warning can be traced back to the request that caused it.
	requestID := uuid.NewString()

	msg, err := receiveMessage(conn)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn(xerrors.Wrap(xerrors.KindIO, err, "reading control request ("+requestID+")"))
		}
		return
	}

	var resp wire.Message
	switch m := msg.(type) {
	case *wire.InfoReq:
		resp = e.handleInfo()
	case *wire.FullsyncCmd:
		resp = e.handleSync()
	case *wire.InspectReq:
		resp = e.handleInspect(m.Path)
	case *wire.LogReq:
		if e.logger != nil {
			e.logger.Infof("[%s] %s", m.Level, m.Message)
		}
		resp = &wire.LogResp{}
	default:
		if e.logger != nil {
			e.logger.Warn(xerrors.New(xerrors.KindProtocol, "unrecognized control command"))
		}
		return
	}

	if err := sendMessage(conn, resp); err != nil {
		if e.logger != nil {
			e.logger.Warn(xerrors.Wrap(xerrors.KindIO, err, "writing control response"))
		}
	}
}

// handleInfo answers the "info" command with this instance's own status,
// reusing the same InfoResp shape a peer's INFO_REQ receives (§4.8).
func (e *Endpoint) handleInfo() *wire.InfoResp {
	return &wire.InfoResp{Payloads: []wire.InfoPayload{{
		InstanceID:   e.instanceID,
		Status:       "ok",
		FilesIndexed: e.index.Size(),
		Hash:         e.index.Hash(""),
	}}}
}

// handleSync answers the "sync" command: it triggers an asynchronous
// fullsync on every configured replica client (the same cast_fullsync()
// operation the anti-entropy loop uses) and acknowledges with FlushCmd,
// reusing that empty-body message rather than adding a new one to the §4.2
// schema solely for this acknowledgment.
func (e *Endpoint) handleSync() *wire.FlushCmd {
	for _, replica := range e.replicas {
		replica.CastFullsync()
	}
	return &wire.FlushCmd{}
}

// handleInspect answers the "inspect <path>" command by reporting path's
// current hash and its immediate children's (path, hash) pairs, mirroring
// INSPECT_RESP's shape (§4.2).
func (e *Endpoint) handleInspect(path string) *wire.InspectResp {
	rel := fsops.Relative(path)
	entry, ok := e.index.Lookup(rel)
	if !ok {
		return &wire.InspectResp{Path: path}
	}

	children := e.index.Children(rel)
	out := make([]wire.InspectChild, len(children))
	for i, c := range children {
		out[i] = wire.InspectChild{Path: c.String(), Hash: e.index.Hash(c)}
	}

	return &wire.InspectResp{Path: path, Hash: entry.Hash, Children: out}
}
