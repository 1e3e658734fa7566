// Package syncclient implements the per-peer sync client of §4.7: it opens
// a session to a replica for each command, drives full-tree diffs against the
// local index on demand, and answers synchronous info requests for the
// anti-entropy loop.
package syncclient

import (
	"net"
	"time"

	"github.com/driftmirror/driftmirror/internal/actor"
	"github.com/driftmirror/driftmirror/internal/fsops"
	"github.com/driftmirror/driftmirror/internal/index"
	"github.com/driftmirror/driftmirror/internal/logging"
	"github.com/driftmirror/driftmirror/internal/policy"
	"github.com/driftmirror/driftmirror/internal/transport"
	"github.com/driftmirror/driftmirror/internal/wire"
	"github.com/driftmirror/driftmirror/internal/xerrors"
)

// CallInfoTimeout is call_info()'s synchronous deadline (§4.7).
const CallInfoTimeout = 5 * time.Second

// sessionBackoff is how long the client waits after a session error before
// reconnecting (§4.7).
const sessionBackoff = 10 * time.Second

type commandKind int

const (
	cmdFullsync commandKind = iota
	cmdCallInfo
)

type command struct {
	kind commandKind
}

type result struct {
	info *wire.InfoResp
	err  error
}

// Client is one peer's sync client thread.
type Client struct {
	host   string
	index  *index.Index
	policy policy.Policy
	psk    []byte
	dial   func() (net.Conn, error)
	logger *logging.Logger

	mailbox *actor.Mailbox[command, result]
}

// New creates a Client for host. Run must be started in its own goroutine.
func New(host string, idx *index.Index, p policy.Policy, psk []byte, dial func() (net.Conn, error), logger *logging.Logger) *Client {
	return &Client{
		host:    host,
		index:   idx,
		policy:  p,
		psk:     psk,
		dial:    dial,
		logger:  logger,
		mailbox: actor.New[command, result](),
	}
}

// CastFullsync asynchronously triggers a full diff/sync pass (§4.7).
func (c *Client) CastFullsync() {
	c.mailbox.Cast(command{kind: cmdFullsync})
}

// CallInfo synchronously fetches the peer's InfoResp, deadlined at
// CallInfoTimeout (§4.7).
func (c *Client) CallInfo() (*wire.InfoResp, error) {
	r, err := c.mailbox.Call(command{kind: cmdCallInfo}, CallInfoTimeout)
	if err != nil {
		return nil, err
	}
	return r.info, r.err
}

// Run is the client thread's main loop: establish a session, service one
// command on it, close it, and establish the next; after an error it backs
// off before reconnecting. It never returns; run it in its own goroutine.
func (c *Client) Run() {
	for {
		tc, err := c.establish()
		if err != nil {
			if c.logger != nil {
				c.logger.Warn(xerrors.Wrap(xerrors.KindIO, err, "establishing sync session"))
			}
			time.Sleep(sessionBackoff)
			continue
		}

		err = c.sessionLoop(tc)
		tc.Close()
		if err != nil {
			if c.logger != nil {
				c.logger.Warn(xerrors.Wrap(xerrors.KindIO, err, "sync session ended"))
			}
			time.Sleep(sessionBackoff)
		}
	}
}

func (c *Client) establish() (*transport.Conn, error) {
	raw, err := c.dial()
	if err != nil {
		return nil, err
	}
	tc, err := transport.NewConn(raw, c.psk, true)
	if err != nil {
		raw.Close()
		return nil, err
	}
	if err := tc.Send(&wire.SyncEstablishReq{}); err != nil {
		tc.Close()
		return nil, err
	}
	return tc, nil
}

// sessionLoop services one command on tc. The replica ends a SYNC session
// after answering INFO_REQ and after DIFF_COMMIT, so Run establishes a fresh
// session for every command.
func (c *Client) sessionLoop(tc *transport.Conn) error {
	env := c.mailbox.Consume()
	switch env.Message.kind {
	case cmdFullsync:
		return c.runFullsync(tc)
	case cmdCallInfo:
		resp, err := c.callInfo(tc)
		c.mailbox.Reply(env.RefID, result{info: resp, err: err})
		return err
	}
	return nil
}

func (c *Client) callInfo(tc *transport.Conn) (*wire.InfoResp, error) {
	if err := tc.Send(&wire.InfoReq{}); err != nil {
		return nil, err
	}
	msg, err := tc.Receive()
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*wire.InfoResp)
	if !ok {
		return nil, xerrors.New(xerrors.KindProtocol, "expected INFO_RESP")
	}
	return resp, nil
}

// runFullsync picks the diff epoch, drives the index diff via chunked
// DIFF_REQ/DIFF_RESP round trips, pushes every emitted path onto the
// transfer policy, then commits the epoch so the replica can derive
// deletions (§4.7).
func (c *Client) runFullsync(tc *transport.Conn) error {
	epoch := c.index.Hash("")

	oracle := func(paths []fsops.Relative) ([]fsops.Relative, error) {
		return c.queryDiff(tc, epoch, paths)
	}

	err := c.index.Diff(oracle, func(path fsops.Relative, entry index.Entry) {
		c.policy.Push(c.host, toPolicyFile(path, entry))
	})
	if err != nil {
		return err
	}

	return tc.Send(&wire.DiffCommit{Epoch: epoch})
}

// queryDiff is the oracle O(paths) of §4.7: it chunks paths into DIFF_REQ
// messages of up to wire.MaxDiffQueries, awaiting a matching DIFF_RESP for
// each.
func (c *Client) queryDiff(tc *transport.Conn, epoch uint64, paths []fsops.Relative) ([]fsops.Relative, error) {
	var mismatched []fsops.Relative

	for start := 0; start < len(paths); start += wire.MaxDiffQueries {
		end := start + wire.MaxDiffQueries
		if end > len(paths) {
			end = len(paths)
		}
		chunk := paths[start:end]

		queries := make([]wire.DiffQuery, len(chunk))
		for i, p := range chunk {
			queries[i] = wire.DiffQuery{Path: p.String(), Hash: c.index.Hash(p)}
		}

		if err := tc.Send(&wire.DiffReq{Epoch: epoch, Queries: queries}); err != nil {
			return nil, err
		}
		msg, err := tc.Receive()
		if err != nil {
			return nil, err
		}
		resp, ok := msg.(*wire.DiffResp)
		if !ok {
			return nil, xerrors.New(xerrors.KindProtocol, "expected DIFF_RESP")
		}
		for _, a := range resp.Answers {
			mismatched = append(mismatched, fsops.Relative(a))
		}
	}

	return mismatched, nil
}

func toPolicyFile(path fsops.Relative, entry index.Entry) wire.PolicyFile {
	return wire.PolicyFile{
		Path:   path.String(),
		Target: entry.Target,
		Kind:   wire.Kind(entry.Kind),
	}
}
