// Package pconn implements the persistent, borrow/return connection of
// §4.4: a single-owner reusable socket driven by its own goroutine, with an
// idle timeout and a defensive reset for a tolerated double-borrow.
//
// It's generic over the connection type (io.Closer) so that the same
// driver serves both a raw net.Conn (used while establishing a session) and
// a *transport.Conn (the common case: the framed, encrypted session itself
// must persist across borrows, since its AEAD nonce counters are only safe
// to advance once per physical socket -- re-wrapping a reused socket on
// every Borrow would restart the counter and violate nonce uniqueness).
package pconn

import (
	"io"
	"time"

	"github.com/driftmirror/driftmirror/internal/actor"
	"github.com/driftmirror/driftmirror/internal/logging"
	"github.com/driftmirror/driftmirror/internal/xerrors"
)

// idleTimeout is the duration an idle-with-socket connection waits before
// closing its socket and returning to idle-no-sock (§4.4).
const idleTimeout = 10 * time.Second

// dialRetryDelay is how long the driver sleeps after a failed dial before
// reporting the failure to the borrower; the next BORROW dials again (§4.4).
const dialRetryDelay = 2 * time.Second

type requestKind int

const (
	reqBorrow requestKind = iota
	reqReturn
	reqInvalidate
	reqTerminate
)

type request struct {
	kind requestKind
}

type response[T io.Closer] struct {
	conn T
	err  error
}

// Dialer establishes a fresh underlying connection to the persistent
// connection's peer.
type Dialer[T io.Closer] func() (T, error)

// Conn is a persistent, single-owner, borrow/return connection. Create one
// per peer; call Borrow/Return/Invalidate from any goroutine (they're
// mailbox casts/calls under the hood), and Close to shut the driver down.
type Conn[T io.Closer] struct {
	mailbox *actor.Mailbox[request, response[T]]
	dial    Dialer[T]
	logger  *logging.Logger
}

// New starts a persistent connection's driver goroutine. No socket is
// opened until the first Borrow.
func New[T io.Closer](dial Dialer[T], logger *logging.Logger) *Conn[T] {
	c := &Conn[T]{
		mailbox: actor.New[request, response[T]](),
		dial:    dial,
		logger:  logger,
	}
	go c.run()
	return c
}

// Borrow obtains the underlying socket, dialing if necessary. It blocks
// while connecting; if the dial fails, the driver sleeps dialRetryDelay and
// Borrow returns the dial error, and the next Borrow dials again (§4.4).
func (c *Conn[T]) Borrow(timeout time.Duration) (T, error) {
	resp, err := c.mailbox.Call(request{kind: reqBorrow}, timeout)
	if err != nil {
		var zero T
		return zero, err
	}
	return resp.conn, resp.err
}

// Return gives the socket back for reuse. A Return without a prior Borrow
// is tolerated (shutdown races, §4.4).
func (c *Conn[T]) Return() {
	c.mailbox.Cast(request{kind: reqReturn})
}

// Invalidate marks the currently loaned socket as unusable; the caller
// still owes a subsequent Return.
func (c *Conn[T]) Invalidate() {
	c.mailbox.Cast(request{kind: reqInvalidate})
}

// Close terminates the driver goroutine, closing any idle socket. It must
// not be called while a socket is on loan.
func (c *Conn[T]) Close() {
	c.mailbox.Cast(request{kind: reqTerminate})
}

// Use wraps a borrow/use/return cycle in a scoped guard: if fn returns an
// error, the connection is invalidated before being returned, matching
// §4.4's "the calling side wraps borrow/use/return... so that an error in
// user code always invalidates and returns."
func (c *Conn[T]) Use(timeout time.Duration, fn func(T) error) error {
	conn, err := c.Borrow(timeout)
	if err != nil {
		return err
	}
	err = fn(conn)
	if err != nil {
		c.Invalidate()
	}
	c.Return()
	return err
}

// run drives the state machine described in §4.4. haveConn/loaned/dead
// together encode the five states: idle-no-sock (!haveConn), idle-sock
// (haveConn, !loaned), loaned (haveConn, loaned, !dead), loaned-dead
// (haveConn, loaned, dead; the socket is already closed), done (loop
// returns).
func (c *Conn[T]) run() {
	var conn T
	haveConn := false
	loaned := false
	dead := false

	for {
		var timeout time.Duration
		if haveConn && !loaned {
			timeout = idleTimeout
		}

		env, ok := c.mailbox.ConsumeTimeout(timeout)
		if !ok {
			// idle-timeout while idle-with-socket: close silently.
			conn.Close()
			haveConn = false
			continue
		}

		switch env.Message.kind {
		case reqBorrow:
			if loaned {
				// Tolerated defensive reset (§9, §4.4): a BORROW arriving
				// while already loaned resets is_borrowed rather than
				// wedging the driver. Treated as recovering to loaned with
				// the same socket.
				if c.logger != nil {
					c.logger.Warn(xerrors.New(xerrors.KindProtocol, "borrow received while already loaned"))
				}
			}
			if !haveConn {
				dialed, err := c.dialWithRetry()
				if err != nil {
					c.mailbox.Reply(env.RefID, response[T]{err: err})
					continue
				}
				conn = dialed
				haveConn = true
			}
			loaned = true
			dead = false
			c.mailbox.Reply(env.RefID, response[T]{conn: conn})

		case reqInvalidate:
			if loaned {
				if haveConn {
					conn.Close()
				}
				dead = true
			}

		case reqReturn:
			if !loaned {
				// Tolerated: a RETURN without a prior BORROW, during
				// shutdown races (§4.4).
				continue
			}
			loaned = false
			if dead {
				haveConn = false
				dead = false
			}

		case reqTerminate:
			if haveConn {
				conn.Close()
			}
			return
		}
	}
}

// dialWithRetry makes one dial attempt. On failure it sleeps dialRetryDelay
// before returning the error, so the next BORROW is the retry (§4.4). It
// blocks the driver goroutine; any BORROW/RETURN/TERMINATE arriving
// meanwhile simply queues.
func (c *Conn[T]) dialWithRetry() (T, error) {
	conn, err := c.dial()
	if err != nil {
		if c.logger != nil {
			c.logger.Warn(xerrors.Wrap(xerrors.KindIO, err, "dialing persistent connection"))
		}
		time.Sleep(dialRetryDelay)
	}
	return conn, err
}
