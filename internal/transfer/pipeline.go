// Package transfer implements the Transfer Pipeline of §4.6: a pool of
// connection-reusing workers, two per peer, that pop plans from the policy
// queue and stream file/directory/symlink/deletion payloads to that peer.
package transfer

import (
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftmirror/driftmirror/internal/fsops"
	"github.com/driftmirror/driftmirror/internal/logging"
	"github.com/driftmirror/driftmirror/internal/pconn"
	"github.com/driftmirror/driftmirror/internal/policy"
	"github.com/driftmirror/driftmirror/internal/transport"
	"github.com/driftmirror/driftmirror/internal/wire"
	"github.com/driftmirror/driftmirror/internal/xerrors"
)

// WorkersPerPeer is the number of worker goroutines the pipeline runs per
// destination host (§4.6).
const WorkersPerPeer = 2

// errorBackoff is the pause between a failed delivery attempt and its retry
// (§4.6: "sleep 2 s, continue").
const errorBackoff = 2 * time.Second

// borrowTimeout bounds how long a single delivery attempt waits to borrow a
// connection before giving up and retrying the whole plan; a failed dial
// also fails the borrow, and the plan is retried the same way (§4.4 has no
// notion of a bounded borrow, since Go's call primitive needs a concrete
// deadline where the original spec's blocking wait did not).
const borrowTimeout = 30 * time.Second

// Dialer opens a fresh network connection to host.
type Dialer func(host string) (net.Conn, error)

// Pipeline owns the per-peer worker pools, the shared in-flight counter,
// and one persistent connection per worker.
type Pipeline struct {
	policy policy.Policy
	root   fsops.Root
	psk    []byte
	dial   Dialer
	logger *logging.Logger

	inFlightMu   sync.Mutex
	inFlightCond *sync.Cond
	inFlight     int64

	fileGoneCount uint64
}

// New creates a Pipeline. p is the policy queue workers pop plans from;
// root is the local filesystem root plans reference; psk is the pre-shared
// key used to establish each worker's framed secure transport; dial opens a
// new raw connection to a host.
func New(p policy.Policy, root fsops.Root, psk []byte, dial Dialer, logger *logging.Logger) *Pipeline {
	pl := &Pipeline{
		policy: p,
		root:   root,
		psk:    psk,
		dial:   dial,
		logger: logger,
	}
	pl.inFlightCond = sync.NewCond(&pl.inFlightMu)
	return pl
}

// Start launches WorkersPerPeer worker goroutines dedicated to host. Each
// worker owns its own persistent connection, so two workers per peer means
// two independently reusable sockets.
func (p *Pipeline) Start(host string) {
	for i := 0; i < WorkersPerPeer; i++ {
		go p.runWorker(host)
	}
}

// FileGoneCount reports how many FILE plans were dropped because the local
// file disappeared before it could be opened (§4.6).
func (p *Pipeline) FileGoneCount() uint64 {
	return atomic.LoadUint64(&p.fileGoneCount)
}

// WaitUntilIdle blocks until the in-flight counter reaches zero (used by
// the anti-entropy loop's drift check, §4.9).
func (p *Pipeline) WaitUntilIdle() {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	for p.inFlight != 0 {
		p.inFlightCond.Wait()
	}
}

func (p *Pipeline) addInFlight(delta int64) {
	p.inFlightMu.Lock()
	p.inFlight += delta
	if p.inFlight == 0 {
		p.inFlightCond.Broadcast()
	}
	p.inFlightMu.Unlock()
}

func (p *Pipeline) runWorker(host string) {
	conn := pconn.New[*transport.Conn](func() (*transport.Conn, error) {
		raw, err := p.dial(host)
		if err != nil {
			return nil, err
		}
		return transport.NewConn(raw, p.psk, true)
	}, p.logger)
	defer conn.Close()

	for {
		plan := p.policy.Pop(host)

		p.addInFlight(1)
		err := conn.Use(borrowTimeout, func(tc *transport.Conn) error {
			return p.deliver(tc, plan)
		})
		p.addInFlight(-1)

		if err != nil {
			if p.logger != nil {
				p.logger.Warn(xerrors.Wrap(xerrors.KindIO, err, "delivering transfer plan"))
			}
			p.policy.Push(host, plan.File)
			time.Sleep(errorBackoff)
			continue
		}
		p.policy.Complete(host)
	}
}

// deliver sends plan's establishment message, and for FILE plans the block
// stream, over tc (§4.6 step 4).
func (p *Pipeline) deliver(tc *transport.Conn, plan wire.PolicyPlan) error {
	switch plan.File.Kind {
	case wire.KindFile:
		path := p.root.Join(fsops.Relative(plan.File.Path))
		f, err := os.Open(string(path))
		if err != nil {
			if os.IsNotExist(err) {
				atomic.AddUint64(&p.fileGoneCount, 1)
				return nil
			}
			return xerrors.Wrap(xerrors.KindIO, err, "opening file for transfer")
		}
		defer f.Close()

		if err := tc.Send(&wire.XfrEstablishReq{Plan: plan}); err != nil {
			return err
		}
		return streamFile(tc, f)

	case wire.KindDirectory, wire.KindSymlink, wire.KindGone:
		return tc.Send(&wire.XfrEstablishReq{Plan: plan})

	default:
		return xerrors.New(xerrors.KindProtocol, "transfer plan has unknown file kind")
	}
}

// streamFile sends f's contents as a sequence of up to wire.MaxXfrBlockBytes
// XFR_BLOCK messages. A block shorter than the maximum terminates the
// stream; if the final full-length block lands exactly on the maximum, one
// more empty block is sent so the receiver observes a short block (§4.6).
func streamFile(tc *transport.Conn, f *os.File) error {
	buf := make([]byte, wire.MaxXfrBlockBytes)
	for {
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return xerrors.Wrap(xerrors.KindIO, err, "reading file for transfer")
		}

		block := make([]byte, n)
		copy(block, buf[:n])
		if sendErr := tc.Send(&wire.XfrBlock{Data: block}); sendErr != nil {
			return sendErr
		}

		if n < len(buf) {
			return nil
		}
	}
}
