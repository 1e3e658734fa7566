// Package syncserver implements the replica-side listener of §4.8: it
// accepts connections, classifies each by its establish message, and runs
// either the SYNC sub-protocol (diff/commit against the local index) or
// the XFR sub-protocol (applying a transfer to disk).
package syncserver

import (
	"net"
	"os"

	"github.com/driftmirror/driftmirror/internal/fsops"
	"github.com/driftmirror/driftmirror/internal/index"
	"github.com/driftmirror/driftmirror/internal/logging"
	"github.com/driftmirror/driftmirror/internal/transport"
	"github.com/driftmirror/driftmirror/internal/wire"
	"github.com/driftmirror/driftmirror/internal/xerrors"
)

// Server is the replica-side session acceptor.
type Server struct {
	root       fsops.Root
	index      *index.Index
	scanner    *fsops.Scanner
	psk        []byte
	instanceID string
	logger     *logging.Logger
}

// New creates a Server. instanceID identifies this replica in INFO_RESP
// payloads.
func New(root fsops.Root, idx *index.Index, scanner *fsops.Scanner, psk []byte, instanceID string, logger *logging.Logger) *Server {
	return &Server{
		root:       root,
		index:      idx,
		scanner:    scanner,
		psk:        psk,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Serve accepts connections from ln until it errors (e.g. because ln was
// closed to signal shutdown, per §4.10's cancellation note), spawning one
// worker goroutine per connection.
func (s *Server) Serve(ln net.Listener) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(raw)
	}
}

func (s *Server) handleConn(raw net.Conn) {
	tc, err := transport.NewConn(raw, s.psk, false)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn(xerrors.Wrap(xerrors.KindCrypto, err, "establishing inbound session"))
		}
		raw.Close()
		return
	}
	defer tc.Close()

	msg, err := tc.Receive()
	if err != nil {
		if s.logger != nil {
			s.logger.Warn(xerrors.Wrap(xerrors.KindIO, err, "reading establish message"))
		}
		return
	}

	switch m := msg.(type) {
	case *wire.SyncEstablishReq:
		if err := s.runSync(tc); err != nil && s.logger != nil {
			s.logger.Warn(xerrors.Wrap(xerrors.KindIO, err, "sync session"))
		}
	case *wire.XfrEstablishReq:
		if err := s.runXfr(tc, m.Plan); err != nil && s.logger != nil {
			s.logger.Warn(xerrors.Wrap(xerrors.KindIO, err, "transfer session"))
		}
	default:
		if s.logger != nil {
			s.logger.Warn(xerrors.New(xerrors.KindProtocol, "unexpected establish message"))
		}
	}
}

// runSync implements the SYNC sub-protocol (§4.8).
func (s *Server) runSync(tc *transport.Conn) error {
	for {
		msg, err := tc.Receive()
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case *wire.InfoReq:
			resp := &wire.InfoResp{Payloads: []wire.InfoPayload{{
				InstanceID:   s.instanceID,
				Status:       "ok",
				FilesIndexed: s.index.Size(),
				Hash:         s.index.Hash(""),
			}}}
			return tc.Send(resp)

		case *wire.DiffReq:
			answers := make([]string, 0, len(m.Queries))
			for _, q := range m.Queries {
				rel := fsops.Relative(q.Path)
				s.index.SetEpoch(rel, m.Epoch)
				s.index.SetExpectedHash(rel, q.Hash)
				if s.index.Hash(rel) != q.Hash {
					answers = append(answers, q.Path)
				}
			}
			if err := tc.Send(&wire.DiffResp{Answers: answers}); err != nil {
				return err
			}
			// not finished: the client may send further DIFF_REQ chunks.

		case *wire.DiffCommit:
			missing := s.index.Commit(m.Epoch)
			for _, rel := range missing {
				s.deleteAndRescan(rel)
			}
			return nil

		default:
			return xerrors.New(xerrors.KindProtocol, "unexpected message in SYNC session")
		}
	}
}

// deleteAndRescan removes rel from disk (best-effort) and re-scans it as a
// single probe, feeding the resulting (necessarily GONE) record back into
// the index, per §4.8's DIFF_COMMIT handling.
func (s *Server) deleteAndRescan(rel fsops.Relative) {
	abs := s.root.Join(rel)
	os.RemoveAll(string(abs))

	record, ok, err := s.scanner.ScanSingle(rel)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn(xerrors.Wrap(xerrors.KindIO, err, "rescanning deleted path"))
		}
		return
	}
	if ok {
		s.index.Update(record)
	}
}

// runXfr implements the XFR sub-protocol (§4.8).
func (s *Server) runXfr(tc *transport.Conn, plan wire.PolicyPlan) error {
	rel := fsops.Relative(plan.File.Path)
	abs := s.root.Join(rel)

	switch plan.File.Kind {
	case wire.KindDirectory:
		if err := os.MkdirAll(string(abs), 0755); err != nil {
			return xerrors.Wrap(xerrors.KindIO, err, "creating directory")
		}

	case wire.KindGone:
		if err := os.RemoveAll(string(abs)); err != nil {
			return xerrors.Wrap(xerrors.KindIO, err, "removing path")
		}

	case wire.KindFile:
		if err := s.receiveFile(tc, abs); err != nil {
			return err
		}

	case wire.KindSymlink:
		if err := os.Symlink(plan.File.Target, string(abs)); err != nil && !os.IsExist(err) {
			return xerrors.Wrap(xerrors.KindIO, err, "creating symlink")
		}

	default:
		return xerrors.New(xerrors.KindProtocol, "transfer plan has unknown file kind")
	}

	return s.rescanAndUpdate(rel)
}

func (s *Server) receiveFile(tc *transport.Conn, abs fsops.Absolute) error {
	f, err := os.OpenFile(string(abs), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return xerrors.Wrap(xerrors.KindIO, err, "opening destination file")
	}
	defer f.Close()

	for {
		msg, err := tc.Receive()
		if err != nil {
			return err
		}
		block, ok := msg.(*wire.XfrBlock)
		if !ok {
			return xerrors.New(xerrors.KindProtocol, "expected XFR_BLOCK")
		}
		if _, err := f.Write(block.Data); err != nil {
			return xerrors.Wrap(xerrors.KindIO, err, "writing transferred block")
		}
		if len(block.Data) < wire.MaxXfrBlockBytes {
			return nil
		}
	}
}

func (s *Server) rescanAndUpdate(rel fsops.Relative) error {
	record, ok, err := s.scanner.ScanSingle(rel)
	if err != nil {
		return err
	}
	if ok {
		s.index.Update(record)
	}
	return nil
}
