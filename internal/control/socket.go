// Package control implements the in-process command endpoint of §6: a
// filesystem rendezvous (a Unix-domain socket named by instance id) that a
// local control CLI dials to issue info/sync/inspect commands against a
// running primary or replica, without going through the encrypted
// peer-to-peer transport of §4.3 (the control socket never leaves the
// machine, so there's nothing to authenticate against a remote attacker).
//
// Framing reuses internal/wire's tagged-union codec directly -- a 4-byte
// big-endian length prefix followed by the same {type, body} shape
// internal/transport uses beneath its compression and AEAD layers -- but
// skips both of those layers, since this is loopback-only IPC grounded on
// the teacher's daemon/ipc_posix.go unix-socket rendezvous rather than on
// §4.3's secure transport.
package control

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/driftmirror/driftmirror/internal/wire"
	"github.com/driftmirror/driftmirror/internal/xerrors"
)

// maxFrameBytes bounds a control-socket frame the same way §4.3 bounds a
// peer-to-peer one; the control protocol's messages (info/sync/inspect) are
// all tiny, so this is a generous ceiling against a misbehaving client.
const maxFrameBytes = wire.MaxFrameBytes

// DefaultRendezvousDir is where control sockets live when the CLI doesn't
// override it, analogous to the teacher's daemon.subpath rooting under a
// per-user Mutagen data directory; driftmirror keeps it simpler with a
// single well-known directory under the system temp root, since the
// control socket carries no secrets and every instance on a machine is
// addressed by its own instance id regardless of which user started it.
func DefaultRendezvousDir() string {
	return filepath.Join(os.TempDir(), "driftmirror-control")
}

// SocketPath computes the rendezvous path for instanceID under dir,
// creating dir if necessary. It's the control-socket analogue of the
// teacher's daemon.subpath: one socket per running instance, named so a
// control CLI on the same machine can address a specific primary or
// replica by its --instance-id.
func SocketPath(dir, instanceID string) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", xerrors.Wrap(xerrors.KindIO, err, "creating control socket directory")
	}
	return filepath.Join(dir, instanceID+".sock"), nil
}

// Listen creates (removing any stale socket first, per the teacher's own
// daemon.NewListener comment about crash recovery) a Unix-domain listener
// at path, then restricts it to its owner the same way the teacher's
// pkg/ipc/ipc_posix.go NewListener does via os.Chmod after net.Listen.
func Listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, xerrors.Wrap(xerrors.KindIO, err, "removing stale control socket")
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, err, "listening on control socket")
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return nil, xerrors.Wrap(xerrors.KindIO, err, "restricting control socket permissions")
	}
	return ln, nil
}

// Dial connects to the control socket at path.
func Dial(path string) (net.Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, err, "dialing control socket")
	}
	return conn, nil
}

// sendMessage writes m as a single length-prefixed {type, body} frame.
func sendMessage(w io.Writer, m wire.Message) error {
	body := wire.Encode(m)
	frame := make([]byte, 1+len(body))
	frame[0] = byte(m.Type())
	copy(frame[1:], body)

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(frame)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return xerrors.Wrap(xerrors.KindIO, err, "writing control frame length")
	}
	if _, err := w.Write(frame); err != nil {
		return xerrors.Wrap(xerrors.KindIO, err, "writing control frame body")
	}
	return nil
}

// receiveMessage reads and decodes the next frame written by sendMessage.
func receiveMessage(r io.Reader) (wire.Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, protoOrIOErr(err, "reading control frame length")
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n == 0 || n > maxFrameBytes {
		return nil, xerrors.New(xerrors.KindProtocol, "control frame exceeds maximum size")
	}

	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, protoOrIOErr(err, "reading control frame body")
	}

	return wire.Decode(wire.Type(frame[0]), frame[1:])
}

func protoOrIOErr(err error, msg string) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return xerrors.Wrap(xerrors.KindProtocol, err, msg)
	}
	return xerrors.Wrap(xerrors.KindIO, err, msg)
}
