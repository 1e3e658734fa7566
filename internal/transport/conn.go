// Package transport implements the framed secure transport of §4.3: every
// message is wrapped in a typed frame, Snappy-compressed,
// then sealed with AES-256-GCM under a counter nonce before hitting the
// wire. It sits directly on top of internal/wire's codec and below
// internal/pconn's persistent-connection pooling.
package transport

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/golang/snappy"

	"github.com/driftmirror/driftmirror/internal/wire"
	"github.com/driftmirror/driftmirror/internal/xerrors"
)

// outerSizeBytes is the size of the outer frame's length prefix: an i64,
// per §4.3 ("{ size:i64 (total including this header) }").
const outerSizeBytes = 8

// outerHeaderBytes is the fixed portion of every outer frame on the wire:
// the size field itself, the 16-byte GCM tag, and the 12-byte IV, all ahead
// of the variable-length ciphertext (§4.3).
const outerHeaderBytes = outerSizeBytes + tagSize + nonceSize

// maxCiphertextLen bounds an incoming ciphertext length so a corrupt or
// adversarial peer can't drive an unbounded allocation before
// authentication even runs.
const maxCiphertextLen = wire.MaxFrameBytes + 1024

// Conn is one end of a framed secure transport, layered over an arbitrary
// net.Conn (a TCP connection, in practice; internal/pconn lends out the
// *Conn itself). A Conn is safe for concurrent Send calls from multiple
// goroutines (each Send is serialized under writeMu so frames aren't
// interleaved and the nonce
// counter stays correct); Receive is expected to be called from a single
// reader goroutine, matching the teacher's own stream usage.
type Conn struct {
	raw net.Conn

	writeMu sync.Mutex
	send    *sealer
	recv    *sealer
}

// NewConn wraps raw as a framed secure transport using psk, the pre-shared
// key established out of band (§4.3: "connections authenticate with a
// pre-shared key"; this spec has no interactive handshake, so key agreement
// is a Non-goal -- the key is simply configuration). initiator distinguishes
// which directional keys this end uses to encrypt and decrypt, so that a
// connecting peer and an accepting peer derive complementary key pairs.
func NewConn(raw net.Conn, psk []byte, initiator bool) (*Conn, error) {
	var writeRole, readRole byte
	if initiator {
		writeRole, readRole = roleInitiatorWrite, roleResponderWrite
	} else {
		writeRole, readRole = roleResponderWrite, roleInitiatorWrite
	}

	send, err := newSealer(deriveDirectionalKey(psk, writeRole))
	if err != nil {
		return nil, err
	}
	recv, err := newSealer(deriveDirectionalKey(psk, readRole))
	if err != nil {
		return nil, err
	}

	return &Conn{raw: raw, send: send, recv: recv}, nil
}

// Send serializes, compresses, seals, and writes a single message as one
// frame.
func (c *Conn) Send(m wire.Message) error {
	body := wire.Encode(m)

	inner := make([]byte, 1+len(body))
	inner[0] = byte(m.Type())
	copy(inner[1:], body)

	compressed := snappy.Encode(nil, inner)
	outer := make([]byte, 1+len(compressed))
	outer[0] = byte(wire.TypeCompressed)
	copy(outer[1:], compressed)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// The sealer's nonce counter must advance exactly once per frame sent
	// (§4.3: "every sent frame must increment the IV before the next
	// send"); seal() does that internally, so calling it here under
	// writeMu keeps concurrent Send calls from racing on the counter.
	nonce, ciphertext, tag := c.send.seal(outer)

	frame := make([]byte, outerSizeBytes, outerHeaderBytes+len(ciphertext))
	binary.BigEndian.PutUint64(frame, uint64(outerHeaderBytes+len(ciphertext)))
	frame = append(frame, tag...)
	frame = append(frame, nonce...)
	frame = append(frame, ciphertext...)

	if _, err := c.raw.Write(frame); err != nil {
		return xerrors.Wrap(xerrors.KindIO, err, "writing frame")
	}
	return nil
}

// Receive reads, authenticates, decompresses, and decodes the next frame.
// It is an error (KindProtocol) for the frame's outer tag not to be
// TypeCompressed: every sender always compresses (§4.3 doesn't define an
// uncompressed wire form).
func (c *Conn) Receive() (wire.Message, error) {
	var sizeBuf [outerSizeBytes]byte
	if _, err := io.ReadFull(c.raw, sizeBuf[:]); err != nil {
		return nil, protoOrIOErr(err, "reading frame size")
	}
	size := binary.BigEndian.Uint64(sizeBuf[:])
	if size < outerHeaderBytes || size-outerHeaderBytes > maxCiphertextLen {
		return nil, xerrors.New(xerrors.KindProtocol, "frame exceeds maximum size")
	}

	rest := make([]byte, size-outerSizeBytes)
	if _, err := io.ReadFull(c.raw, rest); err != nil {
		return nil, protoOrIOErr(err, "reading frame body")
	}
	tag := rest[:tagSize]
	nonce := rest[tagSize : tagSize+nonceSize]
	ciphertext := rest[tagSize+nonceSize:]

	outer, err := c.recv.open(nonce, ciphertext, tag)
	if err != nil {
		return nil, err
	}
	if len(outer) == 0 || wire.Type(outer[0]) != wire.TypeCompressed {
		return nil, xerrors.New(xerrors.KindProtocol, "frame missing compression tag")
	}

	inner, err := snappy.Decode(nil, outer[1:])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindProtocol, err, "decompressing frame")
	}
	if len(inner) == 0 {
		return nil, xerrors.New(xerrors.KindProtocol, "empty frame")
	}

	return wire.Decode(wire.Type(inner[0]), inner[1:])
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

func protoOrIOErr(err error, msg string) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return xerrors.Wrap(xerrors.KindProtocol, err, msg)
	}
	return xerrors.Wrap(xerrors.KindIO, err, msg)
}
