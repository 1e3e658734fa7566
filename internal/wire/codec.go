package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/driftmirror/driftmirror/internal/xerrors"
)

// Writer accumulates a message body using the big-endian, length-prefixed
// encoding rules of §4.2. It is a thin wrapper over bytes.Buffer; every
// Write* method panics on the underlying buffer's (impossible) write error,
// matching bytes.Buffer's own documented behavior.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the accumulated encoded body.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

func (w *Writer) U8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *Writer) Bool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) U16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) U32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) U64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) I64(v int64) {
	w.U64(uint64(v))
}

func (w *Writer) String(s string) {
	w.U32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *Writer) Bytes_(b []byte) {
	w.U64(uint64(len(b)))
	w.buf.Write(b)
}

// Path writes a path in its wire form: the string form of the path (§3,
// §4.2), identical to String.
func (w *Writer) Path(p string) {
	w.String(p)
}

// Reader decodes a message body using the same rules as Writer.
type Reader struct {
	r io.Reader
}

// NewReader wraps r for decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func protoErr(err error, msg string) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return xerrors.Wrap(xerrors.KindProtocol, err, msg)
	}
	return xerrors.Wrap(xerrors.KindIO, err, msg)
}

func (r *Reader) readFull(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, protoErr(err, "unable to read bytes")
	}
	return b, nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.readFull(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Bool() (bool, error) {
	b, err := r.U8()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (r *Reader) U16() (uint16, error) {
	b, err := r.readFull(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.readFull(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.readFull(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

const maxStringLen = 16 * 1024 * 1024

func (r *Reader) String() (string, error) {
	n, err := r.U32()
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", xerrors.New(xerrors.KindProtocol, "string length exceeds limit")
	}
	b, err := r.readFull(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

const maxByteVectorLen = MaxFrameBytes

func (r *Reader) Bytes_() ([]byte, error) {
	n, err := r.U64()
	if err != nil {
		return nil, err
	}
	if n > maxByteVectorLen {
		return nil, xerrors.New(xerrors.KindProtocol, "byte vector length exceeds limit")
	}
	return r.readFull(int(n))
}

// Path reads a path in its wire form.
func (r *Reader) Path() (string, error) {
	return r.String()
}

// errBadContainerLen is returned (wrapped) when a decoded container count is
// implausibly large, protecting against a corrupt or malicious length prefix
// driving an enormous allocation.
var errBadContainerLen = errors.New("container length exceeds limit")

const maxContainerLen = 1 << 20

func (r *Reader) containerLen() (int, error) {
	n, err := r.U64()
	if err != nil {
		return 0, err
	}
	if n > maxContainerLen {
		return 0, xerrors.Wrap(xerrors.KindProtocol, errBadContainerLen, "decoding container")
	}
	return int(n), nil
}
