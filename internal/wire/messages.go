package wire

import (
	"bytes"

	"github.com/driftmirror/driftmirror/internal/xerrors"
)

// Kind mirrors fsops.Kind for wire purposes; the two share byte values so
// converting between them is a plain cast. Wire stays independent of fsops
// so that the codec has no dependency on the local filesystem model.
type Kind uint8

const (
	KindFile Kind = iota
	KindDirectory
	KindSymlink
	KindGone
)

// Message is implemented by every concrete message body.
type Message interface {
	Type() Type
	encode(w *Writer)
	decode(r *Reader) error
}

// Encode serializes a message into its typed frame body (tag handling is
// the framing layer's responsibility; Encode here only serializes the
// message body itself, matching how internal/transport wraps it).
func Encode(m Message) []byte {
	w := NewWriter()
	m.encode(w)
	return w.Bytes()
}

// Decode instantiates and decodes a message body for the given type tag.
// An unrecognized type is a protocol error (§4.3: "A receive with unknown
// type is a protocol error; close the connection.").
func Decode(t Type, body []byte) (Message, error) {
	m, err := newMessage(t)
	if err != nil {
		return nil, err
	}
	r := NewReader(bytes.NewReader(body))
	if err := m.decode(r); err != nil {
		return nil, err
	}
	return m, nil
}

func newMessage(t Type) (Message, error) {
	switch t {
	case TypeInfoReq:
		return &InfoReq{}, nil
	case TypeInfoResp:
		return &InfoResp{}, nil
	case TypeDiffReq:
		return &DiffReq{}, nil
	case TypeDiffResp:
		return &DiffResp{}, nil
	case TypeDiffCommit:
		return &DiffCommit{}, nil
	case TypeXfrEstablishReq:
		return &XfrEstablishReq{}, nil
	case TypeXfrBlock:
		return &XfrBlock{}, nil
	case TypeSyncEstablishReq:
		return &SyncEstablishReq{}, nil
	case TypeFullsyncCmd:
		return &FullsyncCmd{}, nil
	case TypeFlushCmd:
		return &FlushCmd{}, nil
	case TypeInspectReq:
		return &InspectReq{}, nil
	case TypeInspectResp:
		return &InspectResp{}, nil
	case TypeLogReq:
		return &LogReq{}, nil
	case TypeLogResp:
		return &LogResp{}, nil
	default:
		return nil, xerrors.New(xerrors.KindProtocol, "unknown message type")
	}
}

// --- INFO ---

type InfoPayload struct {
	InstanceID   string
	Status       string
	FilesIndexed uint64
	Hash         uint64
}

func (p *InfoPayload) encode(w *Writer) {
	w.String(p.InstanceID)
	w.String(p.Status)
	w.U64(p.FilesIndexed)
	w.U64(p.Hash)
}

func (p *InfoPayload) decode(r *Reader) error {
	var err error
	if p.InstanceID, err = r.String(); err != nil {
		return err
	}
	if p.Status, err = r.String(); err != nil {
		return err
	}
	if p.FilesIndexed, err = r.U64(); err != nil {
		return err
	}
	if p.Hash, err = r.U64(); err != nil {
		return err
	}
	return nil
}

type InfoReq struct{}

func (*InfoReq) Type() Type             { return TypeInfoReq }
func (*InfoReq) encode(w *Writer)       {}
func (*InfoReq) decode(r *Reader) error { return nil }

type InfoResp struct {
	Payloads []InfoPayload
}

func (*InfoResp) Type() Type { return TypeInfoResp }

func (m *InfoResp) encode(w *Writer) {
	w.U64(uint64(len(m.Payloads)))
	for i := range m.Payloads {
		m.Payloads[i].encode(w)
	}
}

func (m *InfoResp) decode(r *Reader) error {
	n, err := r.containerLen()
	if err != nil {
		return err
	}
	m.Payloads = make([]InfoPayload, n)
	for i := 0; i < n; i++ {
		if err := m.Payloads[i].decode(r); err != nil {
			return err
		}
	}
	return nil
}

// --- DIFF ---

type DiffQuery struct {
	Path string
	Hash uint64
}

func (q *DiffQuery) encode(w *Writer) {
	w.Path(q.Path)
	w.U64(q.Hash)
}

func (q *DiffQuery) decode(r *Reader) error {
	var err error
	if q.Path, err = r.Path(); err != nil {
		return err
	}
	if q.Hash, err = r.U64(); err != nil {
		return err
	}
	return nil
}

type DiffReq struct {
	Epoch   uint64
	Queries []DiffQuery
}

func (*DiffReq) Type() Type { return TypeDiffReq }

func (m *DiffReq) encode(w *Writer) {
	w.U64(m.Epoch)
	w.U64(uint64(len(m.Queries)))
	for i := range m.Queries {
		m.Queries[i].encode(w)
	}
}

func (m *DiffReq) decode(r *Reader) error {
	var err error
	if m.Epoch, err = r.U64(); err != nil {
		return err
	}
	n, err := r.containerLen()
	if err != nil {
		return err
	}
	if n > MaxDiffQueries {
		return xerrors.New(xerrors.KindProtocol, "too many queries in DIFF_REQ")
	}
	m.Queries = make([]DiffQuery, n)
	for i := 0; i < n; i++ {
		if err := m.Queries[i].decode(r); err != nil {
			return err
		}
	}
	return nil
}

type DiffResp struct {
	Answers []string
}

func (*DiffResp) Type() Type { return TypeDiffResp }

func (m *DiffResp) encode(w *Writer) {
	w.U64(uint64(len(m.Answers)))
	for _, p := range m.Answers {
		w.Path(p)
	}
}

func (m *DiffResp) decode(r *Reader) error {
	n, err := r.containerLen()
	if err != nil {
		return err
	}
	m.Answers = make([]string, n)
	for i := 0; i < n; i++ {
		if m.Answers[i], err = r.Path(); err != nil {
			return err
		}
	}
	return nil
}

type DiffCommit struct {
	Epoch uint64
}

func (*DiffCommit) Type() Type { return TypeDiffCommit }

func (m *DiffCommit) encode(w *Writer) { w.U64(m.Epoch) }

func (m *DiffCommit) decode(r *Reader) error {
	var err error
	m.Epoch, err = r.U64()
	return err
}

// --- TRANSFER ---

// PlanStep is one node of a PolicyPlan's forwarding tree (GLOSSARY: "Plan").
// The core implementation only ever populates a single root step (depth 1),
// but the wire format supports arbitrary chain depth for forward
// compatibility with the Chain policy (§4.5).
type PlanStep struct {
	Host     string
	Children []PlanStep
}

func (s *PlanStep) encode(w *Writer) {
	w.String(s.Host)
	w.U64(uint64(len(s.Children)))
	for i := range s.Children {
		s.Children[i].encode(w)
	}
}

func (s *PlanStep) decode(r *Reader) error {
	var err error
	if s.Host, err = r.String(); err != nil {
		return err
	}
	n, err := r.containerLen()
	if err != nil {
		return err
	}
	s.Children = make([]PlanStep, n)
	for i := 0; i < n; i++ {
		if err := s.Children[i].decode(r); err != nil {
			return err
		}
	}
	return nil
}

// PolicyFile is the unit of work on the transfer queue (§3).
type PolicyFile struct {
	Path   string
	Target string
	Kind   Kind
}

func (f *PolicyFile) encode(w *Writer) {
	w.Path(f.Path)
	w.String(f.Target)
	w.U8(uint8(f.Kind))
}

func (f *PolicyFile) decode(r *Reader) error {
	var err error
	if f.Path, err = r.Path(); err != nil {
		return err
	}
	if f.Target, err = r.String(); err != nil {
		return err
	}
	k, err := r.U8()
	if err != nil {
		return err
	}
	f.Kind = Kind(k)
	return nil
}

// PolicyPlan is a transfer instruction (§3).
type PolicyPlan struct {
	File  PolicyFile
	Steps PlanStep
}

func (p *PolicyPlan) encode(w *Writer) {
	p.File.encode(w)
	p.Steps.encode(w)
}

func (p *PolicyPlan) decode(r *Reader) error {
	if err := p.File.decode(r); err != nil {
		return err
	}
	return p.Steps.decode(r)
}

type XfrEstablishReq struct {
	Plan PolicyPlan
}

func (*XfrEstablishReq) Type() Type { return TypeXfrEstablishReq }

func (m *XfrEstablishReq) encode(w *Writer) { m.Plan.encode(w) }

func (m *XfrEstablishReq) decode(r *Reader) error { return m.Plan.decode(r) }

type XfrBlock struct {
	Data []byte
}

func (*XfrBlock) Type() Type { return TypeXfrBlock }

func (m *XfrBlock) encode(w *Writer) { w.Bytes_(m.Data) }

func (m *XfrBlock) decode(r *Reader) error {
	var err error
	m.Data, err = r.Bytes_()
	return err
}

// --- ESTABLISH / COMMAND ---

type SyncEstablishReq struct{}

func (*SyncEstablishReq) Type() Type             { return TypeSyncEstablishReq }
func (*SyncEstablishReq) encode(w *Writer)       {}
func (*SyncEstablishReq) decode(r *Reader) error { return nil }

type FullsyncCmd struct{}

func (*FullsyncCmd) Type() Type             { return TypeFullsyncCmd }
func (*FullsyncCmd) encode(w *Writer)       {}
func (*FullsyncCmd) decode(r *Reader) error { return nil }

type FlushCmd struct{}

func (*FlushCmd) Type() Type             { return TypeFlushCmd }
func (*FlushCmd) encode(w *Writer)       {}
func (*FlushCmd) decode(r *Reader) error { return nil }

// --- INSPECT ---

type InspectReq struct {
	Path string
}

func (*InspectReq) Type() Type { return TypeInspectReq }

func (m *InspectReq) encode(w *Writer) { w.Path(m.Path) }

func (m *InspectReq) decode(r *Reader) error {
	var err error
	m.Path, err = r.Path()
	return err
}

type InspectChild struct {
	Path string
	Hash uint64
}

func (c *InspectChild) encode(w *Writer) {
	w.Path(c.Path)
	w.U64(c.Hash)
}

func (c *InspectChild) decode(r *Reader) error {
	var err error
	if c.Path, err = r.Path(); err != nil {
		return err
	}
	c.Hash, err = r.U64()
	return err
}

type InspectResp struct {
	Path     string
	Hash     uint64
	Children []InspectChild
}

func (*InspectResp) Type() Type { return TypeInspectResp }

func (m *InspectResp) encode(w *Writer) {
	w.Path(m.Path)
	w.U64(m.Hash)
	w.U64(uint64(len(m.Children)))
	for i := range m.Children {
		m.Children[i].encode(w)
	}
}

func (m *InspectResp) decode(r *Reader) error {
	var err error
	if m.Path, err = r.Path(); err != nil {
		return err
	}
	if m.Hash, err = r.U64(); err != nil {
		return err
	}
	n, err := r.containerLen()
	if err != nil {
		return err
	}
	m.Children = make([]InspectChild, n)
	for i := 0; i < n; i++ {
		if err := m.Children[i].decode(r); err != nil {
			return err
		}
	}
	return nil
}

// --- LOG ---

type LogReq struct {
	Level   string
	Message string
}

func (*LogReq) Type() Type { return TypeLogReq }

func (m *LogReq) encode(w *Writer) {
	w.String(m.Level)
	w.String(m.Message)
}

func (m *LogReq) decode(r *Reader) error {
	var err error
	if m.Level, err = r.String(); err != nil {
		return err
	}
	m.Message, err = r.String()
	return err
}

type LogResp struct{}

func (*LogResp) Type() Type             { return TypeLogResp }
func (*LogResp) encode(w *Writer)       {}
func (*LogResp) decode(r *Reader) error { return nil }
