// Package metadata encodes and decodes an agent's exported memory layout.
//
// The blob is positional: every field is read back in exactly the order it
// was written, with no keys or padding. All integers are 8-byte native-endian.
//
//	[len][agent] [conn_count] conn_count*([len][tag][len][value])
//	[len]["MemSection"] [section_count]
//	section_count*([len][backend] [kind] [desc_count] desc_count*([addr][len][dev]))
package metadata

import (
	"errors"
	"fmt"

	"github.com/danmuck/memxfer/internal/memory"
	"github.com/danmuck/memxfer/internal/protocol"
)

// Marker separates the connection block from the memory sections.
const Marker = "MemSection"

var (
	ErrTruncated       = errors.New("metadata: truncated blob")
	ErrBadMarker       = errors.New("metadata: unexpected section marker")
	ErrLimitExceeded   = errors.New("metadata: length exceeds limit")
	ErrTrailingBytes   = errors.New("metadata: trailing bytes after sections")
	ErrInvalidEnvelope = errors.New("metadata: invalid envelope")
	ErrKindNotExported = errors.New("metadata: remote metadata does not expose desired memory segment")
)

// Limits bounds every decoded length before it is used to allocate or loop.
// Zero fields fall back to the remaining-bytes check only.
type Limits struct {
	MaxStringBytes uint64
	MaxConns       uint64
	MaxSections    uint64
	MaxDescs       uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxStringBytes: 64 * 1024,
		MaxConns:       1024,
		MaxSections:    1024,
		MaxDescs:       1 << 20,
	}
}

func (l Limits) check(env Envelope) error {
	str := func(field, v string) error {
		if l.MaxStringBytes > 0 && uint64(len(v)) > l.MaxStringBytes {
			return fmt.Errorf("%w: %s length %d > %d", ErrLimitExceeded, field, len(v), l.MaxStringBytes)
		}
		return nil
	}
	if err := str("agent", env.Agent); err != nil {
		return err
	}
	if l.MaxConns > 0 && uint64(len(env.Conns)) > l.MaxConns {
		return fmt.Errorf("%w: conn_count %d > %d", ErrLimitExceeded, len(env.Conns), l.MaxConns)
	}
	for i, c := range env.Conns {
		if err := str(fmt.Sprintf("conn[%d].tag", i), c.Tag); err != nil {
			return err
		}
		if err := str(fmt.Sprintf("conn[%d].value", i), c.Value); err != nil {
			return err
		}
	}
	if l.MaxSections > 0 && uint64(len(env.Sections)) > l.MaxSections {
		return fmt.Errorf("%w: section_count %d > %d", ErrLimitExceeded, len(env.Sections), l.MaxSections)
	}
	for i, s := range env.Sections {
		if err := str(fmt.Sprintf("section[%d].backend", i), s.Backend); err != nil {
			return err
		}
		if l.MaxDescs > 0 && uint64(len(s.List.Descs)) > l.MaxDescs {
			return fmt.Errorf("%w: section[%d].desc_count %d > %d", ErrLimitExceeded, i, len(s.List.Descs), l.MaxDescs)
		}
	}
	return nil
}

// Conn is one (transport tag, connection blob) pair.
type Conn struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

// Section is one backend's registration list.
type Section struct {
	Backend string      `json:"backend"`
	List    memory.List `json:"list"`
}

// Envelope is the exported state of one agent.
type Envelope struct {
	Agent    string    `json:"agent"`
	Conns    []Conn    `json:"conns"`
	Sections []Section `json:"sections"`
}

// Find returns the first section whose list is non-empty and tagged kind.
func (e Envelope) Find(kind memory.Kind) (Section, bool) {
	for _, s := range e.Sections {
		if s.List.Empty() || s.List.Kind != kind {
			continue
		}
		return s, true
	}
	return Section{}, false
}

// Encode serializes env into one opaque blob. An envelope that a peer
// decoding under limits would reject is refused here instead.
func Encode(env Envelope, limits Limits) ([]byte, error) {
	for i, s := range env.Sections {
		if err := s.List.Validate(); err != nil {
			return nil, protocol.Argument("metadata.encode", fmt.Errorf("%w: section[%d] %q: %w", ErrInvalidEnvelope, i, s.Backend, err))
		}
	}
	if err := limits.check(env); err != nil {
		return nil, protocol.Argument("metadata.encode", err)
	}

	e := newEncoder(encodedSize(env))
	e.str(env.Agent)
	e.word(uint64(len(env.Conns)))
	for _, c := range env.Conns {
		e.str(c.Tag)
		e.str(c.Value)
	}
	e.str(Marker)
	e.word(uint64(len(env.Sections)))
	for _, s := range env.Sections {
		e.str(s.Backend)
		e.word(uint64(s.List.Kind))
		e.word(uint64(len(s.List.Descs)))
		for _, d := range s.List.Descs {
			e.desc(d)
		}
	}
	return e.bytes(), nil
}

// Decode parses a blob produced by Encode, validating structure and bounds as it goes.
func Decode(blob []byte, limits Limits) (Envelope, error) {
	env, err := decode(newCursor(blob, limits))
	if err != nil {
		return Envelope{}, protocol.Protocol("metadata.decode", err)
	}
	return env, nil
}

// Import decodes blob and returns the agent name plus a transfer list for the
// first non-empty section of the requested kind.
func Import(blob []byte, kind memory.Kind, limits Limits) (string, memory.List, error) {
	env, err := Decode(blob, limits)
	if err != nil {
		return "", memory.List{}, err
	}
	section, ok := env.Find(kind)
	if !ok {
		return env.Agent, memory.List{}, protocol.Capacity("metadata.import", fmt.Errorf("%w: %s", ErrKindNotExported, kind))
	}
	return env.Agent, section.List.Trim(), nil
}

func decode(c *cursor) (Envelope, error) {
	var env Envelope
	var err error

	if env.Agent, err = c.str("agent"); err != nil {
		return Envelope{}, err
	}

	nconns, err := c.count("conn_count", connMinSize, c.limits.MaxConns)
	if err != nil {
		return Envelope{}, err
	}
	env.Conns = make([]Conn, 0, nconns)
	for i := uint64(0); i < nconns; i++ {
		var conn Conn
		if conn.Tag, err = c.str(fmt.Sprintf("conn[%d].tag", i)); err != nil {
			return Envelope{}, err
		}
		if conn.Value, err = c.str(fmt.Sprintf("conn[%d].value", i)); err != nil {
			return Envelope{}, err
		}
		env.Conns = append(env.Conns, conn)
	}

	marker, err := c.str("marker")
	if err != nil {
		return Envelope{}, err
	}
	if marker != Marker {
		return Envelope{}, fmt.Errorf("%w: got %q", ErrBadMarker, truncateForLog(marker))
	}

	nsections, err := c.count("section_count", sectionMinSize, c.limits.MaxSections)
	if err != nil {
		return Envelope{}, err
	}
	env.Sections = make([]Section, 0, nsections)
	for i := uint64(0); i < nsections; i++ {
		s, err := decodeSection(c, i)
		if err != nil {
			return Envelope{}, err
		}
		env.Sections = append(env.Sections, s)
	}

	if c.remaining() != 0 {
		return Envelope{}, fmt.Errorf("%w: %d bytes", ErrTrailingBytes, c.remaining())
	}
	return env, nil
}

func decodeSection(c *cursor, i uint64) (Section, error) {
	backend, err := c.str(fmt.Sprintf("section[%d].backend", i))
	if err != nil {
		return Section{}, err
	}
	rawKind, err := c.word(fmt.Sprintf("section[%d].kind", i))
	if err != nil {
		return Section{}, err
	}
	kind := memory.Kind(rawKind)
	if !kind.Valid() {
		return Section{}, fmt.Errorf("section[%d] %q: %w: %d", i, backend, memory.ErrUnknownKind, rawKind)
	}
	ndescs, err := c.count(fmt.Sprintf("section[%d].desc_count", i), descSize, c.limits.MaxDescs)
	if err != nil {
		return Section{}, err
	}
	list := memory.List{Kind: kind, Descs: make([]memory.Desc, 0, ndescs)}
	for j := uint64(0); j < ndescs; j++ {
		d, err := c.desc()
		if err != nil {
			return Section{}, err
		}
		list.Descs = append(list.Descs, d)
	}
	return Section{Backend: backend, List: list}, nil
}

func encodedSize(env Envelope) int {
	n := wordSize + len(env.Agent) + wordSize
	for _, c := range env.Conns {
		n += 2*wordSize + len(c.Tag) + len(c.Value)
	}
	n += wordSize + len(Marker) + wordSize
	for _, s := range env.Sections {
		n += sectionMinSize + len(s.Backend) + len(s.List.Descs)*descSize
	}
	return n
}

func truncateForLog(s string) string {
	const max = 32
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
