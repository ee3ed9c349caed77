// Package memory describes registered memory: segment descriptors, memory
// kinds, and ordered descriptor lists.
package memory

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Kind classifies the storage behind a descriptor list. Values are wire-stable.
type Kind uint64

const (
	KindDRAM Kind = iota
	KindVRAM
	KindBlock
	KindObject
	KindFile
)

var kindNames = [...]string{
	KindDRAM:   "DRAM_SEG",
	KindVRAM:   "VRAM_SEG",
	KindBlock:  "BLK_SEG",
	KindObject: "OBJ_SEG",
	KindFile:   "FILE_SEG",
}

var ErrUnknownKind = errors.New("memory: unknown memory kind")

func (k Kind) String() string {
	if k.Valid() {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint64(k))
}

func (k Kind) Valid() bool {
	return k <= KindFile
}

// ParseKind accepts the canonical names (DRAM_SEG) and short forms (dram).
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "dram", "dram_seg", "host":
		return KindDRAM, nil
	case "vram", "vram_seg":
		return KindVRAM, nil
	case "blk", "blk_seg", "block":
		return KindBlock, nil
	case "obj", "obj_seg", "object":
		return KindObject, nil
	case "file", "file_seg":
		return KindFile, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, raw)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Desc is one contiguous range. Addr is a virtual address for buffer-backed
// memory and a byte offset for file-backed memory, where DevID is the file handle.
type Desc struct {
	Addr  uint64 `json:"addr"`
	Len   uint64 `json:"len"`
	DevID uint64 `json:"dev_id"`
}

func (d Desc) String() string {
	return fmt.Sprintf("(0x%x,%d,%d)", d.Addr, d.Len, d.DevID)
}

// End returns Addr+Len and false when the range wraps.
func (d Desc) End() (uint64, bool) {
	if d.Len > math.MaxUint64-d.Addr {
		return 0, false
	}
	return d.Addr + d.Len, true
}

var ErrRangeOverflow = errors.New("memory: descriptor range overflows address space")

// List is an ordered sequence of descriptors sharing one kind.
type List struct {
	Kind  Kind   `json:"kind"`
	Descs []Desc `json:"descs"`
}

func NewList(kind Kind, descs ...Desc) List {
	return List{Kind: kind, Descs: append([]Desc(nil), descs...)}
}

func (l *List) Add(d Desc) {
	l.Descs = append(l.Descs, d)
}

func (l List) Len() int {
	return len(l.Descs)
}

func (l List) At(i int) Desc {
	return l.Descs[i]
}

func (l List) Empty() bool {
	return len(l.Descs) == 0
}

// TotalBytes sums descriptor lengths; zero-length entries contribute nothing.
func (l List) TotalBytes() uint64 {
	var total uint64
	for _, d := range l.Descs {
		total += d.Len
	}
	return total
}

func (l List) Clone() List {
	return NewList(l.Kind, l.Descs...)
}

// Trim derives a transfer list from a registration list.
func (l List) Trim() List {
	return l.Clone()
}

func (l List) Validate() error {
	if !l.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint64(l.Kind))
	}
	for i, d := range l.Descs {
		if _, ok := d.End(); !ok {
			return fmt.Errorf("%w: desc[%d]=%s", ErrRangeOverflow, i, d)
		}
	}
	return nil
}

// Equal reports whether both lists carry the same kind and descriptors in order.
func (l List) Equal(o List) bool {
	if l.Kind != o.Kind || len(l.Descs) != len(o.Descs) {
		return false
	}
	for i := range l.Descs {
		if l.Descs[i] != o.Descs[i] {
			return false
		}
	}
	return true
}
