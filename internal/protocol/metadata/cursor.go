package metadata

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/memxfer/internal/memory"
)

const (
	wordSize = 8
	// Minimum encoded sizes of one element, used to bound counts against the
	// bytes that remain before looping.
	connMinSize    = 2 * wordSize
	sectionMinSize = 3 * wordSize
	descSize       = 3 * wordSize
)

type encoder struct {
	buf []byte
}

func newEncoder(sizeHint int) *encoder {
	return &encoder{buf: make([]byte, 0, sizeHint)}
}

func (e *encoder) word(v uint64) {
	e.buf = binary.NativeEndian.AppendUint64(e.buf, v)
}

func (e *encoder) str(s string) {
	e.word(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) desc(d memory.Desc) {
	e.word(d.Addr)
	e.word(d.Len)
	e.word(d.DevID)
}

func (e *encoder) bytes() []byte {
	return e.buf
}

// cursor is the read position over one blob. It is owned by a single decode.
type cursor struct {
	buf    []byte
	off    int
	limits Limits
}

func newCursor(buf []byte, limits Limits) *cursor {
	return &cursor{buf: buf, limits: limits}
}

func (c *cursor) remaining() uint64 {
	return uint64(len(c.buf) - c.off)
}

func (c *cursor) word(field string) (uint64, error) {
	if c.remaining() < wordSize {
		return 0, fmt.Errorf("%w: %s needs %d bytes, %d remain", ErrTruncated, field, wordSize, c.remaining())
	}
	v := binary.NativeEndian.Uint64(c.buf[c.off : c.off+wordSize])
	c.off += wordSize
	return v, nil
}

func (c *cursor) str(field string) (string, error) {
	n, err := c.word(field + ".len")
	if err != nil {
		return "", err
	}
	if max := c.limits.MaxStringBytes; max > 0 && n > max {
		return "", fmt.Errorf("%w: %s length %d > %d", ErrLimitExceeded, field, n, max)
	}
	if n > c.remaining() {
		return "", fmt.Errorf("%w: %s needs %d bytes, %d remain", ErrTruncated, field, n, c.remaining())
	}
	s := string(c.buf[c.off : c.off+int(n)])
	c.off += int(n)
	return s, nil
}

// count reads a loop bound and rejects it if the elements it implies cannot
// fit in the remaining bytes.
func (c *cursor) count(field string, elemSize uint64, max uint64) (uint64, error) {
	n, err := c.word(field)
	if err != nil {
		return 0, err
	}
	if max > 0 && n > max {
		return 0, fmt.Errorf("%w: %s %d > %d", ErrLimitExceeded, field, n, max)
	}
	if n > c.remaining()/elemSize {
		return 0, fmt.Errorf("%w: %s %d implies at least %d bytes per element, %d remain", ErrTruncated, field, n, elemSize, c.remaining())
	}
	return n, nil
}

func (c *cursor) desc() (memory.Desc, error) {
	if c.remaining() < descSize {
		return memory.Desc{}, fmt.Errorf("%w: descriptor needs %d bytes, %d remain", ErrTruncated, descSize, c.remaining())
	}
	var d memory.Desc
	d.Addr, _ = c.word("desc.addr")
	d.Len, _ = c.word("desc.len")
	d.DevID, _ = c.word("desc.dev_id")
	return d, nil
}
