package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"

	"github.com/danmuck/memxfer/internal/protocol"
	"golang.org/x/sys/unix"
)

// HeaderLen is the size of the length prefix in front of every message.
const HeaderLen = 8

// readChunk bounds how far the payload buffer grows ahead of received bytes.
const readChunk = 1 << 20

// maxStalledCalls bounds consecutive zero-progress calls on a misbehaving conn.
const maxStalledCalls = 128

var (
	ErrIncompleteHeader  = errors.New("frame: connection closed while waiting for message header")
	ErrIncompletePayload = errors.New("frame: connection closed while waiting for payload")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
)

// Limits constrains receive-side allocation. A zero MaxPayloadBytes disables the bound.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 64 * 1024 * 1024,
	}
}

// WriteMessage writes the native-endian length header and payload as one
// buffer, continuing after short writes and retrying interrupted ones.
func WriteMessage(w io.Writer, payload []byte) error {
	buf := make([]byte, HeaderLen+len(payload))
	binary.NativeEndian.PutUint64(buf[:HeaderLen], uint64(len(payload)))
	copy(buf[HeaderLen:], payload)

	sent := 0
	stalled := 0
	for sent < len(buf) {
		n, err := w.Write(buf[sent:])
		if n > 0 {
			sent += n
			stalled = 0
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return protocol.Transport("frame.write", fmt.Errorf("send failed after %d/%d bytes: %w", sent, len(buf), err))
		}
		if n == 0 {
			stalled++
			if stalled >= maxStalledCalls {
				return protocol.Transport("frame.write", io.ErrShortWrite)
			}
		}
	}
	return nil
}

// ReadMessage reads one length-prefixed message. Peer shutdown before the
// header or the payload is complete is a transport error, never a short payload.
func ReadMessage(r io.Reader, limits Limits) ([]byte, error) {
	var header [HeaderLen]byte
	if err := readFull(r, header[:], 0, HeaderLen, ErrIncompleteHeader); err != nil {
		return nil, err
	}

	size := binary.NativeEndian.Uint64(header[:])
	if limits.MaxPayloadBytes > 0 && size > limits.MaxPayloadBytes {
		return nil, protocol.Protocol("frame.read", fmt.Errorf("%w: %d bytes exceeds limit %d", ErrPayloadTooLarge, size, limits.MaxPayloadBytes))
	}
	if size > uint64(int(^uint(0)>>1)) {
		return nil, protocol.Protocol("frame.read", fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, size))
	}

	return readPayload(r, int(size))
}

// readPayload grows the buffer at most readChunk bytes ahead of what has
// arrived.
func readPayload(r io.Reader, size int) ([]byte, error) {
	payload := make([]byte, 0, min(size, readChunk))
	for len(payload) < size {
		start := len(payload)
		next := start + min(size-start, readChunk)
		payload = slices.Grow(payload, next-start)[:next]
		if err := readFull(r, payload, start, size, ErrIncompletePayload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// readFull fills buf[got:]. want is the full message size, reported when the
// peer closes early.
func readFull(r io.Reader, buf []byte, got, want int, incomplete error) error {
	stalled := 0
	for got < len(buf) {
		n, err := r.Read(buf[got:])
		if n > 0 {
			got += n
			stalled = 0
		}
		if got == len(buf) {
			return nil
		}
		if err == nil {
			if n == 0 {
				stalled++
				if stalled >= maxStalledCalls {
					return protocol.Transport("frame.read", io.ErrNoProgress)
				}
			}
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if peerClosed(err) {
			return protocol.Transport("frame.read", fmt.Errorf("%w (%d/%d bytes)", incomplete, got, want))
		}
		return protocol.Transport("frame.read", fmt.Errorf("recv failed: %w", err))
	}
	return nil
}

func peerClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, unix.ECONNRESET)
}
