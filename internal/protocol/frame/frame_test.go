package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/danmuck/memxfer/internal/protocol"
	"github.com/danmuck/memxfer/internal/testutil/testlog"
	"golang.org/x/sys/unix"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteMessage(&buf, []byte("NIXLCOMM:SEND")); err != nil {
		t.Fatalf("write message: %v", err)
	}
	if buf.Len() != HeaderLen+13 {
		t.Fatalf("unexpected frame size: %d", buf.Len())
	}
	if got := binary.NativeEndian.Uint64(buf.Bytes()[:HeaderLen]); got != 13 {
		t.Fatalf("header length got=%d want=13", got)
	}
	out, err := ReadMessage(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if string(out) != "NIXLCOMM:SEND" {
		t.Fatalf("payload mismatch: %q", out)
	}
}

func TestEmptyPayloadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, nil); err != nil {
		t.Fatalf("write message: %v", err)
	}
	out, err := ReadMessage(&buf, Limits{})
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(out))
	}
}

func TestReadMessageShortHeader(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrIncompleteHeader) {
		t.Fatalf("expected ErrIncompleteHeader, got %v", err)
	}
	if !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("expected transport kind, got %v", err)
	}
}

func TestReadMessageTruncatedPayload(t *testing.T) {
	testlog.Start(t)
	frame := make([]byte, HeaderLen, HeaderLen+4)
	binary.NativeEndian.PutUint64(frame, 10)
	frame = append(frame, 'a', 'b', 'c', 'd')

	out, err := ReadMessage(bytes.NewReader(frame), DefaultLimits())
	if out != nil {
		t.Fatalf("expected no payload, got %q", out)
	}
	if !errors.Is(err, ErrIncompletePayload) {
		t.Fatalf("expected ErrIncompletePayload, got %v", err)
	}
	if protocol.KindOf(err) != protocol.KindTransport {
		t.Fatalf("expected transport kind, got %v", protocol.KindOf(err))
	}
}

func TestReadMessagePeerClosesMidFrame(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		header := make([]byte, HeaderLen)
		binary.NativeEndian.PutUint64(header, 64)
		_, _ = client.Write(header)
		_, _ = client.Write([]byte("partial"))
		_ = client.Close()
	}()

	_, err := ReadMessage(server, DefaultLimits())
	if !errors.Is(err, ErrIncompletePayload) {
		t.Fatalf("expected ErrIncompletePayload, got %v", err)
	}
}

func TestReadMessageLimitCheckedBeforeAllocation(t *testing.T) {
	header := make([]byte, HeaderLen)
	binary.NativeEndian.PutUint64(header, 1<<40)
	_, err := ReadMessage(bytes.NewReader(header), Limits{MaxPayloadBytes: 1024})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("expected protocol kind, got %v", err)
	}
}

func TestReadMessageUnboundedLyingHeaderIsIncomplete(t *testing.T) {
	testlog.Start(t)
	frame := make([]byte, HeaderLen, HeaderLen+3)
	binary.NativeEndian.PutUint64(frame, 1<<60)
	frame = append(frame, 'a', 'b', 'c')

	out, err := ReadMessage(bytes.NewReader(frame), Limits{})
	if out != nil {
		t.Fatalf("expected no payload, got %d bytes", len(out))
	}
	if !errors.Is(err, ErrIncompletePayload) {
		t.Fatalf("expected ErrIncompletePayload, got %v", err)
	}
	if !strings.Contains(err.Error(), fmt.Sprintf("(3/%d bytes)", uint64(1<<60))) {
		t.Fatalf("progress not reported against declared size: %v", err)
	}
}

func TestReadMessageSpansReadChunks(t *testing.T) {
	payload := make([]byte, 2*readChunk+readChunk/2)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	var buf bytes.Buffer
	if err := WriteMessage(&buf, payload); err != nil {
		t.Fatalf("write message: %v", err)
	}
	out, err := ReadMessage(&buf, Limits{})
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("payload mismatch over %d bytes", len(payload))
	}
}

// choppyConn returns at most step bytes per call and injects EINTR on every other call.
type choppyConn struct {
	r     io.Reader
	w     bytes.Buffer
	step  int
	calls int
}

func (c *choppyConn) Read(p []byte) (int, error) {
	c.calls++
	if c.calls%2 == 1 {
		return 0, unix.EINTR
	}
	if len(p) > c.step {
		p = p[:c.step]
	}
	return c.r.Read(p)
}

func (c *choppyConn) Write(p []byte) (int, error) {
	c.calls++
	if c.calls%2 == 1 {
		return 0, unix.EINTR
	}
	if len(p) > c.step {
		p = p[:c.step]
	}
	return c.w.Write(p)
}

func TestWriteMessageRetriesInterruptedAndShortWrites(t *testing.T) {
	conn := &choppyConn{step: 3}
	payload := bytes.Repeat([]byte("xyz"), 11)
	if err := WriteMessage(conn, payload); err != nil {
		t.Fatalf("write message: %v", err)
	}
	out, err := ReadMessage(&conn.w, DefaultLimits())
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestReadMessageRetriesInterruptedAndShortReads(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("NIXLCOMM:LOAD-metadata")
	if err := WriteMessage(&buf, payload); err != nil {
		t.Fatalf("write message: %v", err)
	}
	conn := &choppyConn{r: &buf, step: 2}
	out, err := ReadMessage(conn, DefaultLimits())
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("payload mismatch: %q", out)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, unix.EPIPE }

func TestWriteMessageFailureIsTransport(t *testing.T) {
	err := WriteMessage(failingWriter{}, []byte("x"))
	if !errors.Is(err, protocol.ErrTransport) || !errors.Is(err, unix.EPIPE) {
		t.Fatalf("expected transport EPIPE, got %v", err)
	}
}

type resetReader struct{}

func (resetReader) Read([]byte) (int, error) { return 0, unix.ECONNRESET }

func TestReadMessageResetIsIncompleteHeader(t *testing.T) {
	_, err := ReadMessage(resetReader{}, DefaultLimits())
	if !errors.Is(err, ErrIncompleteHeader) {
		t.Fatalf("expected ErrIncompleteHeader, got %v", err)
	}
}
