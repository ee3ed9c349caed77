package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/danmuck/memxfer/internal/protocol"
	"github.com/danmuck/memxfer/internal/protocol/frame"
)

const (
	CommandSend  = "NIXLCOMM:SEND"
	ResponseLoad = "NIXLCOMM:LOAD"
)

var commandLimits = frame.Limits{MaxPayloadBytes: uint64(len(CommandSend))}

var (
	ErrAddressRequired = errors.New("session: peer address required")
	ErrBadResponse     = errors.New("session: unexpected metadata response")
	ErrUnknownCommand  = errors.New("session: unexpected command")
)

// Exporter produces this agent's metadata blob for one response.
type Exporter func() ([]byte, error)

// Dial connects to addr within cfg.ConnectTimeout.
func Dial(ctx context.Context, cfg Config, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, protocol.Argument("session.dial", ErrAddressRequired)
	}
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, protocol.Transport("session.dial", fmt.Errorf("connect(%s) failed: %w", addr, err))
	}
	return conn, nil
}

// RequestMetadata dials addr, performs one exchange, and returns the metadata
// blob with the response marker stripped. Cancelling ctx aborts blocked I/O.
func RequestMetadata(ctx context.Context, cfg Config, addr string) ([]byte, error) {
	cfg = cfg.WithDefaults()
	conn, err := Dial(ctx, cfg, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	return Exchange(conn, cfg)
}

// Exchange sends the metadata command on conn and reads the response. Zero
// fields of cfg take their defaults, so the response is always size-bounded.
func Exchange(conn net.Conn, cfg Config) ([]byte, error) {
	cfg = cfg.WithDefaults()
	setDeadline(conn.SetWriteDeadline, cfg.WriteTimeout)
	if err := frame.WriteMessage(conn, []byte(CommandSend)); err != nil {
		return nil, err
	}

	setDeadline(conn.SetReadDeadline, cfg.ReadTimeout)
	resp, err := frame.ReadMessage(conn, cfg.Frame)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(resp, []byte(ResponseLoad)) {
		return nil, protocol.Protocol("session.exchange", fmt.Errorf("%w: %q", ErrBadResponse, preview(resp)))
	}
	return resp[len(ResponseLoad):], nil
}

// ServeConn answers exactly one metadata request on conn. The request frame
// may be no longer than the command itself.
func ServeConn(conn net.Conn, cfg Config, export Exporter) error {
	cfg = cfg.WithDefaults()
	setDeadline(conn.SetReadDeadline, cfg.ReadTimeout)
	req, err := frame.ReadMessage(conn, commandLimits)
	if err != nil {
		return err
	}
	if string(req) != CommandSend {
		return protocol.Protocol("session.serve", fmt.Errorf("%w: %q", ErrUnknownCommand, preview(req)))
	}

	blob, err := export()
	if err != nil {
		return err
	}
	resp := make([]byte, 0, len(ResponseLoad)+len(blob))
	resp = append(resp, ResponseLoad...)
	resp = append(resp, blob...)

	setDeadline(conn.SetWriteDeadline, cfg.WriteTimeout)
	return frame.WriteMessage(conn, resp)
}

func setDeadline(set func(time.Time) error, d time.Duration) {
	if d <= 0 {
		return
	}
	_ = set(time.Now().Add(d))
}

func preview(b []byte) string {
	const max = 32
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
