package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by the stage of the exchange that can recover from it.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindTransport
	KindProtocol
	KindCapacity
	KindArgument
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindCapacity:
		return "capacity"
	case KindArgument:
		return "argument"
	default:
		return "unknown"
	}
}

// Kind sentinels. errors.Is(err, ErrProtocol) reports whether err carries that kind.
var (
	ErrTransport = errors.New("transport error")
	ErrProtocol  = errors.New("protocol error")
	ErrCapacity  = errors.New("capacity error")
	ErrArgument  = errors.New("argument error")
)

// Error is a classified failure. Err is usually a package sentinel wrapped with detail.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	out := []error{e.Err}
	if s := sentinel(e.Kind); s != nil {
		out = append(out, s)
	}
	return out
}

func sentinel(k Kind) error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindProtocol:
		return ErrProtocol
	case KindCapacity:
		return ErrCapacity
	case KindArgument:
		return ErrArgument
	default:
		return nil
	}
}

func newError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Transport(op string, err error) error { return newError(KindTransport, op, err) }
func Protocol(op string, err error) error  { return newError(KindProtocol, op, err) }
func Capacity(op string, err error) error  { return newError(KindCapacity, op, err) }
func Argument(op string, err error) error  { return newError(KindArgument, op, err) }

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
