// Package xfer declares the collaborators that consume a transfer plan: the
// data-movement engine, memory registration, and completion notifications.
package xfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/memxfer/internal/memory"
	"github.com/danmuck/memxfer/internal/reconcile"
)

// Op is the direction of a transfer relative to the local side.
type Op uint8

const (
	// OpRead pulls remote bytes into the local buffer.
	OpRead Op = iota
	// OpWrite pushes local bytes to the remote side.
	OpWrite
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Request is one plan handed to an engine. The engine owns it after Submit.
type Request struct {
	Op     Op
	Plan   reconcile.Plan
	Peer   string
	Notify string
}

// Handle identifies a submitted request until Release.
type Handle string

type State uint8

const (
	StateInProgress State = iota
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInProgress:
		return "in_progress"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a polled request state. Code and Reason are set when Failed.
type Status struct {
	State  State
	Code   int
	Reason string
}

var (
	ErrTransferFailed = errors.New("xfer: transfer failed")
	ErrUnknownHandle  = errors.New("xfer: unknown transfer handle")
)

func (s Status) Err() error {
	if s.State != StateFailed {
		return nil
	}
	return fmt.Errorf("%w: code=%d %s", ErrTransferFailed, s.Code, s.Reason)
}

type Engine interface {
	Submit(ctx context.Context, req Request) (Handle, error)
	Poll(h Handle) (Status, error)
	Release(h Handle) error
}

type Registrar interface {
	Register(list memory.List) error
	Deregister(list memory.List) error
}

// Notifier drains completion messages keyed by the sending peer's identity.
type Notifier interface {
	Drain() (map[string][]string, error)
}

// Wait polls h every interval until it leaves StateInProgress or ctx ends.
func Wait(ctx context.Context, e Engine, h Handle, interval time.Duration) (Status, error) {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := e.Poll(h)
		if err != nil {
			return Status{}, err
		}
		if st.State != StateInProgress {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}
