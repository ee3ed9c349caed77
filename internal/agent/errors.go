package agent

import (
	"errors"
	"fmt"

	"github.com/danmuck/memxfer/internal/protocol"
)

// Stage names the step of an exchange that failed.
type Stage string

const (
	StageRequest   Stage = "request"
	StageTransport Stage = "transport"
	StageDecode    Stage = "decode"
	StageReconcile Stage = "reconciliation"
	StageSubmit    Stage = "submit"
	StageTransfer  Stage = "transfer"
)

var (
	ErrNameRequired    = errors.New("agent: name required")
	ErrBackendRequired = errors.New("agent: backend name required")
	ErrNotRegistered   = errors.New("agent: descriptor not registered")
)

// StageError is the single diagnostic surfaced for a failed exchange.
type StageError struct {
	Stage Stage
	Peer  string
	Err   error
}

func (e *StageError) Error() string {
	if e.Peer == "" {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed (peer %s): %v", e.Stage, e.Peer, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the failed stage, or "" when err is not a StageError.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

func stageErr(stage Stage, peer string, err error) error {
	return &StageError{Stage: stage, Peer: peer, Err: err}
}

// fetchStage splits metadata request failures: protocol violations are a
// decode failure, bad input is a request failure, the rest is transport.
func fetchStage(err error) Stage {
	switch protocol.KindOf(err) {
	case protocol.KindProtocol:
		return StageDecode
	case protocol.KindArgument:
		return StageRequest
	default:
		return StageTransport
	}
}

func (s Stage) String() string {
	return string(s)
}
