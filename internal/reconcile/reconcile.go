// Package reconcile maps a contiguous local buffer onto a remote descriptor
// list, producing matched local/remote chunk lists for one transfer.
package reconcile

import (
	"errors"
	"fmt"

	"github.com/danmuck/memxfer/internal/memory"
	"github.com/danmuck/memxfer/internal/protocol"
)

var (
	ErrZeroLength         = errors.New("reconcile: transfer length must be greater than zero")
	ErrBufferOverflow     = errors.New("reconcile: local buffer overflows address space")
	ErrInsufficientRemote = errors.New("reconcile: remote metadata does not expose enough bytes for requested transfer")
	ErrPlanMismatch       = errors.New("reconcile: plan lists are not paired")
)

// Buffer is the local side of a transfer: one contiguous range.
type Buffer struct {
	Base  uint64      `json:"base"`
	Len   uint64      `json:"len"`
	DevID uint64      `json:"dev_id"`
	Kind  memory.Kind `json:"kind"`
}

func (b Buffer) Validate() error {
	if b.Len == 0 {
		return protocol.Argument("reconcile.buffer", ErrZeroLength)
	}
	if _, ok := (memory.Desc{Addr: b.Base, Len: b.Len}).End(); !ok {
		return protocol.Argument("reconcile.buffer", fmt.Errorf("%w: base=0x%x len=%d", ErrBufferOverflow, b.Base, b.Len))
	}
	return nil
}

// Plan pairs local and remote chunks: Local.Descs[i].Len == Remote.Descs[i].Len.
type Plan struct {
	Local      memory.List `json:"local"`
	Remote     memory.List `json:"remote"`
	TotalBytes uint64      `json:"total_bytes"`
}

func (p Plan) Chunks() int {
	return len(p.Local.Descs)
}

// Validate re-checks pairing and coverage.
func (p Plan) Validate() error {
	if len(p.Local.Descs) != len(p.Remote.Descs) {
		return fmt.Errorf("%w: %d local vs %d remote", ErrPlanMismatch, len(p.Local.Descs), len(p.Remote.Descs))
	}
	var total uint64
	for i := range p.Local.Descs {
		if p.Local.Descs[i].Len != p.Remote.Descs[i].Len {
			return fmt.Errorf("%w: chunk %d local=%d remote=%d", ErrPlanMismatch, i, p.Local.Descs[i].Len, p.Remote.Descs[i].Len)
		}
		total += p.Local.Descs[i].Len
	}
	if total != p.TotalBytes {
		return fmt.Errorf("%w: chunks cover %d of %d bytes", ErrPlanMismatch, total, p.TotalBytes)
	}
	return nil
}

// Available sums the non-zero remote segment lengths.
func Available(remote memory.List) uint64 {
	return remote.TotalBytes()
}

// BuildPlan walks remote front to back, first fit, consuming only the prefix
// of the last segment it needs. Zero-length segments are skipped. Remote
// order is preserved; segments are only subdivided.
func BuildPlan(local Buffer, remote memory.List) (Plan, error) {
	if err := local.Validate(); err != nil {
		return Plan{}, err
	}

	plan := Plan{
		Local:      memory.List{Kind: local.Kind},
		Remote:     memory.List{Kind: remote.Kind},
		TotalBytes: local.Len,
	}
	remaining := local.Len
	cursor := local.Base

	for _, seg := range remote.Descs {
		if remaining == 0 {
			break
		}
		if seg.Len == 0 {
			continue
		}
		chunk := min(seg.Len, remaining)
		plan.Remote.Add(memory.Desc{Addr: seg.Addr, Len: chunk, DevID: seg.DevID})
		plan.Local.Add(memory.Desc{Addr: cursor, Len: chunk, DevID: local.DevID})
		cursor += chunk
		remaining -= chunk
	}

	if remaining != 0 {
		return Plan{}, protocol.Capacity("reconcile.plan", fmt.Errorf("%w: requested %d bytes, remote exposes %d",
			ErrInsufficientRemote, local.Len, Available(remote)))
	}
	return plan, nil
}
