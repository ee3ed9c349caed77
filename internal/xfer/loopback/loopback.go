// Package loopback is an in-process transfer fabric. Agents attached to the
// same Fabric share one simulated address space backed by byte arenas, so a
// plan built from exchanged metadata can be executed and verified without
// real memory registration.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/memxfer/internal/memory"
	"github.com/danmuck/memxfer/internal/xfer"
	"github.com/google/uuid"
)

const (
	arenaAlign = 4096
	firstBase  = 0x10000000
)

// Failure codes reported through xfer.Status.Code.
const (
	CodeNotRegistered = 1
	CodeCancelled     = 2
)

var (
	ErrAgentExists   = errors.New("loopback: agent already attached")
	ErrUnknownAgent  = errors.New("loopback: unknown agent")
	ErrEmptyArena    = errors.New("loopback: arena size must be greater than zero")
	ErrDuplicateFile = errors.New("loopback: file handle already backed")
	ErrNotBacked     = errors.New("loopback: range not backed by an arena")
	ErrOverlap       = errors.New("loopback: range overlaps a registered range")
	ErrNotRegistered = errors.New("loopback: range not registered")
)

// Fabric owns the shared address space. All endpoint state is guarded by mu.
type Fabric struct {
	mu     sync.Mutex
	agents map[string]*Endpoint
	next   uint64
}

func NewFabric() *Fabric {
	return &Fabric{
		agents: make(map[string]*Endpoint),
		next:   firstBase,
	}
}

// Attach creates the endpoint for one agent identity.
func (f *Fabric) Attach(name string) (*Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.agents[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrAgentExists, name)
	}
	e := &Endpoint{
		fabric:  f,
		name:    name,
		notifs:  make(map[string][]string),
		handles: make(map[xfer.Handle]*xfer.Status),
	}
	f.agents[name] = e
	return e, nil
}

// Arena is backing storage for one buffer or file. For KindFile, Base is a
// byte offset (always 0) and DevID the file handle.
type Arena struct {
	Kind  memory.Kind
	Base  uint64
	DevID uint64
	Data  []byte
}

func (a *Arena) Desc() memory.Desc {
	return memory.Desc{Addr: a.Base, Len: uint64(len(a.Data)), DevID: a.DevID}
}

func (a *Arena) List() memory.List {
	return memory.NewList(a.Kind, a.Desc())
}

func (a *Arena) slice(d memory.Desc) ([]byte, bool) {
	if a.DevID != d.DevID || d.Addr < a.Base {
		return nil, false
	}
	off := d.Addr - a.Base
	if off > uint64(len(a.Data)) || d.Len > uint64(len(a.Data))-off {
		return nil, false
	}
	return a.Data[off : off+d.Len], true
}

type region struct {
	kind memory.Kind
	desc memory.Desc
}

func (r region) overlaps(kind memory.Kind, d memory.Desc) bool {
	if r.kind != kind || r.desc.DevID != d.DevID {
		return false
	}
	return d.Addr < r.desc.Addr+r.desc.Len && r.desc.Addr < d.Addr+d.Len
}

func overlapsAny(regs []region, kind memory.Kind, d memory.Desc) bool {
	for _, r := range regs {
		if r.overlaps(kind, d) {
			return true
		}
	}
	return false
}

func (r region) contains(kind memory.Kind, d memory.Desc) bool {
	if r.kind != kind || r.desc.DevID != d.DevID {
		return false
	}
	return d.Addr >= r.desc.Addr && d.Addr+d.Len <= r.desc.Addr+r.desc.Len
}

// Endpoint is one agent's view of the fabric. It implements xfer.Engine,
// xfer.Registrar and xfer.Notifier.
type Endpoint struct {
	fabric  *Fabric
	name    string
	arenas  []*Arena
	regs    []region
	notifs  map[string][]string
	handles map[xfer.Handle]*xfer.Status
}

var (
	_ xfer.Engine    = (*Endpoint)(nil)
	_ xfer.Registrar = (*Endpoint)(nil)
	_ xfer.Notifier  = (*Endpoint)(nil)
)

func (e *Endpoint) Name() string {
	return e.name
}

// Alloc reserves size bytes of backing storage.
func (e *Endpoint) Alloc(kind memory.Kind, devID uint64, size uint64) (*Arena, error) {
	if size == 0 {
		return nil, ErrEmptyArena
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", memory.ErrUnknownKind, uint64(kind))
	}
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	a := &Arena{Kind: kind, DevID: devID, Data: make([]byte, size)}
	if kind == memory.KindFile {
		for _, existing := range e.arenas {
			if existing.Kind == memory.KindFile && existing.DevID == devID {
				return nil, fmt.Errorf("%w: %d", ErrDuplicateFile, devID)
			}
		}
	} else {
		a.Base = f.next
		f.next += (size + 2*arenaAlign - 1) / arenaAlign * arenaAlign
	}
	e.arenas = append(e.arenas, a)
	return a, nil
}

func (e *Endpoint) Register(list memory.List) error {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	staged := make([]region, 0, len(list.Descs))
	for i, d := range list.Descs {
		if d.Len == 0 {
			continue
		}
		if _, err := e.backing(list.Kind, d); err != nil {
			return fmt.Errorf("register desc[%d]: %w", i, err)
		}
		if overlapsAny(e.regs, list.Kind, d) || overlapsAny(staged, list.Kind, d) {
			return fmt.Errorf("register desc[%d]: %w: %s", i, ErrOverlap, d)
		}
		staged = append(staged, region{kind: list.Kind, desc: d})
	}
	e.regs = append(e.regs, staged...)
	return nil
}

func (e *Endpoint) Deregister(list memory.List) error {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, d := range list.Descs {
		if d.Len == 0 {
			continue
		}
		idx := -1
		for j, r := range e.regs {
			if r.kind == list.Kind && r.desc == d {
				idx = j
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("deregister desc[%d]: %w: %s", i, ErrNotRegistered, d)
		}
		e.regs = append(e.regs[:idx], e.regs[idx+1:]...)
	}
	return nil
}

// Submit validates the request and executes it asynchronously.
func (e *Endpoint) Submit(ctx context.Context, req xfer.Request) (xfer.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := req.Plan.Validate(); err != nil {
		return "", err
	}
	f := e.fabric
	f.mu.Lock()
	peer, ok := f.agents[req.Peer]
	if !ok {
		f.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrUnknownAgent, req.Peer)
	}
	h := xfer.Handle(uuid.NewString())
	st := &xfer.Status{State: xfer.StateInProgress}
	e.handles[h] = st
	f.mu.Unlock()

	go f.execute(ctx, e, peer, req, st)
	return h, nil
}

func (f *Fabric) execute(ctx context.Context, local, peer *Endpoint, req xfer.Request, st *xfer.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		*st = xfer.Status{State: xfer.StateFailed, Code: CodeCancelled, Reason: err.Error()}
		return
	}

	type pair struct{ local, remote []byte }
	pairs := make([]pair, 0, req.Plan.Chunks())
	for i := range req.Plan.Local.Descs {
		l, err := local.resolve(req.Plan.Local.Kind, req.Plan.Local.Descs[i])
		if err != nil {
			*st = xfer.Status{State: xfer.StateFailed, Code: CodeNotRegistered, Reason: fmt.Sprintf("local chunk %d: %v", i, err)}
			return
		}
		r, err := peer.resolve(req.Plan.Remote.Kind, req.Plan.Remote.Descs[i])
		if err != nil {
			*st = xfer.Status{State: xfer.StateFailed, Code: CodeNotRegistered, Reason: fmt.Sprintf("remote chunk %d: %v", i, err)}
			return
		}
		pairs = append(pairs, pair{local: l, remote: r})
	}

	for _, p := range pairs {
		if req.Op == xfer.OpWrite {
			copy(p.remote, p.local)
		} else {
			copy(p.local, p.remote)
		}
	}
	if req.Notify != "" {
		peer.notifs[local.name] = append(peer.notifs[local.name], req.Notify)
	}
	*st = xfer.Status{State: xfer.StateSuccess}
}

// resolve maps a registered descriptor to its backing bytes. Caller holds f.mu.
func (e *Endpoint) resolve(kind memory.Kind, d memory.Desc) ([]byte, error) {
	registered := false
	for _, r := range e.regs {
		if r.contains(kind, d) {
			registered = true
			break
		}
	}
	if !registered {
		return nil, fmt.Errorf("%w: %s %s on %q", ErrNotRegistered, kind, d, e.name)
	}
	return e.backing(kind, d)
}

func (e *Endpoint) backing(kind memory.Kind, d memory.Desc) ([]byte, error) {
	for _, a := range e.arenas {
		if a.Kind != kind {
			continue
		}
		if b, ok := a.slice(d); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", ErrNotBacked, kind, d)
}

func (e *Endpoint) Poll(h xfer.Handle) (xfer.Status, error) {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := e.handles[h]
	if !ok {
		return xfer.Status{}, fmt.Errorf("%w: %s", xfer.ErrUnknownHandle, h)
	}
	return *st, nil
}

func (e *Endpoint) Release(h xfer.Handle) error {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := e.handles[h]; !ok {
		return fmt.Errorf("%w: %s", xfer.ErrUnknownHandle, h)
	}
	delete(e.handles, h)
	return nil
}

// Drain returns and clears pending notifications, keyed by sender.
func (e *Endpoint) Drain() (map[string][]string, error) {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()
	out := e.notifs
	e.notifs = make(map[string][]string)
	return out, nil
}
