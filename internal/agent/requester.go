package agent

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/danmuck/memxfer/internal/memory"
	"github.com/danmuck/memxfer/internal/observability"
	"github.com/danmuck/memxfer/internal/protocol"
	"github.com/danmuck/memxfer/internal/protocol/metadata"
	"github.com/danmuck/memxfer/internal/protocol/session"
	"github.com/danmuck/memxfer/internal/reconcile"
	"github.com/danmuck/memxfer/internal/xfer"
)

const roleRequester = "requester"

// Remote is what a requester learned from one peer: its identity and the
// descriptors it exposes for one memory kind.
type Remote struct {
	Agent string
	List  memory.List
}

// PlanRequest describes one requester exchange.
type PlanRequest struct {
	Addr       string
	Local      reconcile.Buffer
	RemoteKind memory.Kind
}

// FetchRemote requests the peer's metadata and imports the first section of kind.
func (a *Agent) FetchRemote(ctx context.Context, addr string, kind memory.Kind) (Remote, error) {
	start := time.Now()
	remote, err := a.fetchRemote(ctx, addr, kind)
	observability.RecordExchange(roleRequester, observability.Result(err), time.Since(start))
	return remote, err
}

func (a *Agent) fetchRemote(ctx context.Context, addr string, kind memory.Kind) (Remote, error) {
	blob, err := session.RequestMetadata(ctx, a.cfg.Session, addr)
	if err != nil {
		return Remote{}, stageErr(fetchStage(err), addr, err)
	}
	name, list, err := metadata.Import(blob, kind, a.cfg.Session.Metadata)
	if err != nil {
		stage := StageDecode
		if protocol.KindOf(err) == protocol.KindCapacity {
			stage = StageReconcile
		}
		return Remote{}, stageErr(stage, addr, err)
	}
	a.logger.Debug().
		Str("peer", addr).
		Str("remote_agent", name).
		Stringer("kind", kind).
		Int("descs", list.Len()).
		Uint64("bytes", list.TotalBytes()).
		Msg("remote metadata imported")
	return Remote{Agent: name, List: list}, nil
}

// PlanTransfer runs one exchange and reconciles the local buffer against the
// peer's exposed memory. The buffer is validated before any I/O.
func (a *Agent) PlanTransfer(ctx context.Context, req PlanRequest) (reconcile.Plan, Remote, error) {
	if err := req.Local.Validate(); err != nil {
		return reconcile.Plan{}, Remote{}, stageErr(StageRequest, req.Addr, err)
	}
	if !req.RemoteKind.Valid() {
		return reconcile.Plan{}, Remote{}, stageErr(StageRequest, req.Addr,
			protocol.Argument("plan transfer", memory.ErrUnknownKind))
	}
	remote, err := a.FetchRemote(ctx, req.Addr, req.RemoteKind)
	if err != nil {
		return reconcile.Plan{}, Remote{}, err
	}
	plan, err := reconcile.BuildPlan(req.Local, remote.List)
	if err != nil {
		return reconcile.Plan{}, remote, stageErr(StageReconcile, req.Addr, err)
	}
	observability.RecordPlan(plan.TotalBytes, plan.Chunks())
	a.logger.Info().
		Str("peer", req.Addr).
		Str("remote_agent", remote.Agent).
		Uint64("bytes", plan.TotalBytes).
		Int("chunks", plan.Chunks()).
		Msg("transfer planned")
	return plan, remote, nil
}

// PlanTransferWithRetry repeats PlanTransfer on transport failures with the
// session backoff, up to Session.MaxAttempts. Protocol, capacity, and
// argument failures return immediately.
func (a *Agent) PlanTransferWithRetry(ctx context.Context, req PlanRequest) (reconcile.Plan, Remote, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var (
		plan   reconcile.Plan
		remote Remote
	)
	err := session.Retry(ctx, a.cfg.Session, rng, func(int) error {
		var err error
		plan, remote, err = a.PlanTransfer(ctx, req)
		return err
	}, func(attempt int, delay time.Duration, err error) {
		a.logger.Warn().
			Err(err).
			Str("peer", req.Addr).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("metadata exchange failed, retrying")
	})
	if err != nil {
		if StageOf(err) == "" {
			err = stageErr(StageTransport, req.Addr, err)
		}
		return reconcile.Plan{}, Remote{}, err
	}
	return plan, remote, nil
}

// Transfer submits req, polls it to completion, and releases the handle.
func (a *Agent) Transfer(ctx context.Context, engine xfer.Engine, req xfer.Request) (xfer.Status, error) {
	st, err := a.transfer(ctx, engine, req)
	result := "ok"
	if err != nil {
		result = StageOf(err).String()
	}
	observability.RecordTransfer(req.Op.String(), result)
	return st, err
}

func (a *Agent) transfer(ctx context.Context, engine xfer.Engine, req xfer.Request) (xfer.Status, error) {
	if err := req.Plan.Validate(); err != nil {
		return xfer.Status{}, stageErr(StageRequest, req.Peer, err)
	}
	h, err := engine.Submit(ctx, req)
	if err != nil {
		return xfer.Status{}, stageErr(StageSubmit, req.Peer, err)
	}
	defer func() {
		if err := engine.Release(h); err != nil {
			a.logger.Warn().Err(err).Str("handle", string(h)).Msg("transfer release failed")
		}
	}()

	st, err := xfer.Wait(ctx, engine, h, a.cfg.PollInterval)
	if err != nil {
		return st, stageErr(StageTransfer, req.Peer, err)
	}
	if err := st.Err(); err != nil {
		return st, stageErr(StageTransfer, req.Peer, err)
	}
	a.logger.Info().
		Str("peer", req.Peer).
		Stringer("op", req.Op).
		Uint64("bytes", req.Plan.TotalBytes).
		Msg("transfer complete")
	return st, nil
}

// Notification is one or more messages from a single peer.
type Notification struct {
	Peer     string
	Messages []string
}

// WaitNotification drains n every interval until some peer has delivered a
// message. When several peers arrive in one drain the first by name is
// returned and the rest are held for the next call.
func (a *Agent) WaitNotification(ctx context.Context, n xfer.Notifier, interval time.Duration) (Notification, error) {
	if interval <= 0 {
		interval = a.cfg.PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if note, ok := a.takePending(); ok {
			return note, nil
		}
		got, err := n.Drain()
		if err != nil {
			return Notification{}, err
		}
		a.holdPending(got)
		if note, ok := a.takePending(); ok {
			return note, nil
		}
		select {
		case <-ctx.Done():
			return Notification{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Agent) holdPending(got map[string][]string) {
	a.noteMu.Lock()
	defer a.noteMu.Unlock()
	for peer, msgs := range got {
		if len(msgs) > 0 {
			a.pending = append(a.pending, Notification{Peer: peer, Messages: msgs})
		}
	}
	sort.SliceStable(a.pending, func(i, j int) bool { return a.pending[i].Peer < a.pending[j].Peer })
}

func (a *Agent) takePending() (Notification, bool) {
	a.noteMu.Lock()
	defer a.noteMu.Unlock()
	if len(a.pending) == 0 {
		return Notification{}, false
	}
	note := a.pending[0]
	a.pending = a.pending[1:]
	return note, true
}
