package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/danmuck/memxfer/internal/agent"
	"github.com/danmuck/memxfer/internal/memory"
	"github.com/danmuck/memxfer/internal/reconcile"
	"github.com/danmuck/memxfer/internal/xfer"
	"github.com/danmuck/memxfer/internal/xfer/loopback"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	demoResponder = "server-agent"
	demoNotify    = "notification"
)

var errDemoMismatch = errors.New("demo: transferred bytes do not match source")

type demoOptions struct {
	Size    uint64
	Config  string
	Timeout time.Duration
}

func parseDemoArgs(args []string) (demoOptions, error) {
	var opts demoOptions
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.Uint64Var(&opts.Size, "size", 100, "bytes to transfer")
	fs.StringVar(&opts.Config, "config", "", "optional client config overlay")
	fs.DurationVar(&opts.Timeout, "timeout", 10*time.Second, "overall demo deadline")
	if err := fs.Parse(args); err != nil {
		return demoOptions{}, err
	}
	if err := validateSize(opts.Size); err != nil {
		return demoOptions{}, err
	}
	return opts, nil
}

// runDemo runs a responder and a requester in one process over TCP loopback.
// The responder exposes its pool as two segments so the plan splits.
func runDemo(ctx context.Context, opts demoOptions, out io.Writer, logger zerolog.Logger) error {
	cfg, err := loadClientConfig(opts.Config)
	if err != nil {
		return err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	fabric := loopback.NewFabric()
	serverEP, err := fabric.Attach(demoResponder)
	if err != nil {
		return err
	}
	responderCfg := cfg.Agent
	responderCfg.Name = demoResponder
	responder, err := agent.New(responderCfg, serverEP, logger)
	if err != nil {
		return err
	}
	pool, err := serverEP.Alloc(memory.KindDRAM, 0, 2*opts.Size)
	if err != nil {
		return err
	}
	for i := range pool.Data {
		pool.Data[i] = byte(i*7 + 3)
	}
	half := opts.Size / 2
	segments := memory.NewList(memory.KindDRAM,
		memory.Desc{Addr: pool.Base, Len: half},
		memory.Desc{Addr: pool.Base + opts.Size, Len: opts.Size - half},
	)
	if err := responder.RegisterMem("UCX", segments); err != nil {
		return err
	}

	clientEP, err := fabric.Attach(cfg.Agent.Name)
	if err != nil {
		return err
	}
	requester, err := agent.New(cfg.Agent, clientEP, logger)
	if err != nil {
		return err
	}
	local, err := clientEP.Alloc(memory.KindDRAM, 0, opts.Size)
	if err != nil {
		return err
	}
	if err := requester.RegisterMem("UCX", local.List()); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	serveCtx, stopServe := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		return responder.Serve(gctx, ln)
	})

	runErr := demoExchange(ctx, demoParties{
		addr:      ln.Addr().String(),
		requester: requester,
		responder: responder,
		clientEP:  clientEP,
		serverEP:  serverEP,
		local:     local,
		want:      expectedBytes(pool, segments),
	}, out)
	stopServe()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

type demoParties struct {
	addr      string
	requester *agent.Agent
	responder *agent.Agent
	clientEP  *loopback.Endpoint
	serverEP  *loopback.Endpoint
	local     *loopback.Arena
	want      []byte
}

func demoExchange(ctx context.Context, p demoParties, out io.Writer) error {
	plan, remote, err := p.requester.PlanTransfer(ctx, agent.PlanRequest{
		Addr:       p.addr,
		Local:      reconcile.Buffer{Base: p.local.Base, Len: uint64(len(p.local.Data)), Kind: memory.KindDRAM},
		RemoteKind: memory.KindDRAM,
	})
	if err != nil {
		return err
	}
	printPlan(out, p.addr, remote, plan)

	if _, err := p.requester.Transfer(ctx, p.clientEP, xfer.Request{
		Op:     xfer.OpRead,
		Plan:   plan,
		Peer:   remote.Agent,
		Notify: demoNotify,
	}); err != nil {
		return err
	}
	if !bytes.Equal(p.local.Data, p.want) {
		return errDemoMismatch
	}
	fmt.Fprintf(out, "transfer: %d bytes verified\n", len(p.want))

	note, err := p.responder.WaitNotification(ctx, p.serverEP, 0)
	if err != nil {
		return fmt.Errorf("wait notification: %w", err)
	}
	for _, msg := range note.Messages {
		fmt.Fprintf(out, "notification from %s: %s\n", note.Peer, msg)
	}
	return nil
}

// expectedBytes concatenates the pool bytes behind each segment in order.
func expectedBytes(pool *loopback.Arena, segments memory.List) []byte {
	var want []byte
	for _, d := range segments.Descs {
		off := d.Addr - pool.Base
		want = append(want, pool.Data[off:off+d.Len]...)
	}
	return want
}
