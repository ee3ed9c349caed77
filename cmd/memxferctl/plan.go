package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/danmuck/memxfer/internal/agent"
	"github.com/danmuck/memxfer/internal/memory"
	"github.com/danmuck/memxfer/internal/reconcile"
	"github.com/rs/zerolog"
)

type planOptions struct {
	IP     string
	Port   int
	Size   uint64
	Kind   string
	Base   uint64
	DevID  uint64
	Config string
}

func parsePlanArgs(args []string) (planOptions, error) {
	var opts planOptions
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	fs.StringVar(&opts.IP, "ip", "127.0.0.1", "responder host")
	fs.IntVar(&opts.Port, "port", 0, "responder metadata port")
	fs.Uint64Var(&opts.Size, "size", 0, "bytes to transfer")
	fs.StringVar(&opts.Kind, "kind", "", "remote memory kind (dram|vram|blk|obj|file); overrides config")
	fs.Uint64Var(&opts.Base, "base", 0x1000, "local buffer base address")
	fs.Uint64Var(&opts.DevID, "dev", 0, "local buffer device id")
	fs.StringVar(&opts.Config, "config", "", "optional client config overlay")
	if err := fs.Parse(args); err != nil {
		return planOptions{}, err
	}
	if strings.TrimSpace(opts.IP) == "" {
		return planOptions{}, fmt.Errorf("--ip is required")
	}
	if err := validatePort(opts.Port); err != nil {
		return planOptions{}, err
	}
	if err := validateSize(opts.Size); err != nil {
		return planOptions{}, err
	}
	if opts.Kind != "" {
		if _, err := memory.ParseKind(opts.Kind); err != nil {
			return planOptions{}, err
		}
	}
	return opts, nil
}

// runPlan fetches the responder's metadata and prints the reconciled plan.
// Nothing is transferred.
func runPlan(ctx context.Context, opts planOptions, out io.Writer, logger zerolog.Logger) error {
	cfg, err := loadClientConfig(opts.Config)
	if err != nil {
		return err
	}
	if opts.Kind != "" {
		cfg.RemoteKind, _ = memory.ParseKind(opts.Kind)
	}
	a, err := agent.New(cfg.Agent, nil, logger)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(opts.IP, strconv.Itoa(opts.Port))
	plan, remote, err := a.PlanTransferWithRetry(ctx, agent.PlanRequest{
		Addr:       addr,
		Local:      reconcile.Buffer{Base: opts.Base, Len: opts.Size, DevID: opts.DevID, Kind: memory.KindDRAM},
		RemoteKind: cfg.RemoteKind,
	})
	if err != nil {
		return err
	}
	printPlan(out, addr, remote, plan)
	return nil
}

func printPlan(out io.Writer, addr string, remote agent.Remote, plan reconcile.Plan) {
	fmt.Fprintf(out, "remote agent: %s (%s)\n", remote.Agent, addr)
	fmt.Fprintf(out, "remote %s: %d segments, %d bytes\n", remote.List.Kind, remote.List.Len(), remote.List.TotalBytes())
	fmt.Fprintf(out, "plan: %d bytes in %d chunks\n", plan.TotalBytes, plan.Chunks())
	for i := range plan.Local.Descs {
		l, r := plan.Local.Descs[i], plan.Remote.Descs[i]
		fmt.Fprintf(out, "  [%d] local 0x%x+%d dev=%d <- remote 0x%x+%d dev=%d\n",
			i, l.Addr, l.Len, l.DevID, r.Addr, r.Len, r.DevID)
	}
}
