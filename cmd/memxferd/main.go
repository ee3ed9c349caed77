package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"sort"
	"sync/atomic"
	"syscall"

	"github.com/danmuck/memxfer/internal/admin"
	"github.com/danmuck/memxfer/internal/agent"
	"github.com/danmuck/memxfer/internal/config"
	"github.com/danmuck/memxfer/internal/observability"
	"github.com/danmuck/memxfer/internal/protocol/session"
	"github.com/danmuck/memxfer/internal/xfer/loopback"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := observability.InitLogger("memxferd")
	configPath := flag.String("config", "cmd/memxferd/config.toml", "agent config path")
	flag.Parse()

	cfg, err := config.LoadAgentConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load agent config")
	}
	logger.Info().Str("path", *configPath).Msg("loaded agent config")

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Addr).Msg("metadata listen failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, ln, logger); err != nil {
		log.Fatal().Err(err).Msg("memxferd stopped")
	}
}

// run serves metadata on ln for one registered buffer until ctx ends. Local
// registration goes through a loopback endpoint; peers in other processes
// only see the exported metadata.
func run(ctx context.Context, cfg config.AgentConfig, ln net.Listener, logger zerolog.Logger) error {
	defer ln.Close()
	sessionCfg, err := cfg.Session.Apply(session.DefaultConfig())
	if err != nil {
		return err
	}
	ep, err := loopback.NewFabric().Attach(cfg.Name)
	if err != nil {
		return err
	}
	agentCfg := agent.DefaultConfig(cfg.Name)
	agentCfg.Session = sessionCfg
	a, err := agent.New(agentCfg, ep, logger)
	if err != nil {
		return err
	}

	tags := make([]string, 0, len(cfg.Conns))
	for tag := range cfg.Conns {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		a.SetConn(tag, cfg.Conns[tag])
	}

	arena, err := ep.Alloc(cfg.MemoryKind(), cfg.DevID, cfg.BufferSize)
	if err != nil {
		return err
	}
	for i := range arena.Data {
		arena.Data[i] = byte(i)
	}
	if err := a.RegisterMem(cfg.Backend, arena.List()); err != nil {
		return err
	}
	logger.Info().
		Str("backend", cfg.Backend).
		Stringer("kind", arena.Kind).
		Stringer("desc", arena.Desc()).
		Msg("buffer registered")

	logger.Info().Str("addr", ln.Addr().String()).Msg("metadata listener ready")

	var ready atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ready.Store(true)
		defer ready.Store(false)
		return a.Serve(gctx, ln)
	})
	if cfg.AdminAddr != "" {
		srv := admin.New(a, cfg.CorsOrigins, logger)
		srv.SetReady(ready.Load)
		g.Go(func() error {
			return srv.Serve(gctx, cfg.AdminAddr)
		})
	}
	g.Go(func() error {
		return logNotifications(gctx, a, ep, logger)
	})
	return g.Wait()
}

func logNotifications(ctx context.Context, a *agent.Agent, ep *loopback.Endpoint, logger zerolog.Logger) error {
	for {
		note, err := a.WaitNotification(ctx, ep, 0)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		for _, msg := range note.Messages {
			logger.Info().Str("peer", note.Peer).Str("message", msg).Msg("notification received")
		}
	}
}
