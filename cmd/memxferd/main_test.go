package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/danmuck/memxfer/internal/config"
	"github.com/danmuck/memxfer/internal/memory"
	"github.com/danmuck/memxfer/internal/protocol/metadata"
	"github.com/danmuck/memxfer/internal/protocol/session"
	"github.com/danmuck/memxfer/internal/testutil/testlog"
)

func TestRunExportsRegisteredBuffer(t *testing.T) {
	logger := testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg := config.AgentConfig{
		Name:       "daemon-test",
		Addr:       ln.Addr().String(),
		Backend:    "POSIX",
		Kind:       "file",
		BufferSize: 512,
		DevID:      11,
		Conns:      map[string]string{"TCP": ln.Addr().String()},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, ln, logger) }()

	blob, err := session.RequestMetadata(context.Background(), session.DefaultConfig(), ln.Addr().String())
	if err != nil {
		t.Fatalf("request metadata: %v", err)
	}
	env, err := metadata.Decode(blob, metadata.DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Agent != "daemon-test" || len(env.Conns) != 1 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	sec, ok := env.Find(memory.KindFile)
	if !ok || sec.Backend != "POSIX" {
		t.Fatalf("file section missing: %+v", env.Sections)
	}
	if got := sec.List.Descs; len(got) != 1 || got[0] != (memory.Desc{Addr: 0, Len: 512, DevID: 11}) {
		t.Fatalf("unexpected descriptors: %+v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}
