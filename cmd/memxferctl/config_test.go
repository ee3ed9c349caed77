package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/memxfer/internal/memory"
)

func writeClientConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadClientConfigDefaults(t *testing.T) {
	cfg, err := loadClientConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Agent.Name != "memxferctl" {
		t.Fatalf("unexpected name: %q", cfg.Agent.Name)
	}
	if cfg.RemoteKind != memory.KindDRAM {
		t.Fatalf("unexpected kind: %s", cfg.RemoteKind)
	}
	if cfg.Agent.PollInterval != 20*time.Millisecond {
		t.Fatalf("unexpected poll interval: %v", cfg.Agent.PollInterval)
	}
}

func TestLoadClientConfigOverlay(t *testing.T) {
	path := writeClientConfig(t, `
name = "client-agent"
kind = "file"
read_timeout = "2s"
poll_interval = "5ms"
max_attempts = 4
`)
	cfg, err := loadClientConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Agent.Name != "client-agent" {
		t.Fatalf("unexpected name: %q", cfg.Agent.Name)
	}
	if cfg.RemoteKind != memory.KindFile {
		t.Fatalf("unexpected kind: %s", cfg.RemoteKind)
	}
	if cfg.Agent.Session.ReadTimeout != 2*time.Second {
		t.Fatalf("unexpected read timeout: %v", cfg.Agent.Session.ReadTimeout)
	}
	if cfg.Agent.Session.ConnectTimeout != 5*time.Second {
		t.Fatalf("connect timeout should keep default: %v", cfg.Agent.Session.ConnectTimeout)
	}
	if cfg.Agent.PollInterval != 5*time.Millisecond {
		t.Fatalf("unexpected poll interval: %v", cfg.Agent.PollInterval)
	}
	if cfg.Agent.Session.MaxAttempts != 4 {
		t.Fatalf("unexpected max attempts: %d", cfg.Agent.Session.MaxAttempts)
	}
}

func TestLoadClientConfigPayloadLimit(t *testing.T) {
	def := defaultClientConfig().Agent.Session.Frame.MaxPayloadBytes
	if def == 0 {
		t.Fatalf("default frame limit must be bounded")
	}

	cfg, err := loadClientConfig(writeClientConfig(t, "max_payload_bytes = 0\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := cfg.Agent.Session.Frame.MaxPayloadBytes; got != def {
		t.Fatalf("zero should keep default %d, got %d", def, got)
	}

	cfg, err = loadClientConfig(writeClientConfig(t, "max_payload_bytes = 4096\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := cfg.Agent.Session.Frame.MaxPayloadBytes; got != 4096 {
		t.Fatalf("explicit limit got=%d", got)
	}
}

func TestLoadClientConfigBadValues(t *testing.T) {
	for _, content := range []string{
		`read_timeout = "abc"`,
		`kind = "tape"`,
		`name = [`,
	} {
		if _, err := loadClientConfig(writeClientConfig(t, content+"\n")); err == nil {
			t.Fatalf("expected error for %q", content)
		}
	}
}
