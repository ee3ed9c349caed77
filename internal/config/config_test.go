package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/memxfer/internal/memory"
	"github.com/danmuck/memxfer/internal/protocol/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memxferd.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAgentConfigTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.toml")
	require.NoError(t, WriteTemplate(path, "agent", false))
	require.Error(t, WriteTemplate(path, "agent", false))

	cfg, err := LoadAgentConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "memxferd", cfg.Name)
	assert.Equal(t, "127.0.0.1:9100", cfg.AdminAddr)
	assert.Equal(t, uint64(1<<20), cfg.BufferSize)
	assert.Equal(t, memory.KindDRAM, cfg.MemoryKind())
	assert.Equal(t, map[string]string{"TCP": "127.0.0.1:5555"}, cfg.Conns)

	sc, err := cfg.Session.Apply(session.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, sc.ConnectTimeout)
	assert.Equal(t, uint64(64<<20), sc.Frame.MaxPayloadBytes)
	assert.Equal(t, 3, sc.MaxAttempts)
}

func TestLoadAgentConfigDefaults(t *testing.T) {
	cfg, err := LoadAgentConfig(writeConfig(t, `kind = "file"`+"\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultName, cfg.Name)
	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Equal(t, DefaultBackend, cfg.Backend)
	assert.Equal(t, uint64(DefaultBufferSize), cfg.BufferSize)
	assert.Equal(t, memory.KindFile, cfg.MemoryKind())
	assert.Empty(t, cfg.AdminAddr)
}

func TestLoadAgentConfigErrors(t *testing.T) {
	_, err := LoadAgentConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorContains(t, err, "config load failed")

	_, err = LoadAgentConfig(writeConfig(t, "name = [\n"))
	require.ErrorContains(t, err, "config parse failed")
}

func TestValidateAgentConfig(t *testing.T) {
	base := AgentConfig{}.withDefaults()
	require.NoError(t, ValidateAgentConfig(base))

	cases := map[string]func(c *AgentConfig){
		"blank name":       func(c *AgentConfig) { c.Name = " " },
		"addr no port":     func(c *AgentConfig) { c.Addr = "localhost" },
		"admin no port":    func(c *AgentConfig) { c.AdminAddr = "admin" },
		"blank backend":    func(c *AgentConfig) { c.Backend = "  " },
		"unknown kind":     func(c *AgentConfig) { c.Kind = "tape" },
		"zero buffer":      func(c *AgentConfig) { c.BufferSize = 0 },
		"bad duration":     func(c *AgentConfig) { c.Session.ReadTimeout = "soon" },
		"negative timeout": func(c *AgentConfig) { c.Session.WriteTimeout = "-1s" },
		"negative retry":   func(c *AgentConfig) { c.Session.MaxAttempts = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			require.Error(t, ValidateAgentConfig(cfg))
		})
	}
}

func TestSessionApplyKeepsUnsetFields(t *testing.T) {
	def := session.DefaultConfig()
	got, err := SessionConfig{ReadTimeout: "250ms"}.Apply(def)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, got.ReadTimeout)
	assert.Equal(t, def.ConnectTimeout, got.ConnectTimeout)
	assert.Equal(t, def.Frame, got.Frame)
	assert.Equal(t, def.MaxAttempts, got.MaxAttempts)
}

func TestZeroMaxPayloadKeepsDefaultLimit(t *testing.T) {
	cfg, err := LoadAgentConfig(writeConfig(t, "kind = \"file\"\n[session]\nmax_payload_bytes = 0\n"))
	require.NoError(t, err)
	sc, err := cfg.Session.Apply(session.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, session.DefaultConfig().Frame.MaxPayloadBytes, sc.Frame.MaxPayloadBytes)
	assert.NotZero(t, sc.Frame.MaxPayloadBytes)
}

func TestTemplateUnknownKind(t *testing.T) {
	_, err := Template("cluster")
	require.Error(t, err)
}
