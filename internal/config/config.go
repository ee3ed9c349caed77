package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/danmuck/memxfer/internal/memory"
	"github.com/danmuck/memxfer/internal/protocol/session"
	"github.com/pelletier/go-toml/v2"
)

type AgentConfig struct {
	Name        string            `toml:"name"`
	Addr        string            `toml:"addr"`
	AdminAddr   string            `toml:"admin_addr"`
	CorsOrigins []string          `toml:"cors_origins"`
	Backend     string            `toml:"backend"`
	Kind        string            `toml:"kind"`
	BufferSize  uint64            `toml:"buffer_size"`
	DevID       uint64            `toml:"dev_id"`
	Conns       map[string]string `toml:"conns"`
	Session     SessionConfig     `toml:"session"`
}

// SessionConfig holds the tunable parts of session.Config. Durations use
// time.ParseDuration syntax; empty or zero values keep the defaults. A zero
// max_payload_bytes keeps the default frame limit; there is no unbounded
// setting.
type SessionConfig struct {
	ConnectTimeout  string `toml:"connect_timeout"`
	ReadTimeout     string `toml:"read_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	MaxPayloadBytes uint64 `toml:"max_payload_bytes"`
	MaxAttempts     int    `toml:"max_attempts"`
}

const (
	DefaultName       = "memxferd"
	DefaultAddr       = "127.0.0.1:5555"
	DefaultBackend    = "UCX"
	DefaultBufferSize = 1 << 20
)

func LoadAgentConfig(path string) (AgentConfig, error) {
	var cfg AgentConfig
	if err := loadToml(path, &cfg); err != nil {
		return AgentConfig{}, err
	}
	cfg = cfg.withDefaults()
	if err := ValidateAgentConfig(cfg); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

func (cfg AgentConfig) withDefaults() AgentConfig {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Backend == "" {
		cfg.Backend = DefaultBackend
	}
	if cfg.Kind == "" {
		cfg.Kind = memory.KindDRAM.String()
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return cfg
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateAgentConfig(cfg AgentConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("agent config missing name")
	}
	if err := validateHostPort("addr", cfg.Addr); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.AdminAddr) != "" {
		if err := validateHostPort("admin_addr", cfg.AdminAddr); err != nil {
			return err
		}
	}
	if strings.TrimSpace(cfg.Backend) == "" {
		return fmt.Errorf("agent config missing backend")
	}
	if _, err := memory.ParseKind(cfg.Kind); err != nil {
		return fmt.Errorf("agent config kind invalid: %w", err)
	}
	if cfg.BufferSize == 0 {
		return fmt.Errorf("agent config buffer_size must be greater than zero")
	}
	if _, err := cfg.Session.Apply(session.DefaultConfig()); err != nil {
		return err
	}
	return nil
}

func validateHostPort(field, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("agent config missing %s", field)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("agent config %s invalid (%s): %w", field, addr, err)
	}
	return nil
}

// MemoryKind returns the parsed kind. Call after ValidateAgentConfig.
func (cfg AgentConfig) MemoryKind() memory.Kind {
	kind, _ := memory.ParseKind(cfg.Kind)
	return kind
}

// Apply overlays the set fields onto base.
func (s SessionConfig) Apply(base session.Config) (session.Config, error) {
	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"session.connect_timeout", s.ConnectTimeout, &base.ConnectTimeout},
		{"session.read_timeout", s.ReadTimeout, &base.ReadTimeout},
		{"session.write_timeout", s.WriteTimeout, &base.WriteTimeout},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return session.Config{}, fmt.Errorf("agent config %s invalid: %w", d.field, err)
		}
		if v <= 0 {
			return session.Config{}, fmt.Errorf("agent config %s must be positive", d.field)
		}
		*d.dst = v
	}
	if s.MaxPayloadBytes > 0 {
		base.Frame.MaxPayloadBytes = s.MaxPayloadBytes
	}
	if s.MaxAttempts < 0 {
		return session.Config{}, fmt.Errorf("agent config session.max_attempts must not be negative")
	}
	if s.MaxAttempts > 0 {
		base.MaxAttempts = s.MaxAttempts
	}
	return base, nil
}
