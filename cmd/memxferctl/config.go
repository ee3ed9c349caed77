package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/memxfer/internal/agent"
	"github.com/danmuck/memxfer/internal/memory"
)

// clientConfig is the resolved requester setup after the optional file overlay.
type clientConfig struct {
	Agent      agent.Config
	RemoteKind memory.Kind
}

type fileConfig struct {
	Name            string `toml:"name"`
	Kind            string `toml:"kind"`
	ConnectTimeout  string `toml:"connect_timeout"`
	ReadTimeout     string `toml:"read_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	PollInterval    string `toml:"poll_interval"`
	MaxAttempts     int    `toml:"max_attempts"`
	// MaxPayloadBytes of 0 keeps the default frame limit; it never disables it.
	MaxPayloadBytes uint64 `toml:"max_payload_bytes"`
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		Agent:      agent.DefaultConfig("memxferctl"),
		RemoteKind: memory.KindDRAM,
	}
}

// loadClientConfig overlays the keys present in path onto the defaults. An
// empty path returns the defaults.
func loadClientConfig(path string) (clientConfig, error) {
	cfg := defaultClientConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientConfig{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Agent.Name = name
		}
	}

	if meta.IsDefined("kind") {
		kind, err := memory.ParseKind(raw.Kind)
		if err != nil {
			return clientConfig{}, fmt.Errorf("parse kind: %w", err)
		}
		cfg.RemoteKind = kind
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Agent.Session.ConnectTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.Agent.Session.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Agent.Session.WriteTimeout},
		{"poll_interval", raw.PollInterval, &cfg.Agent.PollInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return clientConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("max_attempts") {
		cfg.Agent.Session.MaxAttempts = raw.MaxAttempts
	}

	if raw.MaxPayloadBytes > 0 {
		cfg.Agent.Session.Frame.MaxPayloadBytes = raw.MaxPayloadBytes
	}

	return cfg, nil
}
