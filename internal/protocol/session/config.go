package session

import (
	"time"

	"github.com/danmuck/memxfer/internal/protocol/frame"
	"github.com/danmuck/memxfer/internal/protocol/metadata"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config bounds one metadata exchange. Timeouts are applied as connection
// deadlines; the frame and metadata layers have none of their own.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Frame          frame.Limits
	Metadata       metadata.Limits
	Backoff        BackoffConfig
	// MaxAttempts caps whole-exchange retries; <= 0 means a single attempt.
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		Frame:          frame.DefaultLimits(),
		Metadata:       metadata.DefaultLimits(),
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		MaxAttempts: 1,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Frame == (frame.Limits{}) {
		c.Frame = def.Frame
	}
	if c.Metadata == (metadata.Limits{}) {
		c.Metadata = def.Metadata
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	return c
}
