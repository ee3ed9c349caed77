package agent

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/memxfer/internal/memory"
	"github.com/danmuck/memxfer/internal/protocol/metadata"
	"github.com/danmuck/memxfer/internal/protocol/session"
	"github.com/danmuck/memxfer/internal/xfer"
	"github.com/rs/zerolog"
)

type Config struct {
	Name    string
	Session session.Config
	// PollInterval paces engine status polls while a transfer is in flight.
	PollInterval time.Duration
}

func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		Session:      session.DefaultConfig(),
		PollInterval: 20 * time.Millisecond,
	}
}

// Agent is one named participant. Registration state is guarded by mu and
// snapshotted for every export.
type Agent struct {
	cfg       Config
	registrar xfer.Registrar
	logger    zerolog.Logger

	mu       sync.RWMutex
	conns    []metadata.Conn
	sections []metadata.Section

	noteMu  sync.Mutex
	pending []Notification
}

// New builds an agent. registrar may be nil when memory is registered elsewhere.
func New(cfg Config, registrar xfer.Registrar, logger zerolog.Logger) (*Agent, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, ErrNameRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 20 * time.Millisecond
	}
	return &Agent{
		cfg:       cfg,
		registrar: registrar,
		logger:    logger.With().Str("agent", cfg.Name).Logger(),
	}, nil
}

func (a *Agent) Name() string {
	return a.cfg.Name
}

func (a *Agent) Config() Config {
	return a.cfg
}

// SetConn sets the connection blob exported under tag, replacing any previous value.
func (a *Agent) SetConn(tag, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.conns {
		if a.conns[i].Tag == tag {
			a.conns[i].Value = value
			return
		}
	}
	a.conns = append(a.conns, metadata.Conn{Tag: tag, Value: value})
}

// RegisterMem registers list with the registrar and adds it to backend's section.
func (a *Agent) RegisterMem(backend string, list memory.List) error {
	if strings.TrimSpace(backend) == "" {
		return ErrBackendRequired
	}
	if err := list.Validate(); err != nil {
		return err
	}
	if a.registrar != nil {
		if err := a.registrar.Register(list); err != nil {
			return fmt.Errorf("agent: register %s on %s: %w", list.Kind, backend, err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.section(backend, list.Kind)
	s.List.Descs = append(s.List.Descs, list.Descs...)
	a.logger.Debug().
		Str("backend", backend).
		Stringer("kind", list.Kind).
		Int("descs", list.Len()).
		Uint64("bytes", list.TotalBytes()).
		Msg("memory registered")
	return nil
}

// DeregisterMem removes previously registered descriptors. The section stays
// exported, possibly empty.
func (a *Agent) DeregisterMem(backend string, list memory.List) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.find(backend, list.Kind)
	if s == nil {
		return fmt.Errorf("%w: backend %q has no %s section", ErrNotRegistered, backend, list.Kind)
	}
	remaining := append([]memory.Desc(nil), s.List.Descs...)
	for _, d := range list.Descs {
		idx := -1
		for i, have := range remaining {
			if have == d {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s on %q", ErrNotRegistered, d, backend)
		}
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	if a.registrar != nil {
		if err := a.registrar.Deregister(list); err != nil {
			return fmt.Errorf("agent: deregister %s on %s: %w", list.Kind, backend, err)
		}
	}
	s.List.Descs = remaining
	return nil
}

func (a *Agent) find(backend string, kind memory.Kind) *metadata.Section {
	for i := range a.sections {
		if a.sections[i].Backend == backend && a.sections[i].List.Kind == kind {
			return &a.sections[i]
		}
	}
	return nil
}

func (a *Agent) section(backend string, kind memory.Kind) *metadata.Section {
	if s := a.find(backend, kind); s != nil {
		return s
	}
	a.sections = append(a.sections, metadata.Section{Backend: backend, List: memory.List{Kind: kind}})
	return &a.sections[len(a.sections)-1]
}

// Envelope returns a deep copy of the exported state.
func (a *Agent) Envelope() metadata.Envelope {
	a.mu.RLock()
	defer a.mu.RUnlock()
	env := metadata.Envelope{
		Agent:    a.cfg.Name,
		Conns:    append([]metadata.Conn{}, a.conns...),
		Sections: make([]metadata.Section, 0, len(a.sections)),
	}
	for _, s := range a.sections {
		env.Sections = append(env.Sections, metadata.Section{Backend: s.Backend, List: s.List.Clone()})
	}
	return env
}

// Export encodes the current state for one metadata response.
func (a *Agent) Export() ([]byte, error) {
	return metadata.Encode(a.Envelope(), a.cfg.Session.Metadata)
}

// Serve answers metadata requests on ln until ctx is cancelled.
func (a *Agent) Serve(ctx context.Context, ln net.Listener) error {
	return session.NewServer(a.cfg.Session, a.Export, a.logger).Serve(ctx, ln)
}
