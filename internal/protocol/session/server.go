package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/danmuck/memxfer/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server answers metadata requests on a listener, one exchange per connection.
type Server struct {
	Config Config
	Export Exporter
	Logger zerolog.Logger
}

func NewServer(cfg Config, export Exporter, logger zerolog.Logger) *Server {
	return &Server{
		Config: cfg.WithDefaults(),
		Export: export,
		Logger: logger,
	}
}

// Serve accepts until ctx is cancelled or ln is closed, then waits for
// in-flight exchanges. A closed listener is a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	s.Logger.Info().Str("addr", ln.Addr().String()).Msg("listening for metadata requests")

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	start := time.Now()
	logger := s.Logger.With().
		Str("session_id", uuid.NewString()).
		Str("peer", conn.RemoteAddr().String()).
		Logger()

	err := ServeConn(conn, s.Config, s.Export)
	observability.RecordExchange("responder", observability.Result(err), time.Since(start))
	if err != nil {
		logger.Warn().Err(err).Msg("metadata exchange failed")
		return
	}
	logger.Debug().Dur("duration", time.Since(start)).Msg("metadata served")
}
