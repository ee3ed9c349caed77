// Package admin serves the agent's read-only HTTP surface: liveness,
// readiness, Prometheus metrics, and the exported memory sections.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/memxfer/internal/memory"
	"github.com/danmuck/memxfer/internal/observability"
	"github.com/danmuck/memxfer/internal/protocol/metadata"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const version = "0.1.0"

// Source is the exported state shown by /v1/sections.
type Source interface {
	Name() string
	Envelope() metadata.Envelope
}

type Server struct {
	source   Source
	router   *gin.Engine
	logger   zerolog.Logger
	appeared time.Time
	ready    func() bool
}

func New(source Source, corsOrigins []string, logger zerolog.Logger) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.HTTPMiddleware(source.Name(), logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		source:   source,
		router:   r,
		logger:   logger,
		appeared: time.Now(),
		ready:    func() bool { return true },
	}
	s.registerRoutes()
	return s
}

// SetReady replaces the readiness check. memxferd flips it once the metadata
// listener is accepting.
func (s *Server) SetReady(ready func() bool) {
	if ready != nil {
		s.ready = ready
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"agent":   s.source.Name(),
			"version": version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		status := http.StatusOK
		ready := s.ready()
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.appeared).String(),
			"agent":   s.source.Name(),
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/v1/sections", func(c *gin.Context) {
		env := s.source.Envelope()
		if raw := c.Query("kind"); raw != "" {
			kind, err := memory.ParseKind(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "request_id": observability.RequestID(c)})
				return
			}
			env.Sections = filterSections(env.Sections, kind)
		}
		c.JSON(http.StatusOK, gin.H{
			"agent":    env.Agent,
			"conns":    env.Conns,
			"sections": env.Sections,
		})
	})
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("admin shutdown failed")
		}
	})
	defer stop()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("admin http listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func filterSections(sections []metadata.Section, kind memory.Kind) []metadata.Section {
	out := make([]metadata.Section, 0, len(sections))
	for _, sec := range sections {
		if sec.List.Kind == kind {
			out = append(out, sec)
		}
	}
	return out
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
