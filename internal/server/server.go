// Package server exposes the observer API: job table snapshots, one-shot
// command execution and a websocket event stream. It is an optional
// surface; the shell runs fully without it.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/coralsh/coral/internal/events"
	"github.com/coralsh/coral/internal/infrastructure/config"
	"github.com/coralsh/coral/internal/infrastructure/monitoring"
	"github.com/coralsh/coral/internal/job"
	"github.com/coralsh/coral/internal/shell"
)

// Server is the observer API over one shell engine.
type Server struct {
	engine  *shell.Engine
	jobs    *job.Table
	bus     *events.Bus
	log     *zap.Logger
	metrics *monitoring.Metrics

	router *gin.Engine
	http   *http.Server

	// baseCtx scopes work that outlives a single request, such as PTY
	// jobs followed on /stream. Cancelled on Shutdown.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New assembles the router and its middleware chain.
func New(cfg config.ServerConfig, rl config.RateLimitConfig, engine *shell.Engine, jobs *job.Table, bus *events.Bus, log *zap.Logger, metrics *monitoring.Metrics) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", "Accept", "X-Request-ID"},
		MaxAge:          12 * time.Hour,
	}))
	if metrics != nil {
		router.Use(monitoring.Middleware(metrics))
	}
	if rl.Enabled {
		router.Use(RateLimit(rl))
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:  engine,
		jobs:    jobs,
		bus:     bus,
		log:     log,
		metrics: metrics,
		router:  router,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		baseCtx: baseCtx,
		cancel:  cancel,
	}

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/jobs", s.listJobs)
	router.POST("/execute", s.execute)
	router.GET("/stream", s.stream)
	return s
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("observer api listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and terminates PTY jobs started on
// the server's behalf.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }
