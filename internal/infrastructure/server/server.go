package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	apihttp "github.com/remodash/backend/internal/api/http"
	"github.com/remodash/backend/internal/api/middleware"
	"github.com/remodash/backend/internal/api/ws"
	"github.com/remodash/backend/internal/infrastructure/config"
	"github.com/remodash/backend/internal/infrastructure/logging"
	"github.com/remodash/backend/internal/infrastructure/monitoring"
	"github.com/remodash/backend/internal/terminal"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	registry *terminal.Registry
	metrics  *monitoring.Metrics
	logger   *logging.Logger
	config   *config.Config
	cron     *cron.Cron
	http     *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing terminal server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("mode", cfg.Terminal.Mode),
	)

	// Metrics first; the registry and handlers record into them.
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(promReg)

	mode, err := terminal.ParseMode(cfg.Terminal.Mode)
	if err != nil {
		return nil, err
	}
	spawner, err := terminal.NewSpawner(mode, logger.Component("spawner"))
	if err != nil {
		return nil, fmt.Errorf("failed to create spawner: %w", err)
	}
	logger.Info("Process adapter selected", zap.String("mode", string(spawner.Mode())))

	registry := terminal.NewRegistry(spawner, terminal.Options{
		Shell:        cfg.Terminal.Shell,
		HistoryBytes: cfg.Terminal.HistoryBytes,
		GracePeriod:  cfg.Terminal.GracePeriod,
		ViewerQueue:  cfg.Terminal.ViewerQueue,
		EventQueue:   cfg.Events.Queue,
		Cols:         cfg.Terminal.Cols,
		Rows:         cfg.Terminal.Rows,
	}, logger.Component("registry")).WithMetrics(metrics)

	if cfg.Terminal.StatePath != "" {
		store, err := terminal.NewFileStore(cfg.Terminal.StatePath)
		if err != nil {
			logger.Warn("Session metadata disabled", zap.String("path", cfg.Terminal.StatePath), zap.Error(err))
		} else {
			registry.WithStore(store)
			logger.Info("Session metadata persisted", zap.String("path", cfg.Terminal.StatePath))
		}
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	corsCfg := middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins...)
	rateCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Component("http")))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(corsCfg))
	// Stream input is paced by the same budget, and only when limiting is on.
	var inputCfg middleware.RateLimitConfig
	if cfg.RateLimit.Enabled {
		inputCfg = rateCfg
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(rateCfg))
	}

	handlers := apihttp.NewHandlers(registry, metrics, logger.Component("http"))
	wsHandler := ws.NewHandler(registry, corsCfg, inputCfg, logger.Component("ws")).WithMetrics(metrics)

	handlers.Register(router)

	// WebSocket
	router.GET("/api/terminals/:id/stream", wsHandler.Stream)
	router.GET("/api/events", wsHandler.Events)

	router.GET("/metrics", gin.WrapH(monitoring.Handler(promReg)))

	// Periodic session list keeps dashboards converged after dropped events.
	scheduler := cron.New()
	if cfg.Events.ListInterval > 0 {
		schedule := fmt.Sprintf("@every %s", cfg.Events.ListInterval)
		if _, err := scheduler.AddFunc(schedule, registry.PublishList); err != nil {
			return nil, fmt.Errorf("schedule session list: %w", err)
		}
	}

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		config:   cfg,
		cron:     scheduler,
		http: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Registry returns the session registry.
func (s *Server) Registry() *terminal.Registry { return s.registry }

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
	s.cron.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.cron.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("HTTP server failed", zap.Error(err))
		_ = s.shutdownRegistry()
		return err
	case <-ctx.Done():
	}
	return s.Close()
}

// Close terminates every session, then stops the HTTP server. Both steps
// share the configured shutdown timeout.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")
	<-s.cron.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	regErr := s.registry.Shutdown(ctx)
	if regErr != nil {
		s.logger.Error("Sessions did not exit before deadline", zap.Error(regErr))
	}
	httpErr := s.http.Shutdown(ctx)
	if httpErr != nil {
		s.logger.Error("HTTP shutdown incomplete", zap.Error(httpErr))
	}

	_ = s.logger.Sync()
	return errors.Join(regErr, httpErr)
}

func (s *Server) shutdownRegistry() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.registry.Shutdown(ctx)
}
