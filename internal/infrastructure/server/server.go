package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/GriffinCanCode/tabcore/internal/api/http"
	"github.com/GriffinCanCode/tabcore/internal/api/middleware"
	"github.com/GriffinCanCode/tabcore/internal/api/ws"
	"github.com/GriffinCanCode/tabcore/internal/engine"
	"github.com/GriffinCanCode/tabcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/tabcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tabcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tabcore/internal/memory/heap"
	"github.com/GriffinCanCode/tabcore/internal/memory/hibernation"
	"github.com/GriffinCanCode/tabcore/internal/memory/rss"
	"github.com/GriffinCanCode/tabcore/internal/tabs"
)

const shutdownTimeout = 10 * time.Second

// Options carries collaborators that tests replace
type Options struct {
	Version string
	// Sampler defaults to the current process
	Sampler rss.Sampler
}

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	monitor *rss.Monitor
	store   *hibernation.Storage
	pool    *engine.Pool
	runtime *tabs.Runtime
	router  *gin.Engine
	srv     *http.Server
}

// New builds every subsystem but starts nothing
func New(cfg *config.Config, logger *logging.Logger, opts Options) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	logger.Info("initializing tab server",
		zap.String("addr", cfg.Addr()),
		zap.String("hibernation_dir", cfg.Hibernation.Dir),
		zap.Uint64("rss_critical", cfg.Memory.RSSCritical))

	metrics := monitoring.NewMetrics()

	sampler := opts.Sampler
	if sampler == nil {
		ps, err := rss.NewProcessSampler()
		if err != nil {
			return nil, fmt.Errorf("rss sampler: %w", err)
		}
		sampler = ps
	}
	monitor := rss.NewMonitor(sampler,
		rss.Thresholds{
			Soft:     cfg.Memory.RSSSoft,
			Hard:     cfg.Memory.RSSHard,
			Critical: cfg.Memory.RSSCritical,
		},
		rss.WithInterval(cfg.Memory.PollInterval.Std()),
		rss.WithLogger(logger.Component("rss")))

	store, err := hibernation.New(hibernation.Config{
		Dir:              cfg.Hibernation.Dir,
		CompressionLevel: cfg.Hibernation.Level,
		MaxAge:           cfg.Hibernation.MaxAge.Std(),
		MaxStorageBytes:  cfg.Hibernation.MaxStorageBytes,
	}, hibernation.WithLogger(logger.Component("hibernation")))
	if err != nil {
		return nil, fmt.Errorf("hibernation storage: %w", err)
	}

	pool, err := engine.NewPool(engine.Config{
		Timeout:      cfg.Engine.Timeout.Std(),
		FetchTimeout: cfg.Engine.FetchTimeout.Std(),
		UserAgent:    cfg.Engine.UserAgent,
		PoolSize:     cfg.Engine.PoolSize,
	}, logger.Component("engine"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("engine pool: %w", err)
	}

	runtime, err := tabs.NewRuntime(tabs.Config{
		Heap: heap.Limits{Soft: cfg.Memory.HeapSoft, Hard: cfg.Memory.HeapHard},
		Watchdog: tabs.WatchdogConfig{
			PingInterval: cfg.Watchdog.PingInterval.Std(),
			Grace:        cfg.Watchdog.Grace.Std(),
			Timeout:      cfg.Watchdog.Timeout.Std(),
		},
		OpTimeout:      cfg.Engine.FetchTimeout.Std() + cfg.Engine.Timeout.Std(),
		CaptureTimeout: cfg.Hibernation.CaptureTimeout.Std(),
		CheckInterval:  cfg.Hibernation.CheckInterval.Std(),
		MaxIdle:        cfg.Hibernation.MaxIdle.Std(),
		MaxAge:         cfg.Hibernation.MaxAge.Std(),
		SuspendRate:    cfg.Hibernation.Rate,
		SuspendBurst:   cfg.Hibernation.Burst,
	}, tabs.Deps{
		Store:   store,
		Memory:  monitor,
		Engines: pool.New,
		Metrics: metrics,
		Logger:  logger.Component("tabs"),
	})
	if err != nil {
		_ = pool.Close()
		_ = store.Close()
		return nil, fmt.Errorf("tab runtime: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		monitor: monitor,
		store:   store,
		pool:    pool,
		runtime: runtime,
	}
	s.router = s.routes(opts.Version)
	s.srv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(version string) *gin.Engine {
	if !s.cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	httpLogger := s.logger.Component("http")
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(httpLogger))
	router.Use(middleware.Logger(httpLogger))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(s.cfg.Server.CORSOrigins))
	if s.cfg.RateLimit.Enabled {
		s.logger.Info("rate limiting enabled",
			zap.Int("rps", s.cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.cfg.RateLimit.Burst))
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.cfg.RateLimit.RequestsPerSecond,
			Burst:             s.cfg.RateLimit.Burst,
		}))
	}

	handlers := httpapi.NewHandlers(httpapi.Deps{
		Tabs:    s.runtime,
		Memory:  s.monitor,
		Engines: s.pool,
		Metrics: s.metrics,
		Logger:  httpLogger,
		Version: version,
	})
	handlers.Register(router)

	events := ws.NewHandler(s.runtime, s.metrics, s.logger.Component("ws"), ws.Config{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
	})
	router.GET("/events", events.HandleConnection)

	return router
}

// Handler exposes the router for in-process use
func (s *Server) Handler() http.Handler {
	return s.router
}

// Runtime exposes the tab runtime
func (s *Server) Runtime() *tabs.Runtime {
	return s.runtime
}

// Run starts sampling, the tab runtime and the listener, and blocks until ctx
// is cancelled or the listener fails. Everything is shut down before it returns.
func (s *Server) Run(ctx context.Context) error {
	if err := s.monitor.Start(ctx); err != nil {
		return fmt.Errorf("start rss monitor: %w", err)
	}
	if err := s.runtime.Start(ctx); err != nil {
		s.monitor.Stop()
		return fmt.Errorf("start tab runtime: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("starting HTTP server", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close stops the runtime and releases engines and storage.
// Hibernated tabs stay on disk for the next start.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if err := s.runtime.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close runtime: %w", err))
	}
	s.monitor.Stop()
	if err := s.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close engine pool: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	_ = s.logger.Sync()
	return errors.Join(errs...)
}
