// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Corphon/StoryboardStudio/internal/api"
	"github.com/Corphon/StoryboardStudio/internal/auth"
	"github.com/Corphon/StoryboardStudio/internal/backend"
	"github.com/Corphon/StoryboardStudio/internal/config"
	"github.com/Corphon/StoryboardStudio/internal/di"
	"github.com/Corphon/StoryboardStudio/internal/services"
	"github.com/Corphon/StoryboardStudio/internal/store"
	"github.com/Corphon/StoryboardStudio/internal/utils"
)

// Service names in the container
const (
	ServiceConfig      = "config"
	ServiceLogger      = "logger"
	ServiceMetrics     = "metrics"
	ServiceTransport   = "transport"
	ServiceSessions    = "sessions"
	ServiceTokens      = "tokens"
	ServiceWebSockets  = "websockets"
	ServiceRateLimiter = "rate_limiter"
)

const shutdownTimeout = 30 * time.Second

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// Options overrides parts of the wiring
type Options struct {
	Logger    *utils.Logger      // defaults to the global logger with a file sink in LogDir
	Transport services.Transport // defaults to a backend client for BackendURL
	Container *di.Container      // defaults to a fresh container
}

// App is the editor server process
type App struct {
	config    *config.Config
	logger    *utils.Logger
	container *di.Container
	router    http.Handler
	server    httpServer
	stopChan  chan os.Signal
	ownsLog   bool
}

// New wires every service for cfg and builds the router
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	app := &App{
		config:    cfg,
		container: opts.Container,
		stopChan:  make(chan os.Signal, 1),
	}
	if app.container == nil {
		app.container = di.NewContainer()
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = initLogger(cfg.LogDir); err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		app.ownsLog = true
	}
	logger.SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	app.logger = logger

	if err := app.initServices(opts.Transport); err != nil {
		return nil, err
	}

	app.router = api.SetupRouter(api.RouterDeps{
		Sessions:    di.MustResolve[*services.SessionService](app.container, ServiceSessions),
		Tokens:      di.MustResolve[*auth.TokenConfig](app.container, ServiceTokens),
		Metrics:     di.MustResolve[*utils.EditorMetrics](app.container, ServiceMetrics),
		WebSockets:  di.MustResolve[*api.WebSocketManager](app.container, ServiceWebSockets),
		RateLimiter: di.MustResolve[*api.RateLimiter](app.container, ServiceRateLimiter),
		Logger:      logger,
		DebugMode:   cfg.DebugMode,
	})
	app.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Application initialized", map[string]interface{}{
		"port":     cfg.Port,
		"backend":  cfg.BackendURL,
		"services": app.container.Names(),
	})
	return app, nil
}

// initLogger opens the daily log file under logDir
func initLogger(logDir string) (*utils.Logger, error) {
	logger := utils.GetLogger()
	if logDir == "" {
		return logger, nil
	}
	logFile := filepath.Join(logDir, fmt.Sprintf("storyboard_%s.log", time.Now().Format("2006-01-02")))
	if err := logger.OpenFile(logFile); err != nil {
		return nil, err
	}
	return logger, nil
}

// initServices registers services in dependency order
func (a *App) initServices(transport services.Transport) error {
	cfg := a.config
	c := a.container

	c.Register(ServiceConfig, cfg)
	c.Register(ServiceLogger, a.logger)

	metrics := utils.NewEditorMetrics(utils.GetMetricsCollector(), a.logger)
	c.Register(ServiceMetrics, metrics)

	if transport == nil {
		transport = backend.NewClient(backend.Config{BaseURL: cfg.BackendURL}, backend.WithMetrics(metrics))
	}
	c.Register(ServiceTransport, transport)

	sessionOpts := services.SessionOptions{
		Ordering:       store.Ordering(cfg.SceneOrdering),
		Policy:         store.StalenessPolicy(cfg.StalenessPolicy),
		Propagation:    services.StylePropagation(cfg.StylePropagation),
		RequestTimeout: cfg.RequestTimeout(),
		Metrics:        metrics,
		Logger:         a.logger,
	}
	sessions := services.NewSessionService(func(id string) *services.EditorSession {
		return services.NewEditorSession(id, transport, sessionOpts)
	}, cfg.SessionTTL(), time.Minute, a.logger)
	c.RegisterWithClose(ServiceSessions, sessions, sessions.Close)

	tokens, err := api.NewTokenConfig(cfg, a.logger)
	if err != nil {
		return err
	}
	c.Register(ServiceTokens, tokens)

	ws := api.NewWebSocketManager(a.logger)
	ws.Start()
	c.RegisterWithClose(ServiceWebSockets, ws, ws.Stop)

	limiter := api.NewRateLimiter()
	c.RegisterWithClose(ServiceRateLimiter, limiter, limiter.Stop)
	return nil
}

// Container exposes the wired services
func (a *App) Container() *di.Container {
	return a.container
}

// Handler exposes the HTTP router
func (a *App) Handler() http.Handler {
	return a.router
}

// Run serves until SIGINT or SIGTERM, then shuts down gracefully
func (a *App) Run() error {
	signal.Notify(a.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(a.stopChan)

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("Server listening", map[string]interface{}{"port": a.config.Port})
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		a.Close()
		return fmt.Errorf("server failed: %w", err)
	case sig := <-a.stopChan:
		a.logger.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := a.server.Shutdown(ctx)
	a.Close()
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	a.logger.Info("Server stopped", nil)
	return nil
}

// Close releases every service, last registered first. Safe to call after Run.
func (a *App) Close() {
	a.container.Shutdown()
	if a.ownsLog {
		a.ownsLog = false
		a.logger.Close()
	}
}
