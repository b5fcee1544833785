package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/najoast/kompics/config"
	"github.com/najoast/kompics/core"
	"github.com/najoast/kompics/logging"
	"github.com/najoast/kompics/metrics"
)

// Application errors
var (
	ErrApplicationRunning = errors.New("application is already running")
	ErrNoRootComponent    = errors.New("no root component constructor")
	ErrUnsupportedConfig  = errors.New("unsupported configuration value")
)

// Service names registered by every application
const (
	ServiceMetrics       = "metrics"
	ServiceRuntime       = "runtime"
	ServiceConfigWatcher = "config-watcher"
)

// DefaultApplication implements the Application interface
type DefaultApplication struct {
	// cfg is the active configuration; configFile is where it came from
	cfg          *config.Config
	configFile   string
	configLoader *config.Loader

	root    core.Constructor
	runtime *Runtime

	// lifecycleManager manages service lifecycles
	lifecycleManager *DefaultLifecycleManager

	logger       *logging.Logger
	promRegistry *prometheus.Registry

	metricsService *MetricsService

	// mutex protects concurrent access
	mutex sync.RWMutex

	// running indicates if the application is running
	running bool

	// shutdownChan receives SIGINT and SIGTERM while running
	shutdownChan chan os.Signal
}

// NewApplication creates an application running the component built by
// root. opts configure its Runtime.
func NewApplication(root core.Constructor, opts ...Option) *DefaultApplication {
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app := &DefaultApplication{
		configLoader: config.NewLoader(),
		root:         root,
		promRegistry: promRegistry,
		shutdownChan: make(chan os.Signal, 1),
	}

	runtimeOpts := append([]Option{WithMetrics(metrics.New(promRegistry))}, opts...)
	app.runtime = New(runtimeOpts...)
	app.lifecycleManager = NewLifecycleManager(app.runtime.logger)

	app.registerCoreServices()
	return app
}

// Configure accepts a *config.Config, a config.Config, a configuration
// file path, or nil for the defaults
func (app *DefaultApplication) Configure(cfg interface{}) error {
	app.mutex.Lock()
	defer app.mutex.Unlock()

	if app.running {
		return &ApplicationError{Operation: "configure", Err: ErrApplicationRunning}
	}

	var (
		c    *config.Config
		file string
		err  error
	)
	switch v := cfg.(type) {
	case nil:
		c, err = app.configLoader.Load("")
	case *config.Config:
		if v == nil {
			c, err = app.configLoader.Load("")
		} else {
			c = v
		}
	case config.Config:
		c = &v
	case string:
		file = v
		c, err = app.configLoader.Load(v)
	default:
		err = fmt.Errorf("%w: %T", ErrUnsupportedConfig, cfg)
	}
	if err != nil {
		return &ApplicationError{Operation: "configure", Err: err}
	}

	if err := app.applyConfig(c, file); err != nil {
		return &ApplicationError{Operation: "configure", Err: err}
	}
	return nil
}

// applyConfig rebuilds the logger and hands the configuration to the
// runtime. Callers hold the mutex.
func (app *DefaultApplication) applyConfig(c *config.Config, file string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(c.Log)
	if err != nil {
		return err
	}
	if err := app.runtime.SetConfig(c); err != nil {
		_ = logger.Close()
		return err
	}
	if err := app.runtime.SetLogger(logger.Logger); err != nil {
		_ = logger.Close()
		return err
	}

	if app.logger != nil {
		_ = app.logger.Close()
	}
	app.logger = logger
	app.cfg = c
	app.configFile = file

	app.lifecycleManager.mu.Lock()
	app.lifecycleManager.logger = logger.Logger
	app.lifecycleManager.mu.Unlock()
	return nil
}

// Run runs the application until shutdown
func (app *DefaultApplication) Run(ctx context.Context) error {
	app.mutex.Lock()
	if app.running {
		app.mutex.Unlock()
		return &ApplicationError{Operation: "run", Err: ErrApplicationRunning}
	}
	if app.cfg == nil {
		if err := app.applyConfig(config.DefaultConfig(), ""); err != nil {
			app.mutex.Unlock()
			return &ApplicationError{Operation: "run", Err: err}
		}
	}
	// settings reloaded during a previous run take effect now
	if !app.runtime.IsOn() {
		if err := app.runtime.SetConfig(app.cfg); err != nil {
			app.mutex.Unlock()
			return &ApplicationError{Operation: "run", Err: err}
		}
	}
	app.running = true
	cfg, logger := app.cfg, app.logger
	app.mutex.Unlock()

	signal.Notify(app.shutdownChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(app.shutdownChan)

	if err := app.lifecycleManager.Start(ctx); err != nil {
		app.mutex.Lock()
		app.running = false
		app.mutex.Unlock()
		return &ApplicationError{Operation: "run", Err: err}
	}

	logger.Info("application started",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment.String())

	select {
	case sig := <-app.shutdownChan:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case <-app.runtime.Done():
		logger.Info("runtime terminated, shutting down")
	}

	return app.Shutdown(context.Background())
}

// Shutdown shuts down the application gracefully
func (app *DefaultApplication) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	if !app.running {
		app.mutex.Unlock()
		return nil
	}
	app.running = false
	logger := app.logger
	app.mutex.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, ServiceTimeout)
	defer cancel()

	if err := app.lifecycleManager.Stop(shutdownCtx); err != nil {
		return &ApplicationError{Operation: "shutdown", Err: err}
	}

	logger.Info("application stopped")
	return nil
}

// Close releases the log output. Call after the last Run.
func (app *DefaultApplication) Close() error {
	app.mutex.Lock()
	defer app.mutex.Unlock()

	if app.logger == nil {
		return nil
	}
	return app.logger.Close()
}

// IsRunning reports whether Run is in progress
func (app *DefaultApplication) IsRunning() bool {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.running
}

// Config returns the active configuration
func (app *DefaultApplication) Config() *config.Config {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.cfg
}

// Logger returns the application logger, nil before configuration
func (app *DefaultApplication) Logger() *logging.Logger {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.logger
}

// Runtime returns the component runtime
func (app *DefaultApplication) Runtime() *Runtime {
	return app.runtime
}

// LifecycleManager returns the lifecycle manager
func (app *DefaultApplication) LifecycleManager() LifecycleManager {
	return app.lifecycleManager
}

// Gatherer returns the registry served by the metrics endpoint
func (app *DefaultApplication) Gatherer() prometheus.Gatherer {
	return app.promRegistry
}

// MetricsAddr returns the address the metrics endpoint listens on, or ""
func (app *DefaultApplication) MetricsAddr() string {
	return app.metricsService.Addr()
}

// registerCoreServices registers the services every application runs
func (app *DefaultApplication) registerCoreServices() {
	app.metricsService = &MetricsService{app: app}

	_ = app.lifecycleManager.Register(ServiceMetrics, app.metricsService)
	_ = app.lifecycleManager.Register(ServiceRuntime, &RuntimeService{app: app}, ServiceMetrics)
	_ = app.lifecycleManager.Register(ServiceConfigWatcher, &WatcherService{app: app}, ServiceRuntime)
}

// onConfigChange applies what can change while running
func (app *DefaultApplication) onConfigChange(oldConfig, newConfig *config.Config) {
	logger := app.Logger()

	if oldConfig.Log.Level != newConfig.Log.Level {
		if err := logger.SetLevel(newConfig.Log.Level); err != nil {
			logger.Error("apply log level", "error", err)
		} else {
			logger.Info("log level changed",
				"from", oldConfig.Log.Level.String(),
				"to", newConfig.Log.Level.String())
		}
	}
	if oldConfig.Runtime != newConfig.Runtime {
		logger.Warn("runtime settings changed, they apply from the next start")
	}
	if u := core.Diff(oldConfig.Custom, newConfig.Custom); !u.Empty() {
		if err := app.runtime.UpdateConfig(u); err != nil {
			logger.Debug("component settings not pushed", "error", err)
		} else {
			logger.Info("component settings updated", "keys", len(u.Values))
		}
	}

	app.mutex.Lock()
	app.cfg = newConfig
	app.mutex.Unlock()
}

// RuntimeService runs the root component as a managed service
type RuntimeService struct {
	app *DefaultApplication
}

func (s *RuntimeService) Name() string {
	return ServiceRuntime
}

func (s *RuntimeService) Start(ctx context.Context) error {
	if s.app.root == nil {
		return ErrNoRootComponent
	}
	if s.app.runtime.IsOn() {
		return nil
	}
	return s.app.runtime.CreateAndStart(s.app.root, 0, 0)
}

func (s *RuntimeService) Stop(ctx context.Context) error {
	return s.app.runtime.Shutdown(ctx)
}

func (s *RuntimeService) Health(ctx context.Context) (HealthStatus, error) {
	root := s.app.runtime.Root()
	if root == nil {
		return HealthStatus{
			State:   HealthStopped,
			Message: "runtime is off",
		}, nil
	}

	state := HealthHealthy
	if root.State() != core.Active {
		state = HealthUnhealthy
	}
	return HealthStatus{
		State:   state,
		Message: "root component " + root.State().String(),
		Data: map[string]interface{}{
			"root":       root.Name(),
			"components": s.app.runtime.Registry().Len(),
		},
	}, nil
}

// MetricsService serves the Prometheus registry over HTTP when enabled
type MetricsService struct {
	app *DefaultApplication

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

func (s *MetricsService) Name() string {
	return ServiceMetrics
}

func (s *MetricsService) Start(ctx context.Context) error {
	cfg := s.app.Config().Metrics
	if !cfg.Enabled {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Address)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", cfg.Address, err)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(s.app.promRegistry, promhttp.HandlerOpts{
		Registry: s.app.promRegistry,
	}))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.server = server
	s.listener = ln
	s.mu.Unlock()

	logger := s.app.Logger()
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	logger.Info("metrics endpoint listening", "address", ln.Addr().String(), "path", cfg.Path)
	return nil
}

func (s *MetricsService) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *MetricsService) Health(ctx context.Context) (HealthStatus, error) {
	addr := s.Addr()
	if addr == "" {
		return HealthStatus{
			State:   HealthUnknown,
			Message: "metrics endpoint disabled",
		}, nil
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "metrics endpoint listening",
		Data:    map[string]interface{}{"address": addr},
	}, nil
}

// Addr returns the listen address, or "" when not serving
func (s *MetricsService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// WatcherService reloads the configuration file while running
type WatcherService struct {
	app *DefaultApplication

	mu      sync.Mutex
	watcher *config.Watcher
}

func (s *WatcherService) Name() string {
	return ServiceConfigWatcher
}

func (s *WatcherService) Start(ctx context.Context) error {
	s.app.mutex.RLock()
	file, loader, logger := s.app.configFile, s.app.configLoader, s.app.logger
	s.app.mutex.RUnlock()

	if file == "" {
		return nil
	}

	w, err := config.NewWatcher(file, loader, logger.Logger)
	if err != nil {
		return err
	}
	w.OnConfigChange(s.app.onConfigChange)
	if err := w.Start(); err != nil {
		_ = w.Stop()
		return err
	}

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	return nil
}

func (s *WatcherService) Stop(ctx context.Context) error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Stop()
}

func (s *WatcherService) Health(ctx context.Context) (HealthStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher == nil {
		return HealthStatus{State: HealthUnknown, Message: "not watching"}, nil
	}
	return HealthStatus{State: HealthHealthy, Message: "watching configuration file"}, nil
}

// ApplicationBuilder helps build and configure applications
type ApplicationBuilder struct {
	root     core.Constructor
	opts     []Option
	config   interface{}
	services []builderService
}

type builderService struct {
	name    string
	service Service
	deps    []string
}

// NewApplicationBuilder creates a builder for an application running root
func NewApplicationBuilder(root core.Constructor) *ApplicationBuilder {
	return &ApplicationBuilder{root: root}
}

// WithConfig sets the configuration
func (b *ApplicationBuilder) WithConfig(cfg *config.Config) *ApplicationBuilder {
	b.config = cfg
	return b
}

// WithConfigFile loads the configuration from filename and watches it
func (b *ApplicationBuilder) WithConfigFile(filename string) *ApplicationBuilder {
	b.config = filename
	return b
}

// WithRuntimeOptions passes options to the runtime
func (b *ApplicationBuilder) WithRuntimeOptions(opts ...Option) *ApplicationBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// WithService registers an extra service
func (b *ApplicationBuilder) WithService(name string, service Service, deps ...string) *ApplicationBuilder {
	b.services = append(b.services, builderService{name: name, service: service, deps: deps})
	return b
}

// Build builds the configured application
func (b *ApplicationBuilder) Build() (*DefaultApplication, error) {
	app := NewApplication(b.root, b.opts...)

	for _, s := range b.services {
		if err := app.lifecycleManager.Register(s.name, s.service, s.deps...); err != nil {
			return nil, &ApplicationError{Operation: "build", Service: s.name, Err: err}
		}
	}

	if err := app.Configure(b.config); err != nil {
		return nil, fmt.Errorf("failed to configure application: %w", err)
	}
	return app, nil
}
