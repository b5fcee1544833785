package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"
)

// Lifecycle manager errors
var (
	ErrEmptyServiceName   = errors.New("service name cannot be empty")
	ErrNilService         = errors.New("service cannot be nil")
	ErrServiceExists      = errors.New("service is already registered")
	ErrAlreadyStarted     = errors.New("lifecycle manager already started")
	ErrUnknownDependency  = errors.New("dependency is not registered")
	ErrCircularDependency = errors.New("circular dependency detected")
)

// ServiceTimeout bounds each service start and stop
const ServiceTimeout = 30 * time.Second

// DefaultLifecycleManager starts services after the services they depend on
// and stops them in reverse. It is not restartable while started.
type DefaultLifecycleManager struct {
	logger *slog.Logger

	mu       sync.RWMutex
	services map[string]Service
	deps     map[string][]string
	running  []string // in start order
	started  bool
}

// NewLifecycleManager creates an empty lifecycle manager
func NewLifecycleManager(logger *slog.Logger) *DefaultLifecycleManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultLifecycleManager{
		logger:   logger,
		services: make(map[string]Service),
		deps:     make(map[string][]string),
	}
}

// Register adds a service that starts after deps
func (lm *DefaultLifecycleManager) Register(name string, service Service, deps ...string) error {
	if name == "" {
		return ErrEmptyServiceName
	}
	if service == nil {
		return ErrNilService
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.started {
		return fmt.Errorf("cannot register service %s: %w", name, ErrAlreadyStarted)
	}
	if _, ok := lm.services[name]; ok {
		return fmt.Errorf("%w: %s", ErrServiceExists, name)
	}
	lm.services[name] = service
	lm.deps[name] = slices.Clone(deps)
	return nil
}

// Start starts every service in dependency order. If one fails, the ones
// already running are stopped again, last started first.
func (lm *DefaultLifecycleManager) Start(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.started {
		return ErrAlreadyStarted
	}
	order, err := lm.startOrder()
	if err != nil {
		return fmt.Errorf("failed to calculate start order: %w", err)
	}
	lm.logger.Debug("starting services", "order", order)

	for _, name := range order {
		if err := lm.call(ctx, lm.services[name].Start); err != nil {
			lm.logger.Error("service failed to start", "service", name, "error", err)
			_ = lm.stopRunning(ctx)
			return &ApplicationError{Operation: "start", Service: name, Err: err}
		}
		lm.running = append(lm.running, name)
		lm.logger.Debug("service started", "service", name)
	}
	lm.started = true
	return nil
}

// Stop stops the running services in reverse start order. Stopping a
// manager that is not started does nothing.
func (lm *DefaultLifecycleManager) Stop(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if !lm.started {
		return nil
	}
	lm.started = false
	return lm.stopRunning(ctx)
}

// stopRunning returns the joined stop errors. lm.mu is held.
func (lm *DefaultLifecycleManager) stopRunning(ctx context.Context) error {
	var errs []error
	for i := len(lm.running) - 1; i >= 0; i-- {
		name := lm.running[i]
		if err := lm.call(ctx, lm.services[name].Stop); err != nil {
			lm.logger.Error("service failed to stop", "service", name, "error", err)
			errs = append(errs, &ApplicationError{Operation: "stop", Service: name, Err: err})
			continue
		}
		lm.logger.Debug("service stopped", "service", name)
	}
	lm.running = nil
	return errors.Join(errs...)
}

func (lm *DefaultLifecycleManager) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, ServiceTimeout)
	defer cancel()
	return fn(ctx)
}

// Health asks every service for its status. A service that errors is
// reported unhealthy with the error as message.
func (lm *DefaultLifecycleManager) Health(ctx context.Context) (map[string]HealthStatus, error) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	health := make(map[string]HealthStatus, len(lm.services))
	for name, service := range lm.services {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status, err := service.Health(checkCtx)
		cancel()

		if err != nil {
			status = HealthStatus{State: HealthUnhealthy, Message: err.Error()}
		}
		if status.LastCheck.IsZero() {
			status.LastCheck = time.Now()
		}
		health[name] = status
	}
	return health, nil
}

// Services returns the registered service names, sorted
func (lm *DefaultLifecycleManager) Services() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	names := make([]string, 0, len(lm.services))
	for name := range lm.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsStarted reports whether Start succeeded and Stop was not called since
func (lm *DefaultLifecycleManager) IsStarted() bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.started
}

// startOrder walks the dependency graph depth first, visiting names in
// sorted order, so the result is the same on every run.
func (lm *DefaultLifecycleManager) startOrder() ([]string, error) {
	const (
		visiting = 1
		done     = 2
	)
	mark := make(map[string]int, len(lm.services))
	order := make([]string, 0, len(lm.services))

	var visit func(name, neededBy string) error
	visit = func(name, neededBy string) error {
		if _, ok := lm.services[name]; !ok {
			return fmt.Errorf("%w: %s (needed by %s)", ErrUnknownDependency, name, neededBy)
		}
		switch mark[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: %s", ErrCircularDependency, name)
		}
		mark[name] = visiting
		for _, dep := range lm.deps[name] {
			if err := visit(dep, name); err != nil {
				return err
			}
		}
		mark[name] = done
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(lm.services))
	for name := range lm.services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name, ""); err != nil {
			return nil, err
		}
	}
	return order, nil
}
