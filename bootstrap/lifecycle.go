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

// DefaultLifecycleManager implements the LifecycleManager interface
type DefaultLifecycleManager struct {
	// services holds all registered services
	services map[string]Service

	// dependencies tracks service dependencies
	dependencies map[string][]string

	// startOrder tracks the order services were started
	startOrder []string

	// mutex protects concurrent access
	mutex sync.RWMutex

	// started indicates if the lifecycle manager has been started
	started bool

	// listeners for lifecycle events
	listeners []func(LifecycleEvent)

	// timeout for each service operation
	timeout time.Duration

	logger *slog.Logger
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(logger *slog.Logger) *DefaultLifecycleManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultLifecycleManager{
		services:     make(map[string]Service),
		dependencies: make(map[string][]string),
		timeout:      30 * time.Second,
		logger:       logger.With("component", "lifecycle"),
	}
}

// Register registers a service with the lifecycle manager
func (lm *DefaultLifecycleManager) Register(name string, service Service, deps ...string) error {
	if name == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if service == nil {
		return fmt.Errorf("service cannot be nil")
	}

	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return fmt.Errorf("cannot register service %s: lifecycle manager already started", name)
	}
	if _, exists := lm.services[name]; exists {
		return fmt.Errorf("service %s is already registered", name)
	}

	lm.services[name] = service
	lm.dependencies[name] = slices.Clone(deps)

	lm.broadcastEvent(LifecycleEvent{
		Type:    EventServiceRegistered,
		Service: name,
		Data:    map[string]any{"dependencies": deps},
	})
	return nil
}

// Start starts all services in dependency order. If a service fails to
// start, the services already started are stopped in reverse order.
func (lm *DefaultLifecycleManager) Start(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return fmt.Errorf("lifecycle manager already started")
	}

	order, err := lm.calculateStartOrder()
	if err != nil {
		return &ApplicationError{Operation: "start", Err: err}
	}

	for _, name := range order {
		startCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := lm.services[name].Start(startCtx)
		cancel()

		if err != nil {
			lm.broadcastEvent(LifecycleEvent{Type: EventServiceStartFailed, Service: name, Error: err})
			if rollbackErr := lm.stopStarted(ctx); rollbackErr != nil {
				lm.logger.Warn("rollback after failed start incomplete", "error", rollbackErr)
			}
			return &ApplicationError{Operation: "start", Service: name, Err: err}
		}

		lm.startOrder = append(lm.startOrder, name)
		lm.broadcastEvent(LifecycleEvent{Type: EventServiceStarted, Service: name})
	}

	lm.started = true
	lm.broadcastEvent(LifecycleEvent{Type: EventLifecycleStarted, Data: map[string]any{"order": order}})
	return nil
}

// Stop stops all services in reverse start order
func (lm *DefaultLifecycleManager) Stop(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if !lm.started {
		return nil
	}

	err := lm.stopStarted(ctx)
	lm.started = false
	lm.broadcastEvent(LifecycleEvent{Type: EventLifecycleStopped, Error: err})
	return err
}

// stopStarted stops started services newest first. Every service is
// attempted; the failures are joined.
func (lm *DefaultLifecycleManager) stopStarted(ctx context.Context) error {
	var errs []error
	for i := len(lm.startOrder) - 1; i >= 0; i-- {
		name := lm.startOrder[i]

		stopCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := lm.services[name].Stop(stopCtx)
		cancel()

		if err != nil {
			errs = append(errs, &ApplicationError{Operation: "stop", Service: name, Err: err})
			lm.broadcastEvent(LifecycleEvent{Type: EventServiceStopFailed, Service: name, Error: err})
			continue
		}
		lm.broadcastEvent(LifecycleEvent{Type: EventServiceStopped, Service: name})
	}
	lm.startOrder = nil
	return errors.Join(errs...)
}

// Health returns the health status of all services. Services that do not
// implement HealthChecker report healthy while started.
func (lm *DefaultLifecycleManager) Health(ctx context.Context) map[string]HealthStatus {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	health := make(map[string]HealthStatus, len(lm.services))
	for name, service := range lm.services {
		if !lm.started {
			health[name] = HealthStatus{State: HealthStopped, LastCheck: time.Now()}
			continue
		}
		checker, ok := service.(HealthChecker)
		if !ok {
			health[name] = HealthStatus{State: HealthHealthy, LastCheck: time.Now()}
			continue
		}

		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status, err := checker.Health(healthCtx)
		cancel()

		if err != nil {
			status = HealthStatus{State: HealthUnhealthy, Message: err.Error()}
		}
		if status.LastCheck.IsZero() {
			status.LastCheck = time.Now()
		}
		health[name] = status
	}
	return health
}

// Services returns all registered service names
func (lm *DefaultLifecycleManager) Services() []string {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	names := make([]string, 0, len(lm.services))
	for name := range lm.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddListener adds a lifecycle event listener. Listeners run synchronously
// and must not call back into the manager.
func (lm *DefaultLifecycleManager) AddListener(listener func(LifecycleEvent)) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.listeners = append(lm.listeners, listener)
}

// SetTimeout sets the timeout for each service operation
func (lm *DefaultLifecycleManager) SetTimeout(timeout time.Duration) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.timeout = timeout
}

// IsStarted returns true if the lifecycle manager has been started
func (lm *DefaultLifecycleManager) IsStarted() bool {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	return lm.started
}

// calculateStartOrder orders services so dependencies start first (Kahn's
// algorithm). Ties are broken by name to keep the order stable.
func (lm *DefaultLifecycleManager) calculateStartOrder() ([]string, error) {
	inDegree := make(map[string]int, len(lm.services))
	graph := make(map[string][]string, len(lm.services))

	for service := range lm.services {
		inDegree[service] = 0
	}
	for service, deps := range lm.dependencies {
		for _, dep := range deps {
			if _, exists := lm.services[dep]; !exists {
				return nil, fmt.Errorf("dependency %s of service %s is not registered", dep, service)
			}
			graph[dep] = append(graph[dep], service)
			inDegree[service]++
		}
	}

	var queue []string
	for service, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, service)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(lm.services))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		next := graph[current]
		sort.Strings(next)
		for _, dependent := range next {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(lm.services) {
		return nil, fmt.Errorf("circular dependency detected")
	}
	return result, nil
}

// broadcastEvent logs event and hands it to the listeners.
func (lm *DefaultLifecycleManager) broadcastEvent(event LifecycleEvent) {
	event.Timestamp = time.Now()

	if event.Error != nil {
		lm.logger.Warn(event.Type, "service", event.Service, "error", event.Error)
	} else {
		lm.logger.Debug(event.Type, "service", event.Service)
	}

	for _, listener := range lm.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					lm.logger.Error("lifecycle listener panicked", "panic", r)
				}
			}()
			listener(event)
		}()
	}
}
