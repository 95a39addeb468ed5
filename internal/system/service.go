// Package system provides the lifecycle scaffolding shared by every
// background component of the orchestrator: the queue worker, the cron
// scheduler, the retention sweeper, and the HTTP API service all implement
// Service and are started/stopped together by a Manager.
package system

import (
	"context"
	"fmt"
	"sync"
)

// Service represents a lifecycle-managed component. Every background
// component must implement this interface so the manager can start and stop
// it deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// LifecycleService additionally exposes a readiness probe. Neither the
// Manager nor the /system/status endpoint calls it.
type LifecycleService interface {
	Service
	Ready(ctx context.Context) error
}

// DescriptorProvider optionally advertises service metadata (layer,
// capabilities) used for introspection.
type DescriptorProvider interface {
	Descriptor() Descriptor
}

// Lifecycle is embeddable in services that don't need every hook; override
// whichever methods the concrete service actually needs.
type Lifecycle struct{}

func (Lifecycle) Name() string { return "" }

func (Lifecycle) Start(context.Context) error { return nil }

func (Lifecycle) Stop(context.Context) error { return nil }

func (Lifecycle) Ready(context.Context) error { return nil }

// NoopService is a convenient Service implementation for modules without
// background processing.
type NoopService struct {
	ServiceName string
}

func (n NoopService) Name() string { return n.ServiceName }

func (NoopService) Start(context.Context) error { return nil }

func (NoopService) Stop(context.Context) error { return nil }

// Manager owns the lifecycle of registered services. It guarantees
// deterministic start/stop ordering and guards against duplicate invocations.
type Manager struct {
	mu        sync.Mutex
	services  []Service
	started   bool
	startOnce sync.Once
	stopOnce  sync.Once
	descr     []DescriptorProvider
}

// NewManager creates an empty lifecycle manager.
func NewManager() *Manager {
	return &Manager{services: make([]Service, 0)}
}

// Register appends svc to the lifecycle queue. Registration must occur
// before Start; registering afterward returns an error.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("cannot register a nil service")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("service %q registered after manager start", svc.Name())
	}

	m.services = append(m.services, svc)
	if d, ok := svc.(DescriptorProvider); ok {
		m.descr = append(m.descr, d)
	}
	return nil
}

// Start runs Start on every registered service in registration order. If a
// service fails, already-started services are stopped in reverse order
// before the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	var startErr error
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.started = true
		services := append([]Service(nil), m.services...)
		m.mu.Unlock()

		for idx, svc := range services {
			if err := svc.Start(ctx); err != nil {
				startErr = fmt.Errorf("start %s: %w", svc.Name(), err)
				for i := idx - 1; i >= 0; i-- {
					_ = services[i].Stop(ctx)
				}
				break
			}
		}
	})
	return startErr
}

// Stop runs Stop on every registered service in reverse order. It is
// idempotent and returns the first error encountered.
func (m *Manager) Stop(ctx context.Context) error {
	var stopErr error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		services := append([]Service(nil), m.services...)
		m.mu.Unlock()

		for i := len(services) - 1; i >= 0; i-- {
			if err := services[i].Stop(ctx); err != nil && stopErr == nil {
				stopErr = fmt.Errorf("stop %s: %w", services[i].Name(), err)
			}
		}
	})
	return stopErr
}

// DescriptorProviders returns a snapshot of registered descriptor providers.
func (m *Manager) DescriptorProviders() []DescriptorProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DescriptorProvider, len(m.descr))
	copy(out, m.descr)
	return out
}

// Descriptors returns collected descriptors sorted for presentation.
func (m *Manager) Descriptors() []Descriptor {
	return CollectDescriptors(m.DescriptorProviders())
}
