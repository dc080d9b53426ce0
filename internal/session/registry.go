package session

import (
	"context"
	"strings"
	"sync"

	"github.com/smallbiznis/mordomozap/internal/clock"
	"github.com/smallbiznis/mordomozap/internal/config"
	connectiondomain "github.com/smallbiznis/mordomozap/internal/connection/domain"
	"github.com/smallbiznis/mordomozap/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Registry hands out exactly one Manager per tenant.
type Registry struct {
	api    API
	clock  clock.Clock
	policy *config.ConnectionPolicyHolder
	log    *zap.Logger
	mt     *metrics.Metrics

	mu       sync.Mutex
	managers map[string]*Manager
	closed   bool
}

type RegistryParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Service   connectiondomain.Service
	Clock     clock.Clock
	Log       *zap.Logger
	Policy    *config.ConnectionPolicyHolder `optional:"true"`
	Metrics   *metrics.Metrics               `optional:"true"`
}

func ProvideRegistry(p RegistryParams) *Registry {
	r := NewRegistry(p.Service, p.Clock, p.Policy, p.Log, p.Metrics)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			r.Close()
			return nil
		},
	})
	return r
}

func NewRegistry(api API, clk clock.Clock, policy *config.ConnectionPolicyHolder, log *zap.Logger, mt *metrics.Metrics) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		api:      api,
		clock:    clk,
		policy:   policy,
		log:      log.Named("session"),
		mt:       mt,
		managers: make(map[string]*Manager),
	}
}

// Get returns the tenant's manager, creating it on first use. It returns
// nil for a blank tenant or after Close. Managers created here stay until
// Release or Close; Watch is the self-cleaning entry point.
func (r *Registry) Get(tenantID string) *Manager {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if m, ok := r.managers[tenantID]; ok {
		return m
	}
	m := NewManager(tenantID, r.api, r.clock,
		WithPolicy(r.policy),
		WithLogger(r.log),
		WithMetrics(r.mt),
		withIdleHook(r.evictIdle),
	)
	r.managers[tenantID] = m
	return m
}

// Lookup returns the tenant's manager without creating one.
func (r *Registry) Lookup(tenantID string) *Manager {
	tenantID = strings.TrimSpace(tenantID)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.managers[tenantID]
}

// Watch loads the tenant's manager. A manager that is not polling afterwards
// has nothing left to do and is released; a pending one stays until its
// poller settles.
func (r *Registry) Watch(ctx context.Context, tenantID string) (Snapshot, error) {
	m := r.Get(tenantID)
	if m == nil {
		if strings.TrimSpace(tenantID) == "" {
			return Snapshot{}, connectiondomain.ErrTenantRequired
		}
		return Snapshot{}, ErrClosed
	}

	snap, err := m.Load(ctx)
	r.evictIdle(m)
	return snap, err
}

// Release closes and drops the tenant's manager.
func (r *Registry) Release(tenantID string) {
	tenantID = strings.TrimSpace(tenantID)

	r.mu.Lock()
	m, ok := r.managers[tenantID]
	delete(r.managers, tenantID)
	r.mu.Unlock()

	if ok {
		m.Close()
	}
}

func (r *Registry) evictIdle(m *Manager) {
	r.mu.Lock()
	if cur, ok := r.managers[m.TenantID()]; !ok || cur != m || m.Snapshot().Polling {
		r.mu.Unlock()
		return
	}
	delete(r.managers, m.TenantID())
	r.mu.Unlock()

	m.Close()
	r.log.Debug("session released", zap.String("tenant_id", m.TenantID()))
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

func (r *Registry) Close() {
	r.mu.Lock()
	managers := r.managers
	r.managers = make(map[string]*Manager)
	r.closed = true
	r.mu.Unlock()

	for _, m := range managers {
		m.Close()
	}
}
