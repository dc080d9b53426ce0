package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/mordomozap/internal/clock"
	"github.com/smallbiznis/mordomozap/internal/config"
	connectiondomain "github.com/smallbiznis/mordomozap/internal/connection/domain"
	gatewaydomain "github.com/smallbiznis/mordomozap/internal/gateway/domain"
	"github.com/smallbiznis/mordomozap/internal/observability/metrics"
	"go.uber.org/zap"
)

const subscriberBuffer = 8

// Manager drives one tenant's connection flow: it holds the current
// Snapshot, applies action results and polls the proxy while pairing.
type Manager struct {
	tenantID string
	api      API
	clock    clock.Clock
	policy   *config.ConnectionPolicyHolder
	log      *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	snap    Snapshot
	poller  *poller
	attempt uint64
	subs    map[chan Snapshot]struct{}
	closed  bool
	onIdle  func(*Manager)
}

type poller struct {
	ticker clock.Ticker
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *poller) stop() {
	p.cancel()
	p.ticker.Stop()
}

type Option func(*Manager)

func WithPolicy(policy *config.ConnectionPolicyHolder) Option {
	return func(m *Manager) { m.policy = policy }
}

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// withIdleHook runs fn from the poller goroutine once polling ends on a
// settled state. fn must not wait on the poller.
func withIdleHook(fn func(*Manager)) Option {
	return func(m *Manager) { m.onIdle = fn }
}

func NewManager(tenantID string, api API, clk clock.Clock, opts ...Option) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	m := &Manager{
		tenantID: tenantID,
		api:      api,
		clock:    clk,
		log:      zap.NewNop(),
		subs:     make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(zap.String("tenant_id", tenantID))
	m.snap = Snapshot{TenantID: tenantID, State: StateDisconnected, UpdatedAt: clk.Now()}
	return m
}

func (m *Manager) TenantID() string { return m.tenantID }

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Subscribe returns a channel that receives every new snapshot, starting
// with the current one. Slow readers only miss intermediate snapshots.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	m.subs[ch] = struct{}{}
	ch <- m.snap

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
	}
}

// Load sets the initial state: a status check, or a new pairing when the
// policy asks for auto-start.
func (m *Manager) Load(ctx context.Context) (Snapshot, error) {
	if m.currentPolicy().AutoStart {
		switch m.Snapshot().State {
		case StateDisconnected, StateError:
			return m.Start(ctx)
		}
	}
	return m.Refresh(ctx)
}

func (m *Manager) Refresh(ctx context.Context) (Snapshot, error) {
	if err := m.ensureOpen(); err != nil {
		return m.Snapshot(), err
	}

	res, err := m.api.Status(ctx, m.tenantID)
	if err != nil {
		return m.fail(err), err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyStatusLocked(res)
	if m.snap.State == StatePending {
		m.startPollingLocked()
	} else {
		m.stopPollingLocked()
	}
	return m.snap, nil
}

// Start requests a fresh pairing. Only a disconnected or failed session may
// start one; the snapshot reads pending without an artifact while the
// proxy works.
func (m *Manager) Start(ctx context.Context) (Snapshot, error) {
	attempt, err := m.beginPairing(false)
	if err != nil {
		return m.Snapshot(), err
	}

	res, err := m.api.StartConnection(ctx, m.tenantID)
	if err != nil {
		return m.fail(err), err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishPairingLocked(attempt, res.QRCodeBase64)
	return m.snap, nil
}

// Reconnect requests a new artifact with the stored token. Like Start it is
// refused while pending or connected.
func (m *Manager) Reconnect(ctx context.Context) (Snapshot, error) {
	attempt, err := m.beginPairing(true)
	if err != nil {
		return m.Snapshot(), err
	}

	res, err := m.api.Reconnect(ctx, m.tenantID)
	if err != nil {
		if errors.Is(err, gatewaydomain.ErrInvalidToken) || errors.Is(err, connectiondomain.ErrMissingCredentials) {
			// the proxy already cleared the token; only a fresh start remains
			m.mu.Lock()
			defer m.mu.Unlock()
			m.stopPollingLocked()
			m.snap.State = StateDisconnected
			m.snap.QRCodeBase64 = ""
			m.snap.HasCredentials = false
			m.snap.LastError = connectiondomain.Code(err)
			m.publishLocked()
			return m.snap, err
		}
		return m.fail(err), err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishPairingLocked(attempt, res.QRCodeBase64)
	return m.snap, nil
}

func (m *Manager) Disconnect(ctx context.Context) (Snapshot, error) {
	if err := m.ensureOpen(); err != nil {
		return m.Snapshot(), err
	}

	m.mu.Lock()
	m.stopPollingLocked()
	m.mu.Unlock()

	if err := m.api.Disconnect(ctx, m.tenantID); err != nil {
		return m.fail(err), err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.State = StateDisconnected
	m.snap.QRCodeBase64 = ""
	m.snap.HasCredentials = false
	m.snap.LastError = ""
	m.publishLocked()
	return m.snap, nil
}

// Close stops polling and releases subscribers. The manager is unusable afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	p := m.poller
	m.stopPollingLocked()
	for ch := range m.subs {
		close(ch)
		delete(m.subs, ch)
	}
	m.mu.Unlock()

	if p != nil {
		<-p.done
	}
}

func (m *Manager) ensureOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Manager) fail(err error) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.log.Warn("connection action failed", zap.String("error_code", connectiondomain.Code(err)), zap.Error(err))
	m.stopPollingLocked()
	m.snap.State = StateError
	m.snap.QRCodeBase64 = ""
	m.snap.LastError = err.Error()
	m.publishLocked()
	return m.snap
}

// beginPairing checks the source state and publishes pending without an
// artifact. The returned attempt number ties the proxy answer to this call.
func (m *Manager) beginPairing(needCredentials bool) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	switch m.snap.State {
	case StatePending:
		return 0, connectiondomain.ErrPairingInProgress
	case StateConnected:
		return 0, ErrAlreadyConnected
	}
	if needCredentials && !m.snap.HasCredentials {
		return 0, ErrNoCredentials
	}

	m.attempt++
	m.snap.State = StatePending
	m.snap.QRCodeBase64 = ""
	m.snap.LastError = ""
	m.publishLocked()
	return m.attempt, nil
}

// finishPairingLocked attaches the artifact and starts polling, unless the
// session moved on while the proxy was answering.
func (m *Manager) finishPairingLocked(attempt uint64, qr string) {
	if attempt != m.attempt || m.snap.State != StatePending || m.closed {
		return
	}
	m.snap.QRCodeBase64 = qr
	m.snap.HasCredentials = true
	m.startPollingLocked()
	m.publishLocked()
}

func (m *Manager) applyStatusLocked(res connectiondomain.StatusResult) {
	next := stateFromStatus(res)
	switch next {
	case StatePending:
		// the artifact may lag behind the pairing request
		if res.QRCodeBase64 != "" {
			m.snap.QRCodeBase64 = res.QRCodeBase64
		}
	default:
		m.snap.QRCodeBase64 = ""
	}
	m.snap.State = next
	m.snap.HasCredentials = res.HasCredentials
	m.snap.LastError = ""
	m.publishLocked()
}

func (m *Manager) publishLocked() {
	m.snap.UpdatedAt = m.clock.Now()
	m.snap.Polling = m.poller != nil
	for ch := range m.subs {
		select {
		case ch <- m.snap:
		default:
			// drop the oldest so the latest state always lands
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- m.snap:
			default:
			}
		}
	}
}

func (m *Manager) currentPolicy() config.ConnectionPolicy {
	if m.policy == nil {
		return config.DefaultConnectionPolicy()
	}
	return m.policy.Get()
}

func (m *Manager) pollInterval() time.Duration {
	interval := m.currentPolicy().PollInterval
	if interval < config.MinPollInterval {
		return config.MinPollInterval
	}
	if interval > config.MaxPollInterval {
		return config.MaxPollInterval
	}
	return interval
}

// startPollingLocked fills the poller slot. A running poller is left alone.
func (m *Manager) startPollingLocked() {
	if m.poller != nil || m.closed {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{
		ticker: m.clock.NewTicker(m.pollInterval()),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.poller = p
	m.snap.Polling = true
	m.metrics.PollerStarted(ctx)
	m.log.Debug("status poller started")

	go m.poll(ctx, p)
}

func (m *Manager) stopPollingLocked() {
	if m.poller == nil {
		return
	}
	m.poller.stop()
	m.poller = nil
	m.snap.Polling = false
}

func (m *Manager) poll(ctx context.Context, p *poller) {
	defer close(p.done)
	defer m.metrics.PollerStopped(context.Background())

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.ticker.C():
			more, settled := m.pollOnce(ctx, p)
			if more {
				continue
			}
			if settled && m.onIdle != nil {
				m.onIdle(m)
			}
			return
		}
	}
}

// pollOnce runs one status check. It reports whether polling continues and,
// when it does not, whether it ended on a settled state rather than a stop.
func (m *Manager) pollOnce(ctx context.Context, p *poller) (more, settled bool) {
	res, err := m.api.Status(ctx, m.tenantID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.poller != p || ctx.Err() != nil {
		return false, false
	}
	if err != nil {
		m.log.Debug("status poll failed", zap.Error(err))
		m.snap.LastError = err.Error()
		m.publishLocked()
		return true, false
	}

	m.applyStatusLocked(res)
	if m.snap.State == StatePending {
		return true, false
	}

	m.stopPollingLocked()
	m.publishLocked()
	m.log.Debug("status poller stopped", zap.String("state", string(m.snap.State)))
	return false, true
}
