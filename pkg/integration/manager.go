package integration

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opsagent/signalops/pkg/eventbus"
)

const reconnectInterval = 10 * time.Second

type adapterState struct {
	adapter    Adapter
	lastStatus Status
	cancel     context.CancelFunc
}

// Manager is the Integration Manager.
type Manager struct {
	mu    sync.Mutex
	states map[string]*adapterState
	hub   *eventbus.Hub
	log   *zap.Logger
}

// NewManager constructs a Manager. hub and log may be nil.
func NewManager(hub *eventbus.Hub, log *zap.Logger) *Manager {
	return &Manager{states: make(map[string]*adapterState), hub: hub, log: log}
}

// Register adds an adapter to the managed set.
func (m *Manager) Register(a Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[a.Name] = &adapterState{adapter: a, lastStatus: StatusUnknown}
}

// StartAll starts every registered adapter. A start failure schedules
// indefinite auto-reconnect at a fixed 10-second interval rather than
// failing StartAll itself.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.Lock()
	states := make([]*adapterState, 0, len(m.states))
	for _, s := range m.states {
		states = append(states, s)
	}
	m.mu.Unlock()

	for _, s := range states {
		m.startOne(ctx, s)
	}
}

func (m *Manager) startOne(ctx context.Context, s *adapterState) {
	m.setStatus(s, StatusConnecting)
	if s.adapter.Start == nil {
		m.setStatus(s, StatusConnected)
		return
	}
	if err := s.adapter.Start(ctx); err != nil {
		m.setStatus(s, StatusError)
		if m.log != nil {
			m.log.Warn("adapter start failed, scheduling reconnect",
				zap.String("adapter", s.adapter.Name), zap.Error(err))
		}
		m.scheduleReconnect(ctx, s)
		return
	}
	m.setStatus(s, StatusConnected)
}

func (m *Manager) scheduleReconnect(ctx context.Context, s *adapterState) {
	reconnectCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		ticker := time.NewTicker(reconnectInterval)
		defer ticker.Stop()
		for {
			select {
			case <-reconnectCtx.Done():
				return
			case <-ticker.C:
				if s.adapter.Start == nil {
					return
				}
				if err := s.adapter.Start(reconnectCtx); err != nil {
					continue
				}
				m.setStatus(s, StatusConnected)
				if m.log != nil {
					m.log.Info("adapter reconnected", zap.String("adapter", s.adapter.Name))
				}
				if m.hub != nil {
					m.hub.EmitEvent(eventbus.Event{
						Source:   "integration:" + s.adapter.Name,
						Type:     "service.reconnected",
						Priority: eventbus.PriorityNormal,
					})
				}
				return
			}
		}
	}()
}

// StopAll stops every registered adapter and cancels any in-flight
// reconnect loop.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	states := make([]*adapterState, 0, len(m.states))
	for _, s := range m.states {
		states = append(states, s)
	}
	m.mu.Unlock()

	for _, s := range states {
		if s.cancel != nil {
			s.cancel()
		}
		if s.adapter.Stop != nil {
			if err := s.adapter.Stop(ctx); err != nil && m.log != nil {
				m.log.Warn("adapter stop failed", zap.String("adapter", s.adapter.Name), zap.Error(err))
			}
		}
		m.setStatus(s, StatusDisconnected)
	}
}

// HealthCheck reports every adapter's current status, invoking its Health
// function when one is registered.
func (m *Manager) HealthCheck(ctx context.Context) map[string]Status {
	m.mu.Lock()
	states := make([]*adapterState, 0, len(m.states))
	for _, s := range m.states {
		states = append(states, s)
	}
	m.mu.Unlock()

	out := make(map[string]Status, len(states))
	for _, s := range states {
		if s.adapter.Health != nil {
			status := s.adapter.Health(ctx)
			m.setStatus(s, status)
			out[s.adapter.Name] = status
			continue
		}
		out[s.adapter.Name] = m.getStatus(s)
	}
	return out
}

// GetStatusDashboard returns the last-known status of every adapter
// without invoking health checks.
func (m *Manager) GetStatusDashboard() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Status, len(m.states))
	for name, s := range m.states {
		out[name] = s.lastStatus
	}
	return out
}

func (m *Manager) setStatus(s *adapterState, status Status) {
	m.mu.Lock()
	s.lastStatus = status
	m.mu.Unlock()
}

func (m *Manager) getStatus(s *adapterState) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return s.lastStatus
}
