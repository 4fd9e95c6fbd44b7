package ble

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ManagerOptions configures the connection manager.
type ManagerOptions struct {
	ConnectTimeout time.Duration // per connect or reconnect attempt (default 10s)
	ReconnectDelay time.Duration // settle time after a drop before reconnecting (default 0)
}

// DefaultManagerOptions returns sensible defaults.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		ConnectTimeout: 10 * time.Second,
	}
}

// Manager owns the single active connection to the selected device. It is
// the only authority on connection state: every outcome, including
// failures, is reported to listeners as a state transition rather than as
// an error.
//
// Connect and Disconnect may be called concurrently. Each call supersedes
// the calls issued before it, so once everything settles the state reflects
// the most recent call.
type Manager struct {
	adapter   Adapter
	opts      ManagerOptions
	gate      *opGate
	listeners broadcaster

	mu            sync.Mutex
	state         State
	session       Session
	sessionTicket uint64 // ticket of the operation that opened session
	lastDeviceID  string // last successfully connected device, kept across disconnects
	dropSub       Subscription
	closed        bool
}

// NewManager creates a connection manager in the disconnected state.
func NewManager(adapter Adapter, opts ManagerOptions) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReconnectDelay < 0 {
		opts.ReconnectDelay = 0
	}
	return &Manager{
		adapter: adapter,
		opts:    opts,
		gate:    newOpGate(),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the active session, or nil unless connected.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// DeviceID returns the last successfully connected device identifier.
func (m *Manager) DeviceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastDeviceID
}

// Listen registers fn for state transitions. Listeners are called
// synchronously, in registration order, on every transition. A listener
// must not call Connect, Disconnect or Close itself; start a goroutine.
func (m *Manager) Listen(fn StateListener) ListenerID {
	return m.listeners.add(fn)
}

// Unlisten removes a listener registered with Listen.
func (m *Manager) Unlisten(id ListenerID) {
	m.listeners.remove(id)
}

// WaitIdle blocks until no connect, disconnect or reconnect is in flight.
func (m *Manager) WaitIdle(ctx context.Context) error {
	return m.gate.wait(ctx)
}

// Connect connects to deviceID, tearing down any existing session first. It
// reports whether this call established the connection. A call that is
// superseded by a newer Connect or Disconnect, or that fails, returns false
// and leaves the state to listeners.
func (m *Manager) Connect(ctx context.Context, deviceID string) bool {
	ticket := m.gate.issue()
	if err := m.gate.enter(ctx); err != nil {
		slog.Debug("[BLE] connect abandoned", "device", deviceID, "error", err)
		return false
	}
	defer m.gate.leave()

	if !m.gate.current(ticket) {
		slog.Debug("[BLE] connect superseded", "device", deviceID)
		return false
	}
	if m.isClosed() {
		return false
	}

	m.teardown()
	m.transition(StateConnecting)

	session, err := m.open(ctx, ticket, deviceID)
	if err != nil {
		if IsCancelled(err) {
			slog.Debug("[BLE] connect cancelled", "device", deviceID)
		} else {
			slog.Warn("[BLE] connect failed", "device", deviceID, "error", err)
		}
		m.transition(StateDisconnected)
		return false
	}
	return m.commit(ticket, session)
}

// Disconnect tears down the active session. The drop handler is removed
// before the transport disconnect so that the teardown is never mistaken
// for the peripheral going away.
func (m *Manager) Disconnect(ctx context.Context) {
	ticket := m.gate.issue()
	if err := m.gate.enter(ctx); err != nil {
		slog.Debug("[BLE] disconnect abandoned", "error", err)
		return
	}
	defer m.gate.leave()

	if !m.gate.current(ticket) {
		return
	}
	m.teardown()
}

// Close disconnects and prevents further connections.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.gate.issue()
	if err := m.gate.enter(context.Background()); err != nil {
		return err
	}
	defer m.gate.leave()
	m.teardown()
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// open runs one transport connect for ticket. The attempt is cancelled as
// soon as a newer operation is issued.
func (m *Manager) open(ctx context.Context, ticket uint64, deviceID string) (Session, error) {
	ctx, release := m.gate.cancellable(ctx, ticket)
	defer release()
	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()
	return m.adapter.Connect(ctx, deviceID)
}

// commit installs session unless ticket was superseded while connecting,
// in which case the fresh session is discarded. Caller holds the gate.
func (m *Manager) commit(ticket uint64, session Session) bool {
	if !m.gate.current(ticket) || m.isClosed() {
		slog.Debug("[BLE] discarding superseded session", "device", session.ID())
		if err := session.Disconnect(); err != nil && !IsTeardown(err) {
			slog.Warn("[BLE] discard session", "device", session.ID(), "error", err)
		}
		m.transition(StateDisconnected)
		return false
	}

	m.mu.Lock()
	m.session = session
	m.sessionTicket = ticket
	m.lastDeviceID = session.ID()
	m.dropSub = session.OnDisconnect(func() {
		go m.handleDrop(session)
	})
	changed := m.setLocked(StateConnected)
	m.mu.Unlock()

	slog.Info("[BLE] connected", "device", session.ID())
	if changed {
		m.listeners.notify(StateConnected)
	}
	return true
}

// teardown removes the drop handler, disconnects the active session and
// settles in the disconnected state. Caller holds the gate.
func (m *Manager) teardown() {
	m.mu.Lock()
	session := m.session
	sub := m.dropSub
	m.dropSub = nil
	m.mu.Unlock()

	if sub != nil {
		sub.Remove()
	}
	if session != nil {
		if err := session.Disconnect(); err != nil && !IsTeardown(err) {
			slog.Warn("[BLE] disconnect", "device", session.ID(), "error", err)
		}
		slog.Info("[BLE] disconnected", "device", session.ID())
	}

	m.mu.Lock()
	m.session = nil
	changed := m.setLocked(StateDisconnected)
	m.mu.Unlock()
	if changed {
		m.listeners.notify(StateDisconnected)
	}
}

// handleDrop reacts to the peripheral dropping dropped. It makes exactly one
// reconnect attempt to the remembered device; retry policy belongs to the
// caller.
func (m *Manager) handleDrop(dropped Session) {
	m.mu.Lock()
	if m.session != dropped || m.closed {
		m.mu.Unlock()
		return
	}
	owner := m.sessionTicket
	m.mu.Unlock()

	// A newer Connect or Disconnect already owns the outcome.
	ticket, ok := m.gate.issueAfter(owner)
	if !ok {
		return
	}
	if err := m.gate.enter(context.Background()); err != nil {
		return
	}
	defer m.gate.leave()

	m.mu.Lock()
	if m.session != dropped || !m.gate.current(ticket) {
		m.mu.Unlock()
		return
	}
	sub := m.dropSub
	m.dropSub = nil
	m.session = nil
	deviceID := m.lastDeviceID
	m.setLocked(StateReconnecting)
	m.mu.Unlock()

	if sub != nil {
		sub.Remove()
	}
	slog.Warn("[BLE] connection lost, reconnecting", "device", deviceID)
	m.listeners.notify(StateReconnecting)

	if deviceID == "" {
		m.transition(StateDisconnected)
		return
	}

	ctx, release := m.gate.cancellable(context.Background(), ticket)
	if m.opts.ReconnectDelay > 0 {
		select {
		case <-time.After(m.opts.ReconnectDelay):
		case <-ctx.Done():
		}
	}
	release()
	if !m.gate.current(ticket) {
		m.transition(StateDisconnected)
		return
	}

	session, err := m.open(context.Background(), ticket, deviceID)
	if err != nil {
		if IsCancelled(err) {
			slog.Debug("[BLE] reconnect cancelled", "device", deviceID)
		} else {
			slog.Warn("[BLE] reconnect failed", "device", deviceID, "error", err)
		}
		m.transition(StateDisconnected)
		return
	}
	if m.commit(ticket, session) {
		slog.Info("[BLE] reconnected", "device", deviceID)
	}
}

// transition moves to s and notifies listeners if the state changed.
func (m *Manager) transition(s State) {
	m.mu.Lock()
	changed := m.setLocked(s)
	m.mu.Unlock()
	if changed {
		m.listeners.notify(s)
	}
}

// setLocked records s and reports whether it differs from the previous
// state. m.mu must be held.
func (m *Manager) setLocked(s State) bool {
	if m.state == s {
		return false
	}
	slog.Debug("[BLE] state", "from", m.state, "to", s)
	m.state = s
	return true
}
