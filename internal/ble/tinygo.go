package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// maxAttributeLen is the largest value an ATT attribute can hold.
const maxAttributeLen = 512

// TinyGoAdapter implements Adapter on top of tinygo-org/bluetooth, which
// drives BlueZ on Linux, CoreBluetooth on macOS and WinRT on Windows.
// On macOS device identifiers are CoreBluetooth UUIDs, elsewhere MAC
// addresses. Identifiers are canonicalized on Connect, so sessions and
// link-loss events agree on the key whatever case the caller used.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	enableMu sync.Mutex
	enabled  bool

	// mu protects the sessions map.
	mu       sync.Mutex
	sessions map[string]*tinygoSession // keyed by device ID
}

// NewTinyGoAdapter creates an adapter for the system's default radio.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:  bluetooth.DefaultAdapter,
		sessions: make(map[string]*tinygoSession),
	}
}

// enable powers on the stack once; a failed attempt is retried on the next call.
func (a *TinyGoAdapter) enable() error {
	a.enableMu.Lock()
	defer a.enableMu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		if isPermissionError(err) {
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		return fmt.Errorf("%w: %w", ErrAdapterOff, err)
	}

	// tinygo reports unexpected link loss through the adapter-wide connect
	// handler with connected=false.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		a.handleLinkLoss(device.Address.String())
	})
	a.enabled = true
	return nil
}

func (a *TinyGoAdapter) Enabled() bool {
	return a.enable() == nil
}

// RequestPermissions triggers the platform's authorization prompt, which
// desktop stacks raise on first use of the radio.
func (a *TinyGoAdapter) RequestPermissions() bool {
	err := a.enable()
	if errors.Is(err, ErrPermissionDenied) {
		slog.Warn("[BLE] bluetooth permission denied", "error", err)
		return false
	}
	return true
}

func (a *TinyGoAdapter) Scan(ctx context.Context, serviceUUIDs []string, onDevice func(Device)) error {
	if err := a.enable(); err != nil {
		return err
	}
	filter, err := parseUUIDs(serviceUUIDs)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		// StopScan fails if the platform scan has not started yet.
		for a.adapter.StopScan() != nil {
			select {
			case <-done:
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}()

	err = a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			_ = adapter.StopScan()
			return
		}
		if !matchesAny(result, filter) {
			return
		}
		// tinygo does not expose the advertisement type, so every
		// result is offered as connectable.
		onDevice(Device{
			ID:          result.Address.String(),
			Name:        result.LocalName(),
			Connectable: true,
			RSSI:        int(result.RSSI),
		})
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, deviceID string) (Session, error) {
	addr, err := parseAddress(deviceID)
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %q: %w: %w", deviceID, ErrDeviceUnreachable, err)
	}
	deviceID = addr.String()

	if err := a.enable(); err != nil {
		return nil, err
	}

	if s := a.openSession(deviceID); s != nil {
		slog.Debug("[BLE] adopting open session", "device", deviceID)
		return s, nil
	}

	// tinygo's Connect blocks with its own timeout and cannot be
	// interrupted; wrap it so ctx cancellation returns immediately.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	var device bluetooth.Device
	select {
	case <-ctx.Done():
		// Release a connection that completes after we gave up on it.
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, contextError("connect to "+deviceID, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w: %w", deviceID, ErrDeviceUnreachable, r.err)
		}
		device = r.device
	}

	session, err := discover(a, deviceID, device)
	if err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	a.track(session)
	return session, nil
}

// ParseDeviceID validates a device identifier and returns it in the
// canonical form reported by scans.
func ParseDeviceID(id string) (string, error) {
	addr, err := parseAddress(id)
	if err != nil {
		return "", fmt.Errorf("ble: invalid device id %q: %w", id, err)
	}
	return addr.String(), nil
}

// openSession returns the live session for the canonical id, if any.
func (a *TinyGoAdapter) openSession(id string) *tinygoSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[id]; ok && !s.isClosed() {
		return s
	}
	return nil
}

func (a *TinyGoAdapter) track(s *tinygoSession) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[s.id] = s
}

// handleLinkLoss marks the session for id as dropped and fires its handlers.
func (a *TinyGoAdapter) handleLinkLoss(id string) {
	a.mu.Lock()
	s, ok := a.sessions[id]
	if ok {
		delete(a.sessions, id)
	}
	a.mu.Unlock()
	if ok {
		s.dropped()
	}
}

func (a *TinyGoAdapter) forget(s *tinygoSession) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessions[s.id] == s {
		delete(a.sessions, s.id)
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

// discover resolves every service and characteristic on device.
func discover(a *TinyGoAdapter, id string, device bluetooth.Device) (*tinygoSession, error) {
	svcs, err := device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	s := &tinygoSession{
		adapter:  a,
		id:       id,
		device:   device,
		chars:    make(map[string]bluetooth.DeviceCharacteristic),
		handlers: make(map[uint64]func()),
	}
	for _, svc := range svcs {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("ble: discover characteristics of %s: %w", svc.UUID().String(), err)
		}
		for _, c := range chars {
			s.chars[charKey(svc.UUID().String(), c.UUID().String())] = c
		}
	}
	slog.Debug("[BLE] discovered", "device", id, "services", len(svcs), "characteristics", len(s.chars))
	return s, nil
}

type tinygoSession struct {
	adapter *TinyGoAdapter
	id      string
	device  bluetooth.Device
	chars   map[string]bluetooth.DeviceCharacteristic

	mu          sync.Mutex
	closed      bool
	nextHandler uint64
	handlers    map[uint64]func()
}

func (s *tinygoSession) ID() string { return s.id }

func (s *tinygoSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *tinygoSession) characteristic(serviceUUID, charUUID string) (bluetooth.DeviceCharacteristic, error) {
	if s.isClosed() {
		return bluetooth.DeviceCharacteristic{}, ErrDisconnected
	}
	c, ok := s.chars[charKey(serviceUUID, charUUID)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("ble: characteristic %s/%s not found", serviceUUID, charUUID)
	}
	return c, nil
}

func (s *tinygoSession) Read(ctx context.Context, serviceUUID, charUUID string) ([]byte, error) {
	c, err := s.characteristic(serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}
	return s.await(ctx, "read "+charUUID, func() ([]byte, error) {
		buf := make([]byte, maxAttributeLen)
		n, err := c.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	})
}

// WriteWithResponse writes with an ATT write request. The firmware's
// acknowledgement carries no payload of its own, so the accepted value is
// returned as the response.
func (s *tinygoSession) WriteWithResponse(ctx context.Context, serviceUUID, charUUID string, data []byte) ([]byte, error) {
	c, err := s.characteristic(serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}
	return s.await(ctx, "write "+charUUID, func() ([]byte, error) {
		if err := writeRequest(c, data); err != nil {
			return nil, err
		}
		ack := make([]byte, len(data))
		copy(ack, data)
		return ack, nil
	})
}

func (s *tinygoSession) Monitor(serviceUUID, charUUID string, onUpdate func([]byte, error)) (Subscription, error) {
	c, err := s.characteristic(serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	active := true
	err = c.EnableNotifications(func(buf []byte) {
		mu.Lock()
		ok := active
		mu.Unlock()
		if !ok {
			return
		}
		data := make([]byte, len(buf))
		copy(data, buf)
		onUpdate(data, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("ble: enable notifications on %s: %w", charUUID, err)
	}

	return newSubscription(func() {
		mu.Lock()
		active = false
		mu.Unlock()
		if !s.isClosed() {
			_ = c.EnableNotifications(nil)
		}
	}), nil
}

func (s *tinygoSession) OnDisconnect(handler func()) Subscription {
	s.mu.Lock()
	s.nextHandler++
	id := s.nextHandler
	s.handlers[id] = handler
	s.mu.Unlock()
	return newSubscription(func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	})
}

func (s *tinygoSession) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.adapter.forget(s)
	if err := s.device.Disconnect(); err != nil {
		return fmt.Errorf("ble: disconnect %s: %w", s.id, err)
	}
	return nil
}

// dropped closes the session and fires its disconnect handlers.
func (s *tinygoSession) dropped() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handlers := make([]func(), 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}

// await runs a blocking tinygo call, returning early when ctx is done.
func (s *tinygoSession) await(ctx context.Context, op string, fn func() ([]byte, error)) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := fn()
		ch <- result{data, err}
	}()
	select {
	case <-ctx.Done():
		return nil, contextError(op, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			if s.isClosed() {
				return nil, fmt.Errorf("ble: %s: %w: %w", op, ErrDisconnected, r.err)
			}
			return nil, fmt.Errorf("ble: %s: %w", op, r.err)
		}
		return r.data, nil
	}
}

func charKey(serviceUUID, charUUID string) string {
	return strings.ToLower(serviceUUID) + "/" + strings.ToLower(charUUID)
}

func parseUUIDs(uuids []string) ([]bluetooth.UUID, error) {
	parsed := make([]bluetooth.UUID, 0, len(uuids))
	for _, u := range uuids {
		id, err := bluetooth.ParseUUID(u)
		if err != nil {
			return nil, fmt.Errorf("ble: parse service UUID %q: %w", u, err)
		}
		parsed = append(parsed, id)
	}
	return parsed, nil
}

func matchesAny(result bluetooth.ScanResult, filter []bluetooth.UUID) bool {
	if len(filter) == 0 {
		return true
	}
	for _, id := range filter {
		if result.HasServiceUUID(id) {
			return true
		}
	}
	return false
}

// contextError maps a context error to the transport taxonomy: a cancelled
// context means a newer operation superseded this one, a deadline means the
// device did not answer in time.
func contextError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("ble: %s: %w: %w", op, ErrDeviceUnreachable, err)
	}
	return fmt.Errorf("ble: %s: %w: %w", op, ErrOperationCancelled, err)
}

func isPermissionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission") ||
		strings.Contains(msg, "not authorized") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "access denied")
}
