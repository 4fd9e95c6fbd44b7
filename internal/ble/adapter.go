// Package ble provides the BLE core for a nodelink ESP32 sensor node:
// device discovery, the single active connection with automatic
// reconnection, and text-level access to the node's GATT characteristics.
package ble

import (
	"context"
	"sync"
)

// Device represents a discovered BLE peripheral.
type Device struct {
	ID          string
	Name        string
	Connectable bool
	RSSI        int // 0 when the platform did not report one
}

// Subscription is a handle to a registered callback. Remove stops delivery
// and is safe to call more than once.
type Subscription interface {
	Remove()
}

// Session is one transport-level connection to a peripheral. Services and
// characteristics have already been discovered when a Session is returned.
type Session interface {
	// ID returns the identifier of the connected peripheral.
	ID() string
	// Read returns the current value of a characteristic.
	Read(ctx context.Context, serviceUUID, charUUID string) ([]byte, error)
	// WriteWithResponse writes data and returns the peripheral's
	// acknowledgement payload.
	WriteWithResponse(ctx context.Context, serviceUUID, charUUID string, data []byte) ([]byte, error)
	// Monitor subscribes to notifications on a characteristic. Delivery
	// continues until the subscription is removed or the session ends.
	Monitor(serviceUUID, charUUID string, onUpdate func(data []byte, err error)) (Subscription, error)
	// OnDisconnect registers a handler fired when the peripheral drops the
	// link. It is not fired for a Disconnect call.
	OnDisconnect(handler func()) Subscription
	// Disconnect tears down the session. Calling it on a closed session
	// returns nil.
	Disconnect() error
}

// Adapter abstracts the platform BLE stack for testing.
type Adapter interface {
	// Enabled reports whether the radio is powered on and usable.
	Enabled() bool
	// RequestPermissions asks the OS for scan/connect access. It reports
	// false on denial and never fails otherwise.
	RequestPermissions() bool
	// Scan reports peripherals advertising any of serviceUUIDs (all
	// peripherals when empty) until ctx is done. onDevice is never called
	// after Scan returns.
	Scan(ctx context.Context, serviceUUIDs []string, onDevice func(Device)) error
	// Connect opens a session to the device, adopting an already open
	// transport session for the same identifier.
	Connect(ctx context.Context, deviceID string) (Session, error)
}

// funcSubscription runs remove at most once.
type funcSubscription struct {
	once   sync.Once
	remove func()
}

func newSubscription(remove func()) *funcSubscription {
	return &funcSubscription{remove: remove}
}

func (s *funcSubscription) Remove() {
	s.once.Do(s.remove)
}
