package ble

import (
	"context"
	"errors"
)

// Transport error taxonomy. Adapters wrap platform errors with one of these
// so callers can classify failures with errors.Is.
var (
	ErrPermissionDenied   = errors.New("ble: permission denied")
	ErrAdapterOff         = errors.New("ble: adapter disabled")
	ErrDeviceUnreachable  = errors.New("ble: device unreachable")
	ErrOperationCancelled = errors.New("ble: operation cancelled")
	ErrDisconnected       = errors.New("ble: device disconnected")
	ErrNotConnected       = errors.New("ble: no connected device")
)

// IsCancelled reports whether err comes from an operation that was
// superseded by a newer one.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrOperationCancelled) || errors.Is(err, context.Canceled)
}

// IsTeardown reports whether err is expected while a link is going away:
// cancelled by a racing operation, or attempted after the link was lost.
func IsTeardown(err error) bool {
	return IsCancelled(err) || errors.Is(err, ErrDisconnected) || errors.Is(err, ErrNotConnected)
}
