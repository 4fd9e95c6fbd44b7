package ble

import (
	"context"
	"log/slog"

	"github.com/chaz8081/nodelink/internal/ble/protocol"
)

// SessionSource yields the active session, or nil when not connected.
// Manager implements it.
type SessionSource interface {
	Session() Session
}

// Gateway exposes text-level access to characteristics of the active
// session. Transport errors never escape it: every operation reports
// failure as ok=false or a nil Subscription, and logs the cause.
type Gateway struct {
	source SessionSource
}

// NewGateway creates a gateway over source.
func NewGateway(source SessionSource) *Gateway {
	return &Gateway{source: source}
}

// Read returns the characteristic's value as text. ok is false when there
// is no connected session, the read failed, or the value is empty.
func (g *Gateway) Read(ctx context.Context, serviceUUID, charUUID string) (text string, ok bool) {
	session, err := g.session()
	if err != nil {
		logFailure("read", charUUID, err)
		return "", false
	}
	data, err := session.Read(ctx, serviceUUID, charUUID)
	if err != nil {
		logFailure("read", charUUID, err)
		return "", false
	}
	if len(data) == 0 {
		return "", false
	}
	return protocol.DecodeText(data), true
}

// WriteWithResponse writes text and returns the peripheral's response as
// text, with the same ok contract as Read.
func (g *Gateway) WriteWithResponse(ctx context.Context, serviceUUID, charUUID, text string) (response string, ok bool) {
	session, err := g.session()
	if err != nil {
		logFailure("write", charUUID, err)
		return "", false
	}
	data, err := session.WriteWithResponse(ctx, serviceUUID, charUUID, protocol.EncodeText(text))
	if err != nil {
		logFailure("write", charUUID, err)
		return "", false
	}
	if len(data) == 0 {
		return "", false
	}
	return protocol.DecodeText(data), true
}

// Monitor forwards every notification on the characteristic to onText. It
// returns nil when there is no connected session or subscribing failed.
// Errors caused by the link going away are dropped silently.
func (g *Gateway) Monitor(serviceUUID, charUUID string, onText func(string)) Subscription {
	session, err := g.session()
	if err != nil {
		logFailure("monitor", charUUID, err)
		return nil
	}
	sub, err := session.Monitor(serviceUUID, charUUID, func(data []byte, err error) {
		if err != nil {
			logFailure("notification", charUUID, err)
			return
		}
		if len(data) == 0 {
			return
		}
		onText(protocol.DecodeText(data))
	})
	if err != nil {
		logFailure("monitor", charUUID, err)
		return nil
	}
	return sub
}

// session returns the connected session, or ErrNotConnected.
func (g *Gateway) session() (Session, error) {
	if s := g.source.Session(); s != nil {
		return s, nil
	}
	return nil, ErrNotConnected
}

func logFailure(op, charUUID string, err error) {
	if IsTeardown(err) {
		slog.Debug("[BLE] "+op+" interrupted", "char", charUUID, "error", err)
		return
	}
	slog.Error("[BLE] "+op+" failed", "char", charUUID, "error", err)
}
