package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/chaz8081/nodelink/internal/ble"
	"github.com/chaz8081/nodelink/internal/ble/protocol"
)

// SensorsRepository serves the node's sensor telemetry, either polled or
// pushed through notifications.
type SensorsRepository struct {
	gateway Gateway
	service string
	char    string
	cache   *Cache[protocol.SensorData]
	live    liveSlot
}

// NewSensorsRepository creates a repository bound to chars.Sensors.
func NewSensorsRepository(gateway Gateway, chars protocol.Characteristics, ttl time.Duration) *SensorsRepository {
	return &SensorsRepository{
		gateway: gateway,
		service: chars.Service,
		char:    chars.Sensors,
		cache:   NewCache[protocol.SensorData](ttl),
	}
}

// Data returns the latest telemetry with the same caching rules as
// DeviceRepository.Data.
func (r *SensorsRepository) Data(ctx context.Context, force bool) (protocol.SensorData, bool) {
	return r.cache.Load(force, func() (protocol.SensorData, bool) {
		text, ok := r.gateway.Read(ctx, r.service, r.char)
		if !ok {
			return protocol.SensorData{}, false
		}
		data, err := protocol.DecodeSensorData(text)
		if err != nil {
			slog.Warn("[repo] sensor data", "error", err)
			return protocol.SensorData{}, false
		}
		return data, true
	})
}

// HandleLiveUpdate merges one pushed telemetry payload into the cache and
// returns the merged readings. Malformed payloads are dropped.
func (r *SensorsRepository) HandleLiveUpdate(text string) (protocol.SensorData, bool) {
	update, err := protocol.DecodeSensorData(text)
	if err != nil {
		slog.Debug("[repo] dropping sensor notification", "error", err)
		return protocol.SensorData{}, false
	}
	return r.cache.Merge(update), true
}

// StartLiveListening subscribes to telemetry notifications, replacing any
// previous subscription. onUpdate, if not nil, receives the merged readings
// after every notification. It returns nil when not connected.
func (r *SensorsRepository) StartLiveListening(onUpdate func(protocol.SensorData)) ble.Subscription {
	return r.live.replace(func() ble.Subscription {
		return r.gateway.Monitor(r.service, r.char, func(text string) {
			merged, ok := r.HandleLiveUpdate(text)
			if ok && onUpdate != nil {
				onUpdate(merged)
			}
		})
	})
}

// StopLiveListening removes the live subscription, if any.
func (r *SensorsRepository) StopLiveListening() {
	r.live.stop()
}
