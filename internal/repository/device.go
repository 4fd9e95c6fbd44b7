package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/chaz8081/nodelink/internal/ble/protocol"
)

// DeviceRepository reads and updates the node's configuration: name, power
// mode, Wi-Fi credentials and API key.
type DeviceRepository struct {
	gateway Gateway
	service string
	char    string
	cache   *Cache[protocol.DeviceConfig]
}

// NewDeviceRepository creates a repository bound to chars.Device.
func NewDeviceRepository(gateway Gateway, chars protocol.Characteristics, ttl time.Duration) *DeviceRepository {
	return &DeviceRepository{
		gateway: gateway,
		service: chars.Service,
		char:    chars.Device,
		cache:   NewCache[protocol.DeviceConfig](ttl),
	}
}

// Data returns the device configuration, reading it from the node unless a
// fresh copy is cached or force is set. ok is false only when nothing has
// ever been read successfully.
func (r *DeviceRepository) Data(ctx context.Context, force bool) (protocol.DeviceConfig, bool) {
	return r.cache.Load(force, func() (protocol.DeviceConfig, bool) {
		text, ok := r.gateway.Read(ctx, r.service, r.char)
		if !ok {
			return protocol.DeviceConfig{}, false
		}
		cfg, err := protocol.DecodeDeviceConfig(text)
		if err != nil {
			slog.Warn("[repo] device config", "error", err)
			return protocol.DeviceConfig{}, false
		}
		return cfg, true
	})
}

// Update writes the fields set in partial. On success they are merged into
// the cached configuration; on failure the cache is left untouched.
func (r *DeviceRepository) Update(ctx context.Context, partial protocol.DeviceConfig) bool {
	if partial.PowerMode != nil && !partial.PowerMode.Valid() {
		slog.Warn("[repo] refusing unknown power mode", "power_mode", string(*partial.PowerMode))
		return false
	}
	text, err := protocol.Encode(partial)
	if err != nil {
		slog.Error("[repo] device config", "error", err)
		return false
	}
	if _, ok := r.gateway.WriteWithResponse(ctx, r.service, r.char, text); !ok {
		slog.Warn("[repo] device config update failed", "config", partial)
		return false
	}
	r.cache.Merge(partial)
	slog.Info("[repo] device config updated", "config", partial)
	return true
}
