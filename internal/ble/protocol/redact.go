package protocol

import (
	"encoding/hex"
	"log/slog"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns a short, stable digest of a secret so two log lines can
// be compared without revealing the value.
func Fingerprint(secret string) string {
	sum := blake2b.Sum256([]byte(secret))
	return "b2:" + hex.EncodeToString(sum[:4])
}

// LogValue implements slog.LogValuer. The Wi-Fi password and API key are
// replaced by their fingerprints.
func (c DeviceConfig) LogValue() slog.Value {
	var attrs []slog.Attr
	if c.DeviceName != nil {
		attrs = append(attrs, slog.String("device_name", *c.DeviceName))
	}
	if c.PowerMode != nil {
		attrs = append(attrs, slog.String("power_mode", string(*c.PowerMode)))
	}
	if c.WiFiSSID != nil {
		attrs = append(attrs, slog.String("wifi_ssid", *c.WiFiSSID))
	}
	if c.WiFiPassword != nil {
		attrs = append(attrs, slog.String("wifi_password", Fingerprint(*c.WiFiPassword)))
	}
	if c.APIKey != nil {
		attrs = append(attrs, slog.String("api_key", Fingerprint(*c.APIKey)))
	}
	return slog.GroupValue(attrs...)
}
