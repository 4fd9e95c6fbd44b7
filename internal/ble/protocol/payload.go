package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned when a characteristic value is not the
// JSON object the firmware is expected to send.
var ErrMalformedPayload = errors.New("protocol: malformed payload")

// PowerMode is the node's power profile.
type PowerMode string

const (
	PowerEco      PowerMode = "eco"
	PowerBalanced PowerMode = "balanced"
	PowerFull     PowerMode = "power"
)

// Valid reports whether m is one of the modes the firmware accepts.
func (m PowerMode) Valid() bool {
	switch m {
	case PowerEco, PowerBalanced, PowerFull:
		return true
	}
	return false
}

// DeviceConfig is the device configuration characteristic. Every field is
// optional: a nil field is absent from the payload, so a DeviceConfig doubles
// as a partial update.
type DeviceConfig struct {
	DeviceName   *string    `json:"device_name,omitempty"`
	PowerMode    *PowerMode `json:"power_mode,omitempty"`
	WiFiSSID     *string    `json:"wifi_ssid,omitempty"`
	WiFiPassword *string    `json:"wifi_password,omitempty"`
	APIKey       *string    `json:"api_key,omitempty"`
}

// Merge returns c with every field present in update applied on top.
func (c DeviceConfig) Merge(update DeviceConfig) DeviceConfig {
	mergeField(&c.DeviceName, update.DeviceName)
	mergeField(&c.PowerMode, update.PowerMode)
	mergeField(&c.WiFiSSID, update.WiFiSSID)
	mergeField(&c.WiFiPassword, update.WiFiPassword)
	mergeField(&c.APIKey, update.APIKey)
	return c
}

// WiFiStatus is the node's own Wi-Fi link state as reported in telemetry.
type WiFiStatus string

const (
	WiFiDisconnected WiFiStatus = "disconnected"
	WiFiConnecting   WiFiStatus = "connecting"
	WiFiConnected    WiFiStatus = "connected"
)

// SensorData is the sensor telemetry characteristic. The firmware reports
// readings as preformatted strings; absent fields are nil.
type SensorData struct {
	WiFi     *WiFiStatus `json:"wifi,omitempty"`
	Battery  *string     `json:"battery,omitempty"`
	Charger  *string     `json:"charger,omitempty"`
	AirTemp  *string     `json:"air_temp,omitempty"`
	AirHum   *string     `json:"air_hum,omitempty"`
	AirPress *string     `json:"air_press,omitempty"`
	Soil     *string     `json:"soil,omitempty"`
	Light    *string     `json:"light,omitempty"`
}

// Merge returns d with every field present in update applied on top.
func (d SensorData) Merge(update SensorData) SensorData {
	mergeField(&d.WiFi, update.WiFi)
	mergeField(&d.Battery, update.Battery)
	mergeField(&d.Charger, update.Charger)
	mergeField(&d.AirTemp, update.AirTemp)
	mergeField(&d.AirHum, update.AirHum)
	mergeField(&d.AirPress, update.AirPress)
	mergeField(&d.Soil, update.Soil)
	mergeField(&d.Light, update.Light)
	return d
}

// WiFiNetwork is one entry streamed by the node during a Wi-Fi scan.
type WiFiNetwork struct {
	SSID string `json:"ssid"`
	RSSI int    `json:"rssi"`
}

func mergeField[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// DecodeDeviceConfig parses a device configuration payload.
func DecodeDeviceConfig(text string) (DeviceConfig, error) {
	var c DeviceConfig
	err := decodeObject(text, &c)
	return c, err
}

// DecodeSensorData parses a sensor telemetry payload.
func DecodeSensorData(text string) (SensorData, error) {
	var d SensorData
	err := decodeObject(text, &d)
	return d, err
}

// DecodeWiFiNetwork parses one Wi-Fi scan entry. Entries without an SSID are
// rejected.
func DecodeWiFiNetwork(text string) (WiFiNetwork, error) {
	var n WiFiNetwork
	if err := decodeObject(text, &n); err != nil {
		return WiFiNetwork{}, err
	}
	if n.SSID == "" {
		return WiFiNetwork{}, fmt.Errorf("%w: wifi entry without ssid", ErrMalformedPayload)
	}
	return n, nil
}

// Encode marshals a payload into the JSON text written to a characteristic.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("protocol: encode: %w", err)
	}
	return string(data), nil
}

func decodeObject(text string, v any) error {
	trimmed := bytes.TrimSpace([]byte(text))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
