// Package protocol implements the payload encoding spoken by the nodelink
// ESP32 firmware over its GATT service: UTF-8 JSON objects for the device
// configuration, sensor telemetry and Wi-Fi scan entries, plus a handful of
// plain-text commands and sentinels.
package protocol

// nodelink firmware GATT UUIDs
const (
	ServiceUUID     = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	DeviceCharUUID  = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
	SensorsCharUUID = "beb5483e-36e1-4688-b7f5-ea07361b26a9"
	WiFiCharUUID    = "beb5483e-36e1-4688-b7f5-ea07361b26aa"
	SystemCharUUID  = "beb5483e-36e1-4688-b7f5-ea07361b26ab"
)

// Characteristics addresses the node's primary service and the fixed set of
// characteristics it exposes.
type Characteristics struct {
	Service string
	Device  string // device configuration, read/write JSON
	Sensors string // sensor telemetry, read + notify JSON
	WiFi    string // Wi-Fi scan, "scan" command + notify entries and sentinels
	System  string // system control, "sleep" / "restart"
}

// DefaultCharacteristics returns the UUIDs flashed into the stock firmware.
func DefaultCharacteristics() Characteristics {
	return Characteristics{
		Service: ServiceUUID,
		Device:  DeviceCharUUID,
		Sensors: SensorsCharUUID,
		WiFi:    WiFiCharUUID,
		System:  SystemCharUUID,
	}
}
