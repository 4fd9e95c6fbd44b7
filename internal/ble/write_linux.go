package ble

import "tinygo.org/x/bluetooth"

// writeRequest sends an ATT write request. On BlueZ, WriteValue with no
// "type" option is a write with response, which tinygo exposes only as
// WriteWithoutResponse.
func writeRequest(c bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := c.WriteWithoutResponse(data)
	return err
}
