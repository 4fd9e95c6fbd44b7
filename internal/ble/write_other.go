//go:build !linux

package ble

import "tinygo.org/x/bluetooth"

// writeRequest sends an ATT write request and waits for the acknowledgement.
func writeRequest(c bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := c.Write(data)
	return err
}
