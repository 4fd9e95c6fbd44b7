package ble

import (
	"strings"

	"tinygo.org/x/bluetooth"
)

// parseAddress parses a CoreBluetooth peripheral UUID.
func parseAddress(id string) (bluetooth.Address, error) {
	uuid, err := bluetooth.ParseUUID(strings.ToLower(strings.TrimSpace(id)))
	if err != nil {
		return bluetooth.Address{}, err
	}
	return bluetooth.Address{UUID: uuid}, nil
}
