//go:build !darwin

package ble

import (
	"strings"

	"tinygo.org/x/bluetooth"
)

// parseAddress parses a MAC address. tinygo only accepts upper-case hex.
func parseAddress(id string) (bluetooth.Address, error) {
	mac, err := bluetooth.ParseMAC(strings.ToUpper(strings.TrimSpace(id)))
	if err != nil {
		return bluetooth.Address{}, err
	}
	return bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, nil
}
