package protocol

import (
	"strings"
	"unicode/utf8"
)

// Command is a plain-text command written to the system-control characteristic.
type Command string

const (
	CommandSleep   Command = "sleep"
	CommandRestart Command = "restart"
)

// Wi-Fi scan characteristic sentinels. The app writes WiFiScanCommand; the
// node streams one JSON entry per network and finishes with WiFiScanDone or
// WiFiScanFail.
const (
	WiFiScanCommand = "scan"
	WiFiScanDone    = "done"
	WiFiScanFail    = "fail"
)

// EncodeText converts text into the bytes written to a characteristic.
func EncodeText(text string) []byte {
	return []byte(text)
}

// DecodeText converts a characteristic value into UTF-8 text. Invalid byte
// sequences are replaced with U+FFFD rather than rejected, since firmware
// strings occasionally carry truncated multi-byte characters.
func DecodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}
