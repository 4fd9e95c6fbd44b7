package repository

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/chaz8081/nodelink/internal/ble"
	"github.com/chaz8081/nodelink/internal/ble/protocol"
)

// ScanStatus is the state of the node's Wi-Fi scan.
type ScanStatus string

const (
	ScanIdle     ScanStatus = "idle"
	ScanScanning ScanStatus = "scanning"
	ScanScanned  ScanStatus = "scanned"
	ScanFailed   ScanStatus = "failed"
)

// WiFiRepository drives Wi-Fi scans on the node. Results arrive as
// notifications, so StartLiveListening must be active for a scan to
// complete.
type WiFiRepository struct {
	gateway Gateway
	service string
	char    string
	live    liveSlot

	mu       sync.Mutex
	status   ScanStatus
	networks []protocol.WiFiNetwork
	onUpdate func(ScanStatus, []protocol.WiFiNetwork)
}

// NewWiFiRepository creates a repository bound to chars.WiFi.
func NewWiFiRepository(gateway Gateway, chars protocol.Characteristics) *WiFiRepository {
	return &WiFiRepository{
		gateway: gateway,
		service: chars.Service,
		char:    chars.WiFi,
		status:  ScanIdle,
	}
}

// StartScan clears previous results and asks the node to scan. It reports
// false without doing anything while a scan is already running, and false
// with status ScanFailed when the command could not be written.
func (r *WiFiRepository) StartScan(ctx context.Context) bool {
	r.mu.Lock()
	if r.status == ScanScanning {
		r.mu.Unlock()
		return false
	}
	r.status = ScanScanning
	r.networks = nil
	r.mu.Unlock()
	r.publish()

	if _, ok := r.gateway.WriteWithResponse(ctx, r.service, r.char, protocol.WiFiScanCommand); !ok {
		slog.Warn("[repo] wifi scan command failed")
		r.setStatus(ScanFailed)
		return false
	}
	slog.Debug("[repo] wifi scan started")
	return true
}

// Status returns the current scan status.
func (r *WiFiRepository) Status() ScanStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Networks returns the networks seen in the current scan, in the order
// they were first reported.
func (r *WiFiRepository) Networks() []protocol.WiFiNetwork {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.networks)
}

// HandleLiveUpdate folds one notification into the scan: a terminal
// sentinel settles the status, anything else is a network entry.
func (r *WiFiRepository) HandleLiveUpdate(raw string) {
	switch raw {
	case protocol.WiFiScanDone:
		r.setStatus(ScanScanned)
		return
	case protocol.WiFiScanFail:
		r.setStatus(ScanFailed)
		return
	}

	network, err := protocol.DecodeWiFiNetwork(raw)
	if err != nil {
		slog.Debug("[repo] dropping wifi notification", "error", err)
		return
	}

	r.mu.Lock()
	i := slices.IndexFunc(r.networks, func(n protocol.WiFiNetwork) bool { return n.SSID == network.SSID })
	if i >= 0 {
		// Repeated sightings keep the numerically smallest RSSI, which is
		// the weakest signal.
		// TODO: confirm with product whether the strongest sighting
		// should be kept instead.
		r.networks[i].RSSI = min(r.networks[i].RSSI, network.RSSI)
	} else {
		r.networks = append(r.networks, network)
	}
	r.mu.Unlock()
	r.publish()
}

// StartLiveListening subscribes to scan notifications, replacing any
// previous subscription. onUpdate, if not nil, is called after every
// change to the status or the result set. It returns nil when not
// connected.
func (r *WiFiRepository) StartLiveListening(onUpdate func(ScanStatus, []protocol.WiFiNetwork)) ble.Subscription {
	r.mu.Lock()
	r.onUpdate = onUpdate
	r.mu.Unlock()
	return r.live.replace(func() ble.Subscription {
		return r.gateway.Monitor(r.service, r.char, r.HandleLiveUpdate)
	})
}

// StopLiveListening removes the live subscription, if any.
func (r *WiFiRepository) StopLiveListening() {
	r.live.stop()
}

func (r *WiFiRepository) setStatus(s ScanStatus) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
	r.publish()
}

func (r *WiFiRepository) publish() {
	r.mu.Lock()
	fn := r.onUpdate
	status := r.status
	networks := slices.Clone(r.networks)
	r.mu.Unlock()
	if fn != nil {
		fn(status, networks)
	}
}
