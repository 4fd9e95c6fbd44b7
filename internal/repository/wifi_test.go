package repository

import (
	"context"
	"slices"
	"testing"

	"github.com/chaz8081/nodelink/internal/ble/protocol"
)

func TestWiFiScanLifecycle(t *testing.T) {
	gw := newFakeGateway()
	repo := NewWiFiRepository(gw, testChars)
	if repo.Status() != ScanIdle {
		t.Fatalf("initial status = %s, want idle", repo.Status())
	}

	var statuses []ScanStatus
	repo.StartLiveListening(func(s ScanStatus, _ []protocol.WiFiNetwork) {
		statuses = append(statuses, s)
	})

	if !repo.StartScan(context.Background()) {
		t.Fatal("StartScan() = false")
	}
	if want := []string{testChars.WiFi + "=scan"}; !slices.Equal(gw.writeLog(), want) {
		t.Errorf("writes = %v, want %v", gw.writeLog(), want)
	}
	if repo.Status() != ScanScanning {
		t.Errorf("status = %s, want scanning", repo.Status())
	}

	gw.push(testChars.WiFi, `{"ssid":"home","rssi":-60}`)
	gw.push(testChars.WiFi, `{"ssid":"cafe","rssi":-71}`)
	gw.push(testChars.WiFi, "done")

	if repo.Status() != ScanScanned {
		t.Errorf("status = %s, want scanned", repo.Status())
	}
	want := []protocol.WiFiNetwork{{SSID: "home", RSSI: -60}, {SSID: "cafe", RSSI: -71}}
	if got := repo.Networks(); !slices.Equal(got, want) {
		t.Errorf("Networks() = %v, want %v", got, want)
	}
	if statuses[0] != ScanScanning || statuses[len(statuses)-1] != ScanScanned {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestWiFiScanDeduplicatesBySSID(t *testing.T) {
	repo := NewWiFiRepository(newFakeGateway(), testChars)
	repo.HandleLiveUpdate(`{"ssid":"home","rssi":-60}`)
	repo.HandleLiveUpdate(`{"ssid":"home","rssi":-80}`)
	repo.HandleLiveUpdate(`{"ssid":"home","rssi":-70}`)

	want := []protocol.WiFiNetwork{{SSID: "home", RSSI: -80}}
	if got := repo.Networks(); !slices.Equal(got, want) {
		t.Errorf("Networks() = %v, want %v", got, want)
	}
}

func TestWiFiScanDropsMalformedEntries(t *testing.T) {
	repo := NewWiFiRepository(newFakeGateway(), testChars)
	repo.HandleLiveUpdate("garbage")
	repo.HandleLiveUpdate(`{"rssi":-50}`)
	repo.HandleLiveUpdate(`["home"]`)
	if n := len(repo.Networks()); n != 0 {
		t.Errorf("networks = %d, want 0", n)
	}
}

func TestWiFiScanFailSentinel(t *testing.T) {
	gw := newFakeGateway()
	repo := NewWiFiRepository(gw, testChars)
	repo.StartLiveListening(nil)
	repo.StartScan(context.Background())
	gw.push(testChars.WiFi, "fail")
	if repo.Status() != ScanFailed {
		t.Errorf("status = %s, want failed", repo.Status())
	}
}

func TestWiFiStartScanGuards(t *testing.T) {
	gw := newFakeGateway()
	repo := NewWiFiRepository(gw, testChars)
	ctx := context.Background()

	repo.StartScan(ctx)
	if repo.StartScan(ctx) {
		t.Error("StartScan() = true while a scan is running")
	}
	if n := len(gw.writeLog()); n != 1 {
		t.Errorf("writes = %d, want 1", n)
	}
}

func TestWiFiStartScanResetsResults(t *testing.T) {
	repo := NewWiFiRepository(newFakeGateway(), testChars)
	ctx := context.Background()

	repo.StartScan(ctx)
	repo.HandleLiveUpdate(`{"ssid":"home","rssi":-60}`)
	repo.HandleLiveUpdate("done")
	repo.StartScan(ctx)
	if n := len(repo.Networks()); n != 0 {
		t.Errorf("networks after restart = %d, want 0", n)
	}
}

func TestWiFiStartScanWriteFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.writeFail = true
	repo := NewWiFiRepository(gw, testChars)
	if repo.StartScan(context.Background()) {
		t.Fatal("StartScan() = true on write failure")
	}
	if repo.Status() != ScanFailed {
		t.Errorf("status = %s, want failed", repo.Status())
	}

	gw.writeFail = false
	if !repo.StartScan(context.Background()) {
		t.Error("StartScan() = false after a failed scan")
	}
}

func TestWiFiNetworksReturnsCopy(t *testing.T) {
	repo := NewWiFiRepository(newFakeGateway(), testChars)
	repo.HandleLiveUpdate(`{"ssid":"home","rssi":-60}`)
	got := repo.Networks()
	got[0].SSID = "mutated"
	if repo.Networks()[0].SSID != "home" {
		t.Error("Networks() exposed internal slice")
	}
}
