package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/nodelink/internal/ble"
	"github.com/chaz8081/nodelink/internal/ble/protocol"
	"github.com/chaz8081/nodelink/internal/config"
	"github.com/chaz8081/nodelink/internal/repository"
)

const wifiScanTimeout = 30 * time.Second

// app wires the BLE core the way the mobile UI does: one manager, one
// gateway on top of it and a repository per characteristic.
type app struct {
	cfg     *config.Config
	chars   protocol.Characteristics
	manager *ble.Manager
	scanner *ble.Scanner
	device  *repository.DeviceRepository
	sensors *repository.SensorsRepository
	wifi    *repository.WiFiRepository
	control *repository.Controller
}

func newApp(cfg *config.Config) *app {
	adapter := ble.NewTinyGoAdapter()
	manager := ble.NewManager(adapter, cfg.ManagerOptions())
	gateway := ble.NewGateway(manager)
	chars := cfg.Characteristics()

	return &app{
		cfg:     cfg,
		chars:   chars,
		manager: manager,
		scanner: ble.NewScanner(adapter),
		device:  repository.NewDeviceRepository(gateway, chars, cfg.Cache.TTL),
		sensors: repository.NewSensorsRepository(gateway, chars, cfg.Cache.TTL),
		wifi:    repository.NewWiFiRepository(gateway, chars),
		control: repository.NewController(gateway, chars),
	}
}

func (a *app) close() {
	a.scanner.Stop()
	a.sensors.StopLiveListening()
	a.wifi.StopLiveListening()
	a.manager.Close()
}

// deviceFlags adds the -device flag shared by every command that connects.
func deviceFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	id := fs.String("device", "", "device identifier (default: ble.device_id, else the first node found)")
	return fs, id
}

// connect resolves the target device and connects to it.
func (a *app) connect(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		deviceID = a.cfg.BLE.DeviceID
	}
	if deviceID == "" {
		found, err := a.findFirst(ctx)
		if err != nil {
			return err
		}
		deviceID = found.ID
		fmt.Printf("Found %s (%s)\n", displayName(found), found.ID)
	}

	if !a.manager.Connect(ctx, deviceID) {
		return fmt.Errorf("could not connect to %s", deviceID)
	}
	return nil
}

// findFirst scans until the first node advertising the service is seen.
func (a *app) findFirst(ctx context.Context) (ble.Device, error) {
	found := make(chan ble.Device, 1)
	stopped := make(chan struct{})

	err := a.scanner.Start([]string{a.chars.Service}, a.cfg.BLE.ScanTimeout,
		func(d ble.Device) {
			if !d.Connectable {
				return
			}
			select {
			case found <- d:
			default:
			}
		},
		func() { close(stopped) },
	)
	if err != nil {
		return ble.Device{}, scanError(err)
	}
	defer a.scanner.Stop()

	select {
	case d := <-found:
		return d, nil
	case <-stopped:
		select {
		case d := <-found:
			return d, nil
		default:
		}
		return ble.Device{}, errors.New("no node found")
	case <-ctx.Done():
		return ble.Device{}, ctx.Err()
	}
}

func (a *app) scan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	all := fs.Bool("all", false, "list every advertiser, not just nodes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var filter []string
	if !*all {
		filter = []string{a.chars.Service}
	}

	var mu sync.Mutex
	seen := make(map[string]bool)
	stopped := make(chan struct{})

	err := a.scanner.Start(filter, a.cfg.BLE.ScanTimeout,
		func(d ble.Device) {
			mu.Lock()
			defer mu.Unlock()
			if seen[d.ID] {
				return
			}
			seen[d.ID] = true
			fmt.Printf("%-20s  %-24s  %4d dBm\n", d.ID, displayName(d), d.RSSI)
		},
		func() { close(stopped) },
	)
	if err != nil {
		return scanError(err)
	}

	select {
	case <-stopped:
	case <-ctx.Done():
		a.scanner.Stop()
		<-stopped
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		fmt.Println("No devices found")
	}
	return nil
}

func (a *app) info(ctx context.Context, args []string) error {
	fs, id := deviceFlags("info")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.connect(ctx, *id); err != nil {
		return err
	}

	fmt.Printf("=== %s ===\n", a.manager.DeviceID())
	if cfg, ok := a.device.Data(ctx, true); ok {
		printDeviceConfig(cfg)
	} else {
		fmt.Println("  Config:   unavailable")
	}
	if data, ok := a.sensors.Data(ctx, true); ok {
		printSensorData(data)
	} else {
		fmt.Println("  Sensors:  unavailable")
	}
	return nil
}

func (a *app) set(ctx context.Context, args []string) error {
	fs, id := deviceFlags("set")
	name := fs.String("name", "", "device name")
	power := fs.String("power", "", "power mode: eco, balanced or power")
	ssid := fs.String("ssid", "", "Wi-Fi network name")
	password := fs.String("password", "", "Wi-Fi password")
	apiKey := fs.String("api-key", "", "API key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var update protocol.DeviceConfig
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			update.DeviceName = name
		case "power":
			mode := protocol.PowerMode(*power)
			update.PowerMode = &mode
		case "ssid":
			update.WiFiSSID = ssid
		case "password":
			update.WiFiPassword = password
		case "api-key":
			update.APIKey = apiKey
		}
	})
	if update == (protocol.DeviceConfig{}) {
		return errors.New("set: nothing to update")
	}
	if update.PowerMode != nil && !update.PowerMode.Valid() {
		return fmt.Errorf("set: unknown power mode %q", *power)
	}

	if err := a.connect(ctx, *id); err != nil {
		return err
	}
	if !a.device.Update(ctx, update) {
		return errors.New("set: device rejected the update")
	}
	fmt.Println("Updated")
	return nil
}

func (a *app) wifiScan(ctx context.Context, args []string) error {
	fs, id := deviceFlags("wifi")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.connect(ctx, *id); err != nil {
		return err
	}

	settled := make(chan repository.ScanStatus, 1)
	sub := a.wifi.StartLiveListening(func(status repository.ScanStatus, _ []protocol.WiFiNetwork) {
		if status == repository.ScanScanned || status == repository.ScanFailed {
			select {
			case settled <- status:
			default:
			}
		}
	})
	if sub == nil {
		return errors.New("wifi: could not subscribe to scan results")
	}
	defer a.wifi.StopLiveListening()

	if !a.wifi.StartScan(ctx) {
		return errors.New("wifi: could not start scan")
	}

	select {
	case status := <-settled:
		if status == repository.ScanFailed {
			return errors.New("wifi: node reported scan failure")
		}
	case <-time.After(wifiScanTimeout):
		return errors.New("wifi: timed out waiting for results")
	case <-ctx.Done():
		return ctx.Err()
	}

	networks := a.wifi.Networks()
	if len(networks) == 0 {
		fmt.Println("No networks found")
		return nil
	}
	for _, n := range networks {
		fmt.Printf("%-32s  %4d dBm\n", n.SSID, n.RSSI)
	}
	return nil
}

func (a *app) watch(ctx context.Context, args []string) error {
	fs, id := deviceFlags("watch")
	if err := fs.Parse(args); err != nil {
		return err
	}

	connected := make(chan struct{}, 1)
	listener := a.manager.Listen(func(s ble.State) {
		fmt.Printf("[%s] %s\n", time.Now().Format(time.TimeOnly), s)
		if s == ble.StateConnected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})
	defer a.manager.Unlisten(listener)

	if err := a.connect(ctx, *id); err != nil {
		return err
	}
	if data, ok := a.sensors.Data(ctx, true); ok {
		printSensorData(data)
	}

	for {
		select {
		case <-connected:
			// Subscriptions do not survive a reconnect.
			if a.sensors.StartLiveListening(printSensorData) == nil {
				fmt.Println("Live telemetry unavailable")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *app) power(ctx context.Context, args []string) error {
	fs, id := deviceFlags("power")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("power: expected restart or sleep")
	}

	var send func(context.Context) bool
	switch fs.Arg(0) {
	case "restart":
		send = a.control.Restart
	case "sleep":
		send = a.control.Sleep
	default:
		return fmt.Errorf("power: unknown command %q", fs.Arg(0))
	}

	if err := a.connect(ctx, *id); err != nil {
		return err
	}
	if !send(ctx) {
		return fmt.Errorf("power: %s failed", fs.Arg(0))
	}
	fmt.Println("Sent", fs.Arg(0))
	return nil
}

func scanError(err error) error {
	switch {
	case errors.Is(err, ble.ErrPermissionDenied):
		return errors.New("bluetooth permission denied")
	case errors.Is(err, ble.ErrAdapterOff):
		return errors.New("bluetooth is turned off")
	}
	return err
}

func displayName(d ble.Device) string {
	if d.Name == "" {
		return "(unnamed)"
	}
	return d.Name
}

func printDeviceConfig(c protocol.DeviceConfig) {
	fmt.Printf("  Name:     %s\n", orDash(c.DeviceName))
	mode := "-"
	if c.PowerMode != nil {
		mode = string(*c.PowerMode)
	}
	fmt.Printf("  Power:    %s\n", mode)
	fmt.Printf("  Wi-Fi:    %s\n", orDash(c.WiFiSSID))
	fmt.Printf("  Password: %s\n", secret(c.WiFiPassword))
	fmt.Printf("  API key:  %s\n", secret(c.APIKey))
}

func printSensorData(d protocol.SensorData) {
	wifi := "-"
	if d.WiFi != nil {
		wifi = string(*d.WiFi)
	}
	fields := []string{
		"wifi=" + wifi,
		"battery=" + orDash(d.Battery),
		"charger=" + orDash(d.Charger),
		"air_temp=" + orDash(d.AirTemp),
		"air_hum=" + orDash(d.AirHum),
		"air_press=" + orDash(d.AirPress),
		"soil=" + orDash(d.Soil),
		"light=" + orDash(d.Light),
	}
	fmt.Printf("  Sensors:  %s\n", strings.Join(fields, " "))
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func secret(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return "set (" + protocol.Fingerprint(*s) + ")"
}
