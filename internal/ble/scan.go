package ble

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scanner runs timed discovery scans on an Adapter. Only one scan runs at a
// time: starting a scan stops the outstanding one first.
type Scanner struct {
	adapter Adapter

	startMu sync.Mutex // serializes Start

	mu     sync.Mutex
	active *scanRun
}

type scanRun struct {
	cancel context.CancelFunc
	done   chan struct{} // closed once the adapter scan has returned

	mu      sync.Mutex
	stopped bool
}

func (r *scanRun) live() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.stopped
}

func (r *scanRun) stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.cancel()
}

// NewScanner creates a scanner for adapter.
func NewScanner(adapter Adapter) *Scanner {
	return &Scanner{adapter: adapter}
}

// Start begins discovery restricted to serviceUUIDs (unfiltered when empty)
// and stops automatically after timeout; a non-positive timeout scans until
// Stop. onDevice is called for every advertisement, duplicates included.
// onStop is called exactly once when the scan ends, whatever ended it, and
// no onDevice call follows it.
//
// Start returns ErrPermissionDenied or ErrAdapterOff, after calling onStop,
// when scanning is not possible. It must not be called from onDevice.
func (sc *Scanner) Start(serviceUUIDs []string, timeout time.Duration, onDevice func(Device), onStop func()) error {
	sc.startMu.Lock()
	defer sc.startMu.Unlock()

	// Restart policy: the platform allows one scan at a time.
	if prev := sc.stopActive(); prev != nil {
		<-prev.done
	}

	if !sc.adapter.RequestPermissions() {
		callStop(onStop)
		return ErrPermissionDenied
	}
	if !sc.adapter.Enabled() {
		callStop(onStop)
		return ErrAdapterOff
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	run := &scanRun{cancel: cancel, done: make(chan struct{})}

	sc.mu.Lock()
	sc.active = run
	sc.mu.Unlock()

	slog.Debug("[BLE] scan started", "services", serviceUUIDs, "timeout", timeout)
	go func() {
		err := sc.adapter.Scan(ctx, serviceUUIDs, func(d Device) {
			if run.live() && onDevice != nil {
				onDevice(d)
			}
		})
		if err != nil {
			slog.Warn("[BLE] scan failed", "error", err)
		}
		run.stop()

		sc.mu.Lock()
		if sc.active == run {
			sc.active = nil
		}
		sc.mu.Unlock()
		close(run.done)

		slog.Debug("[BLE] scan stopped")
		callStop(onStop)
	}()
	return nil
}

// Stop ends the current scan, if any. It does not wait for the scan to wind
// down; the scan's onStop fires once it has.
func (sc *Scanner) Stop() {
	sc.stopActive()
}

// Scanning reports whether a scan is in progress.
func (sc *Scanner) Scanning() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.active != nil
}

func (sc *Scanner) stopActive() *scanRun {
	sc.mu.Lock()
	run := sc.active
	sc.active = nil
	sc.mu.Unlock()
	if run != nil {
		run.stop()
	}
	return run
}

func callStop(onStop func()) {
	if onStop != nil {
		onStop()
	}
}
