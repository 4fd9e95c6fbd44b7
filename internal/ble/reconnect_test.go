package ble

import (
	"context"
	"testing"
	"time"
)

func TestUnexpectedDropReconnects(t *testing.T) {
	adapter := newMockAdapter()
	m := NewManager(adapter, testOpts())
	rec := record(m)

	if !m.Connect(context.Background(), "AA:BB") {
		t.Fatal("Connect() = false")
	}
	first := adapter.latestSession()

	first.SimulateDisconnect()
	rec.waitFor(t, StateConnecting, StateConnected, StateReconnecting, StateConnected)

	second := adapter.latestSession()
	if second == first {
		t.Fatal("reconnect should open a new session")
	}
	if m.Session() != Session(second) {
		t.Error("manager should hold the reconnected session")
	}

	// The drop handler is re-armed: a second drop is still detected.
	second.SimulateDisconnect()
	rec.waitFor(t, StateConnecting, StateConnected, StateReconnecting, StateConnected, StateReconnecting, StateConnected)

	if calls := adapter.connectCalls(); len(calls) != 3 {
		t.Errorf("connect calls = %v, want 3", calls)
	}
	for _, id := range adapter.connectCalls() {
		if id != "AA:BB" {
			t.Errorf("reconnected to %q, want remembered device AA:BB", id)
		}
	}
}

func TestReconnectFailureGivesUpAfterOneAttempt(t *testing.T) {
	adapter := newMockAdapter()
	m := NewManager(adapter, testOpts())
	rec := record(m)

	m.Connect(context.Background(), "AA:BB")
	adapter.setConnectErr(ErrDeviceUnreachable)
	adapter.latestSession().SimulateDisconnect()

	rec.waitFor(t, StateConnecting, StateConnected, StateReconnecting, StateDisconnected)

	time.Sleep(50 * time.Millisecond)
	if calls := adapter.connectCalls(); len(calls) != 2 {
		t.Errorf("connect calls = %v, want 2 (one reconnect attempt, no retries)", calls)
	}
	if m.Session() != nil {
		t.Error("failed reconnect must leave no session")
	}
	if m.DeviceID() != "AA:BB" {
		t.Errorf("DeviceID() = %q, want remembered AA:BB", m.DeviceID())
	}
}

func TestLateDropFromOldSessionIgnored(t *testing.T) {
	adapter := newMockAdapter()
	m := NewManager(adapter, testOpts())

	m.Connect(context.Background(), "AA:BB")
	old := adapter.latestSession()
	m.Disconnect(context.Background())
	m.Connect(context.Background(), "AA:BB")
	current := adapter.latestSession()

	rec := record(m)
	old.SimulateLateDisconnect()
	time.Sleep(50 * time.Millisecond)
	settle(t, m)

	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("stale drop caused transitions %v", got)
	}
	if m.Session() != Session(current) {
		t.Error("stale drop must not replace the current session")
	}
	if calls := adapter.connectCalls(); len(calls) != 2 {
		t.Errorf("connect calls = %v, want 2", calls)
	}
}

func TestConcurrentDropsDoNotStackReconnects(t *testing.T) {
	adapter := newMockAdapter()
	m := NewManager(adapter, testOpts())
	rec := record(m)

	m.Connect(context.Background(), "AA:BB")
	session := adapter.latestSession()

	// Platform stacks sometimes report the same loss twice.
	session.SimulateLateDisconnect()
	session.SimulateLateDisconnect()

	rec.waitFor(t, StateConnecting, StateConnected, StateReconnecting, StateConnected)
	time.Sleep(50 * time.Millisecond)
	settle(t, m)

	if calls := adapter.connectCalls(); len(calls) != 2 {
		t.Errorf("connect calls = %v, want 2 (one reconnect)", calls)
	}
}

func TestReconnectDelay(t *testing.T) {
	adapter := newMockAdapter()
	opts := testOpts()
	opts.ReconnectDelay = 40 * time.Millisecond
	m := NewManager(adapter, opts)
	rec := record(m)

	m.Connect(context.Background(), "AA:BB")
	dropped := time.Now()
	adapter.latestSession().SimulateDisconnect()

	rec.waitFor(t, StateConnecting, StateConnected, StateReconnecting, StateConnected)
	if elapsed := time.Since(dropped); elapsed < opts.ReconnectDelay {
		t.Errorf("reconnected after %v, want at least %v", elapsed, opts.ReconnectDelay)
	}
}

func TestDisconnectDuringReconnectWins(t *testing.T) {
	adapter := newMockAdapter()
	opts := testOpts()
	opts.ReconnectDelay = time.Hour
	m := NewManager(adapter, opts)
	rec := record(m)

	m.Connect(context.Background(), "AA:BB")
	adapter.latestSession().SimulateDisconnect()
	rec.waitFor(t, StateConnecting, StateConnected, StateReconnecting)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.Disconnect(ctx)

	rec.waitFor(t, StateConnecting, StateConnected, StateReconnecting, StateDisconnected)
	if calls := adapter.connectCalls(); len(calls) != 1 {
		t.Errorf("connect calls = %v, want no reconnect attempt after Disconnect", calls)
	}
}
