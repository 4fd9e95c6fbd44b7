package ble

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"
)

// staticSource hands out a fixed session.
type staticSource struct{ session Session }

func (s staticSource) Session() Session { return s.session }

const (
	testService = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	testChar    = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
)

func TestGatewayReadDecodesText(t *testing.T) {
	session := newMockSession("AA:BB")
	session.setValue(testChar, `{"device_name":"Node1"}`)
	g := NewGateway(staticSource{session})

	text, ok := g.Read(context.Background(), testService, testChar)
	if !ok {
		t.Fatal("Read() ok = false, want true")
	}
	if text != `{"device_name":"Node1"}` {
		t.Errorf("Read() = %q", text)
	}
}

func TestGatewayReadFailures(t *testing.T) {
	tests := []struct {
		name   string
		source SessionSource
	}{
		{"no session", staticSource{}},
		{"empty value", staticSource{newMockSession("AA:BB")}},
		{"transport error", func() SessionSource {
			s := newMockSession("AA:BB")
			s.readErr = errors.New("att: read not permitted")
			return staticSource{s}
		}()},
		{"link lost", func() SessionSource {
			s := newMockSession("AA:BB")
			s.readErr = ErrDisconnected
			return staticSource{s}
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGateway(tt.source)
			if text, ok := g.Read(context.Background(), testService, testChar); ok {
				t.Errorf("Read() = %q, true; want failure", text)
			}
		})
	}
}

func TestGatewayWriteEncodesText(t *testing.T) {
	session := newMockSession("AA:BB")
	g := NewGateway(staticSource{session})

	resp, ok := g.WriteWithResponse(context.Background(), testService, testChar, "restart")
	if !ok || resp != "restart" {
		t.Fatalf("WriteWithResponse() = %q, %v; want echoed ack", resp, ok)
	}
	if !slices.Equal(session.writes, []string{testChar + "=restart"}) {
		t.Errorf("writes = %v", session.writes)
	}
}

func TestGatewayWriteFailure(t *testing.T) {
	session := newMockSession("AA:BB")
	session.writeErr = ErrOperationCancelled
	g := NewGateway(staticSource{session})
	if _, ok := g.WriteWithResponse(context.Background(), testService, testChar, "x"); ok {
		t.Error("WriteWithResponse() ok = true on transport failure")
	}

	if _, ok := NewGateway(staticSource{}).WriteWithResponse(context.Background(), testService, testChar, "x"); ok {
		t.Error("WriteWithResponse() ok = true with no session")
	}
}

func TestGatewayMonitorForwardsAndFilters(t *testing.T) {
	session := newMockSession("AA:BB")
	g := NewGateway(staticSource{session})

	var got []string
	sub := g.Monitor(testService, testChar, func(text string) { got = append(got, text) })
	if sub == nil {
		t.Fatal("Monitor() = nil with a connected session")
	}

	session.SimulateNotification(testChar, []byte(`{"soil":"40"}`), nil)
	session.SimulateNotification(testChar, nil, ErrDisconnected)
	session.SimulateNotification(testChar, nil, ErrOperationCancelled)
	session.SimulateNotification(testChar, nil, errors.New("unexpected"))
	session.SimulateNotification(testChar, []byte{}, nil)
	session.SimulateNotification(testChar, []byte("done"), nil)

	if want := []string{`{"soil":"40"}`, "done"}; !slices.Equal(got, want) {
		t.Errorf("forwarded = %v, want %v", got, want)
	}

	sub.Remove()
	if session.SimulateNotification(testChar, []byte("late"), nil) {
		t.Error("notification delivered after Remove()")
	}
}

func TestGatewayMonitorWithoutSession(t *testing.T) {
	g := NewGateway(staticSource{})
	if sub := g.Monitor(testService, testChar, func(string) {}); sub != nil {
		t.Error("Monitor() should return nil without a session")
	}

	session := newMockSession("AA:BB")
	session.monitorErr = errors.New("notify not supported")
	if sub := NewGateway(staticSource{session}).Monitor(testService, testChar, func(string) {}); sub != nil {
		t.Error("Monitor() should return nil when subscribing fails")
	}
}

func TestGatewayFollowsManagerSession(t *testing.T) {
	adapter := newMockAdapter()
	m := NewManager(adapter, testOpts())
	g := NewGateway(m)

	if _, ok := g.Read(context.Background(), testService, testChar); ok {
		t.Error("Read() should fail before connecting")
	}
	m.Connect(context.Background(), "AA:BB")
	adapter.latestSession().setValue(testChar, "hello")
	if text, ok := g.Read(context.Background(), testService, testChar); !ok || text != "hello" {
		t.Errorf("Read() = %q, %v; want hello", text, ok)
	}
	m.Disconnect(context.Background())
	if _, ok := g.Read(context.Background(), testService, testChar); ok {
		t.Error("Read() should fail after disconnecting")
	}
}

func TestGatewayNoSessionReportsNotConnected(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	g := NewGateway(staticSource{})
	ctx := context.Background()
	if _, ok := g.Read(ctx, testService, testChar); ok {
		t.Error("Read() ok = true without a session")
	}
	if _, ok := g.WriteWithResponse(ctx, testService, testChar, "x"); ok {
		t.Error("WriteWithResponse() ok = true without a session")
	}
	if sub := g.Monitor(testService, testChar, func(string) {}); sub != nil {
		t.Error("Monitor() != nil without a session")
	}

	if n := strings.Count(buf.String(), ErrNotConnected.Error()); n != 3 {
		t.Errorf("log mentions %q %d times, want 3:\n%s", ErrNotConnected, n, buf.String())
	}
	if strings.Contains(buf.String(), "level=ERROR") {
		t.Errorf("missing session logged as an error:\n%s", buf.String())
	}
}
