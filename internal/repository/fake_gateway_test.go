package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/nodelink/internal/ble"
	"github.com/chaz8081/nodelink/internal/ble/protocol"
)

var testChars = protocol.DefaultCharacteristics()

// fakeGateway is an in-memory Gateway keyed by characteristic UUID.
type fakeGateway struct {
	mu        sync.Mutex
	values    map[string]string
	readFail  bool
	writeFail bool
	noSession bool
	readGate  chan struct{}
	reads     map[string]int
	writes    []string
	monitors  map[string]*fakeSubscription
	removed   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		values:   make(map[string]string),
		reads:    make(map[string]int),
		monitors: make(map[string]*fakeSubscription),
	}
}

func (g *fakeGateway) Read(_ context.Context, _, char string) (string, bool) {
	g.mu.Lock()
	g.reads[char]++
	gate := g.readGate
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.readFail || g.noSession {
		return "", false
	}
	v, ok := g.values[char]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (g *fakeGateway) WriteWithResponse(_ context.Context, _, char, text string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writes = append(g.writes, char+"="+text)
	if g.writeFail || g.noSession {
		return "", false
	}
	return text, true
}

func (g *fakeGateway) Monitor(_, char string, onText func(string)) ble.Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.noSession {
		return nil
	}
	sub := &fakeSubscription{gateway: g, char: char, onText: onText}
	g.monitors[char] = sub
	return sub
}

// push delivers a notification and reports whether anyone was listening.
func (g *fakeGateway) push(char, text string) bool {
	g.mu.Lock()
	sub := g.monitors[char]
	g.mu.Unlock()
	if sub == nil {
		return false
	}
	sub.onText(text)
	return true
}

func (g *fakeGateway) set(char, text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[char] = text
}

func (g *fakeGateway) readCount(char string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reads[char]
}

func (g *fakeGateway) writeLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.writes...)
}

func (g *fakeGateway) removedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removed
}

type fakeSubscription struct {
	gateway *fakeGateway
	char    string
	onText  func(string)
	once    sync.Once
}

func (s *fakeSubscription) Remove() {
	s.once.Do(func() {
		g := s.gateway
		g.mu.Lock()
		defer g.mu.Unlock()
		g.removed++
		// A newer subscription may already own the slot.
		if g.monitors[s.char] == s {
			delete(g.monitors, s.char)
		}
	})
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func ptr[T any](v T) *T { return &v }
