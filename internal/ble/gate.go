package ble

import (
	"context"
	"sync"
)

// opGate serializes connection operations. At most one operation holds the
// slot at a time, and every operation carries a ticket: issuing a ticket
// supersedes all older ones, so a caller that finally gets the slot can tell
// whether its result is still wanted.
type opGate struct {
	slot chan struct{}

	mu     sync.Mutex
	latest uint64
	cancel context.CancelFunc // cancels the in-flight cancellable operation
	holder uint64             // ticket that owns cancel
}

func newOpGate() *opGate {
	return &opGate{slot: make(chan struct{}, 1)}
}

// issue returns a ticket newer than every ticket issued so far and cancels
// the cancellable operation in flight, if any.
func (g *opGate) issue() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.issueLocked()
}

// issueAfter issues a new ticket only if prev is still the newest one.
func (g *opGate) issueAfter(prev uint64) (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.latest != prev {
		return 0, false
	}
	return g.issueLocked(), true
}

func (g *opGate) issueLocked() uint64 {
	g.latest++
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	return g.latest
}

// current reports whether no ticket newer than t has been issued.
func (g *opGate) current(t uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latest == t
}

// enter blocks until the slot is free or ctx is done.
func (g *opGate) enter(ctx context.Context) error {
	select {
	case g.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *opGate) leave() {
	<-g.slot
}

// wait blocks until no operation holds the slot.
func (g *opGate) wait(ctx context.Context) error {
	if err := g.enter(ctx); err != nil {
		return err
	}
	g.leave()
	return nil
}

// cancellable derives a context for ticket t that is cancelled as soon as a
// newer ticket is issued. The returned release must be called once the
// operation's blocking call has returned.
func (g *opGate) cancellable(ctx context.Context, t uint64) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.latest != t {
		cancel()
		return ctx, func() {}
	}
	g.cancel = cancel
	g.holder = t
	return ctx, func() {
		g.mu.Lock()
		if g.holder == t {
			g.cancel = nil
		}
		g.mu.Unlock()
		cancel()
	}
}
