package repository

import (
	"sync"

	"github.com/chaz8081/nodelink/internal/ble"
)

// liveSlot holds the single live subscription a repository may have open.
type liveSlot struct {
	mu  sync.Mutex
	sub ble.Subscription
}

// replace removes the current subscription, if any, and installs the one
// returned by open.
func (l *liveSlot) replace(open func() ble.Subscription) ble.Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil {
		l.sub.Remove()
		l.sub = nil
	}
	if sub := open(); sub != nil {
		l.sub = sub
	}
	return l.sub
}

func (l *liveSlot) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil {
		l.sub.Remove()
		l.sub = nil
	}
}
