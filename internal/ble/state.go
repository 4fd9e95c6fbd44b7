package ble

import "sync"

// State is the connection manager's view of the selected device.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateListener receives connection state transitions.
type StateListener func(State)

// ListenerID identifies a registered StateListener.
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	fn StateListener
}

// broadcaster delivers states to listeners synchronously, in registration
// order. Listeners may add or remove listeners while being notified; the
// change applies from the next notification.
type broadcaster struct {
	mu        sync.Mutex
	nextID    ListenerID
	listeners []listenerEntry
}

func (b *broadcaster) add(fn StateListener) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.listeners = append(b.listeners, listenerEntry{id: b.nextID, fn: fn})
	return b.nextID
}

func (b *broadcaster) remove(id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (b *broadcaster) notify(s State) {
	b.mu.Lock()
	snapshot := b.listeners
	b.mu.Unlock()
	for _, l := range snapshot {
		l.fn(s)
	}
}
