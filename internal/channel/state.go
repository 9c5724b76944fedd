package channel

import (
	"context"
	"sync"
)

// State is the connection state of a Handler.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateMachine holds the current state and wakes waiters on every change by
// closing and replacing a notification channel.
type stateMachine struct {
	mu      sync.Mutex
	current State
	changed chan struct{}
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateDisconnected, changed: make(chan struct{})}
}

func (m *stateMachine) get() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// set moves to s and reports the previous state. Closed is terminal.
func (m *stateMachine) set(s State) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.current
	if prev == s || prev == StateClosed {
		return prev
	}
	m.current = s
	close(m.changed)
	m.changed = make(chan struct{})
	return prev
}

// await blocks until the state equals want, ctx is done, or the machine
// closes while waiting for another state.
func (m *stateMachine) await(ctx context.Context, want State) error {
	for {
		m.mu.Lock()
		cur, ch := m.current, m.changed
		m.mu.Unlock()

		if cur == want {
			return nil
		}
		if cur == StateClosed {
			return ErrClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
