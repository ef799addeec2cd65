package classifier

import (
	"fmt"
	"sync"
)

// State is the lifecycle of a loaded model.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Lifecycle guards Unloaded -> Loading -> Ready | Failed. Ready and Failed are
// terminal.
type Lifecycle struct {
	mu    sync.RWMutex
	state State
	err   error
}

// Begin moves Unloaded to Loading. It reports false from any other state.
func (l *Lifecycle) Begin() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateUnloaded {
		return false
	}
	l.state = StateLoading
	return true
}

// Ready moves Loading to Ready.
func (l *Lifecycle) Ready() bool {
	return l.finish(StateReady, nil)
}

// Fail moves Loading to Failed and records the cause.
func (l *Lifecycle) Fail(err error) bool {
	return l.finish(StateFailed, err)
}

func (l *Lifecycle) finish(to State, err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateLoading {
		return false
	}
	l.state = to
	l.err = err
	return true
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Err returns the load failure, if any.
func (l *Lifecycle) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}
