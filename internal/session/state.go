package session

import "sync"

// State is the lifecycle position of a logical session.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
	StateRefreshing
)

func (state State) String() string {
	switch state {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

type stateMachine struct {
	mutex   sync.Mutex
	current State
}

func (machine *stateMachine) get() State {
	machine.mutex.Lock()
	defer machine.mutex.Unlock()
	return machine.current
}

func (machine *stateMachine) set(next State) State {
	machine.mutex.Lock()
	defer machine.mutex.Unlock()
	previous := machine.current
	machine.current = next
	return previous
}
