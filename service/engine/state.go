package engine

import "fmt"

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateLaunching
	StateAttaching
	StateAwaitingProgramCreate
	StateCreated
	StateRunning
	StateBroken
	StateTerminating
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLaunching:
		return "Launching"
	case StateAttaching:
		return "Attaching"
	case StateAwaitingProgramCreate:
		return "AwaitingProgramCreate"
	case StateCreated:
		return "Created"
	case StateRunning:
		return "Running"
	case StateBroken:
		return "Broken"
	case StateTerminating:
		return "Terminating"
	case StateDestroyed:
		return "Destroyed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// hasProcess reports whether a session in this state owns a debuggee.
func (s State) hasProcess() bool {
	return s >= StateAwaitingProgramCreate && s <= StateTerminating
}

// executing reports whether the program has been created and not yet
// asked to terminate.
func (s State) executing() bool {
	return s == StateCreated || s == StateRunning || s == StateBroken
}
