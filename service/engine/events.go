package engine

import (
	"fmt"

	"github.com/dbgcoord/dbgcoord/pkg/proctl"
)

// EventKind is the type of an Event delivered to the front end.
type EventKind uint8

const (
	ProgramCreated EventKind = iota + 1
	LoadComplete
	ModuleLoad
	ThreadStart
	ThreadDestroy
	BreakpointHit
	BreakpointBound
	BreakpointBindFailed
	Exception
	AsyncBreakComplete
	DebugOutput
	StepComplete
	ProgramDestroy
)

var eventKindNames = [...]string{
	ProgramCreated:       "ProgramCreated",
	LoadComplete:         "LoadComplete",
	ModuleLoad:           "ModuleLoad",
	ThreadStart:          "ThreadStart",
	ThreadDestroy:        "ThreadDestroy",
	BreakpointHit:        "Breakpoint",
	BreakpointBound:      "BreakpointBound",
	BreakpointBindFailed: "BreakpointBindFailed",
	Exception:            "Exception",
	AsyncBreakComplete:   "AsyncBreakComplete",
	DebugOutput:          "DebugOutput",
	StepComplete:         "StepComplete",
	ProgramDestroy:       "ProgramDestroy",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) && eventKindNames[k] != "" {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", k)
}

// Event is delivered to the front end through an EventSink. Only the
// fields relevant to Kind are set.
type Event struct {
	Kind EventKind
	// ProgramID is set on every event.
	ProgramID string

	Thread ThreadHandle
	Module ModuleHandle
	// Breakpoints is the bound breakpoint set of a BreakpointHit, or the
	// single breakpoint of BreakpointBound and BreakpointBindFailed.
	Breakpoints []Breakpoint
	Exception   proctl.Exception
	// Message is the exception message ("category\ndescription") or the
	// debuggee output.
	Message  string
	ExitCode int
}

func (e Event) String() string {
	switch e.Kind {
	case ModuleLoad:
		return fmt.Sprintf("%s(%d %s)", e.Kind, e.Module.ID, e.Module.Module.Name)
	case ProgramCreated:
		return e.Kind.String()
	case ProgramDestroy:
		return fmt.Sprintf("%s(%d)", e.Kind, e.ExitCode)
	case BreakpointBound, BreakpointBindFailed:
		if len(e.Breakpoints) > 0 {
			return fmt.Sprintf("%s(bp %d)", e.Kind, e.Breakpoints[0].ID)
		}
	}
	return fmt.Sprintf("%s(thread %d)", e.Kind, e.Thread.ID)
}

// exceptionMessage formats an exception for display.
func exceptionMessage(e proctl.Exception) string {
	return e.Category + "\n" + e.Description
}
