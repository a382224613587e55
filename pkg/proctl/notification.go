package proctl

import "fmt"

// NotificationKind is the type of a debuggee notification.
type NotificationKind uint8

const (
	ProcessLoaded NotificationKind = iota + 1
	ModuleLoaded
	ThreadCreated
	ThreadExited
	BreakpointHit
	BreakpointBindSucceeded
	BreakpointBindFailed
	AsyncBreakComplete
	ExceptionRaised
	StepComplete
	ProcessExited
	DebuggerOutput
)

var notificationNames = [...]string{
	ProcessLoaded:           "process-loaded",
	ModuleLoaded:            "module-loaded",
	ThreadCreated:           "thread-created",
	ThreadExited:            "thread-exited",
	BreakpointHit:           "breakpoint-hit",
	BreakpointBindSucceeded: "breakpoint-bind-succeeded",
	BreakpointBindFailed:    "breakpoint-bind-failed",
	AsyncBreakComplete:      "async-break-complete",
	ExceptionRaised:         "exception-raised",
	StepComplete:            "step-complete",
	ProcessExited:           "process-exited",
	DebuggerOutput:          "debugger-output",
}

func (k NotificationKind) String() string {
	if int(k) < len(notificationNames) && notificationNames[k] != "" {
		return notificationNames[k]
	}
	return fmt.Sprintf("NotificationKind(%d)", k)
}

// Notification is a single debuggee notification. Only the fields relevant
// to Kind are set:
//
//	ProcessLoaded, ThreadCreated, ThreadExited,
//	AsyncBreakComplete, StepComplete          Thread
//	ModuleLoaded                              Module
//	BreakpointHit                             Thread, Breakpoint
//	BreakpointBindSucceeded/Failed            Breakpoint
//	ExceptionRaised                           Thread, Exception
//	ProcessExited                             ExitCode
//	DebuggerOutput                            Thread, Output
type Notification struct {
	Kind       NotificationKind
	Thread     Thread
	Module     Module
	Breakpoint BreakpointID
	Exception  Exception
	ExitCode   int
	Output     string
}

func (n Notification) String() string {
	switch n.Kind {
	case ModuleLoaded:
		return fmt.Sprintf("%s(%d %s)", n.Kind, n.Module.ID, n.Module.Name)
	case BreakpointHit:
		return fmt.Sprintf("%s(thread %d, bp %d)", n.Kind, n.Thread.ID, n.Breakpoint)
	case BreakpointBindSucceeded, BreakpointBindFailed:
		return fmt.Sprintf("%s(bp %d)", n.Kind, n.Breakpoint)
	case ExceptionRaised:
		return fmt.Sprintf("%s(thread %d, %s)", n.Kind, n.Thread.ID, n.Exception.Category)
	case ProcessExited:
		return fmt.Sprintf("%s(%d)", n.Kind, n.ExitCode)
	default:
		return fmt.Sprintf("%s(thread %d)", n.Kind, n.Thread.ID)
	}
}
