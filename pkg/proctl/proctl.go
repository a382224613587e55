// Package proctl defines the contract between the debug engine and a
// process controller: the component that actually launches or attaches to
// the debuggee, injects breakpoints, steps and reports what happens.
//
// A controller hands the engine a Process. The Process exposes every
// debuggee notification on a single channel and accepts a small set of
// control commands. The engine never touches the debuggee directly.
package proctl

import (
	"context"
	"errors"
)

// ThreadID identifies a debuggee thread. IDs are never reused for the life
// of a process.
type ThreadID int64

// ModuleID identifies a module loaded by the debuggee.
type ModuleID int64

// BreakpointID identifies a breakpoint set with Process.SetBreakpoint.
// IDs are chosen by the caller.
type BreakpointID int

// Thread describes a debuggee thread.
type Thread struct {
	ID   ThreadID
	Name string
}

// Module describes a module (script, package or extension) loaded by the
// debuggee.
type Module struct {
	ID       ModuleID
	Name     string
	Filename string
}

// Exception describes an exception raised in the debuggee.
type Exception struct {
	// Category is the fully qualified exception type name, e.g.
	// "builtins.ValueError".
	Category    string
	Description string
}

// ErrNotSupported is returned by controllers for commands they cannot
// perform.
var ErrNotSupported = errors.New("operation not supported by process controller")

// Process is a debuggee under the control of a controller.
//
// Notifications are delivered on a single channel. The channel is closed
// once the process has exited (after the ProcessExited notification has
// been sent), after Detach, or after Close.
type Process interface {
	// Pid returns the system process identifier of the debuggee.
	Pid() int
	// Notifications returns the debuggee notification stream.
	Notifications() <-chan Notification

	// Resume resumes every thread of the debuggee.
	Resume() error
	// ResumeThread resumes a single thread without clearing its stepping
	// state.
	ResumeThread(ThreadID) error
	// Break asks the debuggee to stop as soon as possible. Completion is
	// reported with an AsyncBreakComplete notification.
	Break() error
	// Terminate kills the debuggee.
	Terminate() error
	// Detach stops debugging the process and lets it run.
	Detach() error

	StepInto(ThreadID) error
	StepOver(ThreadID) error
	StepOut(ThreadID) error
	// ClearSteppingState cancels any in-progress step on the thread.
	ClearSteppingState(ThreadID) error

	// SetExceptionInfo replaces the exception break configuration of the
	// debuggee: defaultMode applies to every category not in table.
	SetExceptionInfo(defaultMode ExceptionMode, table map[string]ExceptionMode) error

	// SetBreakpoint asks the debuggee to bind a breakpoint. The result is
	// reported asynchronously with BreakpointBindSucceeded or
	// BreakpointBindFailed.
	SetBreakpoint(id BreakpointID, file string, line int, condition string) error
	// RemoveBreakpoint removes a breakpoint from the debuggee.
	RemoveBreakpoint(id BreakpointID) error

	// Close releases every resource held for the process. The debuggee is
	// not killed.
	Close() error
}

// Launcher starts or attaches to debuggee processes. Both operations block
// until the process handle is obtained.
type Launcher interface {
	Launch(ctx context.Context, cfg LaunchConfig) (Process, error)
	Attach(ctx context.Context, pid int) (Process, error)
}

// DirMapping maps a directory on the local machine to the directory the
// files are deployed to on the machine running the debuggee.
type DirMapping struct {
	Local  string
	Remote string
}

// DebugOptions is a set of flags altering how the debuggee is run.
type DebugOptions uint32

const (
	// WaitOnAbnormalExit prompts for input before the debuggee exits with
	// an error.
	WaitOnAbnormalExit DebugOptions = 1 << iota
	// WaitOnNormalExit prompts for input before the debuggee exits
	// successfully.
	WaitOnNormalExit
	// RedirectOutput sends the debuggee's output to the debugger as
	// DebuggerOutput notifications.
	RedirectOutput
)

// LaunchConfig describes a process to launch.
type LaunchConfig struct {
	Version    LanguageVersion
	Executable string
	// Args is the argument string passed to the debuggee, unsplit.
	Args               string
	WorkingDir         string
	Env                []string
	InterpreterOptions string
	Options            DebugOptions
	DirMappings        []DirMapping
}
