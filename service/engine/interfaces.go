package engine

import "context"

// EventSink receives the ordered event stream of a session. Event is
// called with the session lock held, one event at a time; it must not call
// back into the Session.
type EventSink interface {
	Event(Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event) error

func (f EventSinkFunc) Event(ev Event) error { return f(ev) }

// LifecycleController is the command surface of a debug session.
type LifecycleController interface {
	Launch(ctx context.Context, req LaunchRequest) error
	Attach(ctx context.Context, pid int) error
	ProgramCreated() error
	ProgramDestroyed() error
	Resume() error
	Continue(threadID int) error
	ExecuteOnThread(threadID int) error
	CauseBreak() error
	Step(threadID int, kind StepKind) error
	Terminate() error
	Detach() error
}

// ExceptionFilterStore manages the exception break configuration of a
// debug session. Every mutating call pushes the resulting configuration to
// the debuggee at most once.
type ExceptionFilterStore interface {
	SetExceptions([]ExceptionFilter) error
	RemoveExceptions(categories []string) error
	RemoveAllExceptions() error
	ExceptionFilters() []ExceptionFilter
}

var (
	_ LifecycleController  = (*Session)(nil)
	_ ExceptionFilterStore = (*Session)(nil)
)
