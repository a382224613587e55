package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/dbgcoord/dbgcoord/pkg/proctl"
	"github.com/dbgcoord/dbgcoord/pkg/proctl/proctltest"
)

const waitTimeout = 5 * time.Second

// recorder is an EventSink keeping every event.
type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
	err    error
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 256)}
}

func (r *recorder) Event(ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	err := r.err
	r.mu.Unlock()
	r.ch <- ev
	return err
}

// expect waits for the next len(kinds) events and checks their kinds.
func (r *recorder) expect(t *testing.T, kinds ...EventKind) []Event {
	t.Helper()
	var got []Event
	for range kinds {
		select {
		case ev := <-r.ch:
			got = append(got, ev)
		case <-time.After(waitTimeout):
			t.Fatalf("timed out waiting for events\ngot  %v\nwant %v", got, kinds)
		}
	}
	for i, ev := range got {
		if ev.Kind != kinds[i] {
			t.Fatalf("wrong event sequence\ngot  %v\nwant %v", got, kinds)
		}
	}
	return got
}

// expectNone checks that no event is pending.
func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type fixture struct {
	s        *Session
	sink     *recorder
	launcher *proctltest.Launcher
	p        *proctltest.Process
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		sink: newRecorder(),
		p:    proctltest.NewProcess(4242),
	}
	f.launcher = &proctltest.Launcher{Process: f.p}
	cfg.Launcher = f.launcher
	cfg.Sink = f.sink
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	f.s = s
	t.Cleanup(func() { s.Close() })
	return f
}

func (f *fixture) launch(t *testing.T) {
	t.Helper()
	if err := f.s.Launch(context.Background(), LaunchRequest{Executable: "main.py"}); err != nil {
		t.Fatal(err)
	}
}

// created launches, acknowledges creation and consumes the start-up
// events of one thread and one module.
func (f *fixture) created(t *testing.T) {
	t.Helper()
	f.launch(t)
	if err := f.s.ProgramCreated(); err != nil {
		t.Fatal(err)
	}
	f.sink.expect(t, ProgramCreated)
	f.p.Send(
		proctl.Notification{Kind: proctl.ThreadCreated, Thread: proctltest.Thread(1)},
		proctl.Notification{Kind: proctl.ModuleLoaded, Module: proctltest.Module(1, "main")},
		proctl.Notification{Kind: proctl.ProcessLoaded, Thread: proctltest.Thread(1)},
	)
	f.sink.expect(t, ThreadStart, ModuleLoad, LoadComplete)
}

func (f *fixture) buffered() deferredStart {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.s.deferred
}

func permutations(in []proctl.Notification) [][]proctl.Notification {
	if len(in) <= 1 {
		return [][]proctl.Notification{in}
	}
	var r [][]proctl.Notification
	for i := range in {
		rest := append(append([]proctl.Notification(nil), in[:i]...), in[i+1:]...)
		for _, p := range permutations(rest) {
			r = append(r, append([]proctl.Notification{in[i]}, p...))
		}
	}
	return r
}

func TestStartupOrderingAllPermutations(t *testing.T) {
	startup := []proctl.Notification{
		{Kind: proctl.ProcessLoaded, Thread: proctltest.Thread(7)},
		{Kind: proctl.ModuleLoaded, Module: proctltest.Module(3, "main")},
		{Kind: proctl.ThreadCreated, Thread: proctltest.Thread(7)},
	}
	for _, perm := range permutations(startup) {
		t.Run(fmt.Sprint(perm), func(t *testing.T) {
			f := newFixture(t, Config{})
			f.launch(t)
			f.p.Send(perm...)
			waitFor(t, "start-up notifications", func() bool {
				d := f.buffered()
				return d.loadThread != nil && d.startModule != nil && d.startThread != nil
			})
			f.sink.expectNone(t)

			if err := f.s.ProgramCreated(); err != nil {
				t.Fatal(err)
			}
			evs := f.sink.expect(t, ProgramCreated, LoadComplete, ModuleLoad, ThreadStart)
			if evs[2].Module.Module.ID != 3 || evs[3].Thread.Thread.ID != 7 || evs[1].Thread.Thread.ID != 7 {
				t.Errorf("wrong payloads: %v", evs)
			}
			for _, ev := range evs {
				if ev.ProgramID == "" || ev.ProgramID != f.s.ProgramID() {
					t.Errorf("%v: program id %q, want %q", ev, ev.ProgramID, f.s.ProgramID())
				}
			}
			if !f.buffered().empty() {
				t.Errorf("deferred state not empty after creation")
			}
			if n := len(f.s.Threads()); n != 1 {
				t.Errorf("got %d threads, want 1", n)
			}
			f.sink.expectNone(t)
		})
	}
}

func TestStartupScenario(t *testing.T) {
	f := newFixture(t, Config{})
	f.launch(t)
	if f.s.State() != StateAwaitingProgramCreate {
		t.Fatalf("state %v", f.s.State())
	}
	f.p.Send(
		proctl.Notification{Kind: proctl.ModuleLoaded, Module: proctltest.Module(1, "M")},
		proctl.Notification{Kind: proctl.ThreadCreated, Thread: proctltest.Thread(1)},
		proctl.Notification{Kind: proctl.ProcessLoaded, Thread: proctltest.Thread(1)},
	)
	waitFor(t, "process-loaded", func() bool { return f.buffered().loadThread != nil })
	if err := f.s.ProgramCreated(); err != nil {
		t.Fatal(err)
	}
	evs := f.sink.expect(t, ProgramCreated, LoadComplete, ModuleLoad, ThreadStart)
	if evs[2].Module.Module.Name != "M" || evs[3].Thread.ID != 1 {
		t.Errorf("got %v", evs)
	}
	if err := f.s.WaitLoadComplete(context.Background()); err != nil {
		t.Errorf("WaitLoadComplete: %v", err)
	}
	if f.s.State() != StateCreated {
		t.Errorf("state %v, want Created", f.s.State())
	}
}

func TestBufferedModuleFlushedWithoutProcessLoaded(t *testing.T) {
	f := newFixture(t, Config{})
	f.launch(t)
	f.p.Send(proctl.Notification{Kind: proctl.ModuleLoaded, Module: proctltest.Module(1, "M")})
	waitFor(t, "module", func() bool { return f.buffered().startModule != nil })
	f.s.ProgramCreated()
	f.sink.expect(t, ProgramCreated, ModuleLoad)

	f.p.Send(proctl.Notification{Kind: proctl.ProcessLoaded, Thread: proctltest.Thread(1)})
	f.sink.expect(t, LoadComplete)
	if !f.buffered().empty() {
		t.Errorf("deferred state not empty")
	}
}

func TestThreadExitBeforeCreatedKeepsLoadComplete(t *testing.T) {
	f := newFixture(t, Config{})
	f.launch(t)
	f.p.Send(
		proctl.Notification{Kind: proctl.ThreadCreated, Thread: proctltest.Thread(1)},
		proctl.Notification{Kind: proctl.ProcessLoaded, Thread: proctltest.Thread(1)},
		proctl.Notification{Kind: proctl.ThreadExited, Thread: proctltest.Thread(1)},
	)
	f.sink.expect(t, ThreadDestroy)
	if d := f.buffered(); d.loadThread == nil || d.startThread != nil {
		t.Fatalf("buffered: %+v", d)
	}
	if err := f.s.ProgramCreated(); err != nil {
		t.Fatal(err)
	}
	evs := f.sink.expect(t, ProgramCreated, LoadComplete)
	if evs[1].Thread.Thread.ID != 1 {
		t.Errorf("got %v", evs)
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := f.s.WaitLoadComplete(ctx); err != nil {
		t.Errorf("WaitLoadComplete: %v", err)
	}
	f.sink.expectNone(t)
}

func TestProgramCreatedTwice(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.s.ProgramCreated(); err == nil {
		t.Errorf("ProgramCreated before launch should fail")
	}
	f.launch(t)
	f.s.ProgramCreated()
	var pv *ProtocolViolation
	if err := f.s.ProgramCreated(); !errors.As(err, &pv) || pv.State != StateCreated {
		t.Errorf("got %v", err)
	}
}

func TestThreadExitedUnknownIsNoop(t *testing.T) {
	f := newFixture(t, Config{})
	f.created(t)
	f.p.Send(proctl.Notification{Kind: proctl.ThreadExited, Thread: proctl.Thread{ID: 99}})
	f.sink.expectNone(t)
	if n := len(f.s.Threads()); n != 1 {
		t.Errorf("got %d threads", n)
	}
	if f.s.State() != StateCreated {
		t.Errorf("state %v", f.s.State())
	}
}

func TestThreadLifetime(t *testing.T) {
	f := newFixture(t, Config{})
	f.created(t)
	send := func(kind proctl.NotificationKind, tid proctl.ThreadID) {
		f.p.Send(proctl.Notification{Kind: kind, Thread: proctltest.Thread(tid)})
	}
	send(proctl.ThreadCreated, 2)
	send(proctl.ThreadCreated, 3)
	send(proctl.ThreadCreated, 3)
	send(proctl.ThreadExited, 2)
	send(proctl.ThreadExited, 2)
	send(proctl.ThreadCreated, 4)
	send(proctl.ThreadExited, 1)
	evs := f.sink.expect(t, ThreadStart, ThreadStart, ThreadDestroy, ThreadStart, ThreadDestroy)
	if evs[2].Thread.Thread.ID != 2 || evs[4].Thread.Thread.ID != 1 {
		t.Errorf("got %v", evs)
	}
	f.sink.expectNone(t)

	var got []proctl.ThreadID
	for _, th := range f.s.Threads() {
		got = append(got, th.Thread.ID)
	}
	if want := []proctl.ThreadID{3, 4}; !reflect.DeepEqual(got, want) {
		t.Errorf("threads: got %v, want %v", got, want)
	}
}

func TestUnknownThreadIsRegistered(t *testing.T) {
	f := newFixture(t, Config{})
	f.created(t)
	f.p.Send(
		proctl.Notification{Kind: proctl.DebuggerOutput, Thread: proctltest.Thread(5), Output: "hello\n"},
		proctl.Notification{Kind: proctl.AsyncBreakComplete, Thread: proctltest.Thread(6)},
	)
	evs := f.sink.expect(t, DebugOutput, AsyncBreakComplete)
	if evs[0].Message != "hello\n" || evs[0].Thread.ID == 0 || evs[1].Thread.ID == 0 {
		t.Errorf("got %v", evs)
	}
	if n := len(f.s.Threads()); n != 3 {
		t.Errorf("got %d threads, want 3", n)
	}
	if f.s.State() != StateBroken {
		t.Errorf("state %v, want Broken", f.s.State())
	}
	// the late creation notification still announces the thread, once
	f.p.Send(proctl.Notification{Kind: proctl.ThreadCreated, Thread: proctltest.Thread(5)})
	f.p.Send(proctl.Notification{Kind: proctl.ThreadCreated, Thread: proctltest.Thread(5)})
	ev := f.sink.expect(t, ThreadStart)[0]
	if ev.Thread.ID != evs[0].Thread.ID {
		t.Errorf("new wrapper for a known thread: %v vs %v", ev.Thread, evs[0].Thread)
	}
	f.sink.expectNone(t)
}

func TestExceptionEvent(t *testing.T) {
	f := newFixture(t, Config{})
	f.created(t)
	f.p.Send(proctl.Notification{
		Kind:      proctl.ExceptionRaised,
		Thread:    proctltest.Thread(1),
		Exception: proctl.Exception{Category: "builtins.ValueError", Description: "bad value"},
	})
	ev := f.sink.expect(t, Exception)[0]
	if ev.Message != "builtins.ValueError\nbad value" {
		t.Errorf("got message %q", ev.Message)
	}
	if f.s.State() != StateBroken {
		t.Errorf("state %v", f.s.State())
	}
}

func TestExecutionStates(t *testing.T) {
	f := newFixture(t, Config{})
	f.created(t)
	th := f.s.Threads()[0]

	if err := f.s.Resume(); err != nil {
		t.Fatal(err)
	}
	if f.s.State() != StateRunning {
		t.Errorf("after Resume: %v", f.s.State())
	}
	f.p.Send(proctl.Notification{Kind: proctl.BreakpointHit, Thread: proctltest.Thread(1), Breakpoint: 1})
	f.sink.expect(t, BreakpointHit)
	if f.s.State() != StateBroken {
		t.Errorf("after hit: %v", f.s.State())
	}

	for _, kind := range []StepKind{StepInto, StepOver, StepOut} {
		if err := f.s.Step(th.ID, kind); err != nil {
			t.Fatal(err)
		}
		if f.s.State() != StateRunning {
			t.Errorf("after step %v: %v", kind, f.s.State())
		}
		f.p.Send(proctl.Notification{Kind: proctl.StepComplete, Thread: proctltest.Thread(1)})
		f.sink.expect(t, StepComplete)
		if f.s.State() != StateBroken {
			t.Errorf("after step complete: %v", f.s.State())
		}
	}
	for _, op := range []string{"StepInto", "StepOver", "StepOut"} {
		if c, ok := f.p.Last(op); !ok || c.Thread != 1 {
			t.Errorf("%s: got %v", op, c)
		}
	}

	if err := f.s.Continue(th.ID); err != nil {
		t.Fatal(err)
	}
	if c, ok := f.p.Last("ResumeThread"); !ok || c.Thread != 1 {
		t.Errorf("Continue did not resume the thread: %v", f.p.Commands())
	}
	if f.p.Count("ClearSteppingState") != 0 {
		t.Errorf("Continue cleared stepping state")
	}

	if err := f.s.Step(99, StepInto); !errors.Is(err, ErrNotFound) {
		t.Errorf("step on unknown thread: %v", err)
	}

	if err := f.s.CauseBreak(); err != nil || f.p.Count("Break") != 1 {
		t.Errorf("CauseBreak: %v", err)
	}
	f.p.Send(proctl.Notification{Kind: proctl.AsyncBreakComplete, Thread: proctltest.Thread(1)})
	f.sink.expect(t, AsyncBreakComplete)
	if f.s.State() != StateBroken {
		t.Errorf("after async break: %v", f.s.State())
	}
}

func TestExecuteOnThread(t *testing.T) {
	f := newFixture(t, Config{})
	f.created(t)
	th := f.s.Threads()[0]
	before := len(f.p.Commands())
	if err := f.s.ExecuteOnThread(th.ID); err != nil {
		t.Fatal(err)
	}
	cmds := f.p.Commands()[before:]
	if len(cmds) != 2 || cmds[0].Op != "ClearSteppingState" || cmds[0].Thread != 1 || cmds[1].Op != "Resume" {
		t.Errorf("got %v", cmds)
	}
}

func TestLaunchTwice(t *testing.T) {
	f := newFixture(t, Config{})
	f.launch(t)
	if err := f.s.Launch(context.Background(), LaunchRequest{}); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("second launch: %v", err)
	}
	if err := f.s.Attach(context.Background(), 1); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("attach after launch: %v", err)
	}
	if len(f.launcher.Attached()) != 0 {
		t.Errorf("controller asked to attach")
	}
}

func TestLaunchOptions(t *testing.T) {
	f := newFixture(t, Config{DefaultVersion: proctl.LanguageVersion{Major: 3, Minor: 3}})
	err := f.s.Launch(context.Background(), LaunchRequest{
		Executable: "main.py",
		Args:       "-v input.txt",
		Options:    "VERSION=V27;REDIRECT_OUTPUT=true;DIR_MAPPING=/src|/remote/src",
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg := f.launcher.Launched()[0]
	if cfg.Version != (proctl.LanguageVersion{Major: 2, Minor: 7}) || cfg.Options != proctl.RedirectOutput || cfg.Args != "-v input.txt" {
		t.Errorf("got %+v", cfg)
	}
	if got := f.s.CodeContexts("/src/main.py", 4); got[0].File != "/remote/src/main.py" {
		t.Errorf("code contexts not mapped: %v", got)
	}
}

func TestLaunchDefaultVersion(t *testing.T) {
	f := newFixture(t, Config{DefaultVersion: proctl.LanguageVersion{Major: 3, Minor: 3}})
	f.launch(t)
	if v := f.launcher.Launched()[0].Version; v.Tag() != "V33" {
		t.Errorf("got %v", v)
	}
}

func TestLaunchConfigurationError(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.s.Launch(context.Background(), LaunchRequest{Options: "DIR_MAPPING=nopipe"})
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) || cerr.Key != "DIR_MAPPING" {
		t.Errorf("got %v", err)
	}
	if f.s.State() != StateIdle || len(f.launcher.Launched()) != 0 {
		t.Errorf("session changed by a rejected launch")
	}
}

func TestLaunchFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.launcher.LaunchErr = errors.New("no interpreter")
	if err := f.s.Launch(context.Background(), LaunchRequest{Executable: "x.py"}); !errors.Is(err, f.launcher.LaunchErr) {
		t.Errorf("got %v", err)
	}
	if f.s.State() != StateIdle {
		t.Errorf("state %v, want Idle", f.s.State())
	}
	f.launcher.LaunchErr = nil
	f.launch(t)
}

func TestAttachFailureClassification(t *testing.T) {
	messages := map[string]proctl.AttachReason{}
	for _, reason := range proctl.AttachReasons() {
		f := newFixture(t, Config{})
		f.launcher.AttachErr = &proctl.AttachError{Reason: reason}
		err := f.s.Attach(context.Background(), 77)
		var af *AttachFailure
		if !errors.As(err, &af) {
			t.Errorf("%v: got %v, want *AttachFailure", reason, err)
			continue
		}
		if af.Reason != reason {
			t.Errorf("got reason %v, want %v", af.Reason, reason)
		}
		msg := af.Error()
		if msg == "failed to attach debugger: " {
			t.Errorf("%v: empty message", reason)
		}
		if other, dup := messages[msg]; dup {
			t.Errorf("%v and %v share message %q", reason, other, msg)
		}
		messages[msg] = reason
		if f.s.State() != StateIdle {
			t.Errorf("%v: state %v after failed attach", reason, f.s.State())
		}
	}
}

func TestAttachFailureUnclassified(t *testing.T) {
	f := newFixture(t, Config{})
	f.launcher.AttachErr = errors.New("boom")
	var af *AttachFailure
	if err := f.s.Attach(context.Background(), 1); !errors.As(err, &af) || af.Reason != proctl.AttachUnknown {
		t.Errorf("got %v", err)
	}

	f.launcher.AttachErr = fmt.Errorf("waiting: %w", context.DeadlineExceeded)
	if err := f.s.Attach(context.Background(), 1); !errors.As(err, &af) || af.Reason != proctl.Timeout {
		t.Errorf("got %v", err)
	}
}

func TestAttachAndDetach(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.s.SetBreakpoints("a.py", []SourceBreakpoint{{Line: 3}}); err != nil {
		t.Fatal(err)
	}
	if err := f.s.Attach(context.Background(), 4242); err != nil {
		t.Fatal(err)
	}
	if !f.s.Attached() || !f.s.CanDetach() || f.s.Pid() != 4242 {
		t.Errorf("attached=%v canDetach=%v pid=%d", f.s.Attached(), f.s.CanDetach(), f.s.Pid())
	}
	if f.p.Count("SetBreakpoint") != 1 {
		t.Errorf("pending breakpoint not sent on attach: %v", f.p.Commands())
	}
	f.s.ProgramCreated()
	f.sink.expect(t, ProgramCreated)

	if err := f.s.Detach(); err != nil {
		t.Fatal(err)
	}
	cmds := f.p.Commands()
	if len(cmds) < 2 || cmds[len(cmds)-2].Op != "RemoveBreakpoint" || cmds[len(cmds)-1].Op != "Detach" {
		t.Errorf("breakpoints not cleared before detach: %v", cmds)
	}
	// the controller closes the stream without an exit notification
	f.sink.expect(t, ProgramDestroy)
	if err := f.s.ProgramDestroyed(); err != nil {
		t.Fatal(err)
	}
	if f.p.Count("Terminate") != 0 {
		t.Errorf("attached process terminated")
	}
}

func TestDetachLaunched(t *testing.T) {
	f := newFixture(t, Config{})
	f.created(t)
	if f.s.CanDetach() {
		t.Errorf("CanDetach on a launched session")
	}
	err := f.s.Detach()
	var pv *ProtocolViolation
	if !errors.Is(err, ErrInvalidOperation) || !errors.As(err, &pv) {
		t.Errorf("got %v", err)
	}
	if f.p.Count("Detach") != 0 {
		t.Errorf("controller asked to detach")
	}
}

func TestTerminateAndDestroy(t *testing.T) {
	f := newFixture(t, Config{})
	f.created(t)
	if !f.s.CanTerminateProcess(4242) || f.s.CanTerminateProcess(1) {
		t.Errorf("CanTerminateProcess")
	}
	if err := f.s.Terminate(); err != nil {
		t.Fatal(err)
	}
	if f.s.State() != StateTerminating || f.p.Count("Terminate") != 1 {
		t.Errorf("state %v, commands %v", f.s.State(), f.p.Commands())
	}
	if err := f.s.Resume(); err == nil {
		t.Errorf("Resume while terminating should fail")
	}

	f.p.Exit(3)
	ev := f.sink.expect(t, ProgramDestroy)[0]
	if ev.ExitCode != 3 {
		t.Errorf("exit code %d", ev.ExitCode)
	}
	f.sink.expectNone(t)

	for i := 0; i < 2; i++ {
		if err := f.s.ProgramDestroyed(); err != nil {
			t.Errorf("ProgramDestroyed #%d: %v", i+1, err)
		}
	}
	if n := f.p.Count("Close"); n != 1 {
		t.Errorf("process released %d times", n)
	}
	if f.s.State() != StateDestroyed || len(f.s.Threads()) != 0 || len(f.s.Modules()) != 0 {
		t.Errorf("session not released: %v %v %v", f.s.State(), f.s.Threads(), f.s.Modules())
	}
	if err := f.s.Launch(context.Background(), LaunchRequest{}); err == nil {
		t.Errorf("launch on a destroyed session")
	}
	// Close after destruction does nothing
	f.s.Close()
	if f.p.Count("Close") != 1 || f.p.Count("Terminate") != 1 {
		t.Errorf("Close after destroy: %v", f.p.Commands())
	}
}

func TestDuplicateExitSwallowed(t *testing.T) {
	f := newFixture(t, Config{})
	f.created(t)
	f.p.Send(
		proctl.Notification{Kind: proctl.ProcessExited, ExitCode: 1},
		proctl.Notification{Kind: proctl.ProcessExited, ExitCode: 2},
	)
	f.sink.expect(t, ProgramDestroy)
	f.sink.expectNone(t)
	if f.s.State() != StateTerminating {
		t.Errorf("state %v", f.s.State())
	}
}

func TestNotificationsAfterDestroyIgnored(t *testing.T) {
	f := newFixture(t, Config{})
	f.created(t)
	f.s.ProgramDestroyed()
	f.p.Send(proctl.Notification{Kind: proctl.ThreadCreated, Thread: proctltest.Thread(9)})
	f.sink.expectNone(t)
	if err := f.s.WaitLoadComplete(context.Background()); err != nil {
		t.Errorf("load already completed: %v", err)
	}
}

func TestSinkFailureDuringShutdown(t *testing.T) {
	f := newFixture(t, Config{})
	f.created(t)
	f.sink.mu.Lock()
	f.sink.err = errors.New("front end gone")
	f.sink.mu.Unlock()
	f.p.Exit(0)
	f.sink.expect(t, ProgramDestroy)
	if err := f.s.ProgramDestroyed(); err != nil {
		t.Error(err)
	}
}

func TestWaitLoadComplete(t *testing.T) {
	f := newFixture(t, Config{})
	f.launch(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.s.WaitLoadComplete(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v", err)
	}

	done := make(chan error)
	go func() { done <- f.s.WaitLoadComplete(context.Background()) }()
	f.p.Send(proctl.Notification{Kind: proctl.ProcessLoaded, Thread: proctltest.Thread(1)})
	waitFor(t, "process-loaded", func() bool { return f.buffered().loadThread != nil })
	select {
	case err := <-done:
		t.Fatalf("returned before creation: %v", err)
	default:
	}
	f.s.ProgramCreated()
	select {
	case err := <-done:
		if err != nil {
			t.Error(err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("WaitLoadComplete did not return")
	}
}

func TestWaitLoadCompleteSessionEnded(t *testing.T) {
	f := newFixture(t, Config{})
	f.launch(t)
	f.s.Close()
	if err := f.s.WaitLoadComplete(context.Background()); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("got %v", err)
	}
}

func TestCloseTerminatesLaunched(t *testing.T) {
	f := newFixture(t, Config{})
	f.created(t)
	f.s.Close()
	if f.p.Count("Terminate") != 1 || f.p.Count("Close") != 1 {
		t.Errorf("got %v", f.p.Commands())
	}
}

func TestCloseKeepsAttached(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.s.Attach(context.Background(), 4242); err != nil {
		t.Fatal(err)
	}
	f.s.Close()
	if f.p.Count("Terminate") != 0 || f.p.Count("Close") != 1 {
		t.Errorf("got %v", f.p.Commands())
	}
}

func TestExceptionFiltersPushedOncePerCall(t *testing.T) {
	f := newFixture(t, Config{})
	f.launch(t)
	if n := f.p.Count("SetExceptionInfo"); n != 0 {
		t.Fatalf("pushed %d times before any change", n)
	}

	err := f.s.SetExceptions([]ExceptionFilter{
		{Category: "builtins.ValueError", Mode: proctl.BreakAlways},
		{Category: "builtins.KeyError", Mode: proctl.BreakNever},
		{Category: RootExceptionCategory, Mode: proctl.BreakNever},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n := f.p.Count("SetExceptionInfo"); n != 1 {
		t.Errorf("SetExceptions pushed %d times", n)
	}
	c, _ := f.p.Last("SetExceptionInfo")
	want := map[string]proctl.ExceptionMode{"builtins.ValueError": proctl.BreakAlways, "builtins.KeyError": proctl.BreakNever}
	if c.DefaultMode != proctl.BreakNever || !reflect.DeepEqual(c.Table, want) {
		t.Errorf("pushed %v", c)
	}
	if m := f.s.ResolveException("builtins.ValueError"); m != proctl.BreakAlways {
		t.Errorf("resolve: %v", m)
	}

	f.s.RemoveExceptions([]string{"builtins.ValueError", "builtins.KeyError"})
	if n := f.p.Count("SetExceptionInfo"); n != 2 {
		t.Errorf("RemoveExceptions pushed %d times in total", n)
	}
	f.s.SetExceptions(nil)
	f.s.RemoveExceptions(nil)
	if n := f.p.Count("SetExceptionInfo"); n != 2 {
		t.Errorf("empty calls pushed")
	}

	f.s.RemoveAllExceptions()
	c, _ = f.p.Last("SetExceptionInfo")
	if f.p.Count("SetExceptionInfo") != 3 || c.DefaultMode != proctl.BreakUnhandled || len(c.Table) != 0 {
		t.Errorf("RemoveAllExceptions pushed %v", c)
	}
	filters := f.s.ExceptionFilters()
	if len(filters) != 1 || filters[0] != (ExceptionFilter{RootExceptionCategory, proctl.BreakUnhandled}) {
		t.Errorf("got %v", filters)
	}
}

func TestExceptionFiltersBeforeLaunch(t *testing.T) {
	never := proctl.BreakNever
	f := newFixture(t, Config{ExceptionMode: &never})
	if m := f.s.ResolveException("x"); m != proctl.BreakNever {
		t.Errorf("initial default %v", m)
	}
	f.s.SetExceptions([]ExceptionFilter{{Category: "a", Mode: proctl.BreakAlways}})
	f.s.SetExceptions([]ExceptionFilter{{Category: "b", Mode: proctl.BreakAlways}})
	f.launch(t)
	if n := f.p.Count("SetExceptionInfo"); n != 1 {
		t.Errorf("pushed %d times at launch", n)
	}
	c, _ := f.p.Last("SetExceptionInfo")
	if len(c.Table) != 2 || c.DefaultMode != proctl.BreakNever {
		t.Errorf("pushed %v", c)
	}
}

func TestBreakpointEvents(t *testing.T) {
	f := newFixture(t, Config{})
	f.created(t)
	bps, err := f.s.SetBreakpoints("/src/a.py", []SourceBreakpoint{{Line: 10}, {Line: 20}})
	if err != nil {
		t.Fatal(err)
	}
	f.p.Send(
		proctl.Notification{Kind: proctl.BreakpointBindSucceeded, Breakpoint: bps[0].ID},
		proctl.Notification{Kind: proctl.BreakpointBindFailed, Breakpoint: bps[1].ID},
		proctl.Notification{Kind: proctl.BreakpointBindSucceeded, Breakpoint: 1234},
		proctl.Notification{Kind: proctl.BreakpointHit, Thread: proctltest.Thread(1), Breakpoint: bps[0].ID},
	)
	evs := f.sink.expect(t, BreakpointBound, BreakpointBindFailed, BreakpointHit)
	if !evs[0].Breakpoints[0].Verified || evs[0].Breakpoints[0].Line != 10 {
		t.Errorf("bound: %v", evs[0].Breakpoints)
	}
	if evs[1].Breakpoints[0].Verified || evs[1].Breakpoints[0].Message == "" {
		t.Errorf("bind failed: %v", evs[1].Breakpoints)
	}
	if len(evs[2].Breakpoints) != 1 || evs[2].Breakpoints[0].ID != bps[0].ID || evs[2].Thread.Thread.ID != 1 {
		t.Errorf("hit: %v", evs[2])
	}
}

func TestHitOnUnknownThread(t *testing.T) {
	f := newFixture(t, Config{})
	f.created(t)
	f.p.Send(proctl.Notification{Kind: proctl.BreakpointHit, Thread: proctltest.Thread(8), Breakpoint: 5})
	ev := f.sink.expect(t, BreakpointHit)[0]
	if ev.Thread.Thread.ID != 8 || len(ev.Breakpoints) != 0 {
		t.Errorf("got %v", ev)
	}
}
