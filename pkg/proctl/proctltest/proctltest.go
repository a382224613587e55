// Package proctltest provides a scripted process controller for tests.
//
// A Process records every command it receives and delivers whatever
// notifications the test sends with Send.
package proctltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dbgcoord/dbgcoord/pkg/proctl"
)

// Command is a recorded call on a Process.
type Command struct {
	Op     string
	Thread proctl.ThreadID
	// set for SetBreakpoint/RemoveBreakpoint
	Breakpoint proctl.BreakpointID
	File       string
	Line       int
	Condition  string
	// set for SetExceptionInfo
	DefaultMode proctl.ExceptionMode
	Table       map[string]proctl.ExceptionMode
}

func (c Command) String() string {
	switch c.Op {
	case "SetBreakpoint":
		return fmt.Sprintf("SetBreakpoint(%d, %s:%d)", c.Breakpoint, c.File, c.Line)
	case "RemoveBreakpoint":
		return fmt.Sprintf("RemoveBreakpoint(%d)", c.Breakpoint)
	case "SetExceptionInfo":
		return fmt.Sprintf("SetExceptionInfo(%v, %v)", c.DefaultMode, c.Table)
	case "ResumeThread", "StepInto", "StepOver", "StepOut", "ClearSteppingState":
		return fmt.Sprintf("%s(%d)", c.Op, c.Thread)
	}
	return c.Op
}

// Process is a scripted proctl.Process.
type Process struct {
	pid int
	ch  chan proctl.Notification

	mu       sync.Mutex
	commands []Command

	sendMu sync.Mutex
	closed bool
	// Err, when set, is returned by every command.
	Err error
}

// NewProcess returns a Process with the given pid. The notification
// channel is buffered so tests can send before the engine starts
// consuming.
func NewProcess(pid int) *Process {
	return &Process{pid: pid, ch: make(chan proctl.Notification, 64)}
}

// Send delivers ns to the engine in order. Sending after the channel was closed is a
// no-op.
func (p *Process) Send(ns ...proctl.Notification) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	for _, n := range ns {
		if p.closed {
			return
		}
		p.ch <- n
	}
}

// Exit sends ProcessExited and closes the notification channel.
func (p *Process) Exit(code int) {
	p.Send(proctl.Notification{Kind: proctl.ProcessExited, ExitCode: code})
	p.closeChannel()
}

func (p *Process) closeChannel() {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
}

// Commands returns a copy of the commands recorded so far.
func (p *Process) Commands() []Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Command(nil), p.commands...)
}

// Count returns how many times op was called.
func (p *Process) Count(op string) int {
	n := 0
	for _, c := range p.Commands() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Last returns the most recent command named op.
func (p *Process) Last(op string) (Command, bool) {
	cmds := p.Commands()
	for i := len(cmds) - 1; i >= 0; i-- {
		if cmds[i].Op == op {
			return cmds[i], true
		}
	}
	return Command{}, false
}

func (p *Process) record(c Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, c)
	return p.Err
}

func (p *Process) Pid() int                                   { return p.pid }
func (p *Process) Notifications() <-chan proctl.Notification { return p.ch }
func (p *Process) Resume() error                              { return p.record(Command{Op: "Resume"}) }
func (p *Process) Break() error                               { return p.record(Command{Op: "Break"}) }
func (p *Process) Terminate() error                           { return p.record(Command{Op: "Terminate"}) }

func (p *Process) ResumeThread(id proctl.ThreadID) error {
	return p.record(Command{Op: "ResumeThread", Thread: id})
}

func (p *Process) StepInto(id proctl.ThreadID) error {
	return p.record(Command{Op: "StepInto", Thread: id})
}

func (p *Process) StepOver(id proctl.ThreadID) error {
	return p.record(Command{Op: "StepOver", Thread: id})
}

func (p *Process) StepOut(id proctl.ThreadID) error {
	return p.record(Command{Op: "StepOut", Thread: id})
}

func (p *Process) ClearSteppingState(id proctl.ThreadID) error {
	return p.record(Command{Op: "ClearSteppingState", Thread: id})
}

func (p *Process) SetExceptionInfo(defaultMode proctl.ExceptionMode, table map[string]proctl.ExceptionMode) error {
	cp := make(map[string]proctl.ExceptionMode, len(table))
	for k, v := range table {
		cp[k] = v
	}
	return p.record(Command{Op: "SetExceptionInfo", DefaultMode: defaultMode, Table: cp})
}

func (p *Process) SetBreakpoint(id proctl.BreakpointID, file string, line int, condition string) error {
	return p.record(Command{Op: "SetBreakpoint", Breakpoint: id, File: file, Line: line, Condition: condition})
}

func (p *Process) RemoveBreakpoint(id proctl.BreakpointID) error {
	return p.record(Command{Op: "RemoveBreakpoint", Breakpoint: id})
}

// Detach records the command and closes the notification channel.
func (p *Process) Detach() error {
	err := p.record(Command{Op: "Detach"})
	p.closeChannel()
	return err
}

// Close records the command and closes the notification channel.
func (p *Process) Close() error {
	p.record(Command{Op: "Close"})
	p.closeChannel()
	return nil
}

// Launcher hands out a prepared Process.
type Launcher struct {
	// Process is returned by Launch and Attach. A new Process with pid
	// 1000 is created when nil.
	Process *Process
	// LaunchErr and AttachErr, when set, are returned instead.
	LaunchErr error
	AttachErr error

	mu       sync.Mutex
	launched []proctl.LaunchConfig
	attached []int
}

func (l *Launcher) process(pid int) *Process {
	if l.Process == nil {
		l.Process = NewProcess(pid)
	}
	return l.Process
}

func (l *Launcher) Launch(ctx context.Context, cfg proctl.LaunchConfig) (proctl.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launched = append(l.launched, cfg)
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	return l.process(1000), nil
}

func (l *Launcher) Attach(ctx context.Context, pid int) (proctl.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attached = append(l.attached, pid)
	if l.AttachErr != nil {
		return nil, l.AttachErr
	}
	return l.process(pid), nil
}

// Launched returns the configurations passed to Launch.
func (l *Launcher) Launched() []proctl.LaunchConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]proctl.LaunchConfig(nil), l.launched...)
}

// Attached returns the pids passed to Attach.
func (l *Launcher) Attached() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.attached...)
}

// Thread is a shorthand for a ThreadCreated notification payload.
func Thread(id proctl.ThreadID) proctl.Thread {
	return proctl.Thread{ID: id, Name: fmt.Sprintf("Thread-%d", id)}
}

// Module is a shorthand for a ModuleLoaded notification payload.
func Module(id proctl.ModuleID, name string) proctl.Module {
	return proctl.Module{ID: id, Name: name, Filename: name + ".py"}
}
