package native

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/dbgcoord/dbgcoord/pkg/logflags"
	"github.com/dbgcoord/dbgcoord/pkg/proctl"
)

// MainThreadName is the name reported for the only thread the controller
// knows about.
const MainThreadName = "MainThread"

// Process implements proctl.Process for a child or attached process.
type Process struct {
	pid  int
	cmd  *exec.Cmd // nil for attached processes
	tty  *os.File
	// stdout receives output that is not redirected
	stdout io.Writer
	main proctl.Thread
	log  logflags.Logger

	ch        chan proctl.Notification
	done      chan struct{}
	closeOnce sync.Once
	sendMu    sync.Mutex
	closed    bool

	mu          sync.Mutex
	defaultMode proctl.ExceptionMode
	exceptions  map[string]proctl.ExceptionMode
}

var _ proctl.Process = (*Process)(nil)

func newProcess(pid int, cmd *exec.Cmd, log logflags.Logger) *Process {
	return &Process{
		pid:  pid,
		cmd:  cmd,
		main: proctl.Thread{ID: proctl.ThreadID(pid), Name: MainThreadName},
		log:  log.WithField("pid", pid),
		ch:   make(chan proctl.Notification, 64),
		done: make(chan struct{}),
	}
}

// announce reports the main thread and module. Nothing else is sending
// yet, and the channel has room for all three.
func (p *Process) announce(m proctl.Module) {
	p.notify(proctl.Notification{Kind: proctl.ThreadCreated, Thread: p.main})
	p.notify(proctl.Notification{Kind: proctl.ModuleLoaded, Module: m})
	p.notify(proctl.Notification{Kind: proctl.ProcessLoaded, Thread: p.main})
}

// notify delivers n unless the channel was closed. It gives up when the
// process is closed while the consumer is not reading.
func (p *Process) notify(n proctl.Notification) bool {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.ch <- n:
		return true
	case <-p.done:
		return false
	}
}

func (p *Process) shutdown() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.sendMu.Lock()
		p.closed = true
		close(p.ch)
		p.sendMu.Unlock()
	})
}

// wait forwards the output of a launched process, reaps it and reports
// its exit code.
func (p *Process) wait(outputs []io.Reader, redirect bool) {
	var wg sync.WaitGroup
	for _, r := range outputs {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			p.forward(r, redirect)
		}(r)
	}
	wg.Wait()

	code := 0
	if err := p.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			p.log.Errorf("wait: %v", err)
			code = -1
		}
	}
	if p.tty != nil {
		p.tty.Close()
	}
	p.log.Debugf("exited with code %d", code)
	p.notify(proctl.Notification{Kind: proctl.ProcessExited, ExitCode: code})
	p.shutdown()
}

func (p *Process) forward(r io.Reader, redirect bool) {
	if !redirect {
		// errors here only mean the debuggee went away
		_, _ = io.Copy(p.stdout, r)
		return
	}
	s := bufio.NewScanner(r)
	for s.Scan() {
		p.notify(proctl.Notification{Kind: proctl.DebuggerOutput, Thread: p.main, Output: s.Text() + "\n"})
	}
	// Draining keeps the debuggee from blocking on a full pipe after an
	// overlong line stopped the scanner.
	_, _ = io.Copy(io.Discard, r)
}

// poll watches an attached process until it disappears or the process
// is closed. The exit code of a process that is not our child is not
// available and is reported as 0.
func (p *Process) poll(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-t.C:
			if !alive(p.pid) {
				p.log.Debug("attached process is gone")
				p.notify(proctl.Notification{Kind: proctl.ProcessExited})
				p.shutdown()
				return
			}
		}
	}
}

func (p *Process) Pid() int { return p.pid }

func (p *Process) Notifications() <-chan proctl.Notification { return p.ch }

func (p *Process) Resume() error {
	return cont(p.pid)
}

// ResumeThread resumes the whole process: threads cannot be controlled
// individually.
func (p *Process) ResumeThread(proctl.ThreadID) error {
	return cont(p.pid)
}

// Break stops the process. AsyncBreakComplete is reported from a separate
// goroutine since Break may be called while the consumer of the
// notification channel is busy.
func (p *Process) Break() error {
	if err := stop(p.pid); err != nil {
		return err
	}
	go p.notify(proctl.Notification{Kind: proctl.AsyncBreakComplete, Thread: p.main})
	return nil
}

func (p *Process) Terminate() error {
	if p.cmd != nil {
		return p.cmd.Process.Kill()
	}
	return kill(p.pid)
}

// Detach stops reporting on the process and lets it run.
func (p *Process) Detach() error {
	if err := cont(p.pid); err != nil && !errors.Is(err, proctl.ErrNotSupported) {
		p.log.Warnf("could not resume before detaching: %v", err)
	}
	p.shutdown()
	return nil
}

func (p *Process) StepInto(proctl.ThreadID) error { return proctl.ErrNotSupported }
func (p *Process) StepOver(proctl.ThreadID) error { return proctl.ErrNotSupported }
func (p *Process) StepOut(proctl.ThreadID) error  { return proctl.ErrNotSupported }

func (p *Process) ClearSteppingState(proctl.ThreadID) error { return nil }

// SetExceptionInfo records the configuration. Without a tracer in the
// debuggee nothing ever raises an exception notification.
func (p *Process) SetExceptionInfo(defaultMode proctl.ExceptionMode, table map[string]proctl.ExceptionMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultMode = defaultMode
	p.exceptions = make(map[string]proctl.ExceptionMode, len(table))
	for k, v := range table {
		p.exceptions[k] = v
	}
	p.log.Debugf("exception info: default %v, %d entries", defaultMode, len(table))
	return nil
}

// ExceptionInfo returns the configuration last passed to SetExceptionInfo.
func (p *Process) ExceptionInfo() (proctl.ExceptionMode, map[string]proctl.ExceptionMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	table := make(map[string]proctl.ExceptionMode, len(p.exceptions))
	for k, v := range p.exceptions {
		table[k] = v
	}
	return p.defaultMode, table
}

// SetBreakpoint always fails to bind.
func (p *Process) SetBreakpoint(id proctl.BreakpointID, file string, line int, condition string) error {
	p.log.Debugf("cannot bind breakpoint %d at %s:%d", id, file, line)
	go p.notify(proctl.Notification{Kind: proctl.BreakpointBindFailed, Breakpoint: id})
	return nil
}

func (p *Process) RemoveBreakpoint(proctl.BreakpointID) error { return nil }

// Close stops reporting. A launched child keeps being reaped in the
// background.
func (p *Process) Close() error {
	p.shutdown()
	return nil
}
