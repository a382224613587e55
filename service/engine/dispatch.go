package engine

import (
	"github.com/dbgcoord/dbgcoord/pkg/logflags"
	"github.com/dbgcoord/dbgcoord/pkg/proctl"
)

// dispatch consumes the notifications of p until the channel is closed or
// the session ends. It is the only goroutine reading from p.
func (s *Session) dispatch(p proctl.Process, ended <-chan struct{}) {
	log := logflags.DispatchLogger()
	ch := p.Notifications()
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				s.processGone(p)
				return
			}
			if logflags.Dispatch() {
				log.Debugf("<- %v", n)
			}
			s.handle(p, n)
		case <-ended:
			return
		}
	}
}

// handle applies a single notification. Notifications for a process the
// session no longer owns are dropped.
func (s *Session) handle(p proctl.Process, n proctl.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.process != p || s.state == StateDestroyed {
		return
	}

	switch n.Kind {
	case proctl.ProcessLoaded:
		th := s.repairThread(n.Thread)
		if !s.created {
			s.log.Debugf("delaying load complete until program creation")
			s.deferred.loadThread = th
			return
		}
		s.emit(Event{Kind: LoadComplete, Thread: *th})
		for _, ev := range s.deferred.drain() {
			s.emit(ev)
		}

	case proctl.ModuleLoaded:
		mod, _ := s.modules.Register(n.Module.ID, func(id int) ModuleHandle {
			return ModuleHandle{ID: id, Module: n.Module}
		})
		if !s.created {
			s.deferred.startModule = mod
			return
		}
		s.emit(Event{Kind: ModuleLoad, Module: *mod})

	case proctl.ThreadCreated:
		th, _ := s.threads.Register(n.Thread.ID, func(id int) ThreadHandle {
			return ThreadHandle{ID: id, Thread: n.Thread}
		})
		if th.announced {
			s.log.Warnf("duplicate thread-created for thread %d", n.Thread.ID)
			return
		}
		if !s.created {
			s.deferred.startThread = th
			return
		}
		th.announced = true
		s.emit(Event{Kind: ThreadStart, Thread: *th})

	case proctl.ThreadExited:
		th, ok := s.threads.Unregister(n.Thread.ID)
		if !ok {
			s.log.Debugf("exit of unknown thread %d ignored", n.Thread.ID)
			return
		}
		s.deferred.forgetThread(th)
		s.emit(Event{Kind: ThreadDestroy, Thread: *th})

	case proctl.BreakpointHit:
		th := s.repairThread(n.Thread)
		s.stopped()
		s.emit(Event{Kind: BreakpointHit, Thread: *th, Breakpoints: s.breakpoints.Lookup(n.Breakpoint)})

	case proctl.BreakpointBindSucceeded:
		bp, ok := s.breakpoints.Bound(n.Breakpoint)
		if !ok {
			s.log.Debugf("bind of unknown breakpoint %d ignored", n.Breakpoint)
			return
		}
		s.emit(Event{Kind: BreakpointBound, Breakpoints: []Breakpoint{bp}})

	case proctl.BreakpointBindFailed:
		bp, ok := s.breakpoints.BindFailed(n.Breakpoint, "breakpoint could not be bound")
		if !ok {
			return
		}
		s.emit(Event{Kind: BreakpointBindFailed, Breakpoints: []Breakpoint{bp}})

	case proctl.AsyncBreakComplete:
		th := s.repairThread(n.Thread)
		s.stopped()
		s.emit(Event{Kind: AsyncBreakComplete, Thread: *th})

	case proctl.ExceptionRaised:
		th := s.repairThread(n.Thread)
		s.stopped()
		s.emit(Event{Kind: Exception, Thread: *th, Exception: n.Exception, Message: exceptionMessage(n.Exception)})

	case proctl.StepComplete:
		th := s.repairThread(n.Thread)
		s.stopped()
		s.emit(Event{Kind: StepComplete, Thread: *th})

	case proctl.DebuggerOutput:
		th := s.repairThread(n.Thread)
		s.emit(Event{Kind: DebugOutput, Thread: *th, Message: n.Output})

	case proctl.ProcessExited:
		s.programExited(n.ExitCode)

	default:
		s.log.Warnf("unknown notification %v", n)
	}
}

// processGone handles the notification channel closing. A debuggee that
// went away without an exit notification (after Detach, or a controller
// failure) is still reported destroyed.
func (s *Session) processGone(p proctl.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.process != p || s.state == StateDestroyed {
		return
	}
	s.programExited(0)
}

// programExited emits ProgramDestroy once. Must be called with s.mu held.
func (s *Session) programExited(code int) {
	if s.destroyEmitted {
		s.log.Debugf("duplicate process exit (%d) ignored", code)
		return
	}
	s.destroyEmitted = true
	s.state = StateTerminating
	s.emit(Event{Kind: ProgramDestroy, ExitCode: code})
}

// repairThread returns the wrapper for t, registering it if the
// thread-created notification has not arrived yet. Must be called with
// s.mu held.
func (s *Session) repairThread(t proctl.Thread) *ThreadHandle {
	th, created := s.threads.Register(t.ID, func(id int) ThreadHandle {
		return ThreadHandle{ID: id, Thread: t}
	})
	if created {
		s.log.Debugf("registered thread %d before its creation notification", t.ID)
	}
	return th
}

// stopped records that the debuggee is in break mode. Must be called with
// s.mu held.
func (s *Session) stopped() {
	if s.state.executing() {
		s.state = StateBroken
	}
}

// emit delivers ev to the sink. Must be called with s.mu held.
func (s *Session) emit(ev Event) {
	ev.ProgramID = s.programID
	if ev.Kind == LoadComplete && !s.loadCompleteClosed {
		s.loadCompleteClosed = true
		close(s.loadComplete)
	}
	if logflags.Engine() {
		s.log.Debugf("-> %v", ev)
	}
	if err := s.sink.Event(ev); err != nil {
		if s.state == StateTerminating {
			s.log.Debugf("event %v not delivered during shutdown: %v", ev, err)
			return
		}
		s.log.WithError(err).Warnf("could not deliver %v", ev)
	}
}
