// Package engine coordinates a single debug session between a front end
// and a process controller.
//
// The process controller reports what happens in the debuggee as an
// unordered stream of notifications. The Session consumes that stream on a
// single goroutine and turns it into the ordered event protocol the front
// end expects: nothing about the program's start-up (load-complete, the
// start module, the start thread) is delivered before the front end has
// acknowledged program creation with ProgramCreated.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dbgcoord/dbgcoord/pkg/config"
	"github.com/dbgcoord/dbgcoord/pkg/logflags"
	"github.com/dbgcoord/dbgcoord/pkg/proctl"
)

const tracerName = "github.com/dbgcoord/dbgcoord/service/engine"

// StepKind selects the stepping command issued by Step.
type StepKind int

const (
	StepInto StepKind = iota
	StepOver
	StepOut
)

func (k StepKind) String() string {
	switch k {
	case StepInto:
		return "into"
	case StepOver:
		return "over"
	case StepOut:
		return "out"
	}
	return fmt.Sprintf("StepKind(%d)", int(k))
}

// LaunchRequest describes the program to launch.
type LaunchRequest struct {
	Executable string
	// Args is passed to the debuggee as a single string.
	Args       string
	WorkingDir string
	Env        []string
	// Options is a launch option string, see config.ParseLaunchOptions.
	Options string
}

// Config is the set of collaborators and settings of a Session.
type Config struct {
	Launcher proctl.Launcher
	Sink     EventSink

	// DefaultVersion is used for launches without a VERSION option. The
	// zero value means proctl.DefaultVersion.
	DefaultVersion proctl.LanguageVersion
	// ExceptionMode is the initial default break mode. Nil means
	// DefaultExceptionMode.
	ExceptionMode *proctl.ExceptionMode
	// SubstitutePath rules are applied to source paths before the
	// directory mappings of a launch.
	SubstitutePath config.SubstitutePathRules
	// CodeContextCacheSize bounds the code context cache. Zero means
	// config.DefaultCodeContextCacheSize.
	CodeContextCacheSize int
}

// Session is one debug session: at most one debuggee, from launch or
// attach until the front end acknowledges its destruction.
type Session struct {
	launcher       proctl.Launcher
	sink           EventSink
	defaultVersion proctl.LanguageVersion
	substitute     config.SubstitutePathRules
	tracer         trace.Tracer
	log            logflags.Logger

	mu             sync.Mutex
	state          State
	attached       bool
	created        bool
	destroyEmitted bool
	programID      string
	process        proctl.Process
	pid            int

	threads     *Registry[proctl.ThreadID, ThreadHandle]
	modules     *Registry[proctl.ModuleID, ModuleHandle]
	filters     *ExceptionFilterTable
	// filtersDirty is set when the filters changed while no debuggee was
	// attached.
	filtersDirty bool
	breakpoints  *BreakpointManager
	deferred     deferredStart

	loadComplete       chan struct{}
	loadCompleteClosed bool
	ended              chan struct{}
}

// NewSession returns an idle session.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Launcher == nil {
		return nil, fmt.Errorf("engine: no process launcher")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("engine: no event sink")
	}
	cacheSize := cfg.CodeContextCacheSize
	if cacheSize <= 0 {
		cacheSize = config.DefaultCodeContextCacheSize
	}
	bpm, err := NewBreakpointManager(cacheSize)
	if err != nil {
		return nil, err
	}
	def := DefaultExceptionMode
	if cfg.ExceptionMode != nil {
		def = *cfg.ExceptionMode
	}
	version := cfg.DefaultVersion
	if version.IsZero() {
		version = proctl.DefaultVersion
	}
	bpm.SetPathMappings(cfg.SubstitutePath, nil)
	return &Session{
		launcher:       cfg.Launcher,
		sink:           cfg.Sink,
		defaultVersion: version,
		substitute:     cfg.SubstitutePath,
		tracer:         otel.Tracer(tracerName),
		log:            logflags.EngineLogger(),
		threads:        newRegistry[proctl.ThreadID, ThreadHandle](),
		modules:        newRegistry[proctl.ModuleID, ModuleHandle](),
		filters:        NewExceptionFilterTable(def),
		breakpoints:    bpm,
		loadComplete:   make(chan struct{}),
		ended:          make(chan struct{}),
	}, nil
}

func (s *Session) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	s.mu.Lock()
	attrs := []attribute.KeyValue{attribute.String("session.state", s.state.String())}
	if s.programID != "" {
		attrs = append(attrs, attribute.String("program.id", s.programID), attribute.Int("process.pid", s.pid))
	}
	s.mu.Unlock()
	return s.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ProgramID returns the identifier minted when the debuggee was obtained,
// or "" before that.
func (s *Session) ProgramID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.programID
}

// Pid returns the system process id of the debuggee, or 0.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Attached reports whether the debuggee was attached to rather than
// launched.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// Launch starts the program described by req and blocks until the process
// controller returned the debuggee.
func (s *Session) Launch(ctx context.Context, req LaunchRequest) (err error) {
	ctx, span := s.startSpan(ctx, "Launch")
	defer func() { endSpan(span, err) }()

	opts, err := config.ParseLaunchOptions(req.Options)
	if err != nil {
		return err
	}
	if err := s.begin("Launch", StateLaunching); err != nil {
		return err
	}
	cfg := proctl.LaunchConfig{
		Version:            opts.Version,
		Executable:         req.Executable,
		Args:               req.Args,
		WorkingDir:         req.WorkingDir,
		Env:                req.Env,
		InterpreterOptions: opts.InterpreterOptions,
		Options:            opts.Debug,
		DirMappings:        opts.DirMappings,
	}
	if cfg.Version.IsZero() {
		cfg.Version = s.defaultVersion
	}
	s.log.Debugf("launching %s (version %s, options %#x)", cfg.Executable, cfg.Version, cfg.Options)
	p, err := s.launcher.Launch(ctx, cfg)
	if err != nil {
		s.abort()
		return fmt.Errorf("could not launch %s: %w", req.Executable, err)
	}
	return s.start(span, p, false, opts.DirMappings)
}

// Attach attaches to the running process pid and blocks until the process
// controller returned the debuggee. Failures are reported as
// *AttachFailure.
func (s *Session) Attach(ctx context.Context, pid int) (err error) {
	ctx, span := s.startSpan(ctx, "Attach")
	defer func() { endSpan(span, err) }()

	if err := s.begin("Attach", StateAttaching); err != nil {
		return err
	}
	s.log.Debugf("attaching to %d", pid)
	p, err := s.launcher.Attach(ctx, pid)
	if err != nil {
		s.abort()
		af := classifyAttachError(ctx, err)
		s.log.WithError(err).Warnf("attach to %d failed: %s", pid, af.Reason)
		return af
	}
	return s.start(span, p, true, nil)
}

func (s *Session) begin(op string, next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateIdle:
		s.state = next
		return nil
	case StateDestroyed:
		return &ProtocolViolation{Op: op, State: s.state}
	}
	return ErrAlreadyActive
}

func (s *Session) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateLaunching || s.state == StateAttaching {
		s.state = StateIdle
	}
}

// start takes ownership of p once Launch or Attach obtained it.
func (s *Session) start(span trace.Span, p proctl.Process, attached bool, dirs []proctl.DirMapping) error {
	s.mu.Lock()
	if s.state != StateLaunching && s.state != StateAttaching {
		// closed while the controller was busy
		s.mu.Unlock()
		if !attached {
			p.Terminate()
		}
		p.Close()
		return ErrSessionEnded
	}
	s.process = p
	s.pid = p.Pid()
	s.attached = attached
	s.programID = uuid.NewString()
	s.state = StateAwaitingProgramCreate
	s.log = s.log.WithFields(logflags.Fields{"program": s.programID, "pid": s.pid})
	span.SetAttributes(attribute.String("program.id", s.programID), attribute.Int("process.pid", s.pid))

	s.breakpoints.SetPathMappings(s.substitute, dirs)
	if err := s.breakpoints.Bind(p); err != nil {
		s.log.WithError(err).Warn("could not send breakpoints")
	}
	if s.filtersDirty {
		s.pushFilters()
	}
	ended := s.ended
	s.mu.Unlock()

	go s.dispatch(p, ended)
	return nil
}

// ProgramCreated is the front end's acknowledgment that it created its
// program object. It delivers the program-created event followed by any
// start-up event that arrived before it.
func (s *Session) ProgramCreated() (err error) {
	_, span := s.startSpan(context.Background(), "ProgramCreated")
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingProgramCreate {
		return &ProtocolViolation{Op: "ProgramCreated", State: s.state}
	}
	s.created = true
	s.state = StateCreated
	s.emit(Event{Kind: ProgramCreated})
	for _, ev := range s.deferred.drain() {
		s.emit(ev)
	}
	return nil
}

// WaitLoadComplete blocks until the load-complete event was delivered.
// It returns ErrSessionEnded if the session is destroyed first.
func (s *Session) WaitLoadComplete(ctx context.Context) error {
	select {
	case <-s.loadComplete:
		return nil
	default:
	}
	select {
	case <-s.loadComplete:
		return nil
	case <-s.ended:
		return ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProgramDestroyed is the front end's acknowledgment that the program is
// gone. It releases the debuggee and the registries. Repeated calls
// succeed without doing anything.
func (s *Session) ProgramDestroyed() (err error) {
	_, span := s.startSpan(context.Background(), "ProgramDestroyed")
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return nil
	}
	if !s.state.hasProcess() {
		st := s.state
		s.mu.Unlock()
		return &ProtocolViolation{Op: "ProgramDestroyed", State: st}
	}
	p := s.release()
	s.mu.Unlock()

	return p.Close()
}

// release moves the session to Destroyed and returns the process to
// close. Must be called with s.mu held.
func (s *Session) release() proctl.Process {
	p := s.process
	s.state = StateDestroyed
	s.process = nil
	s.threads.Clear()
	s.modules.Clear()
	s.deferred = deferredStart{}
	close(s.ended)
	s.log.Debug("session destroyed")
	return p
}

// Close ends the session. A launched debuggee that was not reported
// destroyed is terminated. Close is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return nil
	}
	kill := !s.attached && !s.destroyEmitted
	p := s.release()
	s.mu.Unlock()

	if p == nil {
		return nil
	}
	if kill {
		if err := p.Terminate(); err != nil {
			s.log.WithError(err).Warn("could not terminate debuggee")
		}
	}
	return p.Close()
}

// running returns the process for an execution command, or an error if
// the session cannot execute one. Must be called with s.mu held.
func (s *Session) running(op string) (proctl.Process, error) {
	if !s.state.hasProcess() || s.state == StateTerminating {
		return nil, &ProtocolViolation{Op: op, State: s.state}
	}
	return s.process, nil
}

// resumed records that the debuggee runs again. Must be called with s.mu
// held.
func (s *Session) resumed() {
	if s.state.executing() {
		s.state = StateRunning
	}
}

// Resume resumes every thread.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.running("Resume")
	if err != nil {
		return err
	}
	if err := p.Resume(); err != nil {
		return err
	}
	s.resumed()
	return nil
}

// Continue resumes a single thread, keeping its stepping state.
func (s *Session) Continue(threadID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.running("Continue")
	if err != nil {
		return err
	}
	th, err := s.threadByID(threadID)
	if err != nil {
		return err
	}
	if err := p.ResumeThread(th.Thread.ID); err != nil {
		return err
	}
	s.resumed()
	return nil
}

// ExecuteOnThread cancels any step in progress on the thread and resumes
// the program.
func (s *Session) ExecuteOnThread(threadID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.running("ExecuteOnThread")
	if err != nil {
		return err
	}
	th, err := s.threadByID(threadID)
	if err != nil {
		return err
	}
	if err := p.ClearSteppingState(th.Thread.ID); err != nil {
		return err
	}
	if err := p.Resume(); err != nil {
		return err
	}
	s.resumed()
	return nil
}

// CauseBreak asks the debuggee to stop. An AsyncBreakComplete event
// follows once it did.
func (s *Session) CauseBreak() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.running("CauseBreak")
	if err != nil {
		return err
	}
	return p.Break()
}

// Step starts a step on the thread. A StepComplete event follows.
func (s *Session) Step(threadID int, kind StepKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.running("Step")
	if err != nil {
		return err
	}
	th, err := s.threadByID(threadID)
	if err != nil {
		return err
	}
	switch kind {
	case StepInto:
		err = p.StepInto(th.Thread.ID)
	case StepOver:
		err = p.StepOver(th.Thread.ID)
	case StepOut:
		err = p.StepOut(th.Thread.ID)
	default:
		return fmt.Errorf("unknown step kind %v", kind)
	}
	if err != nil {
		return err
	}
	s.resumed()
	return nil
}

// Terminate kills the debuggee. The ProgramDestroy event follows when it
// exited.
func (s *Session) Terminate() (err error) {
	_, span := s.startSpan(context.Background(), "Terminate")
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.hasProcess() {
		return &ProtocolViolation{Op: "Terminate", State: s.state}
	}
	if s.state == StateTerminating {
		return nil
	}
	s.state = StateTerminating
	return s.process.Terminate()
}

// Detach stops debugging an attached process and lets it run. Bound
// breakpoints are removed first. Detaching from a launched process fails
// with ErrInvalidOperation.
func (s *Session) Detach() (err error) {
	_, span := s.startSpan(context.Background(), "Detach")
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.hasProcess() || s.state == StateTerminating {
		return &ProtocolViolation{Op: "Detach", State: s.state}
	}
	if !s.attached {
		return &ProtocolViolation{Op: "Detach", State: s.state, Err: ErrInvalidOperation}
	}
	if err := s.breakpoints.ClearBound(s.process); err != nil {
		s.log.WithError(err).Warn("could not remove breakpoints before detach")
	}
	s.state = StateTerminating
	return s.process.Detach()
}

// CanTerminateProcess reports whether pid is the debuggee of this session.
func (s *Session) CanTerminateProcess(pid int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.process != nil && s.pid == pid
}

// CanDetach reports whether Detach is allowed.
func (s *Session) CanDetach() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached && s.state.hasProcess() && s.state != StateTerminating
}

// Threads returns the live threads in creation order.
func (s *Session) Threads() []ThreadHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads.Snapshot()
}

// Modules returns the loaded modules in load order.
func (s *Session) Modules() []ModuleHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modules.Snapshot()
}

// Thread returns the thread with the session-local id.
func (s *Session) Thread(threadID int) (ThreadHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, err := s.threadByID(threadID)
	if err != nil {
		return ThreadHandle{}, err
	}
	return *th, nil
}

func (s *Session) threadByID(id int) (*ThreadHandle, error) {
	th, ok := s.threads.Find(func(th *ThreadHandle) bool { return th.ID == id })
	if !ok {
		return nil, fmt.Errorf("thread %d: %w", id, ErrNotFound)
	}
	return th, nil
}

// CodeContexts returns the debuggee positions for a source position.
func (s *Session) CodeContexts(file string, line int) []CodeContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.breakpoints.CodeContexts(file, line)
}

// SetBreakpoints replaces the breakpoints of file. The returned
// breakpoints are pending; BreakpointBound or BreakpointBindFailed events
// report the outcome.
func (s *Session) SetBreakpoints(file string, bps []SourceBreakpoint) ([]Breakpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p proctl.Process
	if s.state.hasProcess() && s.state != StateTerminating {
		p = s.process
	}
	return s.breakpoints.Replace(file, bps, p)
}

// SetExceptions sets the break mode of every listed category.
func (s *Session) SetExceptions(filters []ExceptionFilter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(filters) == 0 {
		return nil
	}
	for _, f := range filters {
		s.filters.Set(f.Category, f.Mode)
	}
	return s.pushFilters()
}

// RemoveExceptions removes the listed categories.
func (s *Session) RemoveExceptions(categories []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(categories) == 0 {
		return nil
	}
	for _, c := range categories {
		s.filters.Clear(c)
	}
	return s.pushFilters()
}

// RemoveAllExceptions removes every category and resets the default to
// stop on uncaught exceptions.
func (s *Session) RemoveAllExceptions() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters.ClearAll()
	return s.pushFilters()
}

// ExceptionFilters returns the default followed by every category entry.
func (s *Session) ExceptionFilters() []ExceptionFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.Filters()
}

// ResolveException returns the break mode that applies to category.
func (s *Session) ResolveException(category string) proctl.ExceptionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.Resolve(category)
}

// pushFilters sends the filter table to the debuggee, or remembers to do
// so once there is one. Must be called with s.mu held.
func (s *Session) pushFilters() error {
	if !s.state.hasProcess() {
		s.filtersDirty = true
		return nil
	}
	s.filtersDirty = false
	return s.process.SetExceptionInfo(s.filters.Default(), s.filters.Entries())
}
