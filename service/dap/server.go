// Package dap implements VSCode's Debug Adaptor Protocol (DAP) on top of
// an engine.Session.
// The frontend starts dbgcoord in server mode listening on a port and
// communicates over TCP. Requests are processed one at a time on the
// connection goroutine; engine events and responses share a single
// outbox drained by a writer goroutine, so the client sees them in the
// order they happened.
// For DAP details see https://microsoft.github.io/debug-adapter-protocol.
package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"sync"

	"github.com/google/go-dap"

	"github.com/dbgcoord/dbgcoord/pkg/logflags"
	"github.com/dbgcoord/dbgcoord/pkg/proctl"
	"github.com/dbgcoord/dbgcoord/service"
	"github.com/dbgcoord/dbgcoord/service/engine"
)

// Exception filters offered to the client in the initialize response.
const (
	raisedFilter   = "raised"
	uncaughtFilter = "uncaught"
)

// Server implements a DAP server that can accept a single client for
// a single debug session. It does not support restarting.
// The server operates via three goroutines:
// (1) Main goroutine where the server is created via NewServer(),
// started via Run() and stopped via Stop().
// (2) Run goroutine started from Run() that accepts a client connection,
// reads, decodes and processes each request.
// (3) Writer goroutine that delivers queued responses and engine events
// to the client and reacts to the events that need a follow-up call into
// the session.
type Server struct {
	// config is all the information necessary to start the session and server.
	config *service.Config
	// listener is used to accept the client connection.
	listener net.Listener
	// stopChan is closed when the server is Stop()-ed. This can be used to signal
	// to goroutines run by the server that it's time to quit.
	stopChan chan struct{}
	// reader is used to read requests from the connection.
	reader *bufio.Reader
	// outbox holds messages and engine events for the writer goroutine.
	outbox *outbox
	// log is used for structured logging.
	log logflags.Logger
	// ctx is cancelled on Stop and bounds blocking launch and attach calls.
	ctx    context.Context
	cancel context.CancelFunc

	disconnectOnce sync.Once

	mu sync.Mutex
	// conn is the accepted client connection.
	conn net.Conn
	// session is created by the first launch or attach request.
	session *engine.Session
	// args tracks special settings for handling debug session requests.
	args launchAttachArgs
}

// launchAttachArgs captures arguments from launch/attach request that
// impact handling of subsequent requests.
type launchAttachArgs struct {
	// stopOnEntry is set to automatically stop the debuggee after start.
	stopOnEntry bool
	// entryPending is set while the break requested for stopOnEntry has
	// not been reported.
	entryPending bool
	// name is reported in the process event.
	name string
	// startMethod is "launch" or "attach".
	startMethod string
}

// NewServer creates a new DAP Server. It takes an opened Listener
// via config and assumes its ownership. config.DisconnectChan has to be set;
// it will be closed by the server when the client disconnects or requests
// shutdown. Once DisconnectChan is closed, Server.Stop() must be called.
func NewServer(config *service.Config) *Server {
	logger := logflags.DAPLogger()
	logflags.WriteDAPListeningMessage(config.Listener.Addr())
	logger.Debug("DAP server pid = ", os.Getpid())
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:   config,
		listener: config.Listener,
		stopChan: make(chan struct{}),
		outbox:   newOutbox(),
		log:      logger,
		ctx:      ctx,
		cancel:   cancel,
		args:     launchAttachArgs{stopOnEntry: config.StopOnEntry},
	}
}

var _ service.Server = (*Server)(nil)

// Stop stops the DAP debugger service, closes the listener and the client
// connection. It ends the debug session and kills the debuggee if it was
// launched by it. This method mustn't be called more than once.
func (s *Server) Stop() {
	s.listener.Close()
	close(s.stopChan)
	s.cancel()
	s.mu.Lock()
	conn, session := s.conn, s.session
	s.mu.Unlock()
	if conn != nil {
		// Unless Stop() was called after serveDAPCodec()
		// returned, this will result in closed connection error
		// on next read, breaking out of the read loop and
		// allowing the run goroutine to exit.
		conn.Close()
	}
	s.outbox.close()
	if session != nil {
		if err := session.Close(); err != nil {
			s.log.Error(err)
		}
	}
}

// signalDisconnect closes config.DisconnectChan if not nil, which
// signals that the client disconnected or there was a client
// connection failure. Since the server currently services only one
// client, this can be used as a signal to the entire server via
// Stop(). The function can be called multiple times from any goroutine.
func (s *Server) signalDisconnect() {
	s.disconnectOnce.Do(func() {
		if s.config.DisconnectChan != nil {
			close(s.config.DisconnectChan)
		}
	})
}

// Run launches a new goroutine where it accepts a client connection
// and starts processing requests from it. Use Stop() to close connection.
// The server does not support multiple clients, serially or in parallel.
// The server should be restarted for every new debug session.
// The debuggee won't be started until launch/attach request is received.
func (s *Server) Run() {
	go func() {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				s.log.Errorf("Error accepting client connection: %s\n", err)
			}
			s.signalDisconnect()
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		go s.writeLoop(conn)
		s.serveDAPCodec(conn)
	}()
}

// serveDAPCodec reads and decodes requests from the client
// until it encounters an error or EOF, when it sends
// the disconnect signal and returns.
func (s *Server) serveDAPCodec(conn net.Conn) {
	defer s.signalDisconnect()
	s.reader = bufio.NewReader(conn)
	for {
		request, err := dap.ReadProtocolMessage(s.reader)
		if err != nil {
			stopRequested := false
			select {
			case <-s.stopChan:
				stopRequested = true
			default:
			}
			if err != io.EOF && !stopRequested {
				s.log.Error("DAP error: ", err)
			}
			return
		}
		s.handleRequest(request)
	}
}

// writeLoop delivers the outbox to the client until the outbox is closed.
func (s *Server) writeLoop(conn net.Conn) {
	for {
		v, ok := s.outbox.pop()
		if !ok {
			return
		}
		switch v := v.(type) {
		case dap.Message:
			s.write(conn, v)
		case engine.Event:
			s.onEngineEvent(conn, v)
		case func():
			v()
		}
	}
}

func (s *Server) write(conn net.Conn, message dap.Message) {
	if logflags.DAP() {
		jsonmsg, _ := json.Marshal(message)
		s.log.Debug("[-> to client]", string(jsonmsg))
	}
	if err := dap.WriteProtocolMessage(conn, message); err != nil {
		select {
		case <-s.stopChan:
		default:
			s.log.Errorf("could not send %T: %v", message, err)
		}
	}
}

// send queues a message for the client.
func (s *Server) send(message dap.Message) {
	if !s.outbox.push(message) {
		s.log.Debugf("dropped %T after stop", message)
	}
}

// Event implements engine.EventSink. It is called with the session lock
// held, so it only queues the event.
func (s *Server) Event(ev engine.Event) error {
	if !s.outbox.push(ev) {
		return errors.New("DAP server stopped")
	}
	return nil
}

func (s *Server) handleRequest(request dap.Message) {
	defer func() {
		// In case a handler panics, we catch the panic and send an error response
		// back to the client.
		if ierr := recover(); ierr != nil {
			s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("%v", ierr))
		}
	}()

	if logflags.DAP() {
		jsonmsg, _ := json.Marshal(request)
		s.log.Debug("[<- from client]", string(jsonmsg))
	}

	switch request := request.(type) {
	case *dap.InitializeRequest:
		// Required
		s.onInitializeRequest(request)
	case *dap.LaunchRequest:
		// Required
		s.onLaunchRequest(request)
	case *dap.AttachRequest:
		// Required
		s.onAttachRequest(request)
	case *dap.DisconnectRequest:
		// Required
		s.onDisconnectRequest(request)
	case *dap.TerminateRequest:
		// Optional (capability ‘supportsTerminateRequest‘)
		s.onTerminateRequest(request)
	case *dap.SetBreakpointsRequest:
		// Required
		s.onSetBreakpointsRequest(request)
	case *dap.SetExceptionBreakpointsRequest:
		// Optional (capability ‘exceptionBreakpointFilters’)
		s.onSetExceptionBreakpointsRequest(request)
	case *dap.ConfigurationDoneRequest:
		// Optional (capability ‘supportsConfigurationDoneRequest’)
		s.onConfigurationDoneRequest(request)
	case *dap.ContinueRequest:
		// Required
		s.onContinueRequest(request)
	case *dap.NextRequest:
		// Required
		s.onNextRequest(request)
	case *dap.StepInRequest:
		// Required
		s.onStepInRequest(request)
	case *dap.StepOutRequest:
		// Required
		s.onStepOutRequest(request)
	case *dap.PauseRequest:
		// Required
		s.onPauseRequest(request)
	case *dap.ThreadsRequest:
		// Required
		s.onThreadsRequest(request)
	case *dap.ModulesRequest:
		// Optional (capability ‘supportsModulesRequest’)
		s.onModulesRequest(request)
	case *dap.BreakpointLocationsRequest:
		// Optional (capability ‘supportsBreakpointLocationsRequest’)
		s.onBreakpointLocationsRequest(request)
	case *dap.RestartRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SetFunctionBreakpointsRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.StepBackRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.ReverseContinueRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.RestartFrameRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.GotoRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.StackTraceRequest:
		// Frames are produced by the in-process debugger script, which does
		// not report them through the process controller.
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.ScopesRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.VariablesRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SetVariableRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SetExpressionRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SourceRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.TerminateThreadsRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.EvaluateRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.StepInTargetsRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.GotoTargetsRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.CompletionsRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.ExceptionInfoRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.LoadedSourcesRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.DataBreakpointInfoRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SetDataBreakpointsRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.ReadMemoryRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.DisassembleRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.CancelRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	default:
		// This is a DAP message that go-dap has a struct for, so
		// decoding succeeded, but this function does not know how
		// to handle.
		s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("Unable to process %#v\n", request))
	}
}

func (s *Server) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{Response: *newResponse(request.Request)}
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsConditionalBreakpoints = true
	response.Body.SupportsTerminateRequest = true
	response.Body.SupportTerminateDebuggee = true
	response.Body.SupportsModulesRequest = true
	response.Body.SupportsBreakpointLocationsRequest = true
	response.Body.SupportsExceptionOptions = true
	response.Body.ExceptionBreakpointFilters = []dap.ExceptionBreakpointsFilter{
		{Filter: raisedFilter, Label: "Raised Exceptions"},
		{Filter: uncaughtFilter, Label: "Uncaught Exceptions", Default: true},
	}
	s.send(response)
}

// getSession returns the session created by launch or attach, or nil.
func (s *Server) getSession() *engine.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// startSession returns the session, creating it on first use. common
// carries the per-request settings.
func (s *Server) startSession(common LaunchAttachCommonConfig, name, method string) (*engine.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if common.StopOnEntry != nil {
		s.args.stopOnEntry = *common.StopOnEntry
	}
	s.args.name = name
	s.args.startMethod = method
	if s.session != nil {
		return s.session, nil
	}
	rules := append(s.config.SubstitutePath[:len(s.config.SubstitutePath):len(s.config.SubstitutePath)], substitutePathRules(common.SubstitutePath)...)
	session, err := engine.NewSession(engine.Config{
		Launcher:             s.config.Launcher,
		Sink:                 s,
		DefaultVersion:       s.config.DefaultVersion,
		ExceptionMode:        s.config.ExceptionMode,
		SubstitutePath:       rules,
		CodeContextCacheSize: s.config.CodeContextCacheSize,
	})
	if err != nil {
		return nil, err
	}
	s.session = session
	return session, nil
}

func (s *Server) onLaunchRequest(request *dap.LaunchRequest) {
	var args LaunchConfig
	if err := unmarshalLaunchAttachArgs(request.Arguments, &args); err != nil {
		s.sendShowUserErrorResponse(request.Request, FailedToLaunch, "Failed to launch", err.Error())
		return
	}
	if args.Program == "" {
		s.sendShowUserErrorResponse(request.Request,
			FailedToLaunch, "Failed to launch",
			"The program attribute is missing in debug configuration.")
		return
	}

	session, err := s.startSession(args.LaunchAttachCommonConfig, args.Program, "launch")
	if err != nil {
		s.sendInternalErrorResponse(request.Seq, err.Error())
		return
	}
	err = session.Launch(s.ctx, engine.LaunchRequest{
		Executable: args.Program,
		Args:       args.Args,
		WorkingDir: args.Cwd,
		Env:        envList(args.Env),
		Options:    args.Options,
	})
	if err != nil {
		s.sendShowUserErrorResponse(request.Request, FailedToLaunch, "Failed to launch", err.Error())
		return
	}

	// Notify the client that the debugger is ready to start accepting
	// configuration requests for setting breakpoints, etc. The client
	// will end the configuration sequence with 'configurationDone'.
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	s.send(&dap.LaunchResponse{Response: *newResponse(request.Request)})
}

// envList converts the env attribute into KEY=value pairs, sorted by key.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list := make([]string, len(keys))
	for i, k := range keys {
		list[i] = k + "=" + env[k]
	}
	return list
}

func (s *Server) onAttachRequest(request *dap.AttachRequest) {
	var args AttachConfig
	if err := unmarshalLaunchAttachArgs(request.Arguments, &args); err != nil {
		s.sendShowUserErrorResponse(request.Request, FailedtoAttach, "Failed to attach", err.Error())
		return
	}
	if args.ProcessID == 0 {
		s.sendShowUserErrorResponse(request.Request, FailedtoAttach, "Failed to attach",
			"The 'processId' attribute is missing in debug configuration")
		return
	}
	session, err := s.startSession(args.LaunchAttachCommonConfig, fmt.Sprintf("process %d", args.ProcessID), "attach")
	if err != nil {
		s.sendInternalErrorResponse(request.Seq, err.Error())
		return
	}
	if err := session.Attach(s.ctx, args.ProcessID); err != nil {
		s.sendShowUserErrorResponse(request.Request, FailedtoAttach, "Failed to attach", err.Error())
		return
	}
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	s.send(&dap.AttachResponse{Response: *newResponse(request.Request)})
}

// onDisconnectRequest handles the DisconnectRequest. Per the DAP spec,
// it disconnects the debuggee and signals that the debug adaptor
// (in our case this TCP server) can be terminated.
func (s *Server) onDisconnectRequest(request *dap.DisconnectRequest) {
	if session := s.getSession(); session != nil {
		if session.Attached() && session.CanDetach() {
			var err error
			if request.Arguments != nil && request.Arguments.TerminateDebuggee {
				err = session.Terminate()
			} else {
				err = session.Detach()
			}
			if err != nil {
				s.log.Error(err)
			}
		}
		// Close terminates a launched debuggee.
		if err := session.Close(); err != nil {
			s.log.Error(err)
		}
	}
	s.send(&dap.DisconnectResponse{Response: *newResponse(request.Request)})
	s.outbox.push(s.signalDisconnect)
}

func (s *Server) onTerminateRequest(request *dap.TerminateRequest) {
	session := s.getSession()
	if session == nil {
		s.sendErrorResponse(request.Request, FailedToTerminate, "Unable to terminate", "no debug session")
		return
	}
	if err := session.Terminate(); err != nil {
		s.sendErrorResponse(request.Request, FailedToTerminate, "Unable to terminate", err.Error())
		return
	}
	s.send(&dap.TerminateResponse{Response: *newResponse(request.Request)})
}

func (s *Server) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	session := s.getSession()
	if session == nil {
		s.sendErrorResponse(request.Request, UnableToSetBreakpoints, "Unable to set or clear breakpoints", "no debug session")
		return
	}
	path := request.Arguments.Source.Path
	if path == "" {
		s.sendErrorResponse(request.Request, UnableToSetBreakpoints, "Unable to set or clear breakpoints", "empty file path")
		return
	}
	bps := make([]engine.SourceBreakpoint, len(request.Arguments.Breakpoints))
	for i, b := range request.Arguments.Breakpoints {
		bps[i] = engine.SourceBreakpoint{Line: b.Line, Condition: b.Condition}
	}
	got, err := session.SetBreakpoints(path, bps)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToSetBreakpoints, "Unable to set or clear breakpoints", err.Error())
		return
	}
	response := &dap.SetBreakpointsResponse{Response: *newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(got))
	for i, bp := range got {
		response.Body.Breakpoints[i] = convertBreakpoint(bp)
	}
	s.send(response)
}

func convertBreakpoint(bp engine.Breakpoint) dap.Breakpoint {
	return dap.Breakpoint{
		Id:       int(bp.ID),
		Verified: bp.Verified,
		Message:  bp.Message,
		Line:     bp.Line,
	}
}

func (s *Server) onSetExceptionBreakpointsRequest(request *dap.SetExceptionBreakpointsRequest) {
	session := s.getSession()
	if session == nil {
		s.sendErrorResponse(request.Request, UnableToSetExceptions, "Unable to set exception breakpoints", "no debug session")
		return
	}
	filters, err := exceptionFilters(request.Arguments.Filters, request.Arguments.ExceptionOptions)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToSetExceptions, "Unable to set exception breakpoints", err.Error())
		return
	}

	// Categories that are no longer listed fall back to the default.
	keep := make(map[string]bool, len(filters))
	for _, f := range filters {
		keep[f.Category] = true
	}
	var stale []string
	for _, f := range session.ExceptionFilters() {
		if f.Category != engine.RootExceptionCategory && !keep[f.Category] {
			stale = append(stale, f.Category)
		}
	}
	if err := session.RemoveExceptions(stale); err != nil {
		s.log.WithError(err).Warn("could not remove exception filters")
	}
	if err := session.SetExceptions(filters); err != nil {
		s.sendErrorResponse(request.Request, UnableToSetExceptions, "Unable to set exception breakpoints", err.Error())
		return
	}
	s.send(&dap.SetExceptionBreakpointsResponse{Response: *newResponse(request.Request)})
}

// exceptionFilters converts the filter ids and exception options of a
// setExceptionBreakpoints request. The first entry always sets the
// default mode.
func exceptionFilters(ids []string, options []dap.ExceptionOptions) ([]engine.ExceptionFilter, error) {
	def := proctl.BreakNever
	for _, id := range ids {
		switch id {
		case raisedFilter:
			def |= proctl.BreakAlways
		case uncaughtFilter:
			def |= proctl.BreakUnhandled
		default:
			return nil, fmt.Errorf("unknown exception filter %q", id)
		}
	}
	filters := []engine.ExceptionFilter{{Category: engine.RootExceptionCategory, Mode: def}}
	for _, opt := range options {
		mode, err := breakMode(string(opt.BreakMode))
		if err != nil {
			return nil, err
		}
		for _, seg := range opt.Path {
			if seg.Negate {
				continue
			}
			for _, name := range seg.Names {
				filters = append(filters, engine.ExceptionFilter{Category: name, Mode: mode})
			}
		}
	}
	return filters, nil
}

func breakMode(mode string) (proctl.ExceptionMode, error) {
	switch mode {
	case "never":
		return proctl.BreakNever, nil
	case "always":
		return proctl.BreakAlways, nil
	case "unhandled", "userUnhandled":
		return proctl.BreakUnhandled, nil
	}
	return 0, fmt.Errorf("unknown break mode %q", mode)
}

func (s *Server) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	session := s.getSession()
	if session == nil {
		s.sendErrorResponse(request.Request, UnableToStartSession, "Unable to start debugging", "no debug session")
		return
	}
	if err := session.ProgramCreated(); err != nil {
		s.sendErrorResponse(request.Request, UnableToStartSession, "Unable to start debugging", err.Error())
		return
	}
	s.mu.Lock()
	stopOnEntry := s.args.stopOnEntry
	s.mu.Unlock()
	if !stopOnEntry {
		if err := session.Resume(); err != nil {
			s.log.WithError(err).Warn("could not resume debuggee")
		}
	}
	s.send(&dap.ConfigurationDoneResponse{Response: *newResponse(request.Request)})
}

func (s *Server) onContinueRequest(request *dap.ContinueRequest) {
	session := s.getSession()
	if session == nil {
		s.sendErrorResponse(request.Request, UnableToContinue, "Unable to continue", "no debug session")
		return
	}
	var err error
	switch {
	case request.Arguments.SingleThread:
		err = session.Continue(request.Arguments.ThreadId)
	default:
		err = session.ExecuteOnThread(request.Arguments.ThreadId)
		if errors.Is(err, engine.ErrNotFound) {
			err = session.Resume()
		}
	}
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToContinue, "Unable to continue", err.Error())
		return
	}
	response := &dap.ContinueResponse{Response: *newResponse(request.Request)}
	response.Body.AllThreadsContinued = !request.Arguments.SingleThread
	s.send(response)
}

func (s *Server) step(request dap.Request, threadID int, kind engine.StepKind) bool {
	session := s.getSession()
	if session == nil {
		s.sendErrorResponse(request, UnableToStep, "Unable to step", "no debug session")
		return false
	}
	if err := session.Step(threadID, kind); err != nil {
		s.sendErrorResponse(request, UnableToStep, "Unable to step", err.Error())
		return false
	}
	return true
}

func (s *Server) onNextRequest(request *dap.NextRequest) {
	if s.step(request.Request, request.Arguments.ThreadId, engine.StepOver) {
		s.send(&dap.NextResponse{Response: *newResponse(request.Request)})
	}
}

func (s *Server) onStepInRequest(request *dap.StepInRequest) {
	if s.step(request.Request, request.Arguments.ThreadId, engine.StepInto) {
		s.send(&dap.StepInResponse{Response: *newResponse(request.Request)})
	}
}

func (s *Server) onStepOutRequest(request *dap.StepOutRequest) {
	if s.step(request.Request, request.Arguments.ThreadId, engine.StepOut) {
		s.send(&dap.StepOutResponse{Response: *newResponse(request.Request)})
	}
}

func (s *Server) onPauseRequest(request *dap.PauseRequest) {
	session := s.getSession()
	if session == nil {
		s.sendErrorResponse(request.Request, UnableToPause, "Unable to pause", "no debug session")
		return
	}
	if err := session.CauseBreak(); err != nil {
		s.sendErrorResponse(request.Request, UnableToPause, "Unable to pause", err.Error())
		return
	}
	s.send(&dap.PauseResponse{Response: *newResponse(request.Request)})
}

func (s *Server) onThreadsRequest(request *dap.ThreadsRequest) {
	var threads []dap.Thread
	if session := s.getSession(); session != nil {
		for _, th := range session.Threads() {
			name := th.Thread.Name
			if name == "" {
				name = fmt.Sprintf("Thread %d", th.Thread.ID)
			}
			threads = append(threads, dap.Thread{Id: th.ID, Name: name})
		}
	}
	if len(threads) == 0 {
		// The DAP spec states that "even if a debug adapter does not
		// support multiple threads, it must implement the threads request
		// and return a single (dummy) thread".
		threads = []dap.Thread{{Id: 1, Name: "Dummy"}}
	}
	response := &dap.ThreadsResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ThreadsResponseBody{Threads: threads},
	}
	s.send(response)
}

func (s *Server) onModulesRequest(request *dap.ModulesRequest) {
	var mods []engine.ModuleHandle
	if session := s.getSession(); session != nil {
		mods = session.Modules()
	}
	total := len(mods)
	start := request.Arguments.StartModule
	if start > total {
		start = total
	}
	end := total
	if n := request.Arguments.ModuleCount; n > 0 {
		end = min(start+n, total)
	}
	response := &dap.ModulesResponse{Response: *newResponse(request.Request)}
	response.Body.TotalModules = total
	response.Body.Modules = make([]dap.Module, 0, end-start)
	for _, m := range mods[start:end] {
		response.Body.Modules = append(response.Body.Modules, convertModule(m))
	}
	s.send(response)
}

func convertModule(m engine.ModuleHandle) dap.Module {
	return dap.Module{Id: m.ID, Name: m.Module.Name, Path: m.Module.Filename}
}

func (s *Server) onBreakpointLocationsRequest(request *dap.BreakpointLocationsRequest) {
	session := s.getSession()
	if session == nil {
		s.sendErrorResponse(request.Request, UnableToLocateBreakpoint, "Unable to find breakpoint locations", "no debug session")
		return
	}
	path := request.Arguments.Source.Path
	first, last := request.Arguments.Line, request.Arguments.EndLine
	if last < first {
		last = first
	}
	response := &dap.BreakpointLocationsResponse{Response: *newResponse(request.Request)}
	response.Body.Breakpoints = []dap.BreakpointLocation{}
	for line := first; line <= last; line++ {
		for _, cc := range session.CodeContexts(path, line) {
			response.Body.Breakpoints = append(response.Body.Breakpoints, dap.BreakpointLocation{Line: cc.Line})
		}
	}
	s.send(response)
}

// onEngineEvent runs on the writer goroutine, outside the session lock.
func (s *Server) onEngineEvent(conn net.Conn, ev engine.Event) {
	s.mu.Lock()
	session := s.session
	args := s.args
	switch ev.Kind {
	case engine.LoadComplete:
		s.args.entryPending = args.stopOnEntry
	case engine.AsyncBreakComplete:
		s.args.entryPending = false
	}
	s.mu.Unlock()

	for _, m := range convertEvent(ev, args, session) {
		s.write(conn, m)
	}

	switch ev.Kind {
	case engine.LoadComplete:
		if args.stopOnEntry && session != nil {
			if err := session.CauseBreak(); err != nil {
				s.log.WithError(err).Warn("could not stop on entry")
			}
		}
	case engine.ProgramDestroy:
		// exited and terminated are on the wire, the program is gone for
		// the client.
		if session != nil {
			if err := session.ProgramDestroyed(); err != nil {
				s.log.Error(err)
			}
		}
	}
}

// convertEvent returns the DAP messages reporting ev. Some engine events
// have no DAP counterpart.
func convertEvent(ev engine.Event, args launchAttachArgs, session *engine.Session) []dap.Message {
	switch ev.Kind {
	case engine.ProgramCreated:
		e := &dap.ProcessEvent{Event: *newEvent("process")}
		e.Body.Name = args.name
		e.Body.IsLocalProcess = true
		e.Body.StartMethod = args.startMethod
		if session != nil {
			e.Body.SystemProcessId = session.Pid()
		}
		return []dap.Message{e}
	case engine.ModuleLoad:
		e := &dap.ModuleEvent{Event: *newEvent("module")}
		e.Body.Reason = "new"
		e.Body.Module = convertModule(ev.Module)
		return []dap.Message{e}
	case engine.ThreadStart:
		return []dap.Message{threadEvent("started", ev.Thread.ID)}
	case engine.ThreadDestroy:
		return []dap.Message{threadEvent("exited", ev.Thread.ID)}
	case engine.BreakpointHit:
		e := stoppedEvent("breakpoint", ev.Thread.ID)
		for _, bp := range ev.Breakpoints {
			e.Body.HitBreakpointIds = append(e.Body.HitBreakpointIds, int(bp.ID))
		}
		return []dap.Message{e}
	case engine.BreakpointBound, engine.BreakpointBindFailed:
		var msgs []dap.Message
		for _, bp := range ev.Breakpoints {
			e := &dap.BreakpointEvent{Event: *newEvent("breakpoint")}
			e.Body.Reason = "changed"
			e.Body.Breakpoint = convertBreakpoint(bp)
			msgs = append(msgs, e)
		}
		return msgs
	case engine.Exception:
		e := stoppedEvent("exception", ev.Thread.ID)
		e.Body.Description = ev.Exception.Category
		e.Body.Text = ev.Message
		return []dap.Message{e}
	case engine.AsyncBreakComplete:
		reason := "pause"
		if args.entryPending {
			reason = "entry"
		}
		return []dap.Message{stoppedEvent(reason, ev.Thread.ID)}
	case engine.StepComplete:
		return []dap.Message{stoppedEvent("step", ev.Thread.ID)}
	case engine.DebugOutput:
		e := &dap.OutputEvent{Event: *newEvent("output")}
		e.Body.Category = "stdout"
		e.Body.Output = ev.Message
		return []dap.Message{e}
	case engine.ProgramDestroy:
		exited := &dap.ExitedEvent{Event: *newEvent("exited")}
		exited.Body.ExitCode = ev.ExitCode
		return []dap.Message{exited, &dap.TerminatedEvent{Event: *newEvent("terminated")}}
	}
	return nil
}

func threadEvent(reason string, id int) *dap.ThreadEvent {
	e := &dap.ThreadEvent{Event: *newEvent("thread")}
	e.Body.Reason = reason
	e.Body.ThreadId = id
	return e
}

func stoppedEvent(reason string, threadID int) *dap.StoppedEvent {
	e := &dap.StoppedEvent{Event: *newEvent("stopped")}
	e.Body.Reason = reason
	e.Body.ThreadId = threadID
	e.Body.AllThreadsStopped = true
	return e
}

func (s *Server) sendErrorResponseWithOpts(request dap.Request, id int, summary, details string, showUser bool) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.Command = request.Command
	er.RequestSeq = request.Seq
	er.Success = false
	er.Message = summary
	er.Body.Error = &dap.ErrorMessage{
		Id:       id,
		Format:   fmt.Sprintf("%s: %s", summary, details),
		ShowUser: showUser,
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

func (s *Server) sendErrorResponse(request dap.Request, id int, summary, details string) {
	s.sendErrorResponseWithOpts(request, id, summary, details, false)
}

// sendShowUserErrorResponse sends an error response the client displays
// to the user, used for launch and attach failures.
func (s *Server) sendShowUserErrorResponse(request dap.Request, id int, summary, details string) {
	s.sendErrorResponseWithOpts(request, id, summary, details, true)
}

// sendInternalErrorResponse sends an "internal error" response back to the client.
// We only take a seq here because we don't want to make assumptions about the
// kind of message received by the server that this error is a reply to.
func (s *Server) sendInternalErrorResponse(seq int, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.RequestSeq = seq
	er.Success = false
	er.Message = "Internal Error"
	er.Body.Error = &dap.ErrorMessage{
		Id:     InternalError,
		Format: fmt.Sprintf("%s: %s", er.Message, details),
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

func (s *Server) sendUnsupportedErrorResponse(request dap.Request) {
	s.sendErrorResponse(request, UnsupportedCommand, "Unsupported command",
		fmt.Sprintf("cannot process '%s' request", request.Command))
}

func newResponse(request dap.Request) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    request.Command,
		RequestSeq: request.Seq,
		Success:    true,
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}
