package cmds

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dbgcoord/dbgcoord/cmd/dbgcoord/cmds/helphelpers"
	"github.com/dbgcoord/dbgcoord/pkg/config"
	"github.com/dbgcoord/dbgcoord/pkg/logflags"
	"github.com/dbgcoord/dbgcoord/pkg/proctl"
	"github.com/dbgcoord/dbgcoord/pkg/proctl/native"
	"github.com/dbgcoord/dbgcoord/pkg/telemetry"
	"github.com/dbgcoord/dbgcoord/pkg/version"
	"github.com/dbgcoord/dbgcoord/service"
	"github.com/dbgcoord/dbgcoord/service/dap"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// addr is the debugging server listen address.
	addr string
	// exceptionMode overrides the exception-mode of the config file.
	exceptionMode exceptionModeFlag
	// interpreter overrides the interpreter lookup of launches.
	interpreter string
	// tty runs launched programs on a pseudo-terminal.
	tty bool
	// stdio serves the protocol on stdin/stdout instead of a TCP listener.
	stdio bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const dbgcoordCommandLongDesc = `dbgcoord is a debug engine for interpreted programs.

It sits between a debugger front end speaking the Debug Adapter Protocol and
the process controller running the program: it tracks the program lifecycle,
its threads and modules, exception break settings and breakpoints, and
forwards debuggee events to the front end in a consistent order.`

// exceptionModeFlag is a pflag.Value for proctl.ExceptionMode.
type exceptionModeFlag struct {
	mode proctl.ExceptionMode
	set  bool
}

func (f *exceptionModeFlag) String() string {
	if !f.set {
		return ""
	}
	return f.mode.String()
}

func (f *exceptionModeFlag) Set(s string) error {
	m, err := proctl.ParseExceptionMode(s)
	if err != nil {
		return err
	}
	f.mode, f.set = m, true
	return nil
}

func (f *exceptionModeFlag) Type() string { return "mode" }

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()
	exceptionMode = exceptionModeFlag{}

	listenDefault := "127.0.0.1:0"
	if conf.Listen != "" {
		listenDefault = conf.Listen
	}

	// Main dbgcoord root command.
	rootCommand = &cobra.Command{
		Use:          "dbgcoord",
		Short:        "dbgcoord is a debug engine speaking the Debug Adapter Protocol.",
		Long:         dbgcoordCommandLongDesc,
		SilenceUsage: true,
	}

	rootCommand.PersistentFlags().StringVarP(&addr, "listen", "l", listenDefault, "Debugging server listen address.")
	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugging server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", conf.LogOutput, `Comma separated list of components that should produce debug output (see 'dbgcoord help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'dbgcoord help log').")

	// 'dap' subcommand.
	dapCommand := &cobra.Command{
		Use:   "dap",
		Short: "Starts a TCP server communicating via Debug Adaptor Protocol (DAP).",
		Long: `Starts a TCP server communicating via Debug Adaptor Protocol (DAP).

The server accepts a single client connection. The program is started by a
launch request, or an already running process is monitored after an attach
request. The server exits when the client disconnects.

Launch requests accept an "options" string in the launch option syntax:

	VERSION=V27;REDIRECT_OUTPUT=true;DIR_MAPPING=/src|/remote/src

A literal semicolon inside a value is written as ";;".`,
		Args: cobra.NoArgs,
		RunE: dapCmd,
	}
	dapCommand.Flags().Var(&exceptionMode, "exception-mode", "Initial exception break mode: never, raised, uncaught or raised|uncaught.")
	dapCommand.Flags().StringVar(&interpreter, "interpreter", "", "Interpreter executable for launched programs (default: looked up from the language version).")
	dapCommand.Flags().BoolVar(&tty, "tty", false, "Run launched programs on a pseudo-terminal.")
	dapCommand.Flags().BoolVar(&stdio, "stdio", false, "Communicate over stdin/stdout instead of listening on --listen. Program output goes to stderr.")
	rootCommand.AddCommand(dapCommand)

	// 'version' subcommand.
	var versionVerbose = false
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dbgcoord\n%s\n", version.DbgcoordVersion)
			if versionVerbose {
				fmt.Fprintf(cmd.OutOrStdout(), "Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	engine		Log session lifecycle and engine operations
	dispatch	Log debuggee notifications and the events they produce
	dap		Log all DAP messages
	proctl		Log the process controller

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

Tracing spans for session operations are exported over OTLP/HTTP when
` + telemetry.EndpointEnv + ` is set to a collector URL.
`,
	})

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func dapCmd(cmd *cobra.Command, args []string) error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()

	shutdown, err := telemetry.Setup(context.Background(), "dbgcoord")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: tracing disabled: %v\n", err)
	}
	defer shutdown(context.Background())

	var listener net.Listener
	if stdio {
		listener = service.StdioListener(os.Stdin, os.Stdout)
	} else {
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("couldn't start listener: %w", err)
		}
	}
	disconnectChan := make(chan struct{})
	sconf, err := serviceConfig(conf, listener, disconnectChan)
	if err != nil {
		listener.Close()
		return err
	}
	server := dap.NewServer(sconf)
	defer server.Stop()

	server.Run()
	waitForDisconnectSignal(disconnectChan)
	return nil
}

// serviceConfig combines the config file with the command line flags.
func serviceConfig(conf *config.Config, listener net.Listener, disconnectChan chan struct{}) (*service.Config, error) {
	launcher := &native.Launcher{Interpreter: interpreter, TTY: tty}
	if stdio {
		launcher.Stdout = os.Stderr
	}
	sconf := &service.Config{
		Listener:             listener,
		Launcher:             launcher,
		DefaultVersion:       proctl.DefaultVersion,
		SubstitutePath:       conf.SubstitutePath,
		CodeContextCacheSize: conf.CacheSize(),
		StopOnEntry:          conf.StopOnEntry,
		DisconnectChan:       disconnectChan,
	}
	if conf.DefaultVersion != "" {
		v, err := proctl.ParseLanguageVersion(conf.DefaultVersion)
		if err != nil {
			return nil, fmt.Errorf("default-version: %w", err)
		}
		sconf.DefaultVersion = v
	}
	switch {
	case exceptionMode.set:
		m := exceptionMode.mode
		sconf.ExceptionMode = &m
	case conf.ExceptionMode != "":
		m, err := proctl.ParseExceptionMode(conf.ExceptionMode)
		if err != nil {
			return nil, fmt.Errorf("exception-mode: %w", err)
		}
		sconf.ExceptionMode = &m
	}
	return sconf, nil
}

// waitForDisconnectSignal is a blocking function that waits for either
// a SIGINT (Ctrl-C) signal from the OS or for disconnectChan to be closed
// by the server when the client disconnects.
func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	if runtime.GOOS == "windows" {
		// On windows Ctrl-C sent to the debuggee is also delivered to us.
		// Ignore it instead of stopping the server.
		<-disconnectChan
		return
	}
	select {
	case <-ch:
	case <-disconnectChan:
	}
}
