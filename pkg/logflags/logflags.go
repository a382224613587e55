// Package logflags configures the per-layer loggers used throughout
// dbgcoord. Each layer can be switched on independently with the
// --log-output flag; layers that are switched off still report errors.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var engine = false
var dispatch = false
var dap = false
var proctl = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	} else {
		logger.Logger.Out = stderr()
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// Engine returns true if the session lifecycle should be logged.
func Engine() bool {
	return engine
}

// EngineLogger returns a logger for the session lifecycle controller.
func EngineLogger() Logger {
	return makeFlaggableLogger(engine, Fields{"layer": "engine"})
}

// Dispatch returns true if every debuggee notification and the event it
// produced should be logged.
func Dispatch() bool {
	return dispatch
}

// DispatchLogger returns a logger for the event dispatcher.
func DispatchLogger() Logger {
	return makeFlaggableLogger(dispatch, Fields{"layer": "engine", "kind": "dispatch"})
}

// DAP returns true if the DAP messages exchanged with the client should be
// logged.
func DAP() bool {
	return dap
}

// DAPLogger returns a logger for the DAP server.
func DAPLogger() Logger {
	return makeFlaggableLogger(dap, Fields{"layer": "dap"})
}

// Proctl returns true if process controller backends should log.
func Proctl() bool {
	return proctl
}

// ProctlLogger returns a logger for process controller backends.
func ProctlLogger() Logger {
	return makeFlaggableLogger(proctl, Fields{"layer": "proctl"})
}

// WriteDAPListeningMessage writes the "DAP server listening" message. It
// goes to stderr when the protocol itself runs over stdio.
func WriteDAPListeningMessage(addr net.Addr) {
	out := io.Writer(os.Stdout)
	if addr.Network() == "stdio" {
		out = os.Stderr
	}
	fmt.Fprintf(out, "DAP server listening at: %s\n", addr)
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the layer flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "dbgcoord-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "engine"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "engine":
			engine = true
		case "dispatch":
			dispatch = true
		case "dap":
			dap = true
		case "proctl":
			proctl = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'dbgcoord help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

func stderr() io.Writer {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return colorable.NewColorableStderr()
	}
	return os.Stderr
}

var textFormatterInstance = &logrus.TextFormatter{
	ForceColors:     isatty.IsTerminal(os.Stderr.Fd()),
	FullTimestamp:   true,
	TimestampFormat: "2006-01-02T15:04:05Z07:00",
}
