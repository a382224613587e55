// Package native is a process controller that runs the debuggee as a
// plain interpreter child process.
//
// It does not trace the interpreter: stepping is not supported and
// breakpoints never bind. It reports the process, its main thread and its
// main module, forwards output, and implements break/resume with job
// control signals.
package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cosiner/argv"

	"github.com/dbgcoord/dbgcoord/pkg/config"
	"github.com/dbgcoord/dbgcoord/pkg/logflags"
	"github.com/dbgcoord/dbgcoord/pkg/proctl"
)

const defaultPollInterval = 500 * time.Millisecond

// MainModuleName is the name reported for the script being run.
const MainModuleName = "__main__"

// Launcher implements proctl.Launcher.
type Launcher struct {
	// Interpreter is the interpreter executable. When empty it is looked
	// up on PATH from the requested version: pythonX.Y, then pythonX.
	Interpreter string
	// TTY runs launched debuggees on a pseudo-terminal.
	TTY bool
	// PollInterval is how often attached processes are checked for exit.
	PollInterval time.Duration
	// Stdout receives the output of launched programs whose output is not
	// redirected to the debugger. Defaults to os.Stdout.
	Stdout io.Writer
}

var _ proctl.Launcher = (*Launcher)(nil)

func (l *Launcher) stdout() io.Writer {
	if l.Stdout == nil {
		return os.Stdout
	}
	return l.Stdout
}

func (l *Launcher) pollInterval() time.Duration {
	if l.PollInterval <= 0 {
		return defaultPollInterval
	}
	return l.PollInterval
}

// Launch starts cfg.Executable under the interpreter.
func (l *Launcher) Launch(ctx context.Context, cfg proctl.LaunchConfig) (proctl.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	interp, err := l.interpreter(cfg.Version)
	if err != nil {
		return nil, err
	}
	args, err := splitArgs(cfg.Args)
	if err != nil {
		return nil, err
	}
	cmdArgs := config.SplitQuotedFields(cfg.InterpreterOptions, '"')
	cmdArgs = append(cmdArgs, cfg.Executable)
	cmdArgs = append(cmdArgs, args...)

	cmd := exec.Command(interp, cmdArgs...)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = append(os.Environ(), cfg.Env...)

	log := logflags.ProctlLogger()
	if cfg.Options&(proctl.WaitOnAbnormalExit|proctl.WaitOnNormalExit) != 0 {
		log.Debugf("exit prompts are not supported, ignoring options %#x", uint32(cfg.Options))
	}

	redirect := cfg.Options&proctl.RedirectOutput != 0
	var (
		outputs []io.Reader
		tty     *os.File
	)
	switch {
	case l.TTY:
		tty, err = startTTY(cmd)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, tty)
	case redirect:
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, stdout, stderr)
		err = cmd.Start()
		if err != nil {
			return nil, err
		}
	default:
		cmd.Stdout = l.stdout()
		cmd.Stderr = os.Stderr
		err = cmd.Start()
		if err != nil {
			return nil, err
		}
	}

	p := newProcess(cmd.Process.Pid, cmd, log)
	p.tty = tty
	p.stdout = l.stdout()
	log.WithField("pid", p.pid).Debugf("launched %s %s", interp, strings.Join(cmdArgs, " "))

	filename := cfg.Executable
	if !filepath.IsAbs(filename) {
		if abs, err := filepath.Abs(filepath.Join(cfg.WorkingDir, filename)); err == nil {
			filename = abs
		}
	}
	p.announce(proctl.Module{ID: 1, Name: MainModuleName, Filename: filename})
	go p.wait(outputs, redirect)
	return p, nil
}

// Attach starts monitoring an already running process. The pid is probed
// first so missing processes and processes owned by someone else are
// reported with a classified *proctl.AttachError.
func (l *Launcher) Attach(ctx context.Context, pid int) (proctl.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pid <= 0 {
		return nil, &proctl.AttachError{Reason: proctl.ProcessNotFound}
	}
	if err := probe(pid); err != nil {
		return nil, err
	}
	log := logflags.ProctlLogger()
	p := newProcess(pid, nil, log)
	log.WithField("pid", pid).Debug("attached")
	p.announce(proctl.Module{ID: 1, Name: MainModuleName})
	go p.poll(l.pollInterval())
	return p, nil
}

func (l *Launcher) interpreter(v proctl.LanguageVersion) (string, error) {
	if l.Interpreter != "" {
		return l.Interpreter, nil
	}
	if v.IsZero() {
		v = proctl.DefaultVersion
	}
	candidates := []string{
		fmt.Sprintf("python%d.%d", v.Major, v.Minor),
		fmt.Sprintf("python%d", v.Major),
	}
	var firstErr error
	for _, name := range candidates {
		path, err := exec.LookPath(name)
		if err == nil {
			return path, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return "", fmt.Errorf("no interpreter for version %v: %w", v, firstErr)
}

var errPipeline = errors.New("pipelines are not supported in program arguments")

func splitArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := argv.Argv(s, func(s string) (string, error) {
		return "", fmt.Errorf("backtick not supported in '%s'", s)
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, errPipeline
	}
	return v[0], nil
}
