//go:build !windows

package native

import (
	"errors"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/dbgcoord/dbgcoord/pkg/proctl"
)

// probe checks that pid exists and can be signalled.
func probe(pid int) error {
	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ESRCH):
		return &proctl.AttachError{Reason: proctl.ProcessNotFound, Err: err}
	case errors.Is(err, unix.EPERM):
		return &proctl.AttachError{Reason: proctl.PermissionDenied, Err: err}
	default:
		return &proctl.AttachError{Reason: proctl.AttachUnknown, Err: err}
	}
}

func alive(pid int) bool {
	return !errors.Is(unix.Kill(pid, 0), unix.ESRCH)
}

func stop(pid int) error { return unix.Kill(pid, unix.SIGSTOP) }
func cont(pid int) error { return unix.Kill(pid, unix.SIGCONT) }
func kill(pid int) error { return unix.Kill(pid, unix.SIGKILL) }

// startTTY starts cmd with its standard streams on a new pseudo-terminal
// and returns the controlling side.
func startTTY(cmd *exec.Cmd) (*os.File, error) {
	return pty.Start(cmd)
}
