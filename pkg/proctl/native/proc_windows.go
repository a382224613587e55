package native

import (
	"os"
	"os/exec"

	"github.com/dbgcoord/dbgcoord/pkg/proctl"
)

func probe(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return &proctl.AttachError{Reason: proctl.ProcessNotFound, Err: err}
	}
	p.Release()
	return nil
}

func alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	p.Release()
	return true
}

func stop(pid int) error { return proctl.ErrNotSupported }

// cont has nothing to do: stop never succeeds.
func cont(pid int) error { return nil }

func kill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func startTTY(cmd *exec.Cmd) (*os.File, error) {
	return nil, proctl.ErrNotSupported
}
