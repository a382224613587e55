package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dbgcoord/dbgcoord/pkg/config"
	"github.com/dbgcoord/dbgcoord/pkg/proctl"
)

var (
	// ErrAlreadyActive is returned by Launch and Attach while the session
	// already owns a debuggee.
	ErrAlreadyActive = errors.New("a debug session is already active")
	// ErrNotFound is returned for operations naming an unknown thread,
	// module or breakpoint.
	ErrNotFound = errors.New("not found")
	// ErrInvalidOperation is matched by the ProtocolViolation returned for
	// operations the session can never perform, such as detaching from a
	// launched process.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrSessionEnded is returned by WaitLoadComplete when the session is
	// destroyed before the program finished loading.
	ErrSessionEnded = errors.New("debug session ended")
)

// ConfigurationError is returned by Launch for a launch option that cannot
// be used.
type ConfigurationError = config.ConfigurationError

// AttachFailure is returned by Attach when the debugger could not attach.
type AttachFailure struct {
	Reason proctl.AttachReason
	Err    error
}

func (e *AttachFailure) Error() string {
	return "failed to attach debugger: " + e.Reason.Message()
}

func (e *AttachFailure) Unwrap() error {
	return e.Err
}

// classifyAttachError turns the error returned by a controller's Attach
// into an AttachFailure.
func classifyAttachError(ctx context.Context, err error) *AttachFailure {
	var ae *proctl.AttachError
	switch {
	case errors.As(err, &ae):
		return &AttachFailure{Reason: ae.Reason, Err: err}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &AttachFailure{Reason: proctl.Timeout, Err: err}
	}
	return &AttachFailure{Reason: proctl.AttachUnknown, Err: err}
}

// ProtocolViolation is returned when the front end invokes an operation
// that is not valid in the current state of the session.
type ProtocolViolation struct {
	Op    string
	State State
	// Err is ErrInvalidOperation when the operation can never succeed on
	// this session.
	Err error
}

func (e *ProtocolViolation) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v in state %s", e.Op, e.Err, e.State)
	}
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

func (e *ProtocolViolation) Unwrap() error {
	return e.Err
}
