package proctl

import "fmt"

// AttachReason classifies why attaching to a process failed.
type AttachReason int

const (
	AttachUnknown AttachReason = iota
	ProcessNotFound
	PermissionDenied
	InjectionFailed
	InterpreterNotInitialized
	ScriptLoadFailed
	ScriptCompileFailed
	OutOfMemory
	InterpreterNotFound
	Timeout
	UnknownRuntimeVersion
	SupportLibraryMissing
	SysModuleMissing
	SetTraceMissing
	GetTraceMissing
)

var attachReasonNames = [...]string{
	AttachUnknown:             "unknown",
	ProcessNotFound:           "process-not-found",
	PermissionDenied:          "permission-denied",
	InjectionFailed:           "injection-failed",
	InterpreterNotInitialized: "interpreter-not-initialized",
	ScriptLoadFailed:          "script-load-failed",
	ScriptCompileFailed:       "script-compile-failed",
	OutOfMemory:               "out-of-memory",
	InterpreterNotFound:       "interpreter-not-found",
	Timeout:                   "timeout",
	UnknownRuntimeVersion:     "unknown-runtime-version",
	SupportLibraryMissing:     "support-library-missing",
	SysModuleMissing:          "sys-module-missing",
	SetTraceMissing:           "settrace-missing",
	GetTraceMissing:           "gettrace-missing",
}

var attachReasonMessages = [...]string{
	AttachUnknown:             "Unknown error",
	ProcessNotFound:           "Process not found",
	PermissionDenied:          "Cannot open process for debugging",
	InjectionFailed:           "Cannot create thread in debuggee process",
	InterpreterNotInitialized: "Python interpreter has not been initialized in this process",
	ScriptLoadFailed:          "Failed to load debugging script (incorrect version of script?)",
	ScriptCompileFailed:       "Failed to compile debugging script",
	OutOfMemory:               "Out of memory",
	InterpreterNotFound:       "Python interpreter not found",
	Timeout:                   "Timeout while attaching",
	UnknownRuntimeVersion:     "Unknown Python version loaded in process",
	SupportLibraryMissing:     "Cannot find the debugger attach support library",
	SysModuleMissing:          "sys module not found",
	SetTraceMissing:           "settrace not found in sys module",
	GetTraceMissing:           "gettrace not found in sys module",
}

// AttachReasons returns every classified attach failure reason, excluding
// AttachUnknown.
func AttachReasons() []AttachReason {
	r := make([]AttachReason, 0, len(attachReasonNames)-1)
	for i := ProcessNotFound; int(i) < len(attachReasonNames); i++ {
		r = append(r, i)
	}
	return r
}

func (r AttachReason) valid() bool {
	return r >= 0 && int(r) < len(attachReasonNames)
}

func (r AttachReason) String() string {
	if !r.valid() {
		return fmt.Sprintf("AttachReason(%d)", int(r))
	}
	return attachReasonNames[r]
}

// Message returns a user-displayable description of the failure.
func (r AttachReason) Message() string {
	if !r.valid() {
		return attachReasonMessages[AttachUnknown]
	}
	return attachReasonMessages[r]
}

// AttachError is returned by Launcher.Attach when a low-level attach step
// fails.
type AttachError struct {
	Reason AttachReason
	// Path is the location that was searched for the support library, set
	// only for SupportLibraryMissing.
	Path string
	// Err is the underlying system error, if any.
	Err error
}

func (e *AttachError) Error() string {
	msg := e.Reason.Message()
	if e.Reason == SupportLibraryMissing && e.Path != "" {
		msg += " at " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AttachError) Unwrap() error {
	return e.Err
}
