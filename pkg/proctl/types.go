package proctl

import (
	"fmt"
	"strings"
)

// ExceptionMode is a bitmask deciding when the debuggee stops on an
// exception. The values are shared with the in-process debugger script.
type ExceptionMode uint32

const (
	BreakNever ExceptionMode = 0
	// BreakAlways stops as soon as the exception is raised.
	BreakAlways ExceptionMode = 1
	// BreakUnhandled stops when no handler will catch the exception.
	BreakUnhandled ExceptionMode = 32

	breakModeMask = BreakAlways | BreakUnhandled
)

// Mask drops every bit that is not a break mode.
func (m ExceptionMode) Mask() ExceptionMode {
	return m & breakModeMask
}

func (m ExceptionMode) String() string {
	switch m.Mask() {
	case BreakNever:
		return "never"
	case BreakAlways:
		return "raised"
	case BreakUnhandled:
		return "uncaught"
	default:
		return "raised|uncaught"
	}
}

// ParseExceptionMode parses the names returned by ExceptionMode.String.
func ParseExceptionMode(s string) (ExceptionMode, error) {
	var m ExceptionMode
	for _, part := range strings.Split(s, "|") {
		switch strings.TrimSpace(part) {
		case "never", "":
		case "raised", "always":
			m |= BreakAlways
		case "uncaught", "unhandled":
			m |= BreakUnhandled
		default:
			return 0, fmt.Errorf("unknown exception mode %q", part)
		}
	}
	return m, nil
}

// LanguageVersion is the version of the interpreter running the debuggee.
type LanguageVersion struct {
	Major, Minor int
}

// DefaultVersion is used when a launch does not specify a version.
var DefaultVersion = LanguageVersion{2, 7}

var knownVersions = []LanguageVersion{
	{2, 4}, {2, 5}, {2, 6}, {2, 7},
	{3, 0}, {3, 1}, {3, 2}, {3, 3},
}

func (v LanguageVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Tag returns the short form used in launch options, e.g. "V27".
func (v LanguageVersion) Tag() string {
	return fmt.Sprintf("V%d%d", v.Major, v.Minor)
}

// IsZero reports whether v is unset.
func (v LanguageVersion) IsZero() bool {
	return v.Major == 0 && v.Minor == 0
}

// ParseLanguageVersion parses a version tag ("V27") or a dotted version
// ("2.7"). Only known interpreter versions are accepted.
func ParseLanguageVersion(s string) (LanguageVersion, error) {
	for _, v := range knownVersions {
		if s == v.Tag() || s == v.String() {
			return v, nil
		}
	}
	return LanguageVersion{}, fmt.Errorf("unknown language version %q", s)
}
