package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dbgcoord/dbgcoord/pkg/proctl"
)

// Launch option keys.
const (
	VersionKey            = "VERSION"
	WaitOnAbnormalExitKey = "WAIT_ON_ABNORMAL_EXIT"
	WaitOnNormalExitKey   = "WAIT_ON_NORMAL_EXIT"
	RedirectOutputKey     = "REDIRECT_OUTPUT"
	InterpreterOptionsKey = "INTERPRETER_OPTIONS"
	DirMappingKey         = "DIR_MAPPING"
)

// ConfigurationError is returned for a launch option that cannot be used.
type ConfigurationError struct {
	Key    string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid launch option %s=%q: %s", e.Key, e.Value, e.Reason)
}

// LaunchOptions is the parsed form of a launch option string.
type LaunchOptions struct {
	// Version is zero when the string did not set VERSION.
	Version            proctl.LanguageVersion
	Debug              proctl.DebugOptions
	InterpreterOptions string
	DirMappings        []proctl.DirMapping
}

// Option is a single KEY=VALUE pair of a launch option string.
type Option struct {
	Key, Value string
}

// SplitLaunchOptions splits a launch option string into its KEY=VALUE
// pairs. Pairs are separated by ';'. A doubled ';;' is a literal
// semicolon, and so is a ';' ending the string. Pairs without '=' are
// dropped.
func SplitLaunchOptions(s string) []Option {
	var (
		r   []Option
		buf strings.Builder
	)
	flush := func() {
		pair := buf.String()
		buf.Reset()
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			return
		}
		r = append(r, Option{Key: strings.TrimSpace(pair[:eq]), Value: pair[eq+1:]})
	}
	for i := 0; i < len(s); i++ {
		if s[i] != ';' {
			buf.WriteByte(s[i])
			continue
		}
		if i+1 == len(s) || s[i+1] == ';' {
			buf.WriteByte(';')
			i++
			continue
		}
		flush()
	}
	flush()
	return r
}

// ParseLaunchOptions parses a launch option string. Unknown keys are
// ignored. DIR_MAPPING may be repeated.
func ParseLaunchOptions(s string) (LaunchOptions, error) {
	var lo LaunchOptions
	for _, opt := range SplitLaunchOptions(s) {
		switch opt.Key {
		case VersionKey:
			v, err := proctl.ParseLanguageVersion(opt.Value)
			if err != nil {
				return LaunchOptions{}, &ConfigurationError{Key: opt.Key, Value: opt.Value, Reason: "unknown interpreter version"}
			}
			lo.Version = v
		case WaitOnAbnormalExitKey:
			if isTrue(opt.Value) {
				lo.Debug |= proctl.WaitOnAbnormalExit
			}
		case WaitOnNormalExitKey:
			if isTrue(opt.Value) {
				lo.Debug |= proctl.WaitOnNormalExit
			}
		case RedirectOutputKey:
			// any boolean enables redirection, including "false"
			if _, err := strconv.ParseBool(opt.Value); err == nil {
				lo.Debug |= proctl.RedirectOutput
			}
		case InterpreterOptionsKey:
			lo.InterpreterOptions = opt.Value
		case DirMappingKey:
			parts := strings.Split(opt.Value, "|")
			if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
				return LaunchOptions{}, &ConfigurationError{Key: opt.Key, Value: opt.Value, Reason: "expected OLDDIR|NEWDIR"}
			}
			lo.DirMappings = append(lo.DirMappings, proctl.DirMapping{Local: parts[0], Remote: parts[1]})
		}
	}
	return lo, nil
}

func isTrue(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

// FormatLaunchOptions is the inverse of ParseLaunchOptions.
func FormatLaunchOptions(lo LaunchOptions) string {
	var parts []string
	add := func(k, v string) {
		parts = append(parts, k+"="+strings.ReplaceAll(v, ";", ";;"))
	}
	if !lo.Version.IsZero() {
		add(VersionKey, lo.Version.Tag())
	}
	if lo.Debug&proctl.WaitOnAbnormalExit != 0 {
		add(WaitOnAbnormalExitKey, "true")
	}
	if lo.Debug&proctl.WaitOnNormalExit != 0 {
		add(WaitOnNormalExitKey, "true")
	}
	if lo.Debug&proctl.RedirectOutput != 0 {
		add(RedirectOutputKey, "true")
	}
	if lo.InterpreterOptions != "" {
		add(InterpreterOptionsKey, lo.InterpreterOptions)
	}
	for _, m := range lo.DirMappings {
		add(DirMappingKey, m.Local+"|"+m.Remote)
	}
	return strings.Join(parts, ";")
}
