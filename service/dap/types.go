package dap

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dbgcoord/dbgcoord/pkg/config"
)

// LaunchConfig is the collection of launch request attributes recognized by
// the dbgcoord DAP implementation.
type LaunchConfig struct {
	// Required. Path to the script to debug.
	Program string `json:"program,omitempty"`

	// Argument string passed to the debugged program. Splitting follows
	// shell quoting rules.
	Args string `json:"args,omitempty"`

	// Absolute path to the working directory of the program being debugged.
	// If not specified, the working directory of the dbgcoord process is
	// used.
	Cwd string `json:"cwd,omitempty"`

	// Environment variables added to the debuggee's environment.
	Env map[string]string `json:"env,omitempty"`

	// Launch option string, e.g. "VERSION=V33;DIR_MAPPING=/src|/srv/app".
	Options string `json:"options,omitempty"`

	LaunchAttachCommonConfig
}

// LaunchAttachCommonConfig is the attributes common in both launch/attach requests.
type LaunchAttachCommonConfig struct {
	// Automatically stop program after launch or attach. Nil uses the
	// server default.
	StopOnEntry *bool `json:"stopOnEntry,omitempty"`

	// An array of mappings from a local path (client) to the remote path (debuggee).
	// The debug adapter will replace the local path with the remote path in all of the calls.
	SubstitutePath []SubstitutePath `json:"substitutePath,omitempty"`
}

// SubstitutePath defines a mapping from a local path to the remote path.
// Both 'from' and 'to' must be specified and non-empty.
type SubstitutePath struct {
	// The local path to be replaced when passing paths to the debuggee.
	From string `json:"from,omitempty"`
	// The remote path to be replaced when passing paths back to the client.
	To string `json:"to,omitempty"`
}

func (m *SubstitutePath) UnmarshalJSON(data []byte) error {
	// use custom unmarshal to check if both from/to are set.
	type tmpType SubstitutePath
	var tmp tmpType

	if err := json.Unmarshal(data, &tmp); err != nil {
		if _, ok := err.(*json.UnmarshalTypeError); ok {
			return fmt.Errorf(`cannot use %s as 'substitutePath' of type {"from":string, "to":string}`, data)
		}
		return err
	}
	if tmp.From == "" || tmp.To == "" {
		return errors.New("'substitutePath' requires both 'from' and 'to' entries")
	}
	*m = SubstitutePath(tmp)
	return nil
}

func substitutePathRules(paths []SubstitutePath) config.SubstitutePathRules {
	var rules config.SubstitutePathRules
	for _, p := range paths {
		rules = append(rules, config.SubstitutePathRule{From: p.From, To: p.To})
	}
	return rules
}

// AttachConfig is the collection of attach request attributes recognized by
// the dbgcoord DAP implementation.
type AttachConfig struct {
	// The numeric ID of the process to be debugged. Required and must not be 0.
	ProcessID int `json:"processId,omitempty"`

	LaunchAttachCommonConfig
}

// unmarshalLaunchAttachArgs wraps unmarshalling of launch/attach request's
// arguments attribute. Upon unmarshal failure, it returns an error massaged
// to be suitable for end-users.
func unmarshalLaunchAttachArgs(input json.RawMessage, config interface{}) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, config); err != nil {
		if uerr, ok := err.(*json.UnmarshalTypeError); ok {
			// Format json.UnmarshalTypeError error string in our own way. E.g.,
			//   "json: cannot unmarshal number into Go struct field LaunchConfig.program of type string"
			//   => "cannot unmarshal number into 'program' of type string"
			typ := uerr.Type.String()
			if uerr.Field == "substitutePath" {
				typ = `{"from":string, "to":string}`
			}
			return fmt.Errorf("cannot unmarshal %v into %q of type %v", uerr.Value, uerr.Field, typ)
		}
		return err
	}
	return nil
}
