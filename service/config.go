package service

import (
	"net"

	"github.com/dbgcoord/dbgcoord/pkg/config"
	"github.com/dbgcoord/dbgcoord/pkg/proctl"
)

// Config provides the configuration to start a debug session and expose it
// with a service.
type Config struct {
	// Listener is used to serve requests.
	Listener net.Listener

	// Launcher starts or attaches to the debuggee when the client asks for
	// it.
	Launcher proctl.Launcher

	// DefaultVersion is used for launches that do not name a language
	// version.
	DefaultVersion proctl.LanguageVersion
	// ExceptionMode is the initial break mode for exceptions without an
	// explicit setting. Nil selects the engine default.
	ExceptionMode *proctl.ExceptionMode
	// SubstitutePath rules rewrite client paths before they reach the
	// debuggee.
	SubstitutePath config.SubstitutePathRules
	// CodeContextCacheSize bounds the code context cache.
	CodeContextCacheSize int
	// StopOnEntry is the default for launch and attach requests that do
	// not set it.
	StopOnEntry bool

	// DisconnectChan will be closed by the server when the client disconnects
	DisconnectChan chan<- struct{}
}
