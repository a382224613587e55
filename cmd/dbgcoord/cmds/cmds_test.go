package cmds

import (
	"bytes"
	"net"
	"os"
	"strings"
	"testing"

	"github.com/dbgcoord/dbgcoord/pkg/config"
	"github.com/dbgcoord/dbgcoord/pkg/proctl"
	"github.com/dbgcoord/dbgcoord/pkg/proctl/native"
)

func TestExceptionModeFlag(t *testing.T) {
	tests := []struct {
		in   string
		want proctl.ExceptionMode
		err  bool
	}{
		{"never", proctl.BreakNever, false},
		{"raised", proctl.BreakAlways, false},
		{"uncaught", proctl.BreakUnhandled, false},
		{"raised|uncaught", proctl.BreakAlways | proctl.BreakUnhandled, false},
		{"sometimes", 0, true},
	}
	for _, tc := range tests {
		var f exceptionModeFlag
		err := f.Set(tc.in)
		if tc.err {
			if err == nil {
				t.Errorf("%q: expected error", tc.in)
			}
			if f.set {
				t.Errorf("%q: flag marked as set after error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tc.in, err)
			continue
		}
		if f.mode != tc.want || f.String() != tc.in {
			t.Errorf("%q: got %v (%s), want %v", tc.in, f.mode, f.String(), tc.want)
		}
	}
	var unset exceptionModeFlag
	if unset.String() != "" || unset.Type() != "mode" {
		t.Errorf("unexpected unset flag %q %q", unset.String(), unset.Type())
	}
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestServiceConfig(t *testing.T) {
	defer func() { exceptionMode = exceptionModeFlag{}; interpreter = ""; tty = false }()
	interpreter, tty = "/usr/bin/python3", true

	conf := &config.Config{
		SubstitutePath: config.SubstitutePathRules{{From: "/a", To: "/b"}},
		DefaultVersion: "V33",
		ExceptionMode:  "never",
		StopOnEntry:    true,
	}
	ch := make(chan struct{})
	sconf, err := serviceConfig(conf, listen(t), ch)
	if err != nil {
		t.Fatal(err)
	}
	if sconf.DefaultVersion != (proctl.LanguageVersion{Major: 3, Minor: 3}) {
		t.Errorf("got version %v", sconf.DefaultVersion)
	}
	if sconf.ExceptionMode == nil || *sconf.ExceptionMode != proctl.BreakNever {
		t.Errorf("got exception mode %v", sconf.ExceptionMode)
	}
	if !sconf.StopOnEntry || len(sconf.SubstitutePath) != 1 {
		t.Errorf("got %+v", sconf)
	}
	if sconf.CodeContextCacheSize != config.DefaultCodeContextCacheSize {
		t.Errorf("got cache size %d", sconf.CodeContextCacheSize)
	}
	l, ok := sconf.Launcher.(*native.Launcher)
	if !ok || l.Interpreter != interpreter || !l.TTY {
		t.Errorf("got launcher %#v", sconf.Launcher)
	}

	// the command line wins over the config file
	if err := exceptionMode.Set("raised"); err != nil {
		t.Fatal(err)
	}
	sconf, err = serviceConfig(conf, listen(t), ch)
	if err != nil {
		t.Fatal(err)
	}
	if *sconf.ExceptionMode != proctl.BreakAlways {
		t.Errorf("got exception mode %v", *sconf.ExceptionMode)
	}
}

func TestServiceConfigStdio(t *testing.T) {
	defer func() { stdio = false }()
	stdio = true
	sconf, err := serviceConfig(&config.Config{}, listen(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	if l := sconf.Launcher.(*native.Launcher); l.Stdout != os.Stderr {
		t.Error("program output of a stdio server must not go to stdout")
	}
}

func TestServiceConfigDefaults(t *testing.T) {
	sconf, err := serviceConfig(&config.Config{}, listen(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	if sconf.DefaultVersion != proctl.DefaultVersion || sconf.ExceptionMode != nil {
		t.Errorf("got %+v", sconf)
	}
}

func TestServiceConfigErrors(t *testing.T) {
	for _, conf := range []*config.Config{
		{DefaultVersion: "V99"},
		{ExceptionMode: "sometimes"},
	} {
		if _, err := serviceConfig(conf, listen(t), nil); err == nil {
			t.Errorf("%+v: expected error", conf)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cmd := New(false)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "dbgcoord\nVersion: ") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestLogOutputWithoutLog(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cmd := New(false)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"dap", "--log-output=dap", "--listen=127.0.0.1:0"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "--log-output") {
		t.Errorf("got %v, want error about --log-output", err)
	}
}

func TestHelpHidesRootFlags(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cmd := New(false)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"help", "version"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "--listen") {
		t.Errorf("version help shows --listen:\n%s", buf.String())
	}
}
