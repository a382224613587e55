package engine

import (
	"errors"
	"testing"

	"github.com/dbgcoord/dbgcoord/pkg/config"
	"github.com/dbgcoord/dbgcoord/pkg/proctl"
	"github.com/dbgcoord/dbgcoord/pkg/proctl/proctltest"
)

func TestRemotePath(t *testing.T) {
	m, err := NewBreakpointManager(4)
	if err != nil {
		t.Fatal(err)
	}
	m.SetPathMappings(
		config.SubstitutePathRules{{From: "/build", To: "/src"}},
		[]proctl.DirMapping{{Local: "/src", Remote: "/remote/src"}, {Local: `C:\proj\`, Remote: "/opt/proj/"}},
	)
	tests := []struct{ in, want string }{
		{"/src/main.py", "/remote/src/main.py"},
		{"/build/pkg/a.py", "/remote/src/pkg/a.py"},
		{"/srcfoo/main.py", "/srcfoo/main.py"},
		{`C:\proj\app.py`, "/opt/proj/app.py"},
		{"/other/x.py", "/other/x.py"},
	}
	for _, tt := range tests {
		if got := m.RemotePath(tt.in); got != tt.want {
			t.Errorf("RemotePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCodeContextsCached(t *testing.T) {
	m, _ := NewBreakpointManager(2)
	m.SetPathMappings(nil, []proctl.DirMapping{{Local: "/a", Remote: "/b"}})
	got := m.CodeContexts("/a/x.py", 3)
	if len(got) != 1 || got[0] != (CodeContext{File: "/b/x.py", Line: 3}) {
		t.Fatalf("got %v", got)
	}
	got[0].Line = 99
	if again := m.CodeContexts("/a/x.py", 3); again[0].Line != 3 {
		t.Errorf("cached result was modified through a returned slice")
	}
	// new mappings invalidate the cache
	m.SetPathMappings(nil, nil)
	if got := m.CodeContexts("/a/x.py", 3); got[0].File != "/a/x.py" {
		t.Errorf("stale cache entry: %v", got)
	}
}

func TestBreakpointLifecycle(t *testing.T) {
	m, _ := NewBreakpointManager(2)
	p := proctltest.NewProcess(1)

	pending, err := m.Replace("a.py", []SourceBreakpoint{{Line: 1}, {Line: 5, Condition: "x > 1"}}, nil)
	if err != nil || len(pending) != 2 || pending[0].Verified {
		t.Fatalf("got %v, %v", pending, err)
	}
	if p.Count("SetBreakpoint") != 0 {
		t.Fatalf("sent without a process")
	}
	m.Bind(p)
	m.Bind(p)
	if p.Count("SetBreakpoint") != 2 {
		t.Errorf("got %d SetBreakpoint, want 2", p.Count("SetBreakpoint"))
	}
	c, _ := p.Last("SetBreakpoint")
	if c.Condition != "x > 1" || c.Line != 5 {
		t.Errorf("got %v", c)
	}

	if bp, ok := m.Bound(pending[0].ID); !ok || !bp.Verified {
		t.Errorf("Bound: got %v %v", bp, ok)
	}
	if bp, ok := m.BindFailed(pending[1].ID, "no code"); !ok || bp.Verified || bp.Message != "no code" {
		t.Errorf("BindFailed: got %v %v", bp, ok)
	}
	if hits := m.Lookup(pending[0].ID); len(hits) != 1 || hits[0].Line != 1 {
		t.Errorf("Lookup: got %v", hits)
	}
	if hits := m.Lookup(42); len(hits) != 0 {
		t.Errorf("Lookup of unknown id: got %v", hits)
	}

	// replacing removes the old ones from the debuggee
	if _, err := m.Replace("a.py", []SourceBreakpoint{{Line: 7}}, p); err != nil {
		t.Fatal(err)
	}
	if p.Count("RemoveBreakpoint") != 2 || p.Count("SetBreakpoint") != 3 {
		t.Errorf("commands: %v", p.Commands())
	}
	if len(m.Breakpoints()) != 1 {
		t.Errorf("got %v", m.Breakpoints())
	}

	if err := m.ClearBound(p); err != nil {
		t.Errorf("ClearBound: %v", err)
	}
	if p.Count("RemoveBreakpoint") != 3 {
		t.Errorf("ClearBound did not remove: %v", p.Commands())
	}
	m.ClearBound(p)
	if p.Count("RemoveBreakpoint") != 3 {
		t.Errorf("ClearBound removed twice")
	}
}

func TestClearBoundReportsRemoveError(t *testing.T) {
	m, _ := NewBreakpointManager(2)
	p := proctltest.NewProcess(1)
	if _, err := m.Replace("a.py", []SourceBreakpoint{{Line: 1}, {Line: 2}}, p); err != nil {
		t.Fatal(err)
	}
	errRemove := errors.New("remove failed")
	p.Err = errRemove
	if err := m.ClearBound(p); !errors.Is(err, errRemove) {
		t.Errorf("got %v, want %v", err, errRemove)
	}
	if n := p.Count("RemoveBreakpoint"); n != 2 {
		t.Errorf("got %d RemoveBreakpoint, want 2", n)
	}
	for _, bp := range m.Breakpoints() {
		if bp.Verified {
			t.Errorf("breakpoint %d still verified", bp.ID)
		}
	}

	// nothing is left to remove
	p.Err = nil
	if err := m.ClearBound(p); err != nil || p.Count("RemoveBreakpoint") != 2 {
		t.Errorf("second ClearBound: %v, %v", err, p.Commands())
	}
}
