package engine

import (
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/dbgcoord/dbgcoord/pkg/config"
	"github.com/dbgcoord/dbgcoord/pkg/proctl"
)

// SourceBreakpoint is a breakpoint requested by the front end.
type SourceBreakpoint struct {
	Line      int
	Condition string
}

// Breakpoint is a breakpoint known to the session. It is pending until the
// debuggee reports it bound.
type Breakpoint struct {
	ID proctl.BreakpointID
	// File is the path as the front end sent it.
	File      string
	Line      int
	Condition string
	// Verified is set once the debuggee bound the breakpoint.
	Verified bool
	// Message describes why binding failed.
	Message string

	sent bool
}

// CodeContext is a source position as seen by the debuggee.
type CodeContext struct {
	File string
	Line int
}

// BreakpointManager tracks the breakpoints of a session and translates
// source positions for the debuggee. It is not safe for concurrent use.
type BreakpointManager struct {
	nextID proctl.BreakpointID
	byID   map[proctl.BreakpointID]*Breakpoint
	byFile map[string][]proctl.BreakpointID

	substitute config.SubstitutePathRules
	dirs       []proctl.DirMapping
	contexts   *lru.Cache
}

// NewBreakpointManager returns an empty manager caching up to cacheSize
// code context lookups.
func NewBreakpointManager(cacheSize int) (*BreakpointManager, error) {
	c, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("code context cache: %w", err)
	}
	return &BreakpointManager{
		byID:     make(map[proctl.BreakpointID]*Breakpoint),
		byFile:   make(map[string][]proctl.BreakpointID),
		contexts: c,
	}, nil
}

// SetPathMappings sets the rules used to translate local source paths to
// debuggee paths. Substitution rules apply before directory mappings.
func (m *BreakpointManager) SetPathMappings(substitute config.SubstitutePathRules, dirs []proctl.DirMapping) {
	m.substitute = substitute
	m.dirs = dirs
	m.contexts.Purge()
}

// RemotePath translates a local source path to the path the debuggee
// uses.
func (m *BreakpointManager) RemotePath(file string) string {
	for _, r := range m.substitute {
		if p, ok := mapPrefix(file, r.From, r.To); ok {
			file = p
			break
		}
	}
	for _, d := range m.dirs {
		if p, ok := mapPrefix(file, d.Local, d.Remote); ok {
			return p
		}
	}
	return file
}

func mapPrefix(path, from, to string) (string, bool) {
	if from == "" || !strings.HasPrefix(path, from) {
		return "", false
	}
	rest := path[len(from):]
	if rest != "" && !strings.HasSuffix(from, "/") && !strings.HasSuffix(from, `\`) && rest[0] != '/' && rest[0] != '\\' {
		return "", false
	}
	return to + rest, true
}

// CodeContexts returns the debuggee code contexts for a source position.
func (m *BreakpointManager) CodeContexts(file string, line int) []CodeContext {
	key := fmt.Sprintf("%s:%d", file, line)
	if v, ok := m.contexts.Get(key); ok {
		return append([]CodeContext(nil), v.([]CodeContext)...)
	}
	ctxs := []CodeContext{{File: m.RemotePath(file), Line: line}}
	m.contexts.Add(key, ctxs)
	return append([]CodeContext(nil), ctxs...)
}

// Replace replaces every breakpoint of file. When p is not nil the
// removed breakpoints are cleared from the debuggee and the new ones are
// sent to it.
func (m *BreakpointManager) Replace(file string, bps []SourceBreakpoint, p proctl.Process) ([]Breakpoint, error) {
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, id := range m.byFile[file] {
		bp := m.byID[id]
		if p != nil && bp.sent {
			note(p.RemoveBreakpoint(id))
		}
		delete(m.byID, id)
	}
	delete(m.byFile, file)

	r := make([]Breakpoint, 0, len(bps))
	for _, sbp := range bps {
		m.nextID++
		bp := &Breakpoint{ID: m.nextID, File: file, Line: sbp.Line, Condition: sbp.Condition}
		m.byID[bp.ID] = bp
		m.byFile[file] = append(m.byFile[file], bp.ID)
		if p != nil {
			note(m.send(bp, p))
		}
		r = append(r, *bp)
	}
	return r, firstErr
}

func (m *BreakpointManager) send(bp *Breakpoint, p proctl.Process) error {
	if err := p.SetBreakpoint(bp.ID, m.RemotePath(bp.File), bp.Line, bp.Condition); err != nil {
		bp.Message = err.Error()
		return err
	}
	bp.sent = true
	return nil
}

// Bind sends every breakpoint not yet known to the debuggee.
func (m *BreakpointManager) Bind(p proctl.Process) error {
	var firstErr error
	for _, id := range m.ids() {
		bp := m.byID[id]
		if bp.sent {
			continue
		}
		if err := m.send(bp, p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Bound marks id as bound and returns it.
func (m *BreakpointManager) Bound(id proctl.BreakpointID) (Breakpoint, bool) {
	bp, ok := m.byID[id]
	if !ok {
		return Breakpoint{}, false
	}
	bp.Verified = true
	bp.Message = ""
	return *bp, true
}

// BindFailed records that the debuggee could not bind id.
func (m *BreakpointManager) BindFailed(id proctl.BreakpointID, reason string) (Breakpoint, bool) {
	bp, ok := m.byID[id]
	if !ok {
		return Breakpoint{}, false
	}
	bp.Verified = false
	bp.Message = reason
	return *bp, true
}

// Lookup returns the bound breakpoints behind a debuggee breakpoint id.
func (m *BreakpointManager) Lookup(id proctl.BreakpointID) []Breakpoint {
	if bp, ok := m.byID[id]; ok {
		return []Breakpoint{*bp}
	}
	return nil
}

// ClearBound removes every bound breakpoint from the debuggee. The
// breakpoints stay known and will be sent again by Bind. All of them are
// marked unbound even when a removal fails; the first error is returned.
func (m *BreakpointManager) ClearBound(p proctl.Process) error {
	var firstErr error
	for _, id := range m.ids() {
		bp := m.byID[id]
		if !bp.sent {
			continue
		}
		if p != nil {
			if err := p.RemoveBreakpoint(id); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		bp.sent = false
		bp.Verified = false
	}
	return firstErr
}

// Breakpoints returns every breakpoint ordered by id.
func (m *BreakpointManager) Breakpoints() []Breakpoint {
	r := make([]Breakpoint, 0, len(m.byID))
	for _, id := range m.ids() {
		r = append(r, *m.byID[id])
	}
	return r
}

func (m *BreakpointManager) ids() []proctl.BreakpointID {
	ids := make([]proctl.BreakpointID, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
