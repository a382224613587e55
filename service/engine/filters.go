package engine

import (
	"sort"

	"github.com/derekparker/trie"

	"github.com/dbgcoord/dbgcoord/pkg/proctl"
)

// RootExceptionCategory is the distinguished category whose mode is the
// default for every exception without its own entry.
const RootExceptionCategory = "Python Exceptions"

// DefaultExceptionMode is the default after ClearAll: stop on exceptions
// nothing handles.
const DefaultExceptionMode = proctl.BreakUnhandled

// ExceptionFilter is a single category → break mode setting.
type ExceptionFilter struct {
	Category string
	Mode     proctl.ExceptionMode
}

// ExceptionFilterTable holds the break mode of every exception category
// configured by the front end plus the default mode. It is not safe for
// concurrent use.
type ExceptionFilterTable struct {
	def     proctl.ExceptionMode
	entries map[string]proctl.ExceptionMode
	// index supports prefix lookups over category names, e.g. every
	// category of a package.
	index *trie.Trie
}

// NewExceptionFilterTable returns an empty table with the given default.
func NewExceptionFilterTable(def proctl.ExceptionMode) *ExceptionFilterTable {
	return &ExceptionFilterTable{
		def:     def.Mask(),
		entries: make(map[string]proctl.ExceptionMode),
		index:   trie.New(),
	}
}

// Set sets the mode of category. Setting RootExceptionCategory changes the
// default.
func (t *ExceptionFilterTable) Set(category string, mode proctl.ExceptionMode) {
	mode = mode.Mask()
	if category == RootExceptionCategory {
		t.def = mode
		return
	}
	if _, ok := t.entries[category]; !ok {
		t.index.Add(category, nil)
	}
	t.entries[category] = mode
}

// Clear removes the entry for category. Clearing RootExceptionCategory
// resets the default.
func (t *ExceptionFilterTable) Clear(category string) {
	if category == RootExceptionCategory {
		t.def = DefaultExceptionMode
		return
	}
	if _, ok := t.entries[category]; !ok {
		return
	}
	delete(t.entries, category)
	t.reindex()
}

// ClearAll removes every entry and resets the default.
func (t *ExceptionFilterTable) ClearAll() {
	t.def = DefaultExceptionMode
	t.entries = make(map[string]proctl.ExceptionMode)
	t.index = trie.New()
}

func (t *ExceptionFilterTable) reindex() {
	t.index = trie.New()
	for c := range t.entries {
		t.index.Add(c, nil)
	}
}

// Resolve returns the mode for category: its own entry if present,
// otherwise the default.
func (t *ExceptionFilterTable) Resolve(category string) proctl.ExceptionMode {
	if m, ok := t.entries[category]; ok {
		return m
	}
	return t.def
}

// Default returns the mode applied to categories without an entry.
func (t *ExceptionFilterTable) Default() proctl.ExceptionMode {
	return t.def
}

// Entries returns a copy of the per-category table, without the default.
func (t *ExceptionFilterTable) Entries() map[string]proctl.ExceptionMode {
	m := make(map[string]proctl.ExceptionMode, len(t.entries))
	for k, v := range t.entries {
		m[k] = v
	}
	return m
}

// Categories returns the configured categories starting with prefix,
// sorted.
func (t *ExceptionFilterTable) Categories(prefix string) []string {
	if len(t.entries) == 0 {
		return nil
	}
	keys := t.index.PrefixSearch(prefix)
	sort.Strings(keys)
	return keys
}

// Filters returns the root category with the default mode followed by
// every entry, sorted by category.
func (t *ExceptionFilterTable) Filters() []ExceptionFilter {
	r := []ExceptionFilter{{Category: RootExceptionCategory, Mode: t.def}}
	for _, c := range t.Categories("") {
		r = append(r, ExceptionFilter{Category: c, Mode: t.entries[c]})
	}
	return r
}
