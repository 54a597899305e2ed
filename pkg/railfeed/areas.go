// Package railfeed holds the pure decode, filter and normalization rules for the
// TD (train describer) and TRUST (train movement) feeds. Nothing in this package
// talks to a broker or a database.
package railfeed

import (
	"sort"
	"strings"
)

// AllAreas is the named-area token that disables geographic filtering.
const AllAreas = "all"

// defaultNamedAreas maps a human-friendly name to the TD signalling areas it covers.
var defaultNamedAreas = map[string][]string{
	AllAreas: nil,
	"q1q3":   {"Q1", "Q3"},
	"totsm":  {"SM"},
	"wessex": {"SM", "WS", "SO", "BP"},
	"london": {"Q1", "Q3", "WY", "VC", "LB", "EK"},
}

// AreaSelection is the resolved, immutable set of area ids a TD processor accepts.
// The zero value accepts every area.
type AreaSelection struct {
	name string
	ids  map[string]struct{}
}

// NewAreaSelection builds a selection from explicit area ids. An empty list
// produces a selection that accepts every area.
func NewAreaSelection(name string, ids ...string) AreaSelection {
	sel := AreaSelection{name: name}
	if len(ids) == 0 {
		return sel
	}
	sel.ids = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		sel.ids[strings.ToUpper(strings.TrimSpace(id))] = struct{}{}
	}
	return sel
}

// Name returns the named-area token this selection was resolved from.
func (s AreaSelection) Name() string {
	if s.name == "" {
		return AllAreas
	}
	return s.name
}

// All reports whether filtering is bypassed.
func (s AreaSelection) All() bool {
	return len(s.ids) == 0
}

// Contains reports whether events from areaID pass the selection.
func (s AreaSelection) Contains(areaID string) bool {
	if s.All() {
		return true
	}
	_, ok := s.ids[areaID]
	return ok
}

// IDs returns the sorted area ids, or nil for an "all" selection.
func (s AreaSelection) IDs() []string {
	if s.All() {
		return nil
	}
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AreaFilter resolves named areas against a fixed table.
type AreaFilter struct {
	areas map[string][]string
}

// NewAreaFilter returns a filter over the built-in named areas, extended (or
// overridden) by extra. Names in extra are matched case-insensitively.
func NewAreaFilter(extra map[string][]string) *AreaFilter {
	areas := make(map[string][]string, len(defaultNamedAreas)+len(extra))
	for name, ids := range defaultNamedAreas {
		areas[name] = ids
	}
	for name, ids := range extra {
		areas[strings.ToLower(name)] = ids
	}
	return &AreaFilter{areas: areas}
}

// Resolve expands a named area into a selection. Unknown names fall back to the
// "all" selection and report known=false so the caller can warn.
func (f *AreaFilter) Resolve(namedArea string) (sel AreaSelection, known bool) {
	name := strings.ToLower(strings.TrimSpace(namedArea))
	if name == "" {
		name = AllAreas
	}
	ids, ok := f.areas[name]
	if !ok {
		return NewAreaSelection(AllAreas), false
	}
	return NewAreaSelection(name, ids...), true
}

// Names lists the known named areas in sorted order.
func (f *AreaFilter) Names() []string {
	out := make([]string, 0, len(f.areas))
	for name := range f.areas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ResolveArea resolves against the built-in table only.
func ResolveArea(namedArea string) (AreaSelection, bool) {
	return NewAreaFilter(nil).Resolve(namedArea)
}
