// Package statusmap translates between the local feedback lifecycle and an
// external system's status vocabulary.
//
// Unmapped values pass through unchanged in both directions. A caller that
// prefers a fixed local fallback uses WithDefault or ToLocalOr.
package statusmap

import (
	"sort"
	"strings"

	"github.com/feedbackkit/fb/internal/types"
)

// Mapper is a bidirectional lookup table. It is immutable after New and safe
// for concurrent use.
type Mapper struct {
	toExternal map[types.Status]string
	toLocal    map[string]types.Status
	def        types.Status
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithDefault makes ToLocal return def for unknown external names instead of
// passing them through.
func WithDefault(def types.Status) Option {
	return func(m *Mapper) { m.def = def }
}

// New builds a Mapper. External keys of toLocal are matched case-insensitively.
func New(toExternal map[types.Status]string, toLocal map[string]types.Status, opts ...Option) *Mapper {
	m := &Mapper{
		toExternal: make(map[types.Status]string, len(toExternal)),
		toLocal:    make(map[string]types.Status, len(toLocal)),
	}
	for k, v := range toExternal {
		m.toExternal[k] = v
	}
	for k, v := range toLocal {
		m.toLocal[normalize(k)] = v
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ToExternal returns the external name for local, or local itself when no
// entry exists.
func (m *Mapper) ToExternal(local types.Status) string {
	if m != nil {
		if v, ok := m.toExternal[local]; ok {
			return v
		}
	}
	return string(local)
}

// ToLocal returns the local status for external. Without a mapping it returns
// the configured default, or the raw external name.
func (m *Mapper) ToLocal(external string) types.Status {
	if m == nil {
		return types.Status(external)
	}
	return m.ToLocalOr(external, m.def)
}

// ToLocalOr is ToLocal with an explicit fallback; an empty def passes the
// raw name through.
func (m *Mapper) ToLocalOr(external string, def types.Status) types.Status {
	if m != nil {
		if v, ok := m.toLocal[normalize(external)]; ok {
			return v
		}
	}
	if def != "" {
		return def
	}
	return types.Status(external)
}

// HasExternal reports whether local has an explicit entry.
func (m *Mapper) HasExternal(local types.Status) bool {
	_, ok := m.toExternal[local]
	return ok
}

// Missing lists local statuses that would fall back to pass-through.
func (m *Mapper) Missing() []types.Status {
	var missing []types.Status
	for _, s := range types.AllStatuses {
		if !m.HasExternal(s) {
			missing = append(missing, s)
		}
	}
	return missing
}

// ToExternalTable returns a copy of the local to external entries.
func (m *Mapper) ToExternalTable() map[types.Status]string {
	out := make(map[types.Status]string, len(m.toExternal))
	for k, v := range m.toExternal {
		out[k] = v
	}
	return out
}

// ToLocalTable returns a copy of the external to local entries, keyed by
// their lower-cased external name.
func (m *Mapper) ToLocalTable() map[string]types.Status {
	out := make(map[string]types.Status, len(m.toLocal))
	for k, v := range m.toLocal {
		out[k] = v
	}
	return out
}

// Default returns the configured fallback, or "" for pass-through.
func (m *Mapper) Default() types.Status {
	return m.def
}

// Merge returns a new Mapper with override's entries on top of m's.
func (m *Mapper) Merge(override *Mapper) *Mapper {
	if override == nil {
		return m
	}
	toExt := m.ToExternalTable()
	for k, v := range override.toExternal {
		toExt[k] = v
	}
	toLoc := m.ToLocalTable()
	for k, v := range override.toLocal {
		toLoc[k] = v
	}
	def := m.def
	if override.def != "" {
		def = override.def
	}
	return New(toExt, toLoc, WithDefault(def))
}

// ExternalNames returns the distinct external names in sorted order.
func (m *Mapper) ExternalNames() []string {
	if m == nil {
		return nil
	}
	seen := map[string]bool{}
	var names []string
	for _, v := range m.toExternal {
		if !seen[v] {
			seen[v] = true
			names = append(names, v)
		}
	}
	sort.Strings(names)
	return names
}

// Defaults returns a table for a typical Jira workflow.
func Defaults() *Mapper {
	return New(
		map[types.Status]string{
			types.StatusNew:        "To Do",
			types.StatusOpen:       "To Do",
			types.StatusInProgress: "In Progress",
			types.StatusResolved:   "Done",
			types.StatusClosed:     "Done",
			types.StatusWontFix:    "Won't Do",
		},
		map[string]types.Status{
			"to do":            types.StatusOpen,
			"todo":             types.StatusOpen,
			"open":             types.StatusOpen,
			"backlog":          types.StatusNew,
			"new":              types.StatusNew,
			"in progress":      types.StatusInProgress,
			"in development":   types.StatusInProgress,
			"in review":        types.StatusInProgress,
			"review":           types.StatusInProgress,
			"done":             types.StatusResolved,
			"resolved":         types.StatusResolved,
			"closed":           types.StatusClosed,
			"complete":         types.StatusClosed,
			"completed":        types.StatusClosed,
			"won't do":         types.StatusWontFix,
			"won't fix":        types.StatusWontFix,
			"duplicate":        types.StatusWontFix,
			"cannot reproduce": types.StatusWontFix,
		},
	)
}
