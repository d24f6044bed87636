package registry

import (
	"github.com/dshills/modelocal/internal/mode/binding"
)

// Resolved is a binding found during resolution together with the table
// that supplied it.
type Resolved struct {
	binding.Binding

	// Source identifies the owning mode or document.
	Source binding.Owner
}

// Resolve finds the nearest binding for name.
//
// The local table, when non-nil, is consulted first. The chain of mode is
// walked next, most specific mode first. Only bindings carrying every flag
// in want are considered; a zero want accepts any binding. An empty mode
// restricts the search to the local table.
//
// A miss is reported through the boolean result and is not an error.
func (r *Registry) Resolve(name string, mode ID, local *binding.Table, want binding.Flags) (Resolved, bool, error) {
	if local != nil {
		if b, ok := local.Lookup(name); ok && b.Flags.Has(want) {
			return Resolved{Binding: b, Source: local.Owner()}, true, nil
		}
	}
	if mode == "" {
		return Resolved{}, false, nil
	}

	tables, err := r.chainTables(mode)
	if err != nil {
		return Resolved{}, false, err
	}

	for _, t := range tables {
		if b, ok := t.Lookup(name); ok && b.Flags.Has(want) {
			return Resolved{Binding: b, Source: t.Owner()}, true, nil
		}
	}
	return Resolved{}, false, nil
}

// ChainTables returns the tables along mode's chain, nearest first.
func (r *Registry) ChainTables(mode ID) ([]*binding.Table, error) {
	return r.chainTables(mode)
}

func (r *Registry) chainTables(mode ID) ([]*binding.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idxs, err := r.chainLocked(mode)
	if err != nil {
		return nil, err
	}

	tables := make([]*binding.Table, len(idxs))
	for i, idx := range idxs {
		tables[i] = r.nodes[idx].table
	}
	return tables, nil
}

// Visible describes a binding reachable from a mode.
type Visible struct {
	Resolved

	// Shadowed is true when a more specific mode binds the same name.
	Shadowed bool
}

// Describe lists every binding reachable from mode's chain, nearest mode
// first and names sorted within each mode.
func (r *Registry) Describe(mode ID) ([]Visible, error) {
	tables, err := r.chainTables(mode)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var result []Visible
	for _, t := range tables {
		for _, b := range t.Bindings() {
			result = append(result, Visible{
				Resolved: Resolved{Binding: b, Source: t.Owner()},
				Shadowed: seen[b.Name],
			})
			seen[b.Name] = true
		}
	}
	return result, nil
}
