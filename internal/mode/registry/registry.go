// Package registry maintains the mode hierarchy: which modes exist, which
// parent each one inherits from, and the binding table each mode owns.
//
// Modes are stored in an arena indexed by registration order. Parent edges
// are arena indices, so re-parenting a mode is a single assignment guarded
// by a reachability check that rejects cycles.
package registry

import (
	"sort"
	"sync"

	"github.com/dshills/modelocal/internal/mode/binding"
)

// ID names a mode.
type ID string

// noParent marks a root node.
const noParent = -1

type node struct {
	id     ID
	parent int
	table  *binding.Table
}

// Registry stores the mode forest and per-mode binding tables.
type Registry struct {
	mu    sync.RWMutex
	nodes []node
	index map[ID]int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		index: make(map[ID]int),
	}
}

// Register makes mode known to the registry. Registering an existing mode
// is a no-op.
func (r *Registry) Register(mode ID) error {
	if mode == "" {
		return ErrMissingMode
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLocked(mode)
	return nil
}

// Has reports whether mode is registered.
func (r *Registry) Has(mode ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[mode]
	return ok
}

// ensureLocked returns the arena index for mode, creating the node if needed.
// Must hold the write lock.
func (r *Registry) ensureLocked(mode ID) int {
	if idx, ok := r.index[mode]; ok {
		return idx
	}
	r.nodes = append(r.nodes, node{
		id:     mode,
		parent: noParent,
		table:  binding.NewTable(binding.Owner{Kind: binding.OwnerMode, Name: string(mode)}),
	})
	idx := len(r.nodes) - 1
	r.index[mode] = idx
	return idx
}

// SetParent installs or replaces the parent of mode. An empty parent makes
// mode a root. Both modes are registered if they are not yet known.
//
// The edge is rejected with a *CycleError if mode is reachable from parent.
// A rejected edge registers nothing.
func (r *Registry) SetParent(mode, parent ID) error {
	if mode == "" {
		return ErrMissingMode
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if parent == "" {
		r.nodes[r.ensureLocked(mode)].parent = noParent
		return nil
	}
	if parent == mode {
		return &CycleError{Mode: mode, Parent: parent}
	}

	// A loop needs both modes to exist already: walk up from the proposed
	// parent; reaching mode means a loop.
	idx, known := r.index[mode]
	pidx, pknown := r.index[parent]
	if known && pknown {
		steps := 0
		for cur := pidx; cur != noParent; cur = r.nodes[cur].parent {
			if cur == idx {
				return &CycleError{Mode: mode, Parent: parent}
			}
			steps++
			if steps > len(r.nodes) {
				return &CorruptHierarchyError{Mode: parent, Steps: steps}
			}
		}
	}

	idx = r.ensureLocked(mode)
	pidx = r.ensureLocked(parent)
	r.nodes[idx].parent = pidx
	return nil
}

// Parent returns the parent of mode, if any.
func (r *Registry) Parent(mode ID) (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.index[mode]
	if !ok || r.nodes[idx].parent == noParent {
		return "", false
	}
	return r.nodes[r.nodes[idx].parent].id, true
}

// Chain returns mode followed by its ancestors, nearest first and root last.
//
// An unregistered mode is treated as a root with no bindings. The walk is
// bounded by the number of registered modes and fails with a
// *CorruptHierarchyError when exceeded.
func (r *Registry) Chain(mode ID) ([]ID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idxs, err := r.chainLocked(mode)
	if err != nil {
		return nil, err
	}
	if idxs == nil {
		return []ID{mode}, nil
	}

	chain := make([]ID, len(idxs))
	for i, idx := range idxs {
		chain[i] = r.nodes[idx].id
	}
	return chain, nil
}

// chainLocked returns arena indices from mode to its root. A nil result with
// no error means mode is not registered. Must hold the read lock.
func (r *Registry) chainLocked(mode ID) ([]int, error) {
	if mode == "" {
		return nil, ErrMissingMode
	}

	idx, ok := r.index[mode]
	if !ok {
		return nil, nil
	}

	limit := len(r.nodes)
	var chain []int
	for cur := idx; cur != noParent; cur = r.nodes[cur].parent {
		if len(chain) >= limit {
			return nil, &CorruptHierarchyError{Mode: mode, Steps: len(chain)}
		}
		chain = append(chain, cur)
	}
	return chain, nil
}

// IsDescendant reports whether ancestor appears in mode's chain. A mode is
// its own descendant.
func (r *Registry) IsDescendant(mode, ancestor ID) bool {
	chain, err := r.Chain(mode)
	if err != nil {
		return false
	}
	for _, id := range chain {
		if id == ancestor {
			return true
		}
	}
	return false
}

// Table returns the binding table owned by mode, registering the mode if
// needed.
func (r *Registry) Table(mode ID) (*binding.Table, error) {
	if mode == "" {
		return nil, ErrMissingMode
	}

	r.mu.RLock()
	if idx, ok := r.index[mode]; ok {
		t := r.nodes[idx].table
		r.mu.RUnlock()
		return t, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodes[r.ensureLocked(mode)].table, nil
}

// Modes returns all registered modes, sorted.
func (r *Registry) Modes() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ID, 0, len(r.nodes))
	for _, n := range r.nodes {
		result = append(result, n.id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// Children returns the modes whose parent is mode, sorted.
func (r *Registry) Children(mode ID) []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.index[mode]
	if !ok {
		return nil
	}

	var result []ID
	for _, n := range r.nodes {
		if n.parent == idx {
			result = append(result, n.id)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
