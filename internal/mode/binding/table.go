package binding

import (
	"fmt"
	"sort"
	"sync"
)

// OwnerKind identifies what owns a table.
type OwnerKind uint8

const (
	// OwnerMode is a table owned by a mode.
	OwnerMode OwnerKind = iota

	// OwnerDocument is a table owned by a document.
	OwnerDocument
)

// String returns the owner kind name.
func (k OwnerKind) String() string {
	switch k {
	case OwnerMode:
		return "mode"
	case OwnerDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Owner identifies the single mode or document that owns a table.
type Owner struct {
	Kind OwnerKind
	Name string
}

// String returns e.g. "mode code".
func (o Owner) String() string {
	return fmt.Sprintf("%s %s", o.Kind, o.Name)
}

// Change describes what an Install did.
type Change uint8

const (
	// ChangeNone indicates the install was a no-op.
	ChangeNone Change = iota

	// ChangeCreated indicates a new binding was created.
	ChangeCreated

	// ChangeUpdated indicates an existing binding was replaced.
	ChangeUpdated
)

// String returns the change name.
func (c Change) String() string {
	switch c {
	case ChangeNone:
		return "none"
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// Table maps names to bindings for a single owner.
type Table struct {
	mu       sync.RWMutex
	owner    Owner
	bindings map[string]*Binding
}

// NewTable creates an empty table for owner.
func NewTable(owner Owner) *Table {
	return &Table{
		owner:    owner,
		bindings: make(map[string]*Binding),
	}
}

// Owner returns the table owner.
func (t *Table) Owner() Owner {
	return t.owner
}

// Install binds name to value with the given flags.
//
// Installing the same value again is a no-op. A constant binding cannot be
// given a different value, and a name cannot switch between mode variable
// and override roles. On any error the existing binding is left unchanged.
func (t *Table) Install(name string, value any, flags Flags) (Change, error) {
	if name == "" {
		return ChangeNone, ErrInvalidName
	}
	if !flags.Valid() {
		return ChangeNone, &FlagConflictError{Owner: t.owner, Name: name, Existing: flags, Incoming: flags}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.bindings[name]
	if !ok {
		t.bindings[name] = &Binding{Name: name, Value: value, Flags: flags}
		return ChangeCreated, nil
	}

	if Equal(existing.Value, value) {
		return ChangeNone, nil
	}

	if existing.IsConstant() {
		return ChangeNone, &ConstantRebindError{
			Owner:     t.owner,
			Name:      name,
			Current:   existing.Value,
			Attempted: value,
		}
	}

	if existing.Flags.conflicts(flags) {
		return ChangeNone, &FlagConflictError{
			Owner:    t.owner,
			Name:     name,
			Existing: existing.Flags,
			Incoming: flags,
		}
	}

	existing.Flags |= flags
	existing.Value = value
	return ChangeUpdated, nil
}

// Lookup returns a copy of the binding for name.
func (t *Table) Lookup(name string) (Binding, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	b, ok := t.bindings[name]
	if !ok {
		return Binding{}, false
	}
	return *b, true
}

// Has reports whether name is bound.
func (t *Table) Has(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.bindings[name]
	return ok
}

// Remove deletes the binding for name, returning whether it existed.
func (t *Table) Remove(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.bindings[name]; !ok {
		return false
	}
	delete(t.bindings, name)
	return true
}

// Len returns the number of bindings.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bindings)
}

// Names returns all bound names, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.bindings))
	for name := range t.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bindings returns copies of all bindings sorted by name.
func (t *Table) Bindings() []Binding {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]Binding, 0, len(t.bindings))
	for _, b := range t.bindings {
		result = append(result, *b)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Reset replaces the table's contents with copies of bindings.
func (t *Table) Reset(bindings []Binding) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.bindings = make(map[string]*Binding, len(bindings))
	for _, b := range bindings {
		t.bindings[b.Name] = &b
	}
}

// Filter returns copies of the bindings carrying all of flags, sorted by name.
func (t *Table) Filter(flags Flags) []Binding {
	all := t.Bindings()
	result := all[:0]
	for _, b := range all {
		if b.Flags.Has(flags) {
			result = append(result, b)
		}
	}
	return result
}
