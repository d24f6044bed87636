// Package document provides the per-document state the mode engine works
// on: the active mode, document-scoped bindings, document-local variable
// values, and the activation bookkeeping needed to undo a mode activation.
package document

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/modelocal/internal/mode/binding"
	"github.com/dshills/modelocal/internal/mode/registry"
)

// State is the activation state of a document.
type State uint8

const (
	// Inactive means no mode variables are materialized.
	Inactive State = iota

	// Activating means materialization is in progress.
	Activating

	// Active means the active mode's variables are materialized.
	Active
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Activating:
		return "activating"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// Saved is a document-local value displaced by an activation.
type Saved struct {
	Name  string
	Value any
}

// Document is a live editing context that is in exactly one mode at a time.
type Document struct {
	id   uuid.UUID
	name string

	mu sync.Mutex

	// mode is the mode the document is in.
	mode registry.ID

	// table holds document-scoped bindings that shadow mode bindings.
	table *binding.Table

	// locals are document-local variable values.
	locals map[string]any

	// activated tracks names materialized from mode variables.
	activated map[string]bool

	// saved stacks values displaced by activations.
	saved []Saved

	state State

	// initDepth counts open mode-initialization sequences.
	initDepth int
}

// New creates an inactive document with no mode.
func New(name string) *Document {
	id := uuid.New()
	if name == "" {
		name = "*scratch*"
	}
	return &Document{
		id:        id,
		name:      name,
		table:     binding.NewTable(binding.Owner{Kind: binding.OwnerDocument, Name: name}),
		locals:    make(map[string]any),
		activated: make(map[string]bool),
	}
}

// ID returns the unique document identifier.
func (d *Document) ID() uuid.UUID { return d.id }

// Name returns the display name.
func (d *Document) Name() string { return d.name }

// Table returns the document-scoped binding table.
func (d *Document) Table() *binding.Table { return d.table }

// Mode returns the mode the document is in.
func (d *Document) Mode() registry.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// SetMode records the mode the document is in without activating it.
func (d *Document) SetMode(mode registry.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = mode
}

// State returns the activation state.
func (d *Document) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetState sets the activation state.
func (d *Document) SetState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
}

// IsActivated reports whether mode is the document's mode and its
// variables are materialized.
func (d *Document) IsActivated(mode registry.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode == mode && d.state == Active
}

// Local returns the document-local value for name.
func (d *Document) Local(name string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.locals[name]
	return v, ok
}

// SetLocal sets a document-local value. The value is user-owned and is not
// marked as materialized.
func (d *Document) SetLocal(name string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locals[name] = value
	delete(d.activated, name)
}

// ClearLocal removes a document-local value.
func (d *Document) ClearLocal(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.locals, name)
	delete(d.activated, name)
}

// Locals returns a copy of all document-local values.
func (d *Document) Locals() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := make(map[string]any, len(d.locals))
	for k, v := range d.locals {
		result[k] = v
	}
	return result
}

// Activated returns the names materialized from mode variables, sorted.
func (d *Document) Activated() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.activated))
	for name := range d.activated {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Materialize sets name to value as a mode-variable activation. When the
// document already had a local value for name, the old value is pushed onto
// the saved stack and returned.
func (d *Document) Materialize(name string, value any) (Saved, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, had := d.locals[name]
	var saved Saved
	if had {
		saved = Saved{Name: name, Value: prev}
		d.saved = append(d.saved, saved)
	}
	d.locals[name] = value
	d.activated[name] = true
	return saved, had
}

// Unmaterialize removes the document-local value for name, returning it to
// its inherited state.
func (d *Document) Unmaterialize(name string) {
	d.ClearLocal(name)
}

// Saved returns a copy of the saved-value stack, oldest first.
func (d *Document) Saved() []Saved {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := make([]Saved, len(d.saved))
	copy(result, d.saved)
	return result
}

// ClearSaved empties the saved-value stack.
func (d *Document) ClearSaved() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saved = nil
}

// BeginInit marks the start of an external mode-initialization sequence.
func (d *Document) BeginInit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initDepth++
}

// EndInit marks the end of an initialization sequence started by BeginInit.
func (d *Document) EndInit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initDepth > 0 {
		d.initDepth--
	}
}

// Initializing reports whether an initialization sequence is open.
func (d *Document) Initializing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initDepth > 0
}
