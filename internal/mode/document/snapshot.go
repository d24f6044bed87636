package document

import (
	"github.com/dshills/modelocal/internal/mode/binding"
	"github.com/dshills/modelocal/internal/mode/registry"
)

// Snapshot is a by-value copy of a document's activation state and its
// document-scoped bindings. Later changes never alias a snapshot's maps,
// slices or stack.
type Snapshot struct {
	Mode      registry.ID
	State     State
	Locals    map[string]any
	Activated map[string]bool
	Saved     []Saved
	Bindings  []binding.Binding
}

// Snapshot captures the document's activation state and local table.
func (d *Document) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Snapshot{
		Mode:      d.mode,
		State:     d.state,
		Bindings:  d.table.Bindings(),
		Locals:    make(map[string]any, len(d.locals)),
		Activated: make(map[string]bool, len(d.activated)),
		Saved:     make([]Saved, len(d.saved)),
	}
	for k, v := range d.locals {
		s.Locals[k] = v
	}
	for k, v := range d.activated {
		s.Activated[k] = v
	}
	copy(s.Saved, d.saved)
	return s
}

// Restore replaces the document's activation state and local table with s.
func (d *Document) Restore(s Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.table.Reset(s.Bindings)
	d.mode = s.Mode
	d.state = s.State
	d.locals = make(map[string]any, len(s.Locals))
	for k, v := range s.Locals {
		d.locals[k] = v
	}
	d.activated = make(map[string]bool, len(s.Activated))
	for k, v := range s.Activated {
		d.activated[k] = v
	}
	d.saved = make([]Saved, len(s.Saved))
	copy(d.saved, s.Saved)
}
