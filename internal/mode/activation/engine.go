// Package activation materializes mode variables into documents.
//
// Activating a document in a mode walks the mode's ancestor chain from the
// root down, so nearer modes overwrite farther ones, and copies every
// mode-variable binding into the document's local values. Values displaced
// by the copy are pushed onto the document's saved stack.
//
// # Scoped activation
//
// WithMode runs a function as if the document were in another mode and
// restores the document's activation state on every exit path, including
// errors and panics:
//
//	err := engine.WithMode(doc, "code", func() error {
//	    return render(doc)
//	})
//
// # Deferred activation
//
// A host that is still initializing a document's mode brackets the work
// with Document.BeginInit / Document.EndInit. Mode switches requested
// inside that window are queued and applied by Tick, which the host calls
// from its idle loop.
package activation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/modelocal/internal/mode/binding"
	"github.com/dshills/modelocal/internal/mode/document"
	"github.com/dshills/modelocal/internal/mode/registry"
)

// EventKind identifies an activation event.
type EventKind uint8

const (
	// EventActivated is sent after a document's mode variables are materialized.
	EventActivated EventKind = iota

	// EventDeactivated is sent after materialized values are removed.
	EventDeactivated

	// EventDeferred is sent when a switch is queued for the next Tick.
	EventDeferred

	// EventRestored is sent when a WithMode scope restores the document.
	EventRestored
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventActivated:
		return "activated"
	case EventDeactivated:
		return "deactivated"
	case EventDeferred:
		return "deferred"
	case EventRestored:
		return "restored"
	default:
		return "unknown"
	}
}

// Event describes an activation state change.
type Event struct {
	Kind     EventKind
	Document *document.Document
	Mode     registry.ID

	// Names lists the variables materialized or removed.
	Names []string

	// Saved lists values displaced by an activation.
	Saved []document.Saved
}

// Observer receives activation events.
type Observer func(Event)

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers an observer for activation events.
func WithObserver(obs Observer) Option {
	return func(e *Engine) {
		if obs != nil {
			e.observers = append(e.observers, obs)
		}
	}
}

type pendingSwitch struct {
	doc  *document.Document
	mode registry.ID
}

// Engine activates and deactivates modes on documents.
type Engine struct {
	reg *registry.Registry

	mu      sync.Mutex
	pending []pendingSwitch

	observers []Observer
}

// New creates an engine resolving chains through reg.
func New(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{reg: reg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) emit(ev Event) {
	for _, obs := range e.observers {
		obs(ev)
	}
}

// Activate materializes the mode variables of mode's chain into doc and
// makes mode the document's mode. It returns the values displaced from the
// document, which are also pushed onto the document's saved stack.
//
// Activating the mode a document is already active in is a no-op.
func (e *Engine) Activate(doc *document.Document, mode registry.ID) ([]document.Saved, error) {
	if mode == "" {
		return nil, registry.ErrMissingMode
	}
	if doc.IsActivated(mode) {
		return nil, nil
	}

	tables, err := e.reg.ChainTables(mode)
	if err != nil {
		return nil, fmt.Errorf("activate %s: %w", mode, err)
	}

	doc.SetState(document.Activating)

	var saved []document.Saved
	var names []string
	// Oldest ancestor first so descendants overwrite.
	for i := len(tables) - 1; i >= 0; i-- {
		for _, b := range tables[i].Filter(binding.ModeVariable) {
			if s, had := doc.Materialize(b.Name, b.Value); had {
				saved = append(saved, s)
			}
			names = append(names, b.Name)
		}
	}

	doc.SetMode(mode)
	doc.SetState(document.Active)

	e.emit(Event{Kind: EventActivated, Document: doc, Mode: mode, Names: names, Saved: saved})
	return saved, nil
}

// Deactivate removes the document-local values of every mode variable
// reachable from mode's chain, along with any other value the document
// still holds from an earlier activation. The latter covers variables
// inherited from a parent that mode no longer has.
func (e *Engine) Deactivate(doc *document.Document, mode registry.ID) error {
	if mode == "" {
		return registry.ErrMissingMode
	}

	tables, err := e.reg.ChainTables(mode)
	if err != nil {
		return fmt.Errorf("deactivate %s: %w", mode, err)
	}

	var names []string
	for _, t := range tables {
		for _, b := range t.Filter(binding.ModeVariable) {
			doc.Unmaterialize(b.Name)
			names = append(names, b.Name)
		}
	}
	for _, name := range doc.Activated() {
		doc.Unmaterialize(name)
		names = append(names, name)
	}
	doc.SetState(document.Inactive)

	e.emit(Event{Kind: EventDeactivated, Document: doc, Mode: mode, Names: names})
	return nil
}

// Switch moves doc into mode. When the document is inside an
// initialization sequence the switch is queued for Tick and false is
// returned; otherwise it is applied immediately.
func (e *Engine) Switch(doc *document.Document, mode registry.ID) (bool, error) {
	if mode == "" {
		return false, registry.ErrMissingMode
	}
	if doc.Initializing() {
		e.enqueue(doc, mode, true)
		e.emit(Event{Kind: EventDeferred, Document: doc, Mode: mode})
		return false, nil
	}
	return true, e.switchNow(doc, mode)
}

func (e *Engine) switchNow(doc *document.Document, mode registry.ID) error {
	if doc.IsActivated(mode) {
		return nil
	}

	if old := doc.Mode(); old != "" && doc.State() == document.Active {
		if err := e.Deactivate(doc, old); err != nil {
			return err
		}
	}
	doc.ClearSaved()

	_, err := e.Activate(doc, mode)
	return err
}

// enqueue records a pending switch. With replace set, a newer request for
// the same document supersedes the queued one.
func (e *Engine) enqueue(doc *document.Document, mode registry.ID, replace bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, p := range e.pending {
		if p.doc.ID() == doc.ID() {
			if replace {
				e.pending[i].mode = mode
			}
			return
		}
	}
	e.pending = append(e.pending, pendingSwitch{doc: doc, mode: mode})
}

// Tick applies queued switches for documents that have finished
// initializing, in request order. Documents still initializing stay queued.
// It returns the number of switches applied.
func (e *Engine) Tick() (int, error) {
	e.mu.Lock()
	batch := e.pending
	e.pending = nil
	e.mu.Unlock()

	applied := 0
	var errs []error
	for _, p := range batch {
		if p.doc.Initializing() {
			e.enqueue(p.doc, p.mode, false)
			continue
		}
		if err := e.switchNow(p.doc, p.mode); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.doc.Name(), err))
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}

// Pending returns documents with queued switches, in request order.
func (e *Engine) Pending() []*document.Document {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make([]*document.Document, len(e.pending))
	for i, p := range e.pending {
		result[i] = p.doc
	}
	return result
}

// PendingMode returns the queued mode for the document with id.
func (e *Engine) PendingMode(id uuid.UUID) (registry.ID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range e.pending {
		if p.doc.ID() == id {
			return p.mode, true
		}
	}
	return "", false
}

// Cancel drops any queued switch for the document with id.
func (e *Engine) Cancel(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, p := range e.pending {
		if p.doc.ID() == id {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return true
		}
	}
	return false
}
