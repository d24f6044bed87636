package activation

import (
	"github.com/dshills/modelocal/internal/mode/document"
	"github.com/dshills/modelocal/internal/mode/registry"
)

// WithMode runs body with doc activated in mode.
//
// The document's current mode is deactivated and mode is activated before
// body runs. When body returns, fails or panics, mode is deactivated and
// the document's activation state and local table captured at entry are
// reinstated, which reactivates the original mode with its original values
// and drops bindings made inside body. Panics propagate after restoration.
func (e *Engine) WithMode(doc *document.Document, mode registry.ID, body func() error) (err error) {
	if mode == "" {
		return registry.ErrMissingMode
	}

	entry := doc.Snapshot()

	if entry.Mode != "" && entry.State == document.Active {
		if err := e.Deactivate(doc, entry.Mode); err != nil {
			doc.Restore(entry)
			return err
		}
	}
	if _, err := e.Activate(doc, mode); err != nil {
		doc.Restore(entry)
		return err
	}

	defer func() {
		derr := e.Deactivate(doc, mode)
		doc.Restore(entry)
		e.emit(Event{Kind: EventRestored, Document: doc, Mode: entry.Mode, Saved: entry.Saved})
		if err == nil {
			err = derr
		}
	}()

	return body()
}
