// Package dispatch resolves overridable operations to the most specific
// implementation for a document.
//
// Resolution is single-inheritance: the document's own table is checked
// first, then each mode of the document's chain from most to least
// specific. When the operation name has no override anywhere, the
// obsolescence tracker is consulted and resolution is retried with the
// replacement name. A miss is not an error; Call falls back to the
// operation's declared default.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/modelocal/internal/mode/binding"
	"github.com/dshills/modelocal/internal/mode/document"
	"github.com/dshills/modelocal/internal/mode/obsolete"
	"github.com/dshills/modelocal/internal/mode/registry"
)

// Errors returned by the resolver.
var (
	// ErrUnknownOperation indicates a call to an operation with neither an
	// override nor a default.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrInvalidImplementation indicates a nil or non-Func implementation.
	ErrInvalidImplementation = errors.New("invalid implementation")
)

// DefaultMaxHops bounds obsolete-link chasing during resolution.
const DefaultMaxHops = 8

// Func implements an overridable operation.
type Func func(ctx context.Context, args ...any) (any, error)

// Operation is a declared overridable operation.
type Operation struct {
	Name    string
	Default Func
}

// Match is a resolved override.
type Match struct {
	Func Func

	// Name is the operation name the override was bound under; it differs
	// from the requested name after an obsolete-link fallback.
	Name string

	// Source identifies the mode or document providing the override.
	Source binding.Owner
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxHops sets how many obsolete links resolution may follow.
func WithMaxHops(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxHops = n
		}
	}
}

// WithFallbackObserver registers a callback invoked when an override is
// found through an obsolete link.
func WithFallbackObserver(fn func(requested string, match Match)) Option {
	return func(r *Resolver) {
		r.onFallback = fn
	}
}

// Resolver looks up overrides and declared operations.
type Resolver struct {
	reg     *registry.Registry
	tracker *obsolete.Tracker

	mu         sync.RWMutex
	operations map[string]Operation

	maxHops    int
	onFallback func(requested string, match Match)
}

// New creates a resolver over reg and tracker.
func New(reg *registry.Registry, tracker *obsolete.Tracker, opts ...Option) *Resolver {
	r := &Resolver{
		reg:        reg,
		tracker:    tracker,
		operations: make(map[string]Operation),
		maxHops:    DefaultMaxHops,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefineOperation declares name as overridable with the given default.
// Redefining an operation replaces its default. A nil default is allowed;
// calls without an override then fail with ErrUnknownOperation.
func (r *Resolver) DefineOperation(name string, def Func) error {
	if name == "" {
		return binding.ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations[name] = Operation{Name: name, Default: def}
	return nil
}

// Operation returns the declared operation for name.
func (r *Resolver) Operation(name string) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.operations[name]
	return op, ok
}

// Operations returns all declared operations sorted by name.
func (r *Resolver) Operations() []Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Operation, 0, len(r.operations))
	for _, op := range r.operations {
		result = append(result, op)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// DefineOverride installs impl as the override of name in mode.
func (r *Resolver) DefineOverride(name string, mode registry.ID, impl Func) error {
	if impl == nil {
		return fmt.Errorf("%w: %s in %s", ErrInvalidImplementation, name, mode)
	}

	tbl, err := r.reg.Table(mode)
	if err != nil {
		return fmt.Errorf("override %s: %w", name, err)
	}
	if _, err := tbl.Install(name, impl, binding.Override); err != nil {
		return fmt.Errorf("override %s: %w", name, err)
	}
	return nil
}

// DefineLocalOverride installs impl as a document-scoped override of name.
func (r *Resolver) DefineLocalOverride(name string, doc *document.Document, impl Func) error {
	if impl == nil {
		return fmt.Errorf("%w: %s in %s", ErrInvalidImplementation, name, doc.Name())
	}
	if _, err := doc.Table().Install(name, impl, binding.Override); err != nil {
		return fmt.Errorf("override %s: %w", name, err)
	}
	return nil
}

// FetchOverride returns the most specific override of name visible from
// doc. The boolean result is false when no override exists.
func (r *Resolver) FetchOverride(name string, doc *document.Document) (Match, bool, error) {
	var mode registry.ID
	var local *binding.Table
	if doc != nil {
		mode = doc.Mode()
		local = doc.Table()
	}
	return r.fetch(name, mode, local)
}

// FetchModeOverride resolves name against mode's chain only.
func (r *Resolver) FetchModeOverride(name string, mode registry.ID) (Match, bool, error) {
	return r.fetch(name, mode, nil)
}

func (r *Resolver) fetch(name string, mode registry.ID, local *binding.Table) (Match, bool, error) {
	m, ok, err := r.lookup(name, mode, local)
	if err != nil || ok {
		return m, ok, err
	}

	for _, next := range r.tracker.Follow(obsolete.KindOperation, name, r.maxHops) {
		m, ok, err = r.lookup(next, mode, local)
		if err != nil {
			return Match{}, false, err
		}
		if ok {
			if r.onFallback != nil {
				r.onFallback(name, m)
			}
			return m, true, nil
		}
	}
	return Match{}, false, nil
}

func (r *Resolver) lookup(name string, mode registry.ID, local *binding.Table) (Match, bool, error) {
	res, ok, err := r.reg.Resolve(name, mode, local, binding.Override)
	if err != nil || !ok {
		return Match{}, false, err
	}

	fn, ok := res.Value.(Func)
	if !ok {
		return Match{}, false, fmt.Errorf("%w: %s from %s holds %T", ErrInvalidImplementation, name, res.Source, res.Value)
	}
	return Match{Func: fn, Name: name, Source: res.Source}, true, nil
}

// Call invokes the override of name visible from doc, or the operation's
// default when there is none.
func (r *Resolver) Call(ctx context.Context, name string, doc *document.Document, args ...any) (any, error) {
	m, ok, err := r.FetchOverride(name, doc)
	if err != nil {
		return nil, err
	}
	if ok {
		return m.Func(ctx, args...)
	}

	def := r.defaultFor(name)
	if def == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	return def(ctx, args...)
}

// defaultFor returns the default of name or of the first declared
// replacement of name.
func (r *Resolver) defaultFor(name string) Func {
	if op, ok := r.Operation(name); ok && op.Default != nil {
		return op.Default
	}
	for _, next := range r.tracker.Follow(obsolete.KindOperation, name, r.maxHops) {
		if op, ok := r.Operation(next); ok && op.Default != nil {
			return op.Default
		}
	}
	return nil
}
