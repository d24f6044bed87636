// Package mode is the public surface of the mode-local configuration
// engine.
//
// A Runtime owns the mode hierarchy, the overridable operations, the
// obsolescence side-table and the set of open documents. Hosts create one
// Runtime and route every registration, lookup and mode change through it:
//
//	rt := mode.New(mode.WithLogger(logger))
//	defer rt.Close()
//
//	_ = rt.RegisterMode("text", "")
//	_ = rt.RegisterMode("code", "text")
//	_ = rt.BindInMode("text", "indentWidth", 4, binding.ModeVariable)
//	_ = rt.BindInMode("code", "indentWidth", 2, binding.ModeVariable)
//
//	doc, _ := rt.NewDocument("main.go", "code")
//	width, _, _ := rt.LookupValue("indentWidth", doc, binding.None) // 2
package mode

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/dshills/modelocal/internal/logging"
	"github.com/dshills/modelocal/internal/mode/activation"
	"github.com/dshills/modelocal/internal/mode/binding"
	"github.com/dshills/modelocal/internal/mode/dispatch"
	"github.com/dshills/modelocal/internal/mode/document"
	"github.com/dshills/modelocal/internal/mode/obsolete"
	"github.com/dshills/modelocal/internal/mode/registry"
	"github.com/dshills/modelocal/internal/notify"
)

// ErrUnbound is returned by Decode when no binding is visible.
var ErrUnbound = errors.New("unbound name")

// Runtime wires the registry, resolver, activation engine and document
// manager together.
type Runtime struct {
	reg      *registry.Registry
	tracker  *obsolete.Tracker
	resolver *dispatch.Resolver
	engine   *activation.Engine
	docs     *document.Manager

	notifier     *notify.Notifier
	ownsNotifier bool
	log          *logging.Logger
	maxHops      int

	warnMu sync.Mutex
	warned map[string]bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(rt *Runtime) {
		if l != nil {
			rt.log = l
		}
	}
}

// WithNotifier publishes change events to n instead of a private notifier.
// The caller keeps ownership of n.
func WithNotifier(n *notify.Notifier) Option {
	return func(rt *Runtime) {
		if n != nil {
			rt.notifier = n
		}
	}
}

// WithMaxObsoleteHops bounds how many obsolete links are followed when
// resolving operations and mode aliases.
func WithMaxObsoleteHops(n int) Option {
	return func(rt *Runtime) {
		if n > 0 {
			rt.maxHops = n
		}
	}
}

// New creates a Runtime.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		reg:     registry.New(),
		tracker: obsolete.NewTracker(),
		docs:    document.NewManager(),
		log:     logging.Null(),
		maxHops: dispatch.DefaultMaxHops,
		warned:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.notifier == nil {
		rt.notifier = notify.New()
		rt.ownsNotifier = true
	}
	rt.log = rt.log.WithComponent("mode")

	rt.resolver = dispatch.New(rt.reg, rt.tracker,
		dispatch.WithMaxHops(rt.maxHops),
		dispatch.WithFallbackObserver(rt.onFallback),
	)
	rt.engine = activation.New(rt.reg, activation.WithObserver(rt.onActivation))
	return rt
}

// Close releases the runtime's notifier when the runtime created it.
func (rt *Runtime) Close() {
	if rt.ownsNotifier {
		rt.notifier.Close()
	}
}

// Registry returns the underlying mode registry.
func (rt *Runtime) Registry() *registry.Registry { return rt.reg }

// Tracker returns the obsolescence tracker.
func (rt *Runtime) Tracker() *obsolete.Tracker { return rt.tracker }

// Canonical maps a mode name to the registered mode it stands for. A mode
// that is not registered but was marked obsolete resolves to its nearest
// registered successor; anything else is returned unchanged.
func (rt *Runtime) Canonical(mode registry.ID) registry.ID {
	if mode == "" || rt.reg.Has(mode) {
		return mode
	}
	for _, next := range rt.tracker.Follow(obsolete.KindMode, string(mode), rt.maxHops) {
		if rt.reg.Has(registry.ID(next)) {
			rt.warnOnce("mode:"+string(mode), "mode %s is obsolete, using %s", mode, next)
			return registry.ID(next)
		}
	}
	return mode
}

// RegisterMode registers id with parent, replacing any previous parent. An
// empty parent makes id a root.
func (rt *Runtime) RegisterMode(id, parent registry.ID) error {
	id, parent = rt.Canonical(id), rt.Canonical(parent)
	if err := rt.reg.SetParent(id, parent); err != nil {
		return fmt.Errorf("register mode %s: %w", id, err)
	}
	rt.log.Debug("registered mode %s (parent %q)", id, parent)
	return nil
}

// Chain returns the ancestor chain of mode, nearest first.
func (rt *Runtime) Chain(mode registry.ID) ([]registry.ID, error) {
	return rt.reg.Chain(rt.Canonical(mode))
}

// BindInMode installs name in mode's table.
func (rt *Runtime) BindInMode(mode registry.ID, name string, value any, flags binding.Flags) error {
	mode = rt.Canonical(mode)
	tbl, err := rt.reg.Table(mode)
	if err != nil {
		return fmt.Errorf("bind %s: %w", name, err)
	}
	return rt.install(tbl, string(mode), "", name, value, flags)
}

// BindLocally installs name in doc's own table, shadowing mode bindings for
// that document only.
func (rt *Runtime) BindLocally(doc *document.Document, name string, value any, flags binding.Flags) error {
	return rt.install(doc.Table(), string(doc.Mode()), doc.Name(), name, value, flags)
}

func (rt *Runtime) install(tbl *binding.Table, mode, docName, name string, value any, flags binding.Flags) error {
	old, _ := tbl.Lookup(name)
	change, err := tbl.Install(name, value, flags)
	if err != nil {
		return fmt.Errorf("bind %s in %s: %w", name, tbl.Owner(), err)
	}
	if change == binding.ChangeNone {
		return nil
	}

	rt.log.Debug("%s %s in %s (%s)", change, name, tbl.Owner(), flags)
	rt.notifier.Notify(notify.Change{
		Type:     notify.ChangeBind,
		Name:     name,
		Mode:     mode,
		Document: docName,
		OldValue: old.Value,
		NewValue: value,
	})
	return nil
}

// UnbindLocally removes a document-scoped binding. It reports whether a
// binding was removed.
func (rt *Runtime) UnbindLocally(doc *document.Document, name string) bool {
	old, ok := doc.Table().Lookup(name)
	if !ok || !doc.Table().Remove(name) {
		return false
	}
	rt.notifier.Notify(notify.Change{
		Type:     notify.ChangeUnbind,
		Name:     name,
		Mode:     string(doc.Mode()),
		Document: doc.Name(),
		OldValue: old.Value,
	})
	return true
}

// LookupValue returns the value of name as seen from doc.
//
// When want is zero or ModeVariable, the document-local value set by an
// activation or SetLocal wins. Otherwise resolution checks the document's
// own table, then its mode chain. A miss returns false and no error.
// A nil doc has no mode and no bindings, so every lookup misses.
func (rt *Runtime) LookupValue(name string, doc *document.Document, want binding.Flags) (any, bool, error) {
	if doc == nil {
		return nil, false, nil
	}
	if want == binding.None || want == binding.ModeVariable {
		if v, ok := doc.Local(name); ok {
			return v, true, nil
		}
	}

	res, ok, err := rt.reg.Resolve(name, doc.Mode(), doc.Table(), want)
	if err != nil || !ok {
		return nil, false, err
	}
	return res.Value, true, nil
}

// LookupModeValue resolves name against mode's chain only.
func (rt *Runtime) LookupModeValue(name string, mode registry.ID, want binding.Flags) (any, bool, error) {
	mode = rt.Canonical(mode)
	if mode == "" {
		return nil, false, registry.ErrMissingMode
	}
	res, ok, err := rt.reg.Resolve(name, mode, nil, want)
	if err != nil || !ok {
		return nil, false, err
	}
	return res.Value, true, nil
}

// Decode resolves name from doc and decodes the value into target, which
// must be a pointer. Decoding is weakly typed, so a Lua or file-sourced
// int64 fills an int field.
func (rt *Runtime) Decode(name string, doc *document.Document, target any) error {
	v, ok, err := rt.LookupValue(name, doc, binding.None)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnbound, name)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// DefineOverridableOperation declares name with an optional default.
func (rt *Runtime) DefineOverridableOperation(name string, def dispatch.Func) error {
	if err := rt.resolver.DefineOperation(name, def); err != nil {
		return err
	}
	rt.log.Debug("defined operation %s", name)
	return nil
}

// DefineOverride installs impl as mode's override of name.
func (rt *Runtime) DefineOverride(name string, mode registry.ID, impl dispatch.Func) error {
	mode = rt.Canonical(mode)
	if err := rt.resolver.DefineOverride(name, mode, impl); err != nil {
		return err
	}
	rt.notifier.Notify(notify.Change{Type: notify.ChangeBind, Name: name, Mode: string(mode), NewValue: impl})
	return nil
}

// DefineLocalOverride installs impl as doc's own override of name.
func (rt *Runtime) DefineLocalOverride(name string, doc *document.Document, impl dispatch.Func) error {
	if err := rt.resolver.DefineLocalOverride(name, doc, impl); err != nil {
		return err
	}
	rt.notifier.Notify(notify.Change{Type: notify.ChangeBind, Name: name, Document: doc.Name(), NewValue: impl})
	return nil
}

// FetchOverride returns the most specific override of name visible from doc.
func (rt *Runtime) FetchOverride(name string, doc *document.Document) (dispatch.Match, bool, error) {
	return rt.resolver.FetchOverride(name, doc)
}

// Call invokes name for doc.
func (rt *Runtime) Call(ctx context.Context, name string, doc *document.Document, args ...any) (any, error) {
	return rt.resolver.Call(ctx, name, doc, args...)
}

// Operations returns the declared operations.
func (rt *Runtime) Operations() []dispatch.Operation {
	return rt.resolver.Operations()
}

// MarkObsolete records that operation oldName was replaced by newName.
func (rt *Runtime) MarkObsolete(oldName, newName string, since obsolete.Version) error {
	if err := rt.tracker.MarkObsolete(oldName, newName, since); err != nil {
		return err
	}
	rt.log.Debug("operation %s obsolete since %s, use %s", oldName, since, newName)
	return nil
}

// MarkObsoleteMode records that mode oldName was renamed to newName.
func (rt *Runtime) MarkObsoleteMode(oldName, newName registry.ID, since obsolete.Version) error {
	if err := rt.tracker.MarkObsoleteMode(string(oldName), string(newName), since); err != nil {
		return err
	}
	rt.log.Debug("mode %s obsolete since %s, use %s", oldName, since, newName)
	return nil
}

// NewDocument creates and tracks a document. A non-empty mode is activated
// immediately.
func (rt *Runtime) NewDocument(name string, mode registry.ID) (*document.Document, error) {
	doc := document.New(name)
	rt.docs.Add(doc)
	if mode == "" {
		return doc, nil
	}
	if _, err := rt.OnModeChanged(doc, mode); err != nil {
		rt.docs.Remove(doc.ID())
		return nil, err
	}
	return doc, nil
}

// Document returns the tracked document with id, or nil.
func (rt *Runtime) Document(id uuid.UUID) *document.Document {
	return rt.docs.Get(id)
}

// Documents returns tracked documents in open order.
func (rt *Runtime) Documents() []*document.Document {
	return rt.docs.All()
}

// CloseDocument stops tracking doc and drops any queued switch for it.
func (rt *Runtime) CloseDocument(doc *document.Document) bool {
	rt.engine.Cancel(doc.ID())
	return rt.docs.Remove(doc.ID())
}

// OnModeChanged moves doc into mode. While the document is initializing
// the switch is deferred to Tick and false is returned.
func (rt *Runtime) OnModeChanged(doc *document.Document, mode registry.ID) (bool, error) {
	mode = rt.Canonical(mode)
	applied, err := rt.engine.Switch(doc, mode)
	if err != nil {
		return false, fmt.Errorf("switch %s to %s: %w", doc.Name(), mode, err)
	}
	return applied, nil
}

// BeginInit opens an initialization sequence on doc and returns the func
// that closes it. Calling the returned func more than once has no effect.
func (rt *Runtime) BeginInit(doc *document.Document) func() {
	doc.BeginInit()
	return sync.OnceFunc(doc.EndInit)
}

// Tick applies deferred mode switches for documents that finished
// initializing.
func (rt *Runtime) Tick() (int, error) {
	n, err := rt.engine.Tick()
	if err != nil {
		rt.log.Error("deferred activation: %v", err)
	}
	return n, err
}

// Pending returns documents with deferred switches.
func (rt *Runtime) Pending() []*document.Document {
	return rt.engine.Pending()
}

// WithMode runs body as if doc were in mode, restoring doc afterwards.
func (rt *Runtime) WithMode(doc *document.Document, mode registry.ID, body func() error) error {
	return rt.engine.WithMode(doc, rt.Canonical(mode), body)
}

// MapModeDocuments calls fn for every tracked document whose mode is mode
// or one of its descendants. All documents are visited; errors are joined.
func (rt *Runtime) MapModeDocuments(mode registry.ID, fn func(*document.Document) error) error {
	mode = rt.Canonical(mode)
	if mode == "" {
		return registry.ErrMissingMode
	}

	var errs []error
	for _, doc := range rt.docs.All() {
		m := doc.Mode()
		if m == "" || !rt.reg.IsDescendant(m, mode) {
			continue
		}
		if err := fn(doc); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", doc.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Refresh re-activates every tracked document in mode or a descendant, so
// they pick up bindings changed since their activation.
func (rt *Runtime) Refresh(mode registry.ID) error {
	return rt.MapModeDocuments(mode, func(doc *document.Document) error {
		m := doc.Mode()
		if doc.State() == document.Active {
			if err := rt.engine.Deactivate(doc, m); err != nil {
				return err
			}
		}
		_, err := rt.engine.Activate(doc, m)
		return err
	})
}

// Describe lists every binding visible from mode.
func (rt *Runtime) Describe(mode registry.ID) ([]registry.Visible, error) {
	mode = rt.Canonical(mode)
	if mode == "" {
		return nil, registry.ErrMissingMode
	}
	return rt.reg.Describe(mode)
}

// Subscribe registers an observer for every change event.
func (rt *Runtime) Subscribe(obs notify.Observer) *notify.Subscription {
	return rt.notifier.Subscribe(obs)
}

// SubscribeName registers an observer for events about one binding name.
func (rt *Runtime) SubscribeName(name string, obs notify.Observer) *notify.Subscription {
	return rt.notifier.SubscribeName(name, obs)
}
