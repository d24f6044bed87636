// Package notify delivers mode-local change events to observers.
//
// The runtime publishes an event whenever a binding is installed or removed
// and whenever a document's mode variables are activated, deactivated,
// deferred or restored. Observers subscribe to every event or to events for
// one binding name.
package notify

import (
	"sync"
)

// ChangeType represents the type of change.
type ChangeType int

const (
	// ChangeBind indicates a binding was created or updated.
	ChangeBind ChangeType = iota

	// ChangeUnbind indicates a binding was removed.
	ChangeUnbind

	// ChangeActivate indicates a document materialized a mode variable.
	ChangeActivate

	// ChangeDeactivate indicates a document dropped a materialized value.
	ChangeDeactivate

	// ChangeDefer indicates a mode switch was queued.
	ChangeDefer

	// ChangeRestore indicates a scoped activation restored a document.
	ChangeRestore
)

// String returns the change type name.
func (c ChangeType) String() string {
	switch c {
	case ChangeBind:
		return "bind"
	case ChangeUnbind:
		return "unbind"
	case ChangeActivate:
		return "activate"
	case ChangeDeactivate:
		return "deactivate"
	case ChangeDefer:
		return "defer"
	case ChangeRestore:
		return "restore"
	default:
		return "unknown"
	}
}

// Change describes a single event.
type Change struct {
	// Type is the type of change.
	Type ChangeType

	// Name is the binding name. Empty for document-wide events.
	Name string

	// Mode is the mode involved, if any.
	Mode string

	// Document is the document name, if any.
	Document string

	// OldValue is the previous value (may be nil).
	OldValue any

	// NewValue is the new value (may be nil).
	NewValue any
}

// Observer is called when a change occurs.
type Observer func(change Change)

// Subscription represents an active observer subscription.
type Subscription struct {
	id       uint64
	notifier *Notifier
}

// Unsubscribe removes this subscription.
func (s *Subscription) Unsubscribe() {
	if s.notifier != nil {
		s.notifier.unsubscribe(s.id)
	}
}

// Notifier manages subscriptions.
type Notifier struct {
	mu sync.RWMutex

	// Observers that receive all changes
	globalObservers map[uint64]Observer

	// Observers keyed by binding name
	nameObservers map[string]map[uint64]Observer

	nextID uint64

	async  bool
	buffer chan Change
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAsync enables asynchronous delivery through a buffer of bufferSize.
func WithAsync(bufferSize int) Option {
	return func(n *Notifier) {
		if bufferSize > 0 {
			n.async = true
			n.buffer = make(chan Change, bufferSize)
		}
	}
}

// New creates a new Notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		globalObservers: make(map[uint64]Observer),
		nameObservers:   make(map[string]map[uint64]Observer),
		done:            make(chan struct{}),
	}

	for _, opt := range opts {
		opt(n)
	}

	if n.async {
		n.wg.Add(1)
		go n.processAsync()
	}

	return n
}

// Subscribe registers an observer for all changes.
func (n *Notifier) Subscribe(observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.globalObservers[id] = observer

	return &Subscription{id: id, notifier: n}
}

// SubscribeName registers an observer for changes to one binding name.
func (n *Notifier) SubscribeName(name string, observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++

	if n.nameObservers[name] == nil {
		n.nameObservers[name] = make(map[uint64]Observer)
	}
	n.nameObservers[name][id] = observer

	return &Subscription{id: id, notifier: n}
}

// Notify sends a change to all relevant observers.
func (n *Notifier) Notify(change Change) {
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return
	}
	n.mu.RUnlock()

	if n.async {
		select {
		case n.buffer <- change:
		case <-n.done:
		}
		return
	}

	n.deliverChange(change)
}

// Close shuts down the notifier. It is safe to call Close multiple times.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	close(n.done)
	n.wg.Wait()
}

func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.globalObservers, id)

	for name, observers := range n.nameObservers {
		delete(observers, id)
		if len(observers) == 0 {
			delete(n.nameObservers, name)
		}
	}
}

func (n *Notifier) deliverChange(change Change) {
	n.mu.RLock()

	var observers []Observer
	for _, obs := range n.globalObservers {
		observers = append(observers, obs)
	}
	if change.Name != "" {
		for _, obs := range n.nameObservers[change.Name] {
			observers = append(observers, obs)
		}
	}

	n.mu.RUnlock()

	// Call observers outside the lock
	for _, obs := range observers {
		obs(change)
	}
}

func (n *Notifier) processAsync() {
	defer n.wg.Done()

	for {
		select {
		case change := <-n.buffer:
			n.deliverChange(change)
		case <-n.done:
			// Drain remaining buffered changes
			for {
				select {
				case change := <-n.buffer:
					n.deliverChange(change)
				default:
					return
				}
			}
		}
	}
}
