// Package obsolete records renamed operations and modes so that old names
// keep resolving.
//
// Each link is stored in both directions: old -> new drives resolution
// fallback, new -> old drives introspection. Links are consulted only when
// direct resolution of the old name fails.
package obsolete

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Errors returned by the tracker.
var (
	// ErrInvalidLink indicates an empty or self-referential link.
	ErrInvalidLink = errors.New("invalid obsolete link")

	// ErrLinkCycle indicates a link would make a name its own successor.
	ErrLinkCycle = errors.New("obsolete link cycle")
)

// Kind distinguishes operation renames from mode aliases.
type Kind uint8

const (
	// KindOperation links overridable operation names.
	KindOperation Kind = iota

	// KindMode links mode names.
	KindMode
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindOperation:
		return "operation"
	case KindMode:
		return "mode"
	default:
		return "unknown"
	}
}

// Link redirects Old to New.
type Link struct {
	Kind  Kind
	Old   string
	New   string
	Since Version
}

// String describes the link, e.g. "operation fmt -> format (since 1.2.0)".
func (l Link) String() string {
	if l.Since.IsZero() {
		return fmt.Sprintf("%s %s -> %s", l.Kind, l.Old, l.New)
	}
	return fmt.Sprintf("%s %s -> %s (since %s)", l.Kind, l.Old, l.New, l.Since)
}

type key struct {
	kind Kind
	name string
}

// Tracker stores obsolete links.
type Tracker struct {
	mu       sync.RWMutex
	forward  map[key]Link
	backward map[key][]Link
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		forward:  make(map[key]Link),
		backward: make(map[key][]Link),
	}
}

// MarkObsolete records that operation oldName was replaced by newName.
func (t *Tracker) MarkObsolete(oldName, newName string, since Version) error {
	return t.mark(Link{Kind: KindOperation, Old: oldName, New: newName, Since: since})
}

// MarkObsoleteMode records that mode oldName was replaced by newName.
func (t *Tracker) MarkObsoleteMode(oldName, newName string, since Version) error {
	return t.mark(Link{Kind: KindMode, Old: oldName, New: newName, Since: since})
}

func (t *Tracker) mark(link Link) error {
	if link.Old == "" || link.New == "" || link.Old == link.New {
		return fmt.Errorf("%w: %s", ErrInvalidLink, link)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Walking forward from the new name must not reach the old one.
	for cur, hops := link.New, 0; hops <= len(t.forward); hops++ {
		next, ok := t.forward[key{link.Kind, cur}]
		if !ok {
			break
		}
		if next.New == link.Old {
			return fmt.Errorf("%w: %s", ErrLinkCycle, link)
		}
		cur = next.New
	}

	oldKey := key{link.Kind, link.Old}
	if prev, ok := t.forward[oldKey]; ok {
		if prev == link {
			return nil
		}
		t.removeBackwardLocked(prev)
	}

	t.forward[oldKey] = link
	newKey := key{link.Kind, link.New}
	t.backward[newKey] = append(t.backward[newKey], link)
	return nil
}

func (t *Tracker) removeBackwardLocked(link Link) {
	k := key{link.Kind, link.New}
	links := t.backward[k]
	for i, l := range links {
		if l.Old == link.Old {
			links = append(links[:i], links[i+1:]...)
			break
		}
	}
	if len(links) == 0 {
		delete(t.backward, k)
		return
	}
	t.backward[k] = links
}

// Successor returns the link replacing name, if any.
func (t *Tracker) Successor(kind Kind, name string) (Link, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	l, ok := t.forward[key{kind, name}]
	return l, ok
}

// Predecessors returns the links whose replacement is name, sorted by old
// name.
func (t *Tracker) Predecessors(kind Kind, name string) []Link {
	t.mu.RLock()
	defer t.mu.RUnlock()

	links := t.backward[key{kind, name}]
	result := make([]Link, len(links))
	copy(result, links)
	sort.Slice(result, func(i, j int) bool { return result[i].Old < result[j].Old })
	return result
}

// Follow returns the successive replacement names of name, nearest first,
// stopping after maxHops links. A maxHops of zero or less means no limit
// beyond the number of recorded links.
func (t *Tracker) Follow(kind Kind, name string, maxHops int) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if maxHops <= 0 || maxHops > len(t.forward) {
		maxHops = len(t.forward)
	}

	var result []string
	for cur := name; len(result) < maxHops; {
		l, ok := t.forward[key{kind, cur}]
		if !ok {
			break
		}
		result = append(result, l.New)
		cur = l.New
	}
	return result
}

// Links returns all links of kind, sorted by old name.
func (t *Tracker) Links(kind Kind) []Link {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []Link
	for k, l := range t.forward {
		if k.kind == kind {
			result = append(result, l)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Old < result[j].Old })
	return result
}
