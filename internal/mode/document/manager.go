package document

import (
	"sync"

	"github.com/google/uuid"
)

// Manager tracks open documents in open order.
type Manager struct {
	mu        sync.RWMutex
	documents map[uuid.UUID]*Document
	order     []uuid.UUID
}

// NewManager creates an empty document manager.
func NewManager() *Manager {
	return &Manager{
		documents: make(map[uuid.UUID]*Document),
	}
}

// Add starts tracking doc. Adding a tracked document is a no-op.
func (m *Manager) Add(doc *Document) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.documents[doc.ID()]; exists {
		return
	}
	m.documents[doc.ID()] = doc
	m.order = append(m.order, doc.ID())
}

// Get returns the document with id, or nil.
func (m *Manager) Get(id uuid.UUID) *Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.documents[id]
}

// Remove stops tracking the document with id.
func (m *Manager) Remove(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.documents[id]; !exists {
		return false
	}
	delete(m.documents, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

// All returns tracked documents in open order.
func (m *Manager) All() []*Document {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Document, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.documents[id])
	}
	return result
}

// Count returns the number of tracked documents.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.documents)
}
