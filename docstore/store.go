package docstore

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when a document for the given matter / id pair
// does not exist in the underlying store.
var ErrNotFound = errors.New("document not found")

// Store abstracts persistence of case documents. Implementations must be
// safe for concurrent use.
type Store interface {
	Save(matterID, documentID string, data []byte) error
	Get(matterID, documentID string) ([]byte, error)
	List(matterID string) ([]string, error)
	Delete(matterID, documentID string) error
}

// InMemoryStore is a process-local Store implementation useful for tests,
// examples and single-process prototypes. It keeps all documents in a nested
// map guarded by an RWMutex. Data is copied on save and retrieval to avoid
// accidental external mutation of internal buffers.
//
// Layout: matterID -> documentID -> raw bytes
//
// It does not enforce retention limits, size quotas, or eviction.
type InMemoryStore struct {
	mu        sync.RWMutex
	documents map[string]map[string][]byte
}

// NewInMemoryStore returns an empty in-memory document store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{documents: make(map[string]map[string][]byte)}
}

// Save stores (or overwrites) the document bytes for the given matter and id.
// The input slice is copied before storage.
func (s *InMemoryStore) Save(matterID, documentID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[matterID]; !exists {
		s.documents[matterID] = make(map[string][]byte)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.documents[matterID][documentID] = cp
	return nil
}

// Get returns a copy of the stored document bytes or ErrNotFound.
func (s *InMemoryStore) Get(matterID, documentID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.documents[matterID]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := m[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// List returns the document ids stored for the matter. The slice is a
// snapshot and safe for caller mutation.
func (s *InMemoryStore) List(matterID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.documents[matterID]
	if !ok {
		return []string{}, nil
	}
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete removes the document if present or returns ErrNotFound.
func (s *InMemoryStore) Delete(matterID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.documents[matterID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m[documentID]; !ok {
		return ErrNotFound
	}
	delete(m, documentID)
	return nil
}
