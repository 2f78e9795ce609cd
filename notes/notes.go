// Package notes keeps the research notes accumulated for a matter and
// exposes them to runs as tool executors, so the model can record findings
// mid-conversation and retrieve them in later runs on the same matter.
//
// Search is a linear scan with case-insensitive substring matching, suitable
// for tests and single-process deployments; swap the Store for a semantic
// index when retrieval quality matters.
package notes

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when a note id does not exist for the matter.
var ErrNotFound = errors.New("note not found")

// Note is one recorded research finding.
type Note struct {
	ID      string         `json:"id"`
	Content string         `json:"content"`
	Tags    map[string]any `json:"tags,omitempty"`
}

// Store abstracts persistence of matter-scoped research notes.
// Implementations must be safe for concurrent use.
type Store interface {
	Add(matterID, content string, tags map[string]any) (Note, error)
	Search(matterID, query string, limit int) ([]Note, error)
	Delete(matterID, noteID string) error
}

// InMemoryStore is a process-local Store keeping notes in nested maps
// guarded by an RWMutex.
type InMemoryStore struct {
	mu    sync.RWMutex
	notes map[string]map[string]Note
	seq   map[string]int
}

// NewInMemoryStore returns an empty in-memory note store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{notes: make(map[string]map[string]Note), seq: make(map[string]int)}
}

// Add appends a note, generating a simple incremental id per matter.
func (s *InMemoryStore) Add(matterID, content string, tags map[string]any) (Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.notes[matterID]; !exists {
		s.notes[matterID] = make(map[string]Note)
	}
	s.seq[matterID]++
	n := Note{ID: fmt.Sprintf("note_%d", s.seq[matterID]), Content: content, Tags: cloneTags(tags)}
	s.notes[matterID][n.ID] = n
	return n, nil
}

// Search performs a case-insensitive substring match over the matter's
// notes, returning up to limit hits in id order. An empty query matches
// every note.
func (s *InMemoryStore) Search(matterID, query string, limit int) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, exists := s.notes[matterID]
	if !exists {
		return []Note{}, nil
	}

	ids := make([]string, 0, len(stored))
	for id := range stored {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	needle := strings.ToLower(query)
	results := make([]Note, 0, limit)
	for _, id := range ids {
		if limit > 0 && len(results) >= limit {
			break
		}
		n := stored[id]
		if needle == "" || strings.Contains(strings.ToLower(n.Content), needle) {
			n.Tags = cloneTags(n.Tags)
			results = append(results, n)
		}
	}
	return results, nil
}

// Delete removes a note by id.
func (s *InMemoryStore) Delete(matterID, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, exists := s.notes[matterID]
	if !exists {
		return ErrNotFound
	}
	if _, exists := stored[noteID]; !exists {
		return ErrNotFound
	}
	delete(stored, noteID)
	return nil
}

func cloneTags(tags map[string]any) map[string]any {
	if tags == nil {
		return nil
	}
	out := make(map[string]any, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
