// Package session provides ThreadStore implementations for persisting
// threads and their append-only message histories.
package session

import (
	"sync"

	"github.com/casemesh-ai/casemesh/core"
)

// InMemoryStore is a volatile ThreadStore implementation storing threads in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Returned histories are copies to prevent
// external mutation of internal state.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*threadRecord
}

type threadRecord struct {
	thread  core.Thread
	history []core.Message
}

// NewInMemoryStore constructs an empty in-memory thread store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{threads: make(map[string]*threadRecord)}
}

// Get returns an existing thread or creates one lazily.
func (s *InMemoryStore) Get(threadID string) (*core.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getOrCreateLocked(threadID)
	t := rec.thread
	return &t, nil
}

// AppendMessages adds messages to the thread's history, creating the thread
// if needed. History is append-only; messages are never removed or reordered.
func (s *InMemoryStore) AppendMessages(threadID string, msgs ...core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getOrCreateLocked(threadID)
	rec.history = append(rec.history, msgs...)
	return nil
}

// History returns a copy of the thread's full message history.
func (s *InMemoryStore) History(threadID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.threads[threadID]
	if !ok {
		return []core.Message{}, nil
	}
	out := make([]core.Message, len(rec.history))
	copy(out, rec.history)
	return out, nil
}

func (s *InMemoryStore) getOrCreateLocked(threadID string) *threadRecord {
	rec, ok := s.threads[threadID]
	if !ok {
		rec = &threadRecord{thread: *core.NewThread(threadID)}
		s.threads[rec.thread.ID] = rec
		if threadID != "" && threadID != rec.thread.ID {
			s.threads[threadID] = rec
		}
	}
	return rec
}
