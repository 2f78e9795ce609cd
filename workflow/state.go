package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/casemesh-ai/casemesh/core"
)

// ErrWorkflowNotFound is returned by stores when an id has no record.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Transition is one entry of the append-only phase history.
type Transition struct {
	From Phase     `json:"from"`
	To   Phase     `json:"to"`
	At   time.Time `json:"at"`
	// Note carries diagnostic detail: the failing task and error on a move
	// to Failed, the operator reason on Cancelled, empty otherwise.
	Note string `json:"note,omitempty"`
}

// State is the orchestration-level record of one workflow. Context
// accumulates phase outputs keyed by phase; History is append-only and never
// rewritten.
type State struct {
	ID      string                    `json:"workflow_id"`
	Goal    string                    `json:"goal"`
	Phase   Phase                     `json:"phase"`
	Context map[string]map[string]any `json:"context"`
	History []Transition              `json:"history"`
	Created time.Time                 `json:"created_at"`
	Updated time.Time                 `json:"updated_at"`
}

// NewState creates a workflow in the Created phase.
func NewState(goal string) *State {
	now := time.Now().UTC()
	return &State{
		ID:      core.NewID(),
		Goal:    goal,
		Phase:   PhaseCreated,
		Context: make(map[string]map[string]any),
		Created: now,
		Updated: now,
	}
}

// apply records a transition. The caller has already validated the edge.
func (s *State) apply(to Phase, note string) {
	now := time.Now().UTC()
	s.History = append(s.History, Transition{From: s.Phase, To: to, At: now, Note: note})
	s.Phase = to
	s.Updated = now
}

// fold merges a phase's output into the accumulated context.
func (s *State) fold(phase Phase, output map[string]any) {
	if len(output) == 0 {
		return
	}
	bucket := s.Context[string(phase)]
	if bucket == nil {
		bucket = make(map[string]any)
		s.Context[string(phase)] = bucket
	}
	for k, v := range output {
		bucket[k] = v
	}
}

// Store durably persists workflow state keyed by workflow id. Save must
// write the full record; Load must return ErrWorkflowNotFound for unknown
// ids.
type Store interface {
	Save(ctx context.Context, state *State) error
	Load(ctx context.Context, workflowID string) (*State, error)
	List(ctx context.Context) ([]string, error)
}

// InMemoryStore is a Store for tests and single-process deployments without
// durability requirements.
type InMemoryStore struct {
	mu     sync.RWMutex
	states map[string][]byte
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{states: make(map[string][]byte)}
}

// Save implements Store.
func (s *InMemoryStore) Save(ctx context.Context, state *State) error {
	raw, err := encodeState(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ID] = raw
	return nil
}

// Load implements Store.
func (s *InMemoryStore) Load(ctx context.Context, workflowID string) (*State, error) {
	s.mu.RLock()
	raw, ok := s.states[workflowID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return decodeState(raw)
}

// List implements Store.
func (s *InMemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	return ids, nil
}
