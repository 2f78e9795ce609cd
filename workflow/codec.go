package workflow

import (
	"encoding/json"
	"fmt"
)

// encodeState serializes the full workflow record for persistence. Stores
// share one representation so a workflow written by one store can be resumed
// from another.
func encodeState(state *State) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow %s: %w", state.ID, err)
	}
	return raw, nil
}

func decodeState(raw []byte) (*State, error) {
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode workflow state: %w", err)
	}
	if state.Context == nil {
		state.Context = make(map[string]map[string]any)
	}
	return &state, nil
}
