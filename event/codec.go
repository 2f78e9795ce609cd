package event

import (
	"encoding/json"
	"fmt"
)

// Marshal encodes an event as a single JSON wire frame.
func Marshal(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Unmarshal decodes a JSON wire frame into its concrete event type. An
// unknown or missing type discriminator is rejected: the union is closed and
// silently dropping frames would hide protocol drift between peers.
func Unmarshal(data []byte) (Event, error) {
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode event frame: %w", err)
	}

	var (
		ev  Event
		err error
	)
	switch probe.Type {
	case TypeRunStarted:
		ev, err = decodeInto[RunStarted](data)
	case TypeTextMessageStart:
		ev, err = decodeInto[TextMessageStart](data)
	case TypeTextMessageContent:
		ev, err = decodeInto[TextMessageContent](data)
	case TypeTextMessageEnd:
		ev, err = decodeInto[TextMessageEnd](data)
	case TypeToolCallStart:
		ev, err = decodeInto[ToolCallStart](data)
	case TypeToolCallArgsDelta:
		ev, err = decodeInto[ToolCallArgsDelta](data)
	case TypeToolCallEnd:
		ev, err = decodeInto[ToolCallEnd](data)
	case TypeStateSnapshot:
		ev, err = decodeInto[StateSnapshot](data)
	case TypeStateDelta:
		ev, err = decodeInto[StateDelta](data)
	case TypeRunFinished:
		ev, err = decodeInto[RunFinished](data)
	case TypeRunError:
		ev, err = decodeInto[RunError](data)
	case "":
		return nil, fmt.Errorf("event frame missing type discriminator")
	default:
		return nil, fmt.Errorf("unknown event type %q", probe.Type)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeInto[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}
