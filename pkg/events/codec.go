package events

import (
	"encoding/json"
	"fmt"
)

// Decode parses a single JSON-encoded event. The second return is false
// when the payload carries an unknown type: unknown events are dropped
// silently so old readers tolerate new event kinds.
func Decode(data []byte) (Event, bool) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, false
	}
	if !Known(e.Type) {
		return Event{}, false
	}
	return e, true
}

// Encode serializes an event as a single JSON line (no trailing newline).
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %q: %w", e.Type, err)
	}
	return data, nil
}
