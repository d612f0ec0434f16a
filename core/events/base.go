package events

import "time"

// Kind names an event, e.g. "speech_state.changed".
type Kind string

func (k Kind) String() string {
	return string(k)
}

// Event is implemented by every event published by the coordinator, the
// response bridge and the conversation.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base carries the fields shared by all events and is embedded by each of
// them.
type Base struct {
	kind      Kind
	timestamp time.Time
}

// NewBase stamps an event of the given kind with the current time.
func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}
