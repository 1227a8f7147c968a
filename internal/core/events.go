package core

// EventType discriminates the canonical event variant.
type EventType string

const (
	// EventDelta carries one increment of completion text.
	EventDelta EventType = "delta"
	// EventDone marks clean completion of a session.
	EventDone EventType = "done"
	// EventError marks abnormal termination with a client-visible message.
	EventError EventType = "error"
)

// Event is the canonical streaming vocabulary every backend adapter produces
// and all relay and accounting logic consumes. Exactly one of Text or Message
// is meaningful, selected by Type.
type Event struct {
	Type    EventType `json:"type"`
	Text    string    `json:"content,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Delta returns a text increment event.
func Delta(text string) Event {
	return Event{Type: EventDelta, Text: text}
}

// Done returns the clean-completion event.
func Done() Event {
	return Event{Type: EventDone}
}

// ErrorEvent returns a terminal error event.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// Terminal reports whether the event ends the session.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
