package process

import "maps"

// EventKind classifies events. Kind, name and correlation together form the
// identity the registry matches on.
type EventKind string

const (
	EventMessage    EventKind = "message"
	EventSignal     EventKind = "signal"
	EventError      EventKind = "error"
	EventTimer      EventKind = "timer"
	EventTask       EventKind = "task"
	EventCompletion EventKind = "completion"
)

// Event is something a node waits for or raises.
type Event struct {
	Kind        EventKind      `json:"kind"`
	Name        string         `json:"name"`
	Correlation string         `json:"correlation,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// EventKey is the identity of an event without its payload.
type EventKey struct {
	Kind        EventKind
	Name        string
	Correlation string
}

// Key returns the event identity.
func (e Event) Key() EventKey {
	return EventKey{Kind: e.Kind, Name: e.Name, Correlation: e.Correlation}
}

// Uncorrelated returns the identity with the correlation removed.
func (k EventKey) Uncorrelated() EventKey {
	k.Correlation = ""
	return k
}

// String renders the identity as kind:name[@correlation].
func (k EventKey) String() string {
	s := string(k.Kind) + ":" + k.Name
	if k.Correlation != "" {
		s += "@" + k.Correlation
	}
	return s
}

// Message builds a message event.
func Message(name, correlation string, payload map[string]any) Event {
	return Event{Kind: EventMessage, Name: name, Correlation: correlation, Payload: maps.Clone(payload)}
}

// Signal builds a signal event. Signals are broadcast and carry no correlation.
func Signal(name string, payload map[string]any) Event {
	return Event{Kind: EventSignal, Name: name, Payload: maps.Clone(payload)}
}

// ErrorEvent builds an error event correlated to the activity that should catch it.
func ErrorEvent(code, correlation string, payload map[string]any) Event {
	return Event{Kind: EventError, Name: code, Correlation: correlation, Payload: maps.Clone(payload)}
}

// ErrorCorrelation is the correlation an error event uses to reach the boundary
// events attached to one activity of one instance.
func ErrorCorrelation(instanceID, activityID string) string {
	return instanceID + "/" + activityID
}
