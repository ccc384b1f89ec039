package process

// ActionKind names an action variant.
type ActionKind string

const (
	KindComplete ActionKind = "complete"
	KindQueue    ActionKind = "queue"
	KindDequeue  ActionKind = "dequeue"
	KindEvent    ActionKind = "event"
	KindResume   ActionKind = "resume"
	KindCascade  ActionKind = "cascade"
	KindIncident ActionKind = "incident"
)

// Action is the closed set of effects a node execution can request. Only the
// variants declared in this file implement it.
type Action interface {
	Kind() ActionKind
	action()
}

// CompleteAction reports that a node finished.
type CompleteAction struct {
	ID           string
	SaveState    bool
	ConsumeToken bool
	ProduceToken bool
	// Flows restricts the outgoing sequence flows that receive a token.
	// Nil means every outgoing flow, in declared order.
	Flows []string
}

// QueueAction parks the node until Event arrives.
type QueueAction struct {
	ID         string
	SaveState  bool
	Event      Event
	Consumable bool
}

// DequeueAction removes a registration of node ID. A nil Event removes every
// registration the node holds and interrupts it if it is parked.
type DequeueAction struct {
	ID    string
	Event *Event
}

// EventAction raises an event immediately.
type EventAction struct {
	ID    string
	Event Event
}

// ResumeAction resumes the parked node at Reference.
type ResumeAction struct {
	Reference NodeRef
	Payload   map[string]any
	// Event is the event that caused the resume, if any.
	Event *Event
}

// CascadeAction starts a child instance of Process seeded with InitState.
// An empty Process.Group means the group of the parent.
type CascadeAction struct {
	ParentReference NodeRef
	Process         ProcessRef
	InitState       map[string]any
}

// IncidentAction reports a node failure.
type IncidentAction struct {
	ID       string
	ErrorRef string
	ErrorMsg string
}

func (CompleteAction) Kind() ActionKind { return KindComplete }
func (QueueAction) Kind() ActionKind    { return KindQueue }
func (DequeueAction) Kind() ActionKind  { return KindDequeue }
func (EventAction) Kind() ActionKind    { return KindEvent }
func (ResumeAction) Kind() ActionKind   { return KindResume }
func (CascadeAction) Kind() ActionKind  { return KindCascade }
func (IncidentAction) Kind() ActionKind { return KindIncident }

func (CompleteAction) action() {}
func (QueueAction) action()    {}
func (DequeueAction) action()  {}
func (EventAction) action()    {}
func (ResumeAction) action()   {}
func (CascadeAction) action()  {}
func (IncidentAction) action() {}

// Terminal reports whether a is one of the variants that ends a node execution.
func Terminal(a Action) bool {
	switch a.Kind() {
	case KindComplete, KindQueue, KindCascade, KindIncident:
		return true
	}
	return false
}

// CountTerminal returns how many terminal actions the list contains.
func CountTerminal(actions []Action) int {
	n := 0
	for _, a := range actions {
		if Terminal(a) {
			n++
		}
	}
	return n
}

// Complete is the usual completion: consume the incoming token and pass one on.
func Complete(id string) CompleteAction {
	return CompleteAction{ID: id, ConsumeToken: true, ProduceToken: true}
}

// Fail builds an incident action.
func Fail(id, errorRef, msg string) IncidentAction {
	return IncidentAction{ID: id, ErrorRef: errorRef, ErrorMsg: msg}
}
