package nodes

import (
	"context"
	"fmt"

	"github.com/wehubfusion/Ariadne/pkg/process"
)

// StartEvent begins a process. A none start runs when the process is started
// directly; message and signal starts run when Engine.Emit receives their event.
type StartEvent struct {
	BaseNode
	trigger *process.Event
}

// NewStartEvent creates a none start event.
func NewStartEvent(id string) *StartEvent {
	return &StartEvent{BaseNode: NewBaseNode(id, nil)}
}

// NewMessageStartEvent creates a start event triggered by message name.
func NewMessageStartEvent(id, name string) *StartEvent {
	return &StartEvent{BaseNode: NewBaseNode(id, nil), trigger: &process.Event{Kind: process.EventMessage, Name: name}}
}

// NewSignalStartEvent creates a start event triggered by signal name.
func NewSignalStartEvent(id, name string) *StartEvent {
	return &StartEvent{BaseNode: NewBaseNode(id, nil), trigger: &process.Event{Kind: process.EventSignal, Name: name}}
}

// Trigger implements process.Starter.
func (n *StartEvent) Trigger() *process.Event {
	if n.trigger == nil {
		return nil
	}
	t := *n.trigger
	return &t
}

// Execute implements process.Executable.
func (n *StartEvent) Execute(_ context.Context, state process.State, _ process.Environment) (process.State, []process.Action, error) {
	return complete(n.ID(), state)
}

// EndKind selects what an end event raises.
type EndKind int

const (
	EndNone EndKind = iota
	EndMessage
	EndSignal
	EndError
)

// EndEvent finishes one token path.
type EndEvent struct {
	BaseNode
	kind           EndKind
	name           string
	correlationKey string
}

// NewEndEvent creates a none end event.
func NewEndEvent(id string) *EndEvent {
	return &EndEvent{BaseNode: NewBaseNode(id, nil)}
}

// NewMessageEndEvent raises message name with the instance variables as
// payload. The correlation is read from the correlationKey variable when set.
func NewMessageEndEvent(id, name, correlationKey string) *EndEvent {
	return &EndEvent{BaseNode: NewBaseNode(id, nil), kind: EndMessage, name: name, correlationKey: correlationKey}
}

// NewSignalEndEvent broadcasts signal name.
func NewSignalEndEvent(id, name string) *EndEvent {
	return &EndEvent{BaseNode: NewBaseNode(id, nil), kind: EndSignal, name: name}
}

// NewErrorEndEvent raises error code. Inside a called process the error is
// correlated to the calling activity so an error boundary on it can catch it.
// In a top-level instance it becomes an incident with code as error ref.
func NewErrorEndEvent(id, code string) *EndEvent {
	return &EndEvent{BaseNode: NewBaseNode(id, nil), kind: EndError, name: code}
}

// Execute implements process.Executable.
func (n *EndEvent) Execute(_ context.Context, state process.State, _ process.Environment) (process.State, []process.Action, error) {
	end := process.CompleteAction{ID: n.ID(), ConsumeToken: true}

	switch n.kind {
	case EndMessage:
		ev := process.Message(n.name, correlationOf(state, n.correlationKey), state.Vars())
		return state, []process.Action{process.EventAction{ID: n.ID(), Event: ev}, end}, nil
	case EndSignal:
		ev := process.Signal(n.name, state.Vars())
		return state, []process.Action{process.EventAction{ID: n.ID(), Event: ev}, end}, nil
	case EndError:
		if state.Parent == nil {
			return incident(n.ID(), n.name, fmt.Sprintf("error end event %s reached", n.ID()), state)
		}
		corr := process.ErrorCorrelation(state.Parent.InstanceID, state.Parent.NodeID)
		ev := process.ErrorEvent(n.name, corr, state.Vars())
		return state, []process.Action{process.EventAction{ID: n.ID(), Event: ev}, end}, nil
	}
	return state, []process.Action{end}, nil
}

// CatchEvent parks the token until its event arrives, then merges the event
// payload into the instance variables and continues. It also backs receive
// tasks.
type CatchEvent struct {
	BaseNode
	kind           process.EventKind
	name           string
	correlationKey string
	consumable     bool
}

// NewMessageCatchEvent waits for message name. Messages are consumed by one waiter.
func NewMessageCatchEvent(id, name, correlationKey string) *CatchEvent {
	return &CatchEvent{BaseNode: NewBaseNode(id, nil), kind: process.EventMessage, name: name, correlationKey: correlationKey, consumable: true}
}

// NewSignalCatchEvent waits for signal name. Signals resume every waiter.
func NewSignalCatchEvent(id, name string) *CatchEvent {
	return &CatchEvent{BaseNode: NewBaseNode(id, nil), kind: process.EventSignal, name: name}
}

// NewTimerCatchEvent waits for a timer event named name correlated to the
// instance id. Timers are fired by an external scheduler through Engine.Emit.
func NewTimerCatchEvent(id, name string) *CatchEvent {
	return &CatchEvent{BaseNode: NewBaseNode(id, nil), kind: process.EventTimer, name: name, consumable: true}
}

// NewReceiveTask waits for message name like a message catch event.
func NewReceiveTask(id, name, correlationKey string) *CatchEvent {
	return NewMessageCatchEvent(id, name, correlationKey)
}

// Awaits returns the event the node registers for in state.
func (n *CatchEvent) Awaits(state process.State) process.Event {
	corr := correlationOf(state, n.correlationKey)
	if n.kind == process.EventTimer {
		corr = state.InstanceID
	}
	return process.Event{Kind: n.kind, Name: n.name, Correlation: corr}
}

// Execute implements process.Executable.
func (n *CatchEvent) Execute(_ context.Context, state process.State, env process.Environment) (process.State, []process.Action, error) {
	if !env.Resumed() {
		return state, []process.Action{process.QueueAction{
			ID:         n.ID(),
			SaveState:  true,
			Event:      n.Awaits(state),
			Consumable: n.consumable,
		}}, nil
	}
	return resumeAndComplete(n.ID(), state, env)
}

// ThrowEvent raises a message or signal and continues. It also backs send tasks.
type ThrowEvent struct {
	BaseNode
	kind           process.EventKind
	name           string
	correlationKey string
}

// NewMessageThrowEvent raises message name.
func NewMessageThrowEvent(id, name, correlationKey string) *ThrowEvent {
	return &ThrowEvent{BaseNode: NewBaseNode(id, nil), kind: process.EventMessage, name: name, correlationKey: correlationKey}
}

// NewSignalThrowEvent broadcasts signal name.
func NewSignalThrowEvent(id, name string) *ThrowEvent {
	return &ThrowEvent{BaseNode: NewBaseNode(id, nil), kind: process.EventSignal, name: name}
}

// NewSendTask raises message name like a message throw event.
func NewSendTask(id, name, correlationKey string) *ThrowEvent {
	return NewMessageThrowEvent(id, name, correlationKey)
}

// Execute implements process.Executable.
func (n *ThrowEvent) Execute(_ context.Context, state process.State, _ process.Environment) (process.State, []process.Action, error) {
	ev := process.Event{
		Kind:        n.kind,
		Name:        n.name,
		Correlation: correlationOf(state, n.correlationKey),
		Payload:     state.Vars(),
	}
	if n.kind == process.EventSignal {
		ev.Correlation = ""
	}
	return state, []process.Action{process.EventAction{ID: n.ID(), Event: ev}, process.Complete(n.ID())}, nil
}

// ErrorBoundaryEvent is an interrupting boundary event attached to an
// activity. The engine arms it when the activity parks; when the matching
// error arrives the activity is interrupted and the boundary's outgoing flows
// are taken instead.
type ErrorBoundaryEvent struct {
	BaseNode
	attachedTo    string
	code          string
	errorVariable string
}

// NewErrorBoundaryEvent catches error code raised for activity attachedTo.
// When errorVariable is set, the error payload is stored under that name.
func NewErrorBoundaryEvent(id, attachedTo, code, errorVariable string) *ErrorBoundaryEvent {
	return &ErrorBoundaryEvent{BaseNode: NewBaseNode(id, nil), attachedTo: attachedTo, code: code, errorVariable: errorVariable}
}

// AttachedTo implements process.Attachable.
func (n *ErrorBoundaryEvent) AttachedTo() string {
	return n.attachedTo
}

// Execute implements process.Executable.
func (n *ErrorBoundaryEvent) Execute(_ context.Context, state process.State, env process.Environment) (process.State, []process.Action, error) {
	if !env.Resumed() {
		corr := process.ErrorCorrelation(state.InstanceID, n.attachedTo)
		return state, []process.Action{process.QueueAction{
			ID:         n.ID(),
			Event:      process.ErrorEvent(n.code, corr, nil),
			Consumable: true,
		}}, nil
	}

	if n.errorVariable != "" {
		payload := map[string]any{"code": n.code}
		if env.Resume.Payload != nil {
			payload["data"] = env.Resume.Payload
		}
		state = state.With(n.errorVariable, payload)
	}
	return state, []process.Action{
		process.DequeueAction{ID: n.attachedTo},
		process.DequeueAction{ID: n.ID()},
		process.Complete(n.ID()),
	}, nil
}

// resumeAndComplete merges the resume payload over the state, drops any
// registrations the node still holds and completes it.
func resumeAndComplete(id string, state process.State, env process.Environment) (process.State, []process.Action, error) {
	state = state.Merge(env.Resume.Payload)
	return state, []process.Action{
		process.DequeueAction{ID: id},
		process.Complete(id),
	}, nil
}

func correlationOf(state process.State, key string) string {
	if key == "" {
		return ""
	}
	v, ok := state.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
