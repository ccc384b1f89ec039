package process

import (
	"encoding/json"
	"maps"
	"sort"
)

// State is the instance-scoped variable map threaded through node executions,
// plus the fields the engine reserves for itself. A State is a value: every
// modifier returns a new State and the receiver is left untouched, so a node
// can never change a State another node still holds.
type State struct {
	// InstanceID is the owning process instance.
	InstanceID string
	// Process is the definition the instance runs.
	Process ProcessRef
	// NodeID is the node currently executing or parked.
	NodeID string
	// Parent links a cascaded instance to the node that started it.
	Parent *NodeRef
	// Suspended marks a state persisted while the instance waits on an event.
	Suspended bool

	vars map[string]any
}

// NewState creates a state seeded with a copy of vars.
func NewState(instanceID string, ref ProcessRef, vars map[string]any) State {
	return State{
		InstanceID: instanceID,
		Process:    ref,
		vars:       maps.Clone(vars),
	}
}

// Get returns a variable value.
func (s State) Get(name string) (any, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// GetString returns a variable as string, or "" when missing or of another type.
func (s State) GetString(name string) string {
	if v, ok := s.vars[name].(string); ok {
		return v
	}
	return ""
}

// Has reports whether a variable is set.
func (s State) Has(name string) bool {
	_, ok := s.vars[name]
	return ok
}

// Len returns the number of variables.
func (s State) Len() int {
	return len(s.vars)
}

// Names returns the variable names in sorted order.
func (s State) Names() []string {
	names := make([]string, 0, len(s.vars))
	for k := range s.vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Vars returns a copy of the variables.
func (s State) Vars() map[string]any {
	out := maps.Clone(s.vars)
	if out == nil {
		out = make(map[string]any)
	}
	return out
}

// With returns a copy of the state with one variable set.
func (s State) With(name string, value any) State {
	next := s.clone()
	next.vars[name] = value
	return next
}

// Merge returns a copy of the state with every entry of vars set, overwriting
// variables of the same name.
func (s State) Merge(vars map[string]any) State {
	if len(vars) == 0 {
		return s
	}
	next := s.clone()
	for k, v := range vars {
		next.vars[k] = v
	}
	return next
}

// Without returns a copy of the state with the named variables removed.
func (s State) Without(names ...string) State {
	next := s.clone()
	for _, n := range names {
		delete(next.vars, n)
	}
	return next
}

// AtNode returns a copy of the state positioned on nodeID.
func (s State) AtNode(nodeID string) State {
	s.NodeID = nodeID
	return s
}

func (s State) clone() State {
	next := s
	next.vars = make(map[string]any, len(s.vars)+1)
	for k, v := range s.vars {
		next.vars[k] = v
	}
	return next
}

type stateJSON struct {
	InstanceID string         `json:"instance_id"`
	Process    ProcessRef     `json:"process"`
	NodeID     string         `json:"node_id,omitempty"`
	Parent     *NodeRef       `json:"parent,omitempty"`
	Suspended  bool           `json:"suspended,omitempty"`
	Vars       map[string]any `json:"vars"`
}

// MarshalJSON encodes the state including its reserved fields.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateJSON{
		InstanceID: s.InstanceID,
		Process:    s.Process,
		NodeID:     s.NodeID,
		Parent:     s.Parent,
		Suspended:  s.Suspended,
		Vars:       s.Vars(),
	})
}

// UnmarshalJSON decodes a state produced by MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var aux stateJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = State{
		InstanceID: aux.InstanceID,
		Process:    aux.Process,
		NodeID:     aux.NodeID,
		Parent:     aux.Parent,
		Suspended:  aux.Suspended,
		vars:       aux.Vars,
	}
	if s.vars == nil {
		s.vars = make(map[string]any)
	}
	return nil
}
