package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/wehubfusion/Ariadne/pkg/process"
)

// Mapping copies one value between a calling and a called process. Source is
// a variable name, or a gjson path over the variables when Expression is set.
// A dotted Target writes into a nested object.
type Mapping struct {
	Source     string `json:"source"`
	Target     string `json:"target"`
	Expression bool   `json:"expression,omitempty"`
}

// VariableMapping maps variable source to target.
func VariableMapping(source, target string) Mapping {
	return Mapping{Source: source, Target: target}
}

// ExpressionMapping maps the value at gjson path to target.
func ExpressionMapping(path, target string) Mapping {
	return Mapping{Source: path, Target: target, Expression: true}
}

// CallActivity starts an instance of another process and continues when it
// completes. Without input mappings the child receives every variable; without
// output mappings every child variable is merged back.
type CallActivity struct {
	BaseNode
	calledElement process.ProcessRef
	inputs        []Mapping
	outputs       []Mapping
}

// NewCallActivity creates a call activity. An empty group in calledElement
// resolves to the caller's group.
func NewCallActivity(id string, calledElement process.ProcessRef, inputs, outputs []Mapping) *CallActivity {
	return &CallActivity{
		BaseNode:      NewBaseNode(id, nil),
		calledElement: calledElement,
		inputs:        append([]Mapping(nil), inputs...),
		outputs:       append([]Mapping(nil), outputs...),
	}
}

// CalledElement returns the called process.
func (n *CallActivity) CalledElement() process.ProcessRef {
	return n.calledElement
}

// Execute implements process.Executable.
func (n *CallActivity) Execute(_ context.Context, state process.State, env process.Environment) (process.State, []process.Action, error) {
	if !env.Resumed() {
		init := state.Vars()
		if len(n.inputs) > 0 {
			var err error
			if init, err = applyMappings(n.inputs, state.Vars(), nil); err != nil {
				return incident(n.ID(), process.ErrorRefInternal, fmt.Sprintf("input mapping: %v", err), state)
			}
		}
		return state, []process.Action{process.CascadeAction{
			ParentReference: env.Node,
			Process:         n.calledElement,
			InitState:       init,
		}}, nil
	}

	out := env.Resume.Payload
	if len(n.outputs) > 0 {
		var err error
		if out, err = applyMappings(n.outputs, env.Resume.Payload, state.Vars()); err != nil {
			return incident(n.ID(), process.ErrorRefInternal, fmt.Sprintf("output mapping: %v", err), state)
		}
	}
	return complete(n.ID(), state.Merge(out))
}

// applyMappings evaluates mappings over source and returns the top-level
// variables to set. Nested targets start from the existing value in base.
func applyMappings(mappings []Mapping, source, base map[string]any) (map[string]any, error) {
	updates := make(map[string]any, len(mappings))

	var doc []byte
	for _, m := range mappings {
		if m.Target == "" {
			return nil, fmt.Errorf("mapping from %q has no target", m.Source)
		}

		var value any
		if m.Expression {
			if doc == nil {
				var err error
				if doc, err = json.Marshal(source); err != nil {
					return nil, fmt.Errorf("encode variables: %w", err)
				}
			}
			value = gjson.GetBytes(doc, m.Source).Value()
		} else {
			value = source[m.Source]
		}

		top, rest, nested := strings.Cut(m.Target, ".")
		if !nested {
			updates[top] = value
			continue
		}

		current, ok := updates[top]
		if !ok {
			current = base[top]
		}
		obj, err := json.Marshal(current)
		if err != nil || !gjson.ValidBytes(obj) || !gjson.ParseBytes(obj).IsObject() {
			obj = []byte("{}")
		}
		if obj, err = sjson.SetBytes(obj, rest, value); err != nil {
			return nil, fmt.Errorf("set %s: %w", m.Target, err)
		}
		var merged any
		if err := json.Unmarshal(obj, &merged); err != nil {
			return nil, fmt.Errorf("decode %s: %w", m.Target, err)
		}
		updates[top] = merged
	}
	return updates, nil
}
