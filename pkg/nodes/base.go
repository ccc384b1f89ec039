// Package nodes implements the BPMN element set on top of process.Executable:
// events, gateways, tasks and call activities.
package nodes

import (
	"maps"

	"github.com/wehubfusion/Ariadne/pkg/process"
)

// BaseNode provides the id, label and raw attributes shared by every node.
// Embed it in node implementations.
type BaseNode struct {
	id    string
	label string
	attrs map[string]any
}

// NewBaseNode creates a base node. attrs is copied.
func NewBaseNode(id string, attrs map[string]any) BaseNode {
	a := maps.Clone(attrs)
	if a == nil {
		a = make(map[string]any)
	}
	label, _ := a["name"].(string)
	return BaseNode{id: id, label: label, attrs: a}
}

// ID returns the node id.
func (n BaseNode) ID() string {
	return n.id
}

// Label returns the node name attribute.
func (n BaseNode) Label() string {
	return n.label
}

// Attr returns a raw attribute.
func (n BaseNode) Attr(key string) any {
	return n.attrs[key]
}

// AttrString returns an attribute as string.
func (n BaseNode) AttrString(key string) string {
	if v, ok := n.attrs[key].(string); ok {
		return v
	}
	return ""
}

// AttrStringWithDefault returns an attribute as string with default.
func (n BaseNode) AttrStringWithDefault(key, defaultVal string) string {
	if v, ok := n.attrs[key].(string); ok && v != "" {
		return v
	}
	return defaultVal
}

// AttrBool returns an attribute as bool.
func (n BaseNode) AttrBool(key string) bool {
	v, _ := n.attrs[key].(bool)
	return v
}

// AttrStringMap returns an attribute holding string values keyed by name.
func (n BaseNode) AttrStringMap(key string) map[string]string {
	switch v := n.attrs[key].(type) {
	case map[string]string:
		return maps.Clone(v)
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, raw := range v {
			if s, ok := raw.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}

func complete(id string, state process.State) (process.State, []process.Action, error) {
	return state, []process.Action{process.Complete(id)}, nil
}

func incident(id, errorRef, msg string, state process.State) (process.State, []process.Action, error) {
	return state, []process.Action{process.Fail(id, errorRef, msg)}, nil
}
