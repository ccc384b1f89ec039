// Package graph holds process definitions: nodes, the sequence flows between
// them, boundary attachments and start events. Definitions are assembled with
// a Builder and are read-only once built.
package graph

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/santhosh-tekuri/jsonschema/v5"
	sdkerrors "github.com/wehubfusion/Ariadne/pkg/errors"
	"github.com/wehubfusion/Ariadne/pkg/process"
)

// Definition is one executable process graph.
type Definition struct {
	ref         process.ProcessRef
	name        string
	nodes       map[string]process.Executable
	order       []string
	flows       []process.Flow
	outgoing    map[string][]process.Flow
	incoming    map[string]int
	boundaries  map[string][]string
	starts      []string
	eventStarts map[process.EventKey][]string
	schema      *jsonschema.Schema
}

// Ref returns the process reference.
func (d *Definition) Ref() process.ProcessRef {
	return d.ref
}

// Name returns the human readable process name.
func (d *Definition) Name() string {
	return d.name
}

// NodeByID returns the node with the given id.
func (d *Definition) NodeByID(id string) (process.Executable, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

// Nodes returns the node ids in declaration order.
func (d *Definition) Nodes() []string {
	return slices.Clone(d.order)
}

// Flows returns every sequence flow in declaration order.
func (d *Definition) Flows() []process.Flow {
	return slices.Clone(d.flows)
}

// Outgoing returns the outgoing sequence flows of a node in declaration order.
func (d *Definition) Outgoing(nodeID string) []process.Flow {
	return slices.Clone(d.outgoing[nodeID])
}

// OutgoingEdges returns the target node ids of a node's outgoing flows in declaration order.
func (d *Definition) OutgoingEdges(nodeID string) []string {
	flows := d.outgoing[nodeID]
	targets := make([]string, 0, len(flows))
	for _, f := range flows {
		targets = append(targets, f.Target)
	}
	return targets
}

// IncomingEdgeCount returns the number of sequence flows entering a node.
func (d *Definition) IncomingEdgeCount(nodeID string) int {
	return d.incoming[nodeID]
}

// RequiredTokens returns how many tokens must arrive before a node runs.
func (d *Definition) RequiredTokens(nodeID string) int {
	incoming := d.incoming[nodeID]
	if j, ok := d.nodes[nodeID].(process.Joiner); ok {
		if n := j.RequiredTokens(incoming); n > 0 {
			return n
		}
	}
	return 1
}

// StartNodes returns the none start events.
func (d *Definition) StartNodes() []string {
	return slices.Clone(d.starts)
}

// EventStarts returns the start events triggered by an event identity.
// Correlation is ignored: a start event has no instance to correlate with.
func (d *Definition) EventStarts(key process.EventKey) []string {
	return slices.Clone(d.eventStarts[key.Uncorrelated()])
}

// Boundaries returns the boundary events attached to an activity.
func (d *Definition) Boundaries(nodeID string) []string {
	return slices.Clone(d.boundaries[nodeID])
}

// ValidateInput checks start variables against the definition's input schema.
// Definitions without a schema accept any input.
func (d *Definition) ValidateInput(vars map[string]any) error {
	if d.schema == nil {
		return nil
	}

	// The validator expects JSON-decoded values (float64 numbers, []any arrays).
	raw, err := json.Marshal(vars)
	if err != nil {
		return sdkerrors.NewError(sdkerrors.CodeInvalidInput, "input is not JSON encodable", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return sdkerrors.NewError(sdkerrors.CodeInvalidInput, "input is not JSON encodable", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	if err := d.schema.Validate(doc); err != nil {
		return sdkerrors.NewError(sdkerrors.CodeInvalidInput,
			fmt.Sprintf("input rejected by %s schema", d.ref), fmt.Errorf("%w: %v", sdkerrors.ErrInvalidInput, err))
	}
	return nil
}
