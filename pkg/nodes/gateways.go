package nodes

import (
	"context"
	"fmt"

	"github.com/wehubfusion/Ariadne/pkg/process"
)

// ExclusiveGateway takes the first outgoing flow whose condition holds, in
// declaration order. A flow without a condition always holds. When nothing
// holds the default flow is taken, and without one the gateway raises a
// no-outgoing-flow incident.
type ExclusiveGateway struct {
	BaseNode
}

// NewExclusiveGateway creates an exclusive gateway.
func NewExclusiveGateway(id string) *ExclusiveGateway {
	return &ExclusiveGateway{BaseNode: NewBaseNode(id, nil)}
}

// Execute implements process.Executable.
func (n *ExclusiveGateway) Execute(ctx context.Context, state process.State, env process.Environment) (process.State, []process.Action, error) {
	var flows []process.Flow
	if env.Flows != nil {
		flows = env.Flows.Outgoing(n.ID())
	}

	var fallback *process.Flow
	for i := range flows {
		f := flows[i]
		if f.Default {
			fallback = &flows[i]
			continue
		}
		if f.Condition == "" {
			return state, []process.Action{take(n.ID(), f.ID)}, nil
		}
		if env.Conditions == nil {
			return incident(n.ID(), process.ErrorRefScript, "no condition evaluator configured", state)
		}
		ok, err := env.Conditions.Evaluate(ctx, f.Condition, state.Vars())
		if err != nil {
			return incident(n.ID(), process.ErrorRefScript, fmt.Sprintf("condition of flow %s: %v", f.ID, err), state)
		}
		if ok {
			return state, []process.Action{take(n.ID(), f.ID)}, nil
		}
	}

	if fallback != nil {
		return state, []process.Action{take(n.ID(), fallback.ID)}, nil
	}
	return incident(n.ID(), process.ErrorRefNoOutgoingFlow, fmt.Sprintf("no outgoing flow of %s matched", n.ID()), state)
}

func take(id, flowID string) process.CompleteAction {
	c := process.Complete(id)
	c.Flows = []string{flowID}
	return c
}

// ParallelGateway forks a token onto every outgoing flow and, when it has
// several incoming flows, waits for a token on each before running.
type ParallelGateway struct {
	BaseNode
}

// NewParallelGateway creates a parallel gateway.
func NewParallelGateway(id string) *ParallelGateway {
	return &ParallelGateway{BaseNode: NewBaseNode(id, nil)}
}

// RequiredTokens implements process.Joiner.
func (n *ParallelGateway) RequiredTokens(incoming int) int {
	if incoming < 1 {
		return 1
	}
	return incoming
}

// Execute implements process.Executable.
func (n *ParallelGateway) Execute(_ context.Context, state process.State, _ process.Environment) (process.State, []process.Action, error) {
	return complete(n.ID(), state)
}
