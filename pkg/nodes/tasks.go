package nodes

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/wehubfusion/Ariadne/pkg/process"
)

// Task is an abstract task: it completes immediately.
type Task struct {
	BaseNode
}

// NewTask creates a pass-through task.
func NewTask(id string) *Task {
	return &Task{BaseNode: NewBaseNode(id, nil)}
}

// Execute implements process.Executable.
func (n *Task) Execute(_ context.Context, state process.State, _ process.Environment) (process.State, []process.Action, error) {
	return complete(n.ID(), state)
}

// ScriptTask runs a script and stores its value in a result variable.
type ScriptTask struct {
	BaseNode
	script         string
	format         string
	resultVariable string
}

// NewScriptTask creates a script task. An empty resultVariable stores the
// value under "result".
func NewScriptTask(id, format, script, resultVariable string) *ScriptTask {
	if resultVariable == "" {
		resultVariable = "result"
	}
	return &ScriptTask{BaseNode: NewBaseNode(id, nil), script: script, format: format, resultVariable: resultVariable}
}

// Execute implements process.Executable.
func (n *ScriptTask) Execute(ctx context.Context, state process.State, env process.Environment) (process.State, []process.Action, error) {
	if env.Scripts == nil {
		return incident(n.ID(), process.ErrorRefScript, "no script runner configured", state)
	}
	out, err := env.Scripts.Run(ctx, n.format, n.script, state.Vars())
	if err != nil {
		return incident(n.ID(), process.ErrorRefScript, err.Error(), state)
	}
	return complete(n.ID(), state.With(n.resultVariable, out))
}

// ServiceTask invokes a named service and merges its output variables.
type ServiceTask struct {
	BaseNode
	implementation string
	params         map[string]string
}

// NewServiceTask creates a service task bound to implementation.
func NewServiceTask(id, implementation string, params map[string]string) *ServiceTask {
	return &ServiceTask{
		BaseNode:       NewBaseNode(id, nil),
		implementation: implementation,
		params:         maps.Clone(params),
	}
}

// Execute implements process.Executable. A *process.BusinessError from the
// service becomes an incident with its code; other failures are service-error.
func (n *ServiceTask) Execute(ctx context.Context, state process.State, env process.Environment) (process.State, []process.Action, error) {
	if env.Services == nil {
		return incident(n.ID(), process.ErrorRefService, "no service registry configured", state)
	}
	svc, ok := env.Services.Service(n.implementation)
	if !ok {
		return incident(n.ID(), process.ErrorRefService, fmt.Sprintf("unknown service %q", n.implementation), state)
	}
	out, err := svc.Invoke(ctx, state, maps.Clone(n.params))
	if err != nil {
		return incident(n.ID(), errorRef(err, process.ErrorRefService), err.Error(), state)
	}
	return complete(n.ID(), state.Merge(out))
}

// BusinessRuleTask evaluates a decision and stores its outputs.
type BusinessRuleTask struct {
	BaseNode
	decisionRef    string
	resultVariable string
}

// NewBusinessRuleTask creates a rule task. With an empty resultVariable the
// decision outputs are merged into the instance variables.
func NewBusinessRuleTask(id, decisionRef, resultVariable string) *BusinessRuleTask {
	return &BusinessRuleTask{BaseNode: NewBaseNode(id, nil), decisionRef: decisionRef, resultVariable: resultVariable}
}

// Execute implements process.Executable.
func (n *BusinessRuleTask) Execute(ctx context.Context, state process.State, env process.Environment) (process.State, []process.Action, error) {
	if env.Rules == nil {
		return incident(n.ID(), process.ErrorRefRule, "no rule evaluator configured", state)
	}
	out, err := env.Rules.Evaluate(ctx, n.decisionRef, state.Vars())
	if err != nil {
		return incident(n.ID(), errorRef(err, process.ErrorRefRule), err.Error(), state)
	}
	if n.resultVariable != "" {
		return complete(n.ID(), state.With(n.resultVariable, out))
	}
	return complete(n.ID(), state.Merge(out))
}

// UserTask waits for a task event named after the node and correlated to the
// instance, then merges the completion payload. Manual tasks behave the same.
type UserTask struct {
	BaseNode
}

// NewUserTask creates a user task.
func NewUserTask(id string) *UserTask {
	return &UserTask{BaseNode: NewBaseNode(id, nil)}
}

// NewManualTask creates a manual task.
func NewManualTask(id string) *UserTask {
	return NewUserTask(id)
}

// TaskEvent returns the event that completes user task taskID of an instance.
func TaskEvent(instanceID, taskID string, payload map[string]any) process.Event {
	return process.Event{Kind: process.EventTask, Name: taskID, Correlation: instanceID, Payload: payload}
}

// Execute implements process.Executable.
func (n *UserTask) Execute(_ context.Context, state process.State, env process.Environment) (process.State, []process.Action, error) {
	if !env.Resumed() {
		return state, []process.Action{process.QueueAction{
			ID:         n.ID(),
			SaveState:  true,
			Event:      TaskEvent(state.InstanceID, n.ID(), nil),
			Consumable: true,
		}}, nil
	}
	return resumeAndComplete(n.ID(), state, env)
}

func errorRef(err error, fallback string) string {
	var be *process.BusinessError
	if errors.As(err, &be) && be.Code != "" {
		return be.Code
	}
	return fallback
}
