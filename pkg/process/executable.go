package process

import (
	"context"

	"go.uber.org/zap"
)

// Executable is implemented by every node of a process graph. Execute receives
// the current state and returns the next state with the ordered actions the
// engine must apply. Exactly one returned action must be terminal.
type Executable interface {
	ID() string
	Execute(ctx context.Context, state State, env Environment) (State, []Action, error)
}

// Joiner is implemented by nodes that need more than one incoming token
// before they run, such as converging parallel gateways.
type Joiner interface {
	RequiredTokens(incoming int) int
}

// Starter marks start events. Trigger returns nil for a none start event and
// the triggering event for message and signal starts.
type Starter interface {
	Trigger() *Event
}

// Attachable is implemented by boundary events.
type Attachable interface {
	AttachedTo() string
}

// Flow is a sequence flow between two nodes.
type Flow struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"`
	Default   bool   `json:"default,omitempty"`
}

// FlowResolver exposes the outgoing sequence flows of a node.
type FlowResolver interface {
	Outgoing(nodeID string) []Flow
}

// Environment is what a node sees of the engine during one execution.
type Environment struct {
	// Node is the reference of the executing node.
	Node NodeRef
	// Flows resolves the node's outgoing sequence flows.
	Flows FlowResolver
	// Resume is set when the node is re-entered after a wait or a cascade.
	Resume *ResumeAction

	Scripts    ScriptRunner
	Conditions ConditionEvaluator
	Services   ServiceRegistry
	Rules      RuleEvaluator

	Logger *zap.Logger
}

// Resumed reports whether the execution is a resumption.
func (e Environment) Resumed() bool {
	return e.Resume != nil
}

// Log returns the environment logger or a no-op logger.
func (e Environment) Log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// ScriptRunner runs script task bodies. The returned value is stored in the
// task's result variable.
type ScriptRunner interface {
	Run(ctx context.Context, format, script string, vars map[string]any) (any, error)
}

// ConditionEvaluator evaluates sequence flow conditions.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, expression string, vars map[string]any) (bool, error)
}

// Service is the backend of a service task.
type Service interface {
	Invoke(ctx context.Context, state State, params map[string]string) (map[string]any, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, state State, params map[string]string) (map[string]any, error)

// Invoke calls f.
func (f ServiceFunc) Invoke(ctx context.Context, state State, params map[string]string) (map[string]any, error) {
	return f(ctx, state, params)
}

// ServiceRegistry resolves service task implementations by name.
type ServiceRegistry interface {
	Service(name string) (Service, bool)
}

// Services is a map based ServiceRegistry.
type Services map[string]Service

// Service returns the named service.
func (s Services) Service(name string) (Service, bool) {
	svc, ok := s[name]
	return svc, ok
}

// RuleEvaluator evaluates business rule task decisions.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, decisionRef string, vars map[string]any) (map[string]any, error)
}

// BusinessError is returned by services and rules to raise an incident with
// a specific error reference instead of the generic one.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Func adapts a function to Executable.
type Func struct {
	NodeID string
	Fn     func(ctx context.Context, state State, env Environment) (State, []Action, error)
}

// ID returns the node id.
func (f Func) ID() string { return f.NodeID }

// Execute calls Fn.
func (f Func) Execute(ctx context.Context, state State, env Environment) (State, []Action, error) {
	return f.Fn(ctx, state, env)
}
