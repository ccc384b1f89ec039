package nodes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkerrors "github.com/wehubfusion/Ariadne/pkg/errors"
	"github.com/wehubfusion/Ariadne/pkg/process"
)

type flowMap map[string][]process.Flow

func (f flowMap) Outgoing(id string) []process.Flow { return f[id] }

type condFunc func(expr string, vars map[string]any) (bool, error)

func (c condFunc) Evaluate(_ context.Context, expr string, vars map[string]any) (bool, error) {
	return c(expr, vars)
}

type scriptFunc func(format, script string, vars map[string]any) (any, error)

func (s scriptFunc) Run(_ context.Context, format, script string, vars map[string]any) (any, error) {
	return s(format, script, vars)
}

type ruleFunc func(ref string, vars map[string]any) (map[string]any, error)

func (r ruleFunc) Evaluate(_ context.Context, ref string, vars map[string]any) (map[string]any, error) {
	return r(ref, vars)
}

var orders = process.NewProcessRef("sales", "orders")

func newState(vars map[string]any) process.State {
	return process.NewState("inst-1", orders, vars)
}

func envFor(nodeID string) process.Environment {
	return process.Environment{Node: process.NodeRef{Process: orders, InstanceID: "inst-1", NodeID: nodeID}}
}

func resumed(env process.Environment, payload map[string]any) process.Environment {
	env.Resume = &process.ResumeAction{Reference: env.Node, Payload: payload}
	return env
}

func run(t *testing.T, n process.Executable, state process.State, env process.Environment) (process.State, []process.Action) {
	t.Helper()
	next, actions, err := n.Execute(context.Background(), state, env)
	require.NoError(t, err)
	require.Equal(t, 1, process.CountTerminal(actions), "exactly one terminal action")
	return next, actions
}

func lastIncident(t *testing.T, actions []process.Action) process.IncidentAction {
	t.Helper()
	inc, ok := actions[len(actions)-1].(process.IncidentAction)
	require.True(t, ok, "expected an incident, got %#v", actions)
	return inc
}

func TestStartEvents(t *testing.T) {
	_, actions := run(t, NewStartEvent("s"), newState(nil), envFor("s"))
	assert.Equal(t, []process.Action{process.Complete("s")}, actions)

	assert.Nil(t, NewStartEvent("s").Trigger())
	assert.Equal(t, &process.Event{Kind: process.EventMessage, Name: "order"}, NewMessageStartEvent("s", "order").Trigger())
	assert.Equal(t, &process.Event{Kind: process.EventSignal, Name: "tick"}, NewSignalStartEvent("s", "tick").Trigger())
}

func TestEndEvents(t *testing.T) {
	state := newState(map[string]any{"order_id": "o-7"})

	_, actions := run(t, NewEndEvent("e"), state, envFor("e"))
	assert.Equal(t, []process.Action{process.CompleteAction{ID: "e", ConsumeToken: true}}, actions)

	_, actions = run(t, NewMessageEndEvent("e", "shipped", "order_id"), state, envFor("e"))
	require.Len(t, actions, 2)
	ev := actions[0].(process.EventAction).Event
	assert.Equal(t, process.EventMessage, ev.Kind)
	assert.Equal(t, "o-7", ev.Correlation)
	assert.Equal(t, "o-7", ev.Payload["order_id"])

	_, actions = run(t, NewSignalEndEvent("e", "done"), state, envFor("e"))
	assert.Equal(t, process.EventSignal, actions[0].(process.EventAction).Event.Kind)
}

func TestErrorEndEvent(t *testing.T) {
	n := NewErrorEndEvent("fail", "PAYMENT_DECLINED")

	_, actions := run(t, n, newState(nil), envFor("fail"))
	inc := lastIncident(t, actions)
	assert.Equal(t, "PAYMENT_DECLINED", inc.ErrorRef)

	child := newState(map[string]any{"reason": "card"})
	child.Parent = &process.NodeRef{Process: orders, InstanceID: "parent-1", NodeID: "pay"}
	_, actions = run(t, n, child, envFor("fail"))
	require.Len(t, actions, 2)
	ev := actions[0].(process.EventAction).Event
	assert.Equal(t, process.ErrorEvent("PAYMENT_DECLINED", "parent-1/pay", map[string]any{"reason": "card"}), ev)
	assert.False(t, actions[1].(process.CompleteAction).ProduceToken)
}

func TestCatchEventQueuesThenCompletes(t *testing.T) {
	n := NewMessageCatchEvent("wait", "approval", "order_id")
	state := newState(map[string]any{"order_id": 12, "amount": 10})

	_, actions := run(t, n, state, envFor("wait"))
	q := actions[0].(process.QueueAction)
	assert.True(t, q.Consumable)
	assert.True(t, q.SaveState)
	assert.Equal(t, process.Event{Kind: process.EventMessage, Name: "approval", Correlation: "12"}, q.Event)

	next, actions := run(t, n, state, resumed(envFor("wait"), map[string]any{"approved": true, "amount": 20}))
	assert.Equal(t, []process.Action{process.DequeueAction{ID: "wait"}, process.Complete("wait")}, actions)
	approved, _ := next.Get("approved")
	amount, _ := next.Get("amount")
	assert.Equal(t, true, approved)
	assert.Equal(t, 20, amount)
	orig, _ := state.Get("amount")
	assert.Equal(t, 10, orig, "the input state is never modified")
}

func TestSignalAndTimerCatch(t *testing.T) {
	_, actions := run(t, NewSignalCatchEvent("s", "go"), newState(nil), envFor("s"))
	assert.False(t, actions[0].(process.QueueAction).Consumable)

	_, actions = run(t, NewTimerCatchEvent("t", "reminder"), newState(nil), envFor("t"))
	q := actions[0].(process.QueueAction)
	assert.Equal(t, process.EventTimer, q.Event.Kind)
	assert.Equal(t, "inst-1", q.Event.Correlation)
}

func TestThrowEvents(t *testing.T) {
	state := newState(map[string]any{"k": "v"})
	_, actions := run(t, NewSendTask("send", "invoice", "k"), state, envFor("send"))
	ev := actions[0].(process.EventAction)
	assert.Equal(t, "send", ev.ID)
	assert.Equal(t, "v", ev.Event.Correlation)
	assert.Equal(t, process.Complete("send"), actions[1])

	_, actions = run(t, NewSignalThrowEvent("sig", "go"), state, envFor("sig"))
	assert.Empty(t, actions[0].(process.EventAction).Event.Correlation)
}

func TestErrorBoundaryEvent(t *testing.T) {
	n := NewErrorBoundaryEvent("caught", "pay", "PAYMENT_DECLINED", "error")
	assert.Equal(t, "pay", n.AttachedTo())

	_, actions := run(t, n, newState(nil), envFor("caught"))
	q := actions[0].(process.QueueAction)
	assert.Equal(t, process.ErrorEvent("PAYMENT_DECLINED", "inst-1/pay", nil), q.Event)
	assert.True(t, q.Consumable)

	next, actions := run(t, n, newState(nil), resumed(envFor("caught"), map[string]any{"reason": "card"}))
	assert.Equal(t, process.DequeueAction{ID: "pay"}, actions[0])
	errVar, _ := next.Get("error")
	assert.Equal(t, map[string]any{"code": "PAYMENT_DECLINED", "data": map[string]any{"reason": "card"}}, errVar)
}

func TestExclusiveGateway(t *testing.T) {
	flows := flowMap{"gw": {
		{ID: "big", Source: "gw", Target: "manual", Condition: "${amount > 100}"},
		{ID: "small", Source: "gw", Target: "auto", Condition: "${amount <= 100}"},
		{ID: "other", Source: "gw", Target: "reject", Default: true},
	}}
	cond := condFunc(func(expr string, vars map[string]any) (bool, error) {
		amount, _ := vars["amount"].(int)
		switch expr {
		case "${amount > 100}":
			return amount > 100, nil
		case "${amount <= 100}":
			return amount >= 0 && amount <= 100, nil
		}
		return false, errors.New("bad expression")
	})
	env := envFor("gw")
	env.Flows = flows
	env.Conditions = cond
	gw := NewExclusiveGateway("gw")

	tests := []struct {
		amount int
		flow   string
	}{
		{500, "big"},
		{50, "small"},
		{-1, "other"},
	}
	for _, tt := range tests {
		_, actions := run(t, gw, newState(map[string]any{"amount": tt.amount}), env)
		assert.Equal(t, []string{tt.flow}, actions[0].(process.CompleteAction).Flows, "amount %d", tt.amount)
	}

	env.Flows = flowMap{"gw": flows["gw"][:2]}
	_, actions := run(t, gw, newState(map[string]any{"amount": -1}), env)
	assert.Equal(t, process.ErrorRefNoOutgoingFlow, lastIncident(t, actions).ErrorRef)

	env.Flows = flowMap{"gw": {{ID: "x", Source: "gw", Target: "y", Condition: "nonsense"}}}
	_, actions = run(t, gw, newState(nil), env)
	assert.Equal(t, process.ErrorRefScript, lastIncident(t, actions).ErrorRef)

	env.Flows = flowMap{"gw": {{ID: "plain", Source: "gw", Target: "y"}}}
	env.Conditions = nil
	_, actions = run(t, gw, newState(nil), env)
	assert.Equal(t, []string{"plain"}, actions[0].(process.CompleteAction).Flows)
}

func TestParallelGateway(t *testing.T) {
	gw := NewParallelGateway("join")
	assert.Equal(t, 3, gw.RequiredTokens(3))
	assert.Equal(t, 1, gw.RequiredTokens(0))

	_, actions := run(t, gw, newState(nil), envFor("join"))
	assert.Nil(t, actions[0].(process.CompleteAction).Flows)
}

func TestScriptTask(t *testing.T) {
	n := NewScriptTask("calc", "javascript", "a + b", "")
	env := envFor("calc")

	_, actions := run(t, n, newState(nil), env)
	assert.Equal(t, process.ErrorRefScript, lastIncident(t, actions).ErrorRef)

	env.Scripts = scriptFunc(func(format, script string, vars map[string]any) (any, error) {
		assert.Equal(t, "javascript", format)
		return vars["a"].(int) + vars["b"].(int), nil
	})
	next, _ := run(t, n, newState(map[string]any{"a": 1, "b": 2}), env)
	result, _ := next.Get("result")
	assert.Equal(t, 3, result)

	env.Scripts = scriptFunc(func(string, string, map[string]any) (any, error) {
		return nil, errors.New("ReferenceError: c is not defined")
	})
	_, actions = run(t, n, newState(nil), env)
	inc := lastIncident(t, actions)
	assert.Equal(t, process.ErrorRefScript, inc.ErrorRef)
	assert.Contains(t, inc.ErrorMsg, "ReferenceError")
}

func TestServiceTask(t *testing.T) {
	n := NewServiceTask("charge", "payments", map[string]string{"currency": "EUR"})
	env := envFor("charge")
	env.Services = process.Services{
		"payments": process.ServiceFunc(func(_ context.Context, state process.State, params map[string]string) (map[string]any, error) {
			if state.GetString("card") == "stolen" {
				return nil, &process.BusinessError{Code: "CARD_BLOCKED"}
			}
			if state.GetString("card") == "" {
				return nil, errors.New("gateway timeout")
			}
			return map[string]any{"charged": params["currency"]}, nil
		}),
	}

	next, _ := run(t, n, newState(map[string]any{"card": "ok"}), env)
	assert.Equal(t, "EUR", next.GetString("charged"))

	_, actions := run(t, n, newState(map[string]any{"card": "stolen"}), env)
	assert.Equal(t, "CARD_BLOCKED", lastIncident(t, actions).ErrorRef)

	_, actions = run(t, n, newState(nil), env)
	assert.Equal(t, process.ErrorRefService, lastIncident(t, actions).ErrorRef)

	_, actions = run(t, NewServiceTask("x", "missing", nil), newState(nil), env)
	assert.Contains(t, lastIncident(t, actions).ErrorMsg, "unknown service")
}

func TestBusinessRuleTask(t *testing.T) {
	env := envFor("rule")
	env.Rules = ruleFunc(func(ref string, vars map[string]any) (map[string]any, error) {
		if ref != "discount" {
			return nil, errors.New("unknown decision")
		}
		return map[string]any{"discount": 0.1}, nil
	})

	next, _ := run(t, NewBusinessRuleTask("rule", "discount", ""), newState(nil), env)
	d, _ := next.Get("discount")
	assert.Equal(t, 0.1, d)

	next, _ = run(t, NewBusinessRuleTask("rule", "discount", "decision"), newState(nil), env)
	d, _ = next.Get("decision")
	assert.Equal(t, map[string]any{"discount": 0.1}, d)

	_, actions := run(t, NewBusinessRuleTask("rule", "nope", ""), newState(nil), env)
	assert.Equal(t, process.ErrorRefRule, lastIncident(t, actions).ErrorRef)
}

func TestUserTask(t *testing.T) {
	n := NewUserTask("approve")
	_, actions := run(t, n, newState(nil), envFor("approve"))
	assert.Equal(t, TaskEvent("inst-1", "approve", nil), actions[0].(process.QueueAction).Event)

	next, actions := run(t, n, newState(nil), resumed(envFor("approve"), map[string]any{"approved": true}))
	assert.Equal(t, process.Complete("approve"), actions[len(actions)-1])
	approved, _ := next.Get("approved")
	assert.Equal(t, true, approved)
}

func TestCallActivity(t *testing.T) {
	sub := process.ProcessRef{ProcessID: "kyc"}
	n := NewCallActivity("check", sub,
		[]Mapping{VariableMapping("customer", "subject"), ExpressionMapping("address.city", "location.city")},
		[]Mapping{VariableMapping("verdict", "kyc.verdict")},
	)
	state := newState(map[string]any{
		"customer": "acme",
		"address":  map[string]any{"city": "Oslo", "zip": "0150"},
		"kyc":      map[string]any{"attempt": 1},
	})

	_, actions := run(t, n, state, envFor("check"))
	c := actions[0].(process.CascadeAction)
	assert.Equal(t, sub, c.Process)
	assert.Equal(t, "check", c.ParentReference.NodeID)
	assert.Equal(t, map[string]any{
		"subject":  "acme",
		"location": map[string]any{"city": "Oslo"},
	}, c.InitState)

	next, _ := run(t, n, state, resumed(envFor("check"), map[string]any{"verdict": "clear", "noise": 1}))
	kyc, _ := next.Get("kyc")
	assert.Equal(t, map[string]any{"attempt": float64(1), "verdict": "clear"}, kyc)
	assert.False(t, next.Has("noise"))
}

func TestCallActivityWithoutMappings(t *testing.T) {
	n := NewCallActivity("call", process.ProcessRef{ProcessID: "sub"}, nil, nil)
	state := newState(map[string]any{"a": 1})

	_, actions := run(t, n, state, envFor("call"))
	assert.Equal(t, map[string]any{"a": 1}, actions[0].(process.CascadeAction).InitState)

	next, _ := run(t, n, state, resumed(envFor("call"), map[string]any{"b": 2}))
	assert.Equal(t, []string{"a", "b"}, next.Names())
}

func TestFactory(t *testing.T) {
	tests := []struct {
		kind  string
		attrs map[string]any
		want  any
	}{
		{KindStartEvent, nil, &StartEvent{}},
		{KindMessageStartEvent, map[string]any{"messageRef": "order"}, &StartEvent{}},
		{KindErrorEndEvent, map[string]any{"errorCode": "E1"}, &EndEvent{}},
		{KindReceiveTask, map[string]any{"messageRef": "m"}, &CatchEvent{}},
		{KindSendTask, map[string]any{"messageRef": "m"}, &ThrowEvent{}},
		{KindErrorBoundaryEvent, map[string]any{"attachedToRef": "a", "errorCode": "E"}, &ErrorBoundaryEvent{}},
		{KindExclusiveGateway, nil, &ExclusiveGateway{}},
		{KindParallelGateway, nil, &ParallelGateway{}},
		{KindScriptTask, map[string]any{"script": "1"}, &ScriptTask{}},
		{KindServiceTask, map[string]any{"implementation": "svc", "params": map[string]any{"k": "v"}}, &ServiceTask{}},
		{KindBusinessRuleTask, map[string]any{"decisionRef": "d"}, &BusinessRuleTask{}},
		{KindManualTask, nil, &UserTask{}},
		{KindCallActivity, map[string]any{"calledElement": "hr:onboard", "inputs": []any{
			map[string]any{"source": "a", "target": "b"},
		}}, &CallActivity{}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			n, err := New(tt.kind, "n1", tt.attrs)
			require.NoError(t, err)
			assert.IsType(t, tt.want, n)
			assert.Equal(t, "n1", n.ID())
		})
	}

	n, err := New(KindScriptTask, "calc", map[string]any{"script": "1", "name": "Calculate"})
	require.NoError(t, err)
	assert.Equal(t, "Calculate", n.(*ScriptTask).Label())
	assert.Equal(t, "result", n.(*ScriptTask).resultVariable)

	n, err = New(KindCallActivity, "c", map[string]any{"calledElement": "kyc"})
	require.NoError(t, err)
	assert.Equal(t, process.ProcessRef{ProcessID: "kyc"}, n.(*CallActivity).CalledElement())
}

func TestFactoryErrors(t *testing.T) {
	tests := []struct {
		name  string
		kind  string
		id    string
		attrs map[string]any
	}{
		{"missing id", KindTask, "", nil},
		{"unknown kind", "complexGateway", "g", nil},
		{"missing message", KindMessageCatchEvent, "m", nil},
		{"missing code", KindErrorBoundaryEvent, "b", map[string]any{"attachedToRef": "a"}},
		{"bad mapping", KindCallActivity, "c", map[string]any{"calledElement": "x", "inputs": []any{"oops"}}},
		{"bad called element", KindCallActivity, "c", map[string]any{"calledElement": ":x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := New(tt.kind, tt.id, tt.attrs)
			assert.Nil(t, n)
			require.Error(t, err)
			assert.Equal(t, sdkerrors.CodeInvalidDefinition, sdkerrors.CodeOf(err))
		})
	}
}
