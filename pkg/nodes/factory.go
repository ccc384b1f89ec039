package nodes

import (
	"fmt"
	"strings"

	sdkerrors "github.com/wehubfusion/Ariadne/pkg/errors"
	"github.com/wehubfusion/Ariadne/pkg/process"
)

// Element kinds understood by New, named after their BPMN elements.
const (
	KindStartEvent         = "startEvent"
	KindMessageStartEvent  = "messageStartEvent"
	KindSignalStartEvent   = "signalStartEvent"
	KindEndEvent           = "endEvent"
	KindMessageEndEvent    = "messageEndEvent"
	KindSignalEndEvent     = "signalEndEvent"
	KindErrorEndEvent      = "errorEndEvent"
	KindMessageCatchEvent  = "messageCatchEvent"
	KindSignalCatchEvent   = "signalCatchEvent"
	KindTimerCatchEvent    = "timerCatchEvent"
	KindMessageThrowEvent  = "messageThrowEvent"
	KindSignalThrowEvent   = "signalThrowEvent"
	KindErrorBoundaryEvent = "errorBoundaryEvent"
	KindExclusiveGateway   = "exclusiveGateway"
	KindParallelGateway    = "parallelGateway"
	KindTask               = "task"
	KindScriptTask         = "scriptTask"
	KindServiceTask        = "serviceTask"
	KindBusinessRuleTask   = "businessRuleTask"
	KindUserTask           = "userTask"
	KindManualTask         = "manualTask"
	KindReceiveTask        = "receiveTask"
	KindSendTask           = "sendTask"
	KindCallActivity       = "callActivity"
)

// New builds a node from an element kind and its attributes, the shape a
// definition parser produces. Attributes keep their BPMN names: messageRef,
// signalRef, errorCode, correlationKey, attachedToRef, errorVariable, script,
// scriptFormat, resultVariable, implementation, params, decisionRef,
// calledElement, inputs and outputs.
func New(kind, id string, attrs map[string]any) (process.Executable, error) {
	if id == "" {
		return nil, sdkerrors.NewError(sdkerrors.CodeInvalidDefinition, "node id is required", sdkerrors.ErrInvalidDefinition)
	}
	b := NewBaseNode(id, attrs)

	var (
		node process.Executable
		need []string
	)
	switch kind {
	case KindStartEvent:
		n := NewStartEvent(id)
		n.BaseNode = b
		node = n
	case KindMessageStartEvent:
		n := NewMessageStartEvent(id, b.AttrString("messageRef"))
		n.BaseNode = b
		node, need = n, []string{"messageRef"}
	case KindSignalStartEvent:
		n := NewSignalStartEvent(id, b.AttrString("signalRef"))
		n.BaseNode = b
		node, need = n, []string{"signalRef"}
	case KindEndEvent:
		n := NewEndEvent(id)
		n.BaseNode = b
		node = n
	case KindMessageEndEvent:
		n := NewMessageEndEvent(id, b.AttrString("messageRef"), b.AttrString("correlationKey"))
		n.BaseNode = b
		node, need = n, []string{"messageRef"}
	case KindSignalEndEvent:
		n := NewSignalEndEvent(id, b.AttrString("signalRef"))
		n.BaseNode = b
		node, need = n, []string{"signalRef"}
	case KindErrorEndEvent:
		n := NewErrorEndEvent(id, b.AttrString("errorCode"))
		n.BaseNode = b
		node, need = n, []string{"errorCode"}
	case KindMessageCatchEvent, KindReceiveTask:
		n := NewMessageCatchEvent(id, b.AttrString("messageRef"), b.AttrString("correlationKey"))
		n.BaseNode = b
		node, need = n, []string{"messageRef"}
	case KindSignalCatchEvent:
		n := NewSignalCatchEvent(id, b.AttrString("signalRef"))
		n.BaseNode = b
		node, need = n, []string{"signalRef"}
	case KindTimerCatchEvent:
		n := NewTimerCatchEvent(id, b.AttrStringWithDefault("timerRef", id))
		n.BaseNode = b
		node = n
	case KindMessageThrowEvent, KindSendTask:
		n := NewMessageThrowEvent(id, b.AttrString("messageRef"), b.AttrString("correlationKey"))
		n.BaseNode = b
		node, need = n, []string{"messageRef"}
	case KindSignalThrowEvent:
		n := NewSignalThrowEvent(id, b.AttrString("signalRef"))
		n.BaseNode = b
		node, need = n, []string{"signalRef"}
	case KindErrorBoundaryEvent:
		n := NewErrorBoundaryEvent(id, b.AttrString("attachedToRef"), b.AttrString("errorCode"), b.AttrString("errorVariable"))
		n.BaseNode = b
		node, need = n, []string{"attachedToRef", "errorCode"}
	case KindExclusiveGateway:
		n := NewExclusiveGateway(id)
		n.BaseNode = b
		node = n
	case KindParallelGateway:
		n := NewParallelGateway(id)
		n.BaseNode = b
		node = n
	case KindTask:
		n := NewTask(id)
		n.BaseNode = b
		node = n
	case KindScriptTask:
		n := NewScriptTask(id, b.AttrStringWithDefault("scriptFormat", "javascript"), b.AttrString("script"), b.AttrString("resultVariable"))
		n.BaseNode = b
		node, need = n, []string{"script"}
	case KindServiceTask:
		n := NewServiceTask(id, b.AttrString("implementation"), b.AttrStringMap("params"))
		n.BaseNode = b
		node, need = n, []string{"implementation"}
	case KindBusinessRuleTask:
		n := NewBusinessRuleTask(id, b.AttrString("decisionRef"), b.AttrString("resultVariable"))
		n.BaseNode = b
		node, need = n, []string{"decisionRef"}
	case KindUserTask, KindManualTask:
		n := NewUserTask(id)
		n.BaseNode = b
		node = n
	case KindCallActivity:
		if err := required(b, "calledElement"); err != nil {
			return nil, err
		}
		ref, err := calledElement(b.AttrString("calledElement"))
		if err != nil {
			return nil, sdkerrors.NewError(sdkerrors.CodeInvalidDefinition, fmt.Sprintf("node %s", id), err)
		}
		inputs, err := mappingsAttr(b.Attr("inputs"))
		if err != nil {
			return nil, sdkerrors.NewError(sdkerrors.CodeInvalidDefinition, fmt.Sprintf("node %s inputs", id), err)
		}
		outputs, err := mappingsAttr(b.Attr("outputs"))
		if err != nil {
			return nil, sdkerrors.NewError(sdkerrors.CodeInvalidDefinition, fmt.Sprintf("node %s outputs", id), err)
		}
		n := NewCallActivity(id, ref, inputs, outputs)
		n.BaseNode = b
		node = n
	default:
		return nil, sdkerrors.NewError(sdkerrors.CodeInvalidDefinition,
			fmt.Sprintf("node %s: unknown element kind %q", id, kind), sdkerrors.ErrInvalidDefinition)
	}

	if err := required(b, need...); err != nil {
		return nil, err
	}
	return node, nil
}

func required(b BaseNode, keys ...string) error {
	for _, k := range keys {
		if b.AttrString(k) == "" {
			return sdkerrors.NewError(sdkerrors.CodeInvalidDefinition,
				fmt.Sprintf("node %s: attribute %s is required", b.ID(), k), sdkerrors.ErrInvalidDefinition)
		}
	}
	return nil
}

// calledElement accepts "group:processId" or a bare process id resolved in
// the caller's group.
func calledElement(s string) (process.ProcessRef, error) {
	if strings.Contains(s, ":") {
		return process.ParseProcessRef(s)
	}
	return process.ProcessRef{ProcessID: s}, nil
}

func mappingsAttr(v any) ([]Mapping, error) {
	switch m := v.(type) {
	case nil:
		return nil, nil
	case []Mapping:
		return append([]Mapping(nil), m...), nil
	case []any:
		out := make([]Mapping, 0, len(m))
		for i, raw := range m {
			obj, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("mapping %d: expected an object, got %T", i, raw)
			}
			source, _ := obj["source"].(string)
			target, _ := obj["target"].(string)
			expr, _ := obj["expression"].(bool)
			if source == "" || target == "" {
				return nil, fmt.Errorf("mapping %d: source and target are required", i)
			}
			out = append(out, Mapping{Source: source, Target: target, Expression: expr})
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of mappings, got %T", v)
}
