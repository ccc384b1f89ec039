package process

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessRef(t *testing.T) {
	ref := NewProcessRef("orders", "checkout")
	assert.Equal(t, "orders:checkout", ref.String())

	parsed, err := ParseProcessRef("orders:checkout:v2")
	require.NoError(t, err)
	assert.Equal(t, ProcessRef{Group: "orders", ProcessID: "checkout:v2"}, parsed)

	for _, bad := range []string{"", "orders", ":checkout", "orders:"} {
		_, err := ParseProcessRef(bad)
		assert.Error(t, err, bad)
	}

	seen := map[ProcessRef]bool{ref: true}
	assert.True(t, seen[NewProcessRef("orders", "checkout")])
}

func TestNodeRefEqualAndDepth(t *testing.T) {
	root := NodeRef{Process: NewProcessRef("g", "main"), InstanceID: "i1", NodeID: "call"}
	child := NodeRef{Process: NewProcessRef("g", "sub"), InstanceID: "i2", NodeID: "task", Parent: &root}
	same := NodeRef{Process: NewProcessRef("g", "sub"), InstanceID: "i2", NodeID: "task", Parent: &NodeRef{
		Process: NewProcessRef("g", "main"), InstanceID: "i1", NodeID: "call",
	}}

	assert.True(t, child.Equal(same))
	assert.False(t, child.Equal(child.WithNode("other")))
	assert.False(t, child.Equal(NodeRef{Process: child.Process, InstanceID: "i2", NodeID: "task"}))
	assert.Equal(t, 1, child.Depth())
	assert.Equal(t, 0, root.Depth())
	assert.Equal(t, "i2/task", child.Key())
	assert.Equal(t, "g:main/i1#call > g:sub/i2#task", child.String())
}

func TestStateCopyOnWrite(t *testing.T) {
	vars := map[string]any{"amount": 10}
	s1 := NewState("i1", NewProcessRef("g", "p"), vars)
	vars["amount"] = 99

	v, _ := s1.Get("amount")
	assert.Equal(t, 10, v, "state must not alias the seed map")

	s2 := s1.With("approved", true)
	assert.False(t, s1.Has("approved"))
	assert.True(t, s2.Has("approved"))

	s3 := s2.Merge(map[string]any{"amount": 20, "note": "x"})
	v, _ = s2.Get("amount")
	assert.Equal(t, 10, v)
	v, _ = s3.Get("amount")
	assert.Equal(t, 20, v)

	exported := s3.Vars()
	exported["amount"] = 0
	v, _ = s3.Get("amount")
	assert.Equal(t, 20, v, "Vars must return a copy")

	s4 := s3.Without("note")
	assert.True(t, s3.Has("note"))
	assert.False(t, s4.Has("note"))
	assert.Equal(t, []string{"amount", "approved"}, s4.Names())
}

func TestStateJSONRoundTrip(t *testing.T) {
	parent := NodeRef{Process: NewProcessRef("g", "main"), InstanceID: "p1", NodeID: "call"}
	s := NewState("i1", NewProcessRef("g", "sub"), map[string]any{"name": "ada", "count": float64(2)})
	s = s.AtNode("wait")
	s.Parent = &parent
	s.Suspended = true

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var back State
	require.NoError(t, json.Unmarshal(data, &back))

	assert.Equal(t, "i1", back.InstanceID)
	assert.Equal(t, "wait", back.NodeID)
	assert.True(t, back.Suspended)
	require.NotNil(t, back.Parent)
	assert.True(t, back.Parent.Equal(parent))
	if diff := cmp.Diff(s.Vars(), back.Vars()); diff != "" {
		t.Errorf("vars mismatch (-want +got):\n%s", diff)
	}
}

func TestTerminalActions(t *testing.T) {
	actions := []Action{
		DequeueAction{ID: "a"},
		EventAction{ID: "a", Event: Signal("go", nil)},
		Complete("a"),
	}
	assert.Equal(t, 1, CountTerminal(actions))
	assert.True(t, Terminal(QueueAction{}))
	assert.True(t, Terminal(CascadeAction{}))
	assert.True(t, Terminal(Fail("a", "x", "")))
	assert.False(t, Terminal(ResumeAction{}))
}

func TestFailBuildsIncidentAction(t *testing.T) {
	var a Action = Fail("charge", "card-declined", "declined")
	inc, ok := a.(IncidentAction)
	require.True(t, ok)
	assert.Equal(t, IncidentAction{ID: "charge", ErrorRef: "card-declined", ErrorMsg: "declined"}, inc)
}

func TestEventKey(t *testing.T) {
	e := Message("approval", "order-1", map[string]any{"ok": true})
	assert.Equal(t, "message:approval@order-1", e.Key().String())
	assert.Equal(t, EventKey{Kind: EventMessage, Name: "approval"}, e.Key().Uncorrelated())
	assert.Equal(t, "signal:go", Signal("go", nil).Key().String())
}
