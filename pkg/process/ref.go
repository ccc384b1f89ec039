package process

import (
	"fmt"
	"strings"
)

// ProcessRef identifies a process definition by group and process id.
// It is comparable and safe to use as a map key.
type ProcessRef struct {
	Group     string `json:"group"`
	ProcessID string `json:"process_id"`
}

// NewProcessRef creates a process reference.
func NewProcessRef(group, processID string) ProcessRef {
	return ProcessRef{Group: group, ProcessID: processID}
}

// String returns the canonical "group:processId" form.
func (r ProcessRef) String() string {
	return r.Group + ":" + r.ProcessID
}

// IsZero reports whether the reference is empty.
func (r ProcessRef) IsZero() bool {
	return r.Group == "" && r.ProcessID == ""
}

// ParseProcessRef parses the canonical "group:processId" form.
// The process id may itself contain colons; the group may not.
func ParseProcessRef(s string) (ProcessRef, error) {
	idx := strings.Index(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return ProcessRef{}, fmt.Errorf("invalid process reference %q: expected group:processId", s)
	}
	return ProcessRef{Group: s[:idx], ProcessID: s[idx+1:]}, nil
}

// NodeRef identifies one node inside one process instance. Parent points at
// the call-activity node that cascaded into this instance, forming a call stack.
// NodeRefs are never mutated once created.
type NodeRef struct {
	Process    ProcessRef `json:"process"`
	InstanceID string     `json:"instance_id"`
	NodeID     string     `json:"node_id"`
	Parent     *NodeRef   `json:"parent,omitempty"`
}

// WithNode returns a reference to another node of the same instance.
func (r NodeRef) WithNode(nodeID string) NodeRef {
	r.NodeID = nodeID
	return r
}

// Equal compares two references including their parent chains.
func (r NodeRef) Equal(other NodeRef) bool {
	if r.Process != other.Process || r.InstanceID != other.InstanceID || r.NodeID != other.NodeID {
		return false
	}
	switch {
	case r.Parent == nil && other.Parent == nil:
		return true
	case r.Parent == nil || other.Parent == nil:
		return false
	}
	return r.Parent.Equal(*other.Parent)
}

// Key returns a canonical string identifying the node within its instance.
// Instance ids are unique, so the parent chain is not part of the key.
func (r NodeRef) Key() string {
	return r.InstanceID + "/" + r.NodeID
}

// Depth is the number of cascade levels above this reference.
func (r NodeRef) Depth() int {
	depth := 0
	for p := r.Parent; p != nil; p = p.Parent {
		depth++
	}
	return depth
}

// String renders the reference with its process and parent chain for logging.
func (r NodeRef) String() string {
	s := r.Process.String() + "/" + r.InstanceID + "#" + r.NodeID
	if r.Parent != nil {
		s = r.Parent.String() + " > " + s
	}
	return s
}
