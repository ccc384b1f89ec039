package engine

import (
	"slices"
	"sync"
	"time"

	"github.com/wehubfusion/Ariadne/pkg/graph"
	"github.com/wehubfusion/Ariadne/pkg/process"
)

// Status is the lifecycle state of a process instance.
type Status string

const (
	StatusRunnable   Status = "runnable"
	StatusRunning    Status = "running"
	StatusSuspended  Status = "suspended"
	StatusCascaded   Status = "cascaded"
	StatusCompleted  Status = "completed"
	StatusIncident   Status = "incident"
	StatusTerminated Status = "terminated"
)

// Finished reports whether the instance can no longer make progress.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusTerminated
}

type waitKind int

const (
	waitEvent waitKind = iota + 1
	waitBoundary
	waitCascade
)

// work is one pending node execution. A nil resume means the node was
// activated by arriving tokens.
type work struct {
	node   string
	resume *process.ResumeAction
}

// instance is the engine-side record of one process instance. Instances refer
// to each other by id only; every field is guarded by mu.
type instance struct {
	mu sync.Mutex

	id     string
	def    *graph.Definition
	parent *process.NodeRef
	depth  int
	status Status
	state  process.State

	tokens   map[string]int
	active   map[string]bool
	waiting  map[string]waitKind
	children map[string]string
	queue    []work

	incident *process.Incident
	failed   *work

	startedAt time.Time
	updatedAt time.Time
}

func newInstance(id string, def *graph.Definition, parent *process.NodeRef, vars map[string]any) *instance {
	state := process.NewState(id, def.Ref(), vars)
	state.Parent = parent
	depth := 0
	if parent != nil {
		depth = parent.Depth() + 1
	}
	now := time.Now()
	return &instance{
		id:        id,
		def:       def,
		parent:    parent,
		depth:     depth,
		status:    StatusRunnable,
		state:     state,
		tokens:    make(map[string]int),
		active:    make(map[string]bool),
		waiting:   make(map[string]waitKind),
		children:  make(map[string]string),
		startedAt: now,
		updatedAt: now,
	}
}

// ref returns the reference of one node of the instance.
func (i *instance) ref(nodeID string) process.NodeRef {
	return process.NodeRef{
		Process:    i.def.Ref(),
		InstanceID: i.id,
		NodeID:     nodeID,
		Parent:     i.parent,
	}
}

// schedule queues a token-activated execution of nodeID once enough tokens arrived.
func (i *instance) schedule(nodeID string) {
	if i.active[nodeID] || i.tokens[nodeID] < i.def.RequiredTokens(nodeID) {
		return
	}
	i.active[nodeID] = true
	i.queue = append(i.queue, work{node: nodeID})
}

// arrive places one token on nodeID.
func (i *instance) arrive(nodeID string) {
	i.tokens[nodeID]++
	i.schedule(nodeID)
}

// consume removes the tokens nodeID needed to run.
func (i *instance) consume(nodeID string) {
	i.tokens[nodeID] -= i.def.RequiredTokens(nodeID)
	if i.tokens[nodeID] <= 0 {
		delete(i.tokens, nodeID)
	}
}

// unschedule drops every pending execution of nodeID.
func (i *instance) unschedule(nodeID string) {
	i.queue = slices.DeleteFunc(i.queue, func(w work) bool { return w.node == nodeID })
	delete(i.active, nodeID)
}

func (i *instance) waits(kind waitKind) bool {
	for _, k := range i.waiting {
		if k == kind {
			return true
		}
	}
	return false
}

// Snapshot is a point-in-time copy of an instance.
type Snapshot struct {
	InstanceID string
	Process    process.ProcessRef
	Parent     *process.NodeRef
	Status     Status
	State      process.State
	// Waiting lists the parked nodes in sorted order.
	Waiting []string
	// Children lists the ids of child instances started by call activities.
	Children  []string
	Incident  *process.Incident
	StartedAt time.Time
	UpdatedAt time.Time
}

// snapshot must be called with i.mu held.
func (i *instance) snapshot() Snapshot {
	s := Snapshot{
		InstanceID: i.id,
		Process:    i.def.Ref(),
		Parent:     i.parent,
		Status:     i.status,
		State:      i.state,
		StartedAt:  i.startedAt,
		UpdatedAt:  i.updatedAt,
	}
	for node := range i.waiting {
		s.Waiting = append(s.Waiting, node)
	}
	slices.Sort(s.Waiting)
	for child := range i.children {
		s.Children = append(s.Children, child)
	}
	slices.Sort(s.Children)
	if i.incident != nil {
		inc := *i.incident
		s.Incident = &inc
	}
	return s
}

// Result describes an instance after an engine call returned.
type Result struct {
	Snapshot
	// Steps is the number of node executions the call performed across all instances.
	Steps int
}
