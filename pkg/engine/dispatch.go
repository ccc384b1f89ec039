package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	sdkerrors "github.com/wehubfusion/Ariadne/pkg/errors"
	"github.com/wehubfusion/Ariadne/pkg/process"
	"go.uber.org/zap"
)

// dispatch carries the bookkeeping of one Start, Emit, Resume or Retry call.
type dispatch struct {
	steps    int
	maxSteps int
	// deferred holds resumes for instances outside the current call chain.
	// They run once every instance lock of the chain is released.
	deferred []process.ResumeAction
	touched  []string
	seen     map[string]bool
}

func (e *Engine) newDispatch() *dispatch {
	return &dispatch{maxSteps: e.config.MaxSteps, seen: make(map[string]bool)}
}

func (d *dispatch) touch(id string) {
	if d.seen[id] {
		return
	}
	d.seen[id] = true
	d.touched = append(d.touched, id)
}

// step is one node execution inside an instance. frames are the ancestor
// instances the current goroutine holds locked, innermost last.
type step struct {
	d      *dispatch
	inst   *instance
	w      work
	ref    process.NodeRef
	frames []*instance
}

// drain runs deferred resumes until none are left.
func (e *Engine) drain(ctx context.Context, d *dispatch) error {
	for len(d.deferred) > 0 {
		r := d.deferred[0]
		d.deferred = d.deferred[1:]

		inst, ok := e.lookup(r.Reference.InstanceID)
		if !ok {
			e.logger.Warn("Dropped resume for unknown instance",
				zap.String("instance_id", r.Reference.InstanceID),
				zap.String("node_id", r.Reference.NodeID))
			continue
		}

		inst.mu.Lock()
		if _, waiting := inst.waiting[r.Reference.NodeID]; !waiting || inst.status.Finished() {
			inst.mu.Unlock()
			continue
		}
		inst.queue = append(inst.queue, work{node: r.Reference.NodeID, resume: &r})
		err := e.run(ctx, d, inst, nil)
		inst.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// run executes queued work of inst until the queue is empty or an incident
// is recorded, then settles the instance status. inst.mu must be held.
func (e *Engine) run(ctx context.Context, d *dispatch, inst *instance, frames []*instance) error {
	d.touch(inst.id)
	if inst.status.Finished() {
		inst.queue = nil
		return nil
	}
	if inst.incident == nil {
		inst.status = StatusRunning
	}

	for inst.incident == nil && len(inst.queue) > 0 {
		if err := ctx.Err(); err != nil {
			e.cancelled(ctx, d, inst, frames, err)
			break
		}
		w := inst.queue[0]
		inst.queue = inst.queue[1:]
		if w.resume == nil {
			delete(inst.active, w.node)
		}
		if err := e.step(ctx, d, inst, w, frames); err != nil {
			inst.status = StatusRunnable
			return err
		}
	}
	return e.settle(ctx, d, inst, frames)
}

// cancelled records a cancelled incident at the next queued node. The queue
// is kept, so Retry picks up where the dispatch stopped.
func (e *Engine) cancelled(ctx context.Context, d *dispatch, inst *instance, frames []*instance, cause error) {
	w := inst.queue[0]
	s := &step{d: d, inst: inst, w: w, ref: inst.ref(w.node), frames: frames}
	e.raise(context.WithoutCancel(ctx), s, nil, process.ErrorRefCancelled, cause.Error())
}

// step executes one node and applies the actions it returned.
func (e *Engine) step(ctx context.Context, d *dispatch, inst *instance, w work, frames []*instance) error {
	if w.resume != nil {
		if _, ok := inst.waiting[w.node]; !ok {
			e.logger.Debug("Dropped stale resume",
				zap.String("instance_id", inst.id),
				zap.String("node_id", w.node))
			return nil
		}
	}

	s := &step{d: d, inst: inst, w: w, ref: inst.ref(w.node), frames: frames}

	if d.steps >= d.maxSteps {
		if w.resume == nil {
			inst.active[w.node] = true
		}
		inst.queue = append([]work{w}, inst.queue...)
		e.raise(ctx, s, nil, process.ErrorRefStepLimitExceeded,
			fmt.Sprintf("more than %d node executions in one dispatch", d.maxSteps))
		return nil
	}
	d.steps++
	e.metrics.steps.Add(1)

	node, ok := inst.def.NodeByID(w.node)
	if !ok {
		e.raise(ctx, s, &s.w, process.ErrorRefInternal, fmt.Sprintf("node %s is not part of %s", w.node, inst.def.Ref()))
		return nil
	}

	next, actions := e.execute(ctx, s, node)
	return e.apply(ctx, s, next, actions)
}

// execute runs node through the interceptor chain. Returned errors, panics and
// malformed action lists become internal-error incidents.
func (e *Engine) execute(ctx context.Context, s *step, node process.Executable) (next process.State, actions []process.Action) {
	state := s.inst.state.AtNode(s.w.node)
	env := process.Environment{
		Node:       s.ref,
		Flows:      s.inst.def,
		Resume:     s.w.resume,
		Scripts:    e.config.Scripts,
		Conditions: e.config.Conditions,
		Services:   e.config.Services,
		Rules:      e.config.Rules,
		Logger: e.logger.With(
			zap.String("instance_id", s.inst.id),
			zap.String("node_id", s.w.node)),
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Node panicked",
				zap.String("instance_id", s.inst.id),
				zap.String("node_id", s.w.node),
				zap.Any("panic", r))
			next = state
			actions = []process.Action{process.Fail(s.w.node, process.ErrorRefInternal, fmt.Sprintf("panic: %v", r))}
		}
	}()

	var err error
	next, actions, err = e.intercept(s.ref, node).Execute(ctx, state, env)
	if err != nil {
		return state, []process.Action{process.Fail(s.w.node, process.ErrorRefInternal, err.Error())}
	}
	if n := process.CountTerminal(actions); n != 1 {
		return state, []process.Action{process.Fail(s.w.node, process.ErrorRefInternal,
			fmt.Sprintf("node returned %d terminal actions, want exactly one", n))}
	}
	return next, actions
}

// apply interprets actions left to right. It stops at the first incident.
func (e *Engine) apply(ctx context.Context, s *step, next process.State, actions []process.Action) error {
	inst := s.inst
	if !hasIncident(actions) {
		next.InstanceID = inst.id
		next.Process = inst.def.Ref()
		next.Parent = inst.parent
		next.Suspended = false
		inst.state = next.AtNode(s.w.node)
	}
	inst.updatedAt = time.Now()

	for _, a := range actions {
		var err error
		switch a := a.(type) {
		case process.CompleteAction:
			e.complete(ctx, s, a)
		case process.QueueAction:
			err = e.queue(ctx, s, a)
		case process.DequeueAction:
			e.dequeue(ctx, s, a)
		case process.EventAction:
			e.emit(ctx, s, a.Event)
		case process.ResumeAction:
			e.route(s.d, inst, s.frames, a)
		case process.CascadeAction:
			err = e.cascade(ctx, s, a)
		case process.IncidentAction:
			e.raise(ctx, s, &s.w, a.ErrorRef, a.ErrorMsg)
		default:
			return sdkerrors.NewError(sdkerrors.CodeUnhandledAction,
				fmt.Sprintf("node %s returned %T", s.w.node, a), sdkerrors.ErrUnhandledAction)
		}
		if err != nil {
			return err
		}
		if inst.incident != nil {
			return nil
		}
	}
	return nil
}

func hasIncident(actions []process.Action) bool {
	for _, a := range actions {
		if _, ok := a.(process.IncidentAction); ok {
			return true
		}
	}
	return false
}

func (e *Engine) complete(ctx context.Context, s *step, a process.CompleteAction) {
	inst := s.inst
	id := nodeOf(a.ID, s.w.node)

	if a.SaveState && !e.save(ctx, s, id, false) {
		return
	}
	if a.ConsumeToken {
		inst.consume(id)
	}
	delete(inst.waiting, id)
	e.disarm(inst, id)

	if a.ProduceToken {
		for _, f := range selectFlows(inst.def.Outgoing(id), a.Flows) {
			inst.arrive(f.Target)
		}
	}
	// Tokens left on an unconsumed node wait for the next arrival.
	if a.ConsumeToken {
		inst.schedule(id)
	}
}

// selectFlows keeps the flows named in ids, in declared order. Nil ids keeps all.
func selectFlows(flows []process.Flow, ids []string) []process.Flow {
	if ids == nil {
		return flows
	}
	return slices.DeleteFunc(flows, func(f process.Flow) bool { return !slices.Contains(ids, f.ID) })
}

func (e *Engine) queue(ctx context.Context, s *step, a process.QueueAction) error {
	inst := s.inst
	id := nodeOf(a.ID, s.w.node)

	e.config.Registry.Queue(a.Event, inst.ref(id), a.Consumable)
	kind := waitEvent
	if node, ok := inst.def.NodeByID(id); ok {
		if _, boundary := node.(process.Attachable); boundary {
			kind = waitBoundary
		}
	}
	inst.waiting[id] = kind

	if a.SaveState && !e.save(ctx, s, id, true) {
		return nil
	}
	if kind == waitEvent {
		return e.arm(ctx, s, id)
	}
	return nil
}

func (e *Engine) dequeue(ctx context.Context, s *step, a process.DequeueAction) {
	inst := s.inst
	id := nodeOf(a.ID, s.w.node)
	waiter := inst.ref(id)

	if a.Event != nil {
		e.config.Registry.Dequeue(*a.Event, waiter)
		return
	}
	e.config.Registry.DequeueAll(waiter)
	if id == s.w.node {
		return
	}
	if _, parked := inst.waiting[id]; parked {
		e.interrupt(ctx, inst, id)
	}
}

// interrupt cancels a parked node: its wait, its tokens, its boundary events
// and the child instances it started.
func (e *Engine) interrupt(ctx context.Context, inst *instance, nodeID string) {
	e.logger.Debug("Interrupting node",
		zap.String("instance_id", inst.id),
		zap.String("node_id", nodeID))

	delete(inst.waiting, nodeID)
	delete(inst.tokens, nodeID)
	inst.unschedule(nodeID)
	e.disarm(inst, nodeID)

	for childID, parentNode := range inst.children {
		if parentNode != nodeID {
			continue
		}
		if child, ok := e.lookup(childID); ok {
			child.mu.Lock()
			e.terminate(ctx, child)
			child.mu.Unlock()
		}
	}
}

// disarm drops the boundary events armed on nodeID.
func (e *Engine) disarm(inst *instance, nodeID string) {
	for _, b := range inst.def.Boundaries(nodeID) {
		if _, armed := inst.waiting[b]; !armed {
			continue
		}
		e.config.Registry.DequeueAll(inst.ref(b))
		delete(inst.waiting, b)
	}
}

// arm executes the boundary events attached to a node that just parked, so
// they register before anything can raise their events.
func (e *Engine) arm(ctx context.Context, s *step, nodeID string) error {
	for _, b := range s.inst.def.Boundaries(nodeID) {
		if _, armed := s.inst.waiting[b]; armed {
			continue
		}
		if err := e.step(ctx, s.d, s.inst, work{node: b}, s.frames); err != nil {
			return err
		}
		if s.inst.incident != nil {
			return nil
		}
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, s *step, event process.Event) {
	e.metrics.events.Add(1)
	e.publish(ctx, event)
	for _, a := range e.config.Registry.Emit(event) {
		if r, ok := a.(process.ResumeAction); ok {
			e.route(s.d, s.inst, s.frames, r)
		}
	}
}

// route queues a resume on its target. Targets locked by the current call
// chain receive it directly, every other instance after the chain unwinds.
func (e *Engine) route(d *dispatch, inst *instance, frames []*instance, r process.ResumeAction) {
	target := r.Reference.InstanceID
	if target == inst.id {
		inst.queue = append(inst.queue, work{node: r.Reference.NodeID, resume: &r})
		return
	}
	for _, f := range frames {
		if f.id == target {
			f.queue = append(f.queue, work{node: r.Reference.NodeID, resume: &r})
			return
		}
	}
	d.deferred = append(d.deferred, r)
}

func (e *Engine) cascade(ctx context.Context, s *step, a process.CascadeAction) error {
	inst := s.inst
	id := s.w.node

	if inst.depth+1 > e.config.MaxCascadeDepth {
		e.raise(ctx, s, &s.w, process.ErrorRefCascadeDepthExceeded,
			fmt.Sprintf("call depth %d exceeds the limit of %d", inst.depth+1, e.config.MaxCascadeDepth))
		return nil
	}

	ref := a.Process
	if ref.Group == "" {
		ref.Group = inst.def.Ref().Group
	}
	def, err := e.repo.Lookup(ref)
	if err != nil {
		e.raise(ctx, s, &s.w, process.ErrorRefProcessNotFound, err.Error())
		return nil
	}
	starts := def.StartNodes()
	if len(starts) == 0 {
		e.raise(ctx, s, &s.w, process.ErrorRefInternal, fmt.Sprintf("%s has no none start event", ref))
		return nil
	}

	parentRef := a.ParentReference
	if parentRef.InstanceID == "" {
		parentRef = s.ref
	}

	inst.waiting[id] = waitCascade
	if err := e.arm(ctx, s, id); err != nil || inst.incident != nil {
		return err
	}

	child := e.spawn(def, &parentRef, a.InitState)
	inst.children[child.id] = id
	e.logger.Debug("Cascading into child instance",
		zap.String("instance_id", inst.id),
		zap.String("node_id", id),
		zap.String("child_instance_id", child.id),
		zap.String("child_process", ref.String()))

	frames := append(slices.Clone(s.frames), inst)
	return e.launch(ctx, s.d, child, starts, frames)
}

// raise records an incident on the instance, persists its state and notifies
// the incident handler. failed is the work a retry starts with.
func (e *Engine) raise(ctx context.Context, s *step, failed *work, errorRef, msg string) {
	inst := s.inst
	inc := process.Incident{
		Node:       s.ref,
		NodeID:     s.ref.NodeID,
		ErrorRef:   errorRef,
		ErrorMsg:   msg,
		OccurredAt: time.Now().UTC(),
	}
	inst.incident = &inc
	inst.failed = failed
	inst.status = StatusIncident
	e.metrics.incidents.Add(1)

	e.logger.Warn("Process incident recorded",
		zap.String("instance_id", inst.id),
		zap.String("process", inst.def.Ref().String()),
		zap.String("node_id", inc.NodeID),
		zap.String("error_ref", errorRef),
		zap.String("error_msg", msg))

	if err := e.config.Store.Save(ctx, s.ref, inst.state); err != nil {
		e.logger.Error("Failed to persist incident state",
			zap.String("instance_id", inst.id),
			zap.Error(err))
	}
	e.deliver(ctx, inc)
}

// save persists the instance state positioned at nodeID. A failure raises a
// storage-error incident and returns false.
func (e *Engine) save(ctx context.Context, s *step, nodeID string, suspended bool) bool {
	state := s.inst.state
	state.Suspended = suspended
	if err := e.config.Store.Save(ctx, s.inst.ref(nodeID), state); err != nil {
		e.raise(ctx, s, &s.w, process.ErrorRefStorage, err.Error())
		return false
	}
	return true
}

// settle derives the instance status once its queue ran dry.
func (e *Engine) settle(ctx context.Context, d *dispatch, inst *instance, frames []*instance) error {
	inst.updatedAt = time.Now()

	switch {
	case inst.incident != nil:
		inst.status = StatusIncident
		return nil
	case len(inst.queue) > 0:
		inst.status = StatusRunnable
		return nil
	case inst.waits(waitEvent):
		inst.status = StatusSuspended
		e.checkpoint(ctx, d, inst, frames, waitEvent)
		return nil
	case inst.waits(waitCascade):
		inst.status = StatusCascaded
		e.checkpoint(ctx, d, inst, frames, waitCascade)
		return nil
	}

	inst.status = StatusCompleted
	inst.tokens = make(map[string]int)
	e.metrics.completed.Add(1)
	e.config.Registry.Clear(inst.id)
	if err := e.config.Store.Delete(ctx, inst.id); err != nil {
		e.logger.Warn("Failed to delete completed instance state",
			zap.String("instance_id", inst.id),
			zap.Error(err))
	}
	e.logger.Info("Process instance completed",
		zap.String("instance_id", inst.id),
		zap.String("process", inst.def.Ref().String()))

	done := process.Event{
		Kind:        process.EventCompletion,
		Name:        inst.def.Ref().ProcessID,
		Correlation: inst.id,
		Payload:     inst.state.Vars(),
	}
	e.publish(ctx, done)
	if inst.parent != nil {
		e.route(d, inst, frames, process.ResumeAction{
			Reference: *inst.parent,
			Payload:   inst.state.Vars(),
			Event:     &done,
		})
	}
	return nil
}

// checkpoint saves a parked instance at its first parked node of kind.
func (e *Engine) checkpoint(ctx context.Context, d *dispatch, inst *instance, frames []*instance, kind waitKind) {
	var parked []string
	for node, k := range inst.waiting {
		if k == kind {
			parked = append(parked, node)
		}
	}
	slices.Sort(parked)
	node := parked[0]

	s := &step{d: d, inst: inst, w: work{node: node}, ref: inst.ref(node), frames: frames}
	state := inst.state
	state.Suspended = true
	if err := e.config.Store.Save(ctx, s.ref, state); err != nil {
		e.raise(ctx, s, nil, process.ErrorRefStorage, err.Error())
	}
}

// terminate stops an instance and every descendant. It returns the ids of
// all instances visited. inst.mu must be held.
func (e *Engine) terminate(ctx context.Context, inst *instance) []string {
	ids := []string{inst.id}
	if !inst.status.Finished() {
		inst.status = StatusTerminated
		inst.queue = nil
		inst.tokens = make(map[string]int)
		inst.active = make(map[string]bool)
		inst.waiting = make(map[string]waitKind)
		inst.updatedAt = time.Now()
		e.config.Registry.Clear(inst.id)
		e.logger.Info("Process instance terminated", zap.String("instance_id", inst.id))
	}
	if err := e.config.Store.Delete(ctx, inst.id); err != nil {
		e.logger.Warn("Failed to delete terminated instance state",
			zap.String("instance_id", inst.id),
			zap.Error(err))
	}

	for childID := range inst.children {
		child, ok := e.lookup(childID)
		if !ok {
			continue
		}
		child.mu.Lock()
		ids = append(ids, e.terminate(ctx, child)...)
		child.mu.Unlock()
	}
	return ids
}

func nodeOf(actionID, current string) string {
	if actionID == "" {
		return current
	}
	return actionID
}
