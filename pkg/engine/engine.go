// Package engine advances process instances one node at a time. It threads
// state through node executions, interprets the actions nodes return, keeps
// waiting nodes in the event registry and turns every node failure into a
// recorded incident that parks the instance until it is retried.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	sdkerrors "github.com/wehubfusion/Ariadne/pkg/errors"
	"github.com/wehubfusion/Ariadne/pkg/graph"
	"github.com/wehubfusion/Ariadne/pkg/incident"
	"github.com/wehubfusion/Ariadne/pkg/process"
	"github.com/wehubfusion/Ariadne/pkg/registry"
	"github.com/wehubfusion/Ariadne/pkg/storage"
	"go.uber.org/zap"
)

const (
	DefaultMaxCascadeDepth = 32
	DefaultMaxSteps        = 10000
)

// EventSink receives every event raised by a node and the completion event
// of every instance.
type EventSink interface {
	Publish(ctx context.Context, event process.Event) error
}

// Config holds the collaborators and limits of an Engine. Zero values are
// replaced by defaults in New.
type Config struct {
	Store        storage.Store
	Registry     *registry.Registry
	Incidents    incident.Handler
	Interceptors []Interceptor
	Sink         EventSink

	Scripts    process.ScriptRunner
	Conditions process.ConditionEvaluator
	Services   process.ServiceRegistry
	Rules      process.RuleEvaluator

	// MaxCascadeDepth bounds how deep call activities may nest.
	MaxCascadeDepth int
	// MaxSteps bounds the node executions of one Start, Emit, Resume or Retry call.
	MaxSteps int
	// NewID generates instance ids. Defaults to random UUIDs.
	NewID func() string

	Logger *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.Incidents == nil {
		c.Incidents = incident.NewLogHandler(c.Logger)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Store == nil {
		c.Store = storage.NewMemory()
	}
	if c.Registry == nil {
		c.Registry = registry.New(c.Logger.Named("registry"))
	}
	if c.MaxCascadeDepth <= 0 {
		c.MaxCascadeDepth = DefaultMaxCascadeDepth
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
}

// Engine runs process instances of the definitions deployed in its repository.
type Engine struct {
	repo      *graph.Repository
	config    Config
	intercept Interceptor
	logger    *zap.Logger
	metrics   counters

	mu        sync.RWMutex
	instances map[string]*instance
}

// New creates an engine over repo.
func New(repo *graph.Repository, config Config) *Engine {
	config.applyDefaults()
	if repo == nil {
		repo = graph.NewRepository(config.Logger)
	}
	return &Engine{
		repo:      repo,
		config:    config,
		intercept: Chain(config.Interceptors...),
		logger:    config.Logger,
		instances: make(map[string]*instance),
	}
}

// Repository returns the definitions the engine runs.
func (e *Engine) Repository() *graph.Repository {
	return e.repo
}

// Registry returns the event registry.
func (e *Engine) Registry() *registry.Registry {
	return e.config.Registry
}

// Start creates an instance of ref seeded with vars and runs it until it
// completes, suspends, cascades or records an incident.
func (e *Engine) Start(ctx context.Context, ref process.ProcessRef, vars map[string]any) (*Result, error) {
	def, err := e.repo.Lookup(ref)
	if err != nil {
		return nil, err
	}
	if err := def.ValidateInput(vars); err != nil {
		return nil, err
	}
	starts := def.StartNodes()
	if len(starts) == 0 {
		return nil, sdkerrors.NewError(sdkerrors.CodeInvalidDefinition,
			fmt.Sprintf("%s has no none start event", ref), sdkerrors.ErrInvalidDefinition)
	}

	d := e.newDispatch()
	inst := e.spawn(def, nil, vars)
	if err := e.launch(ctx, d, inst, starts, nil); err != nil {
		return nil, err
	}
	if err := e.drain(ctx, d); err != nil {
		return nil, err
	}
	return e.result(inst, d), nil
}

// Emit delivers an event from outside the engine. It resumes every matching
// waiter and starts an instance for every message or signal start event the
// event triggers. The results cover every instance the call touched.
func (e *Engine) Emit(ctx context.Context, event process.Event) ([]*Result, error) {
	e.metrics.events.Add(1)
	e.logger.Debug("Emitting event", zap.String("event", event.Key().String()))

	d := e.newDispatch()
	for _, a := range e.config.Registry.Emit(event) {
		if r, ok := a.(process.ResumeAction); ok {
			d.deferred = append(d.deferred, r)
		}
	}

	var started []*instance
	for _, s := range e.repo.StartsFor(event) {
		if err := s.Definition.ValidateInput(event.Payload); err != nil {
			e.logger.Warn("Event payload rejected by start event",
				zap.String("process", s.Definition.Ref().String()),
				zap.String("node_id", s.NodeID),
				zap.Error(err))
			continue
		}
		inst := e.spawn(s.Definition, nil, event.Payload)
		if err := e.launch(ctx, d, inst, []string{s.NodeID}, nil); err != nil {
			return nil, err
		}
		started = append(started, inst)
	}

	if err := e.drain(ctx, d); err != nil {
		return nil, err
	}

	for _, inst := range started {
		d.touch(inst.id)
	}
	results := make([]*Result, 0, len(d.touched))
	for _, id := range d.touched {
		if inst, ok := e.lookup(id); ok {
			results = append(results, e.result(inst, d))
		}
	}
	return results, nil
}

// Resume continues the node at ref with payload. Instances that are not held
// in memory are rehydrated from the store.
func (e *Engine) Resume(ctx context.Context, ref process.NodeRef, payload map[string]any) (*Result, error) {
	inst, err := e.load(ctx, ref.InstanceID)
	if err != nil {
		return nil, err
	}

	d := e.newDispatch()
	inst.mu.Lock()
	if _, ok := inst.waiting[ref.NodeID]; !ok || inst.status.Finished() {
		inst.mu.Unlock()
		return nil, sdkerrors.NewError(sdkerrors.CodeInvalidState,
			fmt.Sprintf("node %s of instance %s is not waiting", ref.NodeID, ref.InstanceID), nil)
	}
	inst.queue = append(inst.queue, work{
		node:   ref.NodeID,
		resume: &process.ResumeAction{Reference: inst.ref(ref.NodeID), Payload: payload},
	})
	err = e.run(ctx, d, inst, nil)
	inst.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := e.drain(ctx, d); err != nil {
		return nil, err
	}
	return e.result(inst, d), nil
}

// Retry re-runs the node that raised the incident of an instance, followed by
// the executions that were pending behind it.
func (e *Engine) Retry(ctx context.Context, instanceID string) (*Result, error) {
	inst, ok := e.lookup(instanceID)
	if !ok {
		return nil, sdkerrors.NewError(sdkerrors.CodeInstanceNotFound,
			fmt.Sprintf("instance %s", instanceID), sdkerrors.ErrInstanceNotFound)
	}

	d := e.newDispatch()
	inst.mu.Lock()
	if inst.status != StatusIncident {
		inst.mu.Unlock()
		return nil, sdkerrors.NewError(sdkerrors.CodeInvalidState,
			fmt.Sprintf("instance %s is %s", instanceID, inst.status), sdkerrors.ErrNotIncident)
	}
	e.logger.Info("Retrying instance",
		zap.String("instance_id", inst.id),
		zap.String("error_ref", inst.incident.ErrorRef),
		zap.String("node_id", inst.incident.NodeID))

	if inst.failed != nil {
		w := *inst.failed
		if w.resume == nil {
			inst.active[w.node] = true
		}
		inst.queue = append([]work{w}, inst.queue...)
	}
	inst.failed = nil
	inst.incident = nil
	inst.status = StatusRunnable
	err := e.run(ctx, d, inst, nil)
	inst.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := e.drain(ctx, d); err != nil {
		return nil, err
	}
	return e.result(inst, d), nil
}

// Instance returns a snapshot of an instance held in memory.
func (e *Engine) Instance(id string) (Snapshot, bool) {
	inst, ok := e.lookup(id)
	if !ok {
		return Snapshot{}, false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.snapshot(), true
}

// Instances returns snapshots of every instance held in memory, ordered by start time.
func (e *Engine) Instances() []Snapshot {
	e.mu.RLock()
	all := make([]*instance, 0, len(e.instances))
	for _, inst := range e.instances {
		all = append(all, inst)
	}
	e.mu.RUnlock()

	out := make([]Snapshot, 0, len(all))
	for _, inst := range all {
		inst.mu.Lock()
		out = append(out, inst.snapshot())
		inst.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].InstanceID < out[j].InstanceID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Purge terminates an instance and its children, drops their registrations
// and removes them from memory and from the store.
func (e *Engine) Purge(ctx context.Context, instanceID string) error {
	if inst, ok := e.lookup(instanceID); ok {
		inst.mu.Lock()
		ids := e.terminate(ctx, inst)
		inst.mu.Unlock()
		for _, id := range ids {
			e.forget(id)
		}
		e.logger.Info("Purged instance",
			zap.String("instance_id", instanceID),
			zap.Int("instances", len(ids)))
		return nil
	}
	if err := e.config.Store.Delete(ctx, instanceID); err != nil {
		return sdkerrors.NewError(sdkerrors.CodeStorage, fmt.Sprintf("failed to purge instance %s", instanceID), err)
	}
	return nil
}

// Metrics returns the engine counters.
func (e *Engine) Metrics() Metrics {
	return e.metrics.snapshot()
}

func (e *Engine) spawn(def *graph.Definition, parent *process.NodeRef, vars map[string]any) *instance {
	inst := newInstance(e.config.NewID(), def, parent, vars)
	e.mu.Lock()
	e.instances[inst.id] = inst
	e.mu.Unlock()
	e.metrics.started.Add(1)

	e.logger.Info("Process instance started",
		zap.String("instance_id", inst.id),
		zap.String("process", def.Ref().String()),
		zap.Int("depth", inst.depth))
	return inst
}

// launch puts a token on each start node and runs the new instance. frames
// holds the ancestor instances locked by the caller.
func (e *Engine) launch(ctx context.Context, d *dispatch, inst *instance, starts []string, frames []*instance) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	for _, id := range starts {
		inst.arrive(id)
	}
	return e.run(ctx, d, inst, frames)
}

func (e *Engine) lookup(id string) (*instance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst, ok := e.instances[id]
	return inst, ok
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.instances, id)
}

// load returns the instance held in memory or rehydrates it from the store.
// A rehydrated instance waits on the node its snapshot was saved at.
func (e *Engine) load(ctx context.Context, id string) (*instance, error) {
	if inst, ok := e.lookup(id); ok {
		return inst, nil
	}

	state, err := e.config.Store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, sdkerrors.NewError(sdkerrors.CodeInstanceNotFound,
				fmt.Sprintf("instance %s", id), sdkerrors.ErrInstanceNotFound)
		}
		return nil, sdkerrors.NewError(sdkerrors.CodeStorage, fmt.Sprintf("failed to load instance %s", id), err)
	}
	def, err := e.repo.Lookup(state.Process)
	if err != nil {
		return nil, err
	}

	inst := newInstance(id, def, state.Parent, nil)
	state.Suspended = false
	inst.state = state
	inst.status = StatusSuspended
	if state.NodeID != "" {
		inst.waiting[state.NodeID] = waitEvent
		inst.tokens[state.NodeID] = def.RequiredTokens(state.NodeID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.instances[id]; ok {
		return existing, nil
	}
	e.instances[id] = inst
	e.logger.Info("Rehydrated instance from store",
		zap.String("instance_id", id),
		zap.String("process", state.Process.String()),
		zap.String("node_id", state.NodeID))
	return inst, nil
}

func (e *Engine) result(inst *instance, d *dispatch) *Result {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return &Result{Snapshot: inst.snapshot(), Steps: d.steps}
}

// deliver hands an incident to the configured handler. Handler panics are
// contained and logged.
func (e *Engine) deliver(ctx context.Context, inc process.Incident) {
	if err := incident.Deliver(ctx, e.config.Incidents, inc); err != nil {
		e.logger.Error("Incident handler failed",
			zap.String("instance_id", inc.Node.InstanceID),
			zap.String("node_id", inc.NodeID),
			zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, event process.Event) {
	if e.config.Sink == nil {
		return
	}
	if err := e.config.Sink.Publish(ctx, event); err != nil {
		e.logger.Warn("Failed to publish event",
			zap.String("event", event.Key().String()),
			zap.Error(err))
	}
}
