// Package registry keeps track of nodes waiting on events. All operations are
// serialized by one mutex so that a consumable event is handed to at most one
// waiter even when several instances dispatch at the same time.
package registry

import (
	"maps"
	"sort"
	"sync"

	"github.com/wehubfusion/Ariadne/pkg/process"
	"go.uber.org/zap"
)

// Registration is one waiter registered on one event identity.
type Registration struct {
	Event      process.Event
	Waiter     process.NodeRef
	Consumable bool
	seq        uint64
}

// Registry maps event identities to the nodes waiting on them.
type Registry struct {
	mu     sync.Mutex
	byKey  map[process.EventKey][]*Registration
	seq    uint64
	logger *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byKey:  make(map[process.EventKey][]*Registration),
		logger: logger,
	}
}

// Queue registers waiter on event. Registering the same waiter twice on the
// same event identity is a no-op.
func (r *Registry) Queue(event process.Event, waiter process.NodeRef, consumable bool) {
	key := event.Key()
	waiterKey := waiter.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reg := range r.byKey[key] {
		if reg.Waiter.Key() == waiterKey {
			return
		}
	}

	r.seq++
	r.byKey[key] = append(r.byKey[key], &Registration{
		Event:      event,
		Waiter:     waiter,
		Consumable: consumable,
		seq:        r.seq,
	})

	r.logger.Debug("Queued waiter",
		zap.String("event", key.String()),
		zap.String("waiter", waiter.String()),
		zap.Bool("consumable", consumable))
}

// Dequeue removes the registration of waiter on event and reports whether it existed.
func (r *Registry) Dequeue(event process.Event, waiter process.NodeRef) bool {
	key := event.Key()
	waiterKey := waiter.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.byKey[key]
	for i, reg := range regs {
		if reg.Waiter.Key() == waiterKey {
			r.removeAt(key, i)
			return true
		}
	}
	return false
}

// DequeueAll removes every registration held by waiter and returns how many were removed.
func (r *Registry) DequeueAll(waiter process.NodeRef) int {
	waiterKey := waiter.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeWhere(func(reg *Registration) bool {
		return reg.Waiter.Key() == waiterKey
	})
}

// Clear removes every registration held by nodes of one instance.
func (r *Registry) Clear(instanceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeWhere(func(reg *Registration) bool {
		return reg.Waiter.InstanceID == instanceID
	})
}

// Match returns the waiters matching event in registration order: every
// non-consumable registration and at most one consumable registration, the
// earliest, which is removed as part of the same critical section.
// Registrations without a correlation match events of any correlation.
func (r *Registry) Match(event process.Event) []Registration {
	key := event.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := append([]*Registration(nil), r.byKey[key]...)
	if key.Correlation != "" {
		candidates = append(candidates, r.byKey[key.Uncorrelated()]...)
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].seq < candidates[j].seq })
	}

	var (
		matched []Registration
		winner  *Registration
	)
	for _, reg := range candidates {
		if reg.Consumable {
			if winner != nil {
				continue
			}
			winner = reg
		}
		matched = append(matched, *reg)
	}

	if winner != nil {
		wkey := winner.Event.Key()
		for i, reg := range r.byKey[wkey] {
			if reg == winner {
				r.removeAt(wkey, i)
				break
			}
		}
	}

	if len(matched) > 0 {
		r.logger.Debug("Matched event",
			zap.String("event", key.String()),
			zap.Int("waiters", len(matched)))
	}
	return matched
}

// Emit matches event and returns the resume actions that continue the matched waiters.
func (r *Registry) Emit(event process.Event) []process.Action {
	matched := r.Match(event)
	if len(matched) == 0 {
		return nil
	}

	actions := make([]process.Action, 0, len(matched))
	for _, reg := range matched {
		ev := event
		ev.Payload = maps.Clone(event.Payload)
		actions = append(actions, process.ResumeAction{
			Reference: reg.Waiter,
			Payload:   maps.Clone(event.Payload),
			Event:     &ev,
		})
	}
	return actions
}

// Waiting returns the events waiter is registered on, in registration order.
func (r *Registry) Waiting(waiter process.NodeRef) []process.Event {
	waiterKey := waiter.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	var regs []*Registration
	for _, list := range r.byKey {
		for _, reg := range list {
			if reg.Waiter.Key() == waiterKey {
				regs = append(regs, reg)
			}
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })

	events := make([]process.Event, 0, len(regs))
	for _, reg := range regs {
		events = append(events, reg.Event)
	}
	return events
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, list := range r.byKey {
		n += len(list)
	}
	return n
}

func (r *Registry) removeAt(key process.EventKey, i int) {
	regs := r.byKey[key]
	regs = append(regs[:i:i], regs[i+1:]...)
	if len(regs) == 0 {
		delete(r.byKey, key)
		return
	}
	r.byKey[key] = regs
}

func (r *Registry) removeWhere(pred func(*Registration) bool) int {
	removed := 0
	for key, list := range r.byKey {
		kept := list[:0:0]
		for _, reg := range list {
			if pred(reg) {
				removed++
				continue
			}
			kept = append(kept, reg)
		}
		if len(kept) == 0 {
			delete(r.byKey, key)
		} else {
			r.byKey[key] = kept
		}
	}
	return removed
}
