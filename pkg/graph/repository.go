package graph

import (
	"fmt"
	"io"
	"sync"

	sdkerrors "github.com/wehubfusion/Ariadne/pkg/errors"
	"github.com/wehubfusion/Ariadne/pkg/process"
	"go.uber.org/zap"
)

// Parser turns a source document into process definitions.
type Parser interface {
	Parse(source io.Reader) ([]*Definition, error)
}

// EventStart is a start event of a deployed definition that an event triggers.
type EventStart struct {
	Definition *Definition
	NodeID     string
}

// Repository holds the deployed definitions.
type Repository struct {
	mu     sync.RWMutex
	defs   map[process.ProcessRef]*Definition
	order  []process.ProcessRef
	logger *zap.Logger
}

// NewRepository creates an empty repository.
func NewRepository(logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		defs:   make(map[process.ProcessRef]*Definition),
		logger: logger,
	}
}

// Deploy adds definitions, replacing any with the same reference.
func (r *Repository) Deploy(defs ...*Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range defs {
		if d == nil {
			return fmt.Errorf("cannot deploy nil definition")
		}
		if _, exists := r.defs[d.ref]; !exists {
			r.order = append(r.order, d.ref)
		}
		r.defs[d.ref] = d
		r.logger.Info("Deployed process definition",
			zap.String("process", d.ref.String()),
			zap.Int("nodes", len(d.order)))
	}
	return nil
}

// DeployFrom parses source and deploys the result.
func (r *Repository) DeployFrom(parser Parser, source io.Reader) error {
	defs, err := parser.Parse(source)
	if err != nil {
		return fmt.Errorf("failed to parse process definitions: %w", err)
	}
	return r.Deploy(defs...)
}

// Lookup returns the definition for ref.
func (r *Repository) Lookup(ref process.ProcessRef) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.defs[ref]
	if !ok {
		return nil, sdkerrors.NewError(sdkerrors.CodeProcessNotFound,
			fmt.Sprintf("no definition deployed for %s", ref), sdkerrors.ErrProcessNotFound)
	}
	return d, nil
}

// Definitions returns the deployed definitions in deployment order.
func (r *Repository) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.order))
	for _, ref := range r.order {
		out = append(out, r.defs[ref])
	}
	return out
}

// StartsFor returns the start events that event triggers across all
// definitions, in deployment order.
func (r *Repository) StartsFor(event process.Event) []EventStart {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var starts []EventStart
	for _, ref := range r.order {
		d := r.defs[ref]
		for _, id := range d.EventStarts(event.Key()) {
			starts = append(starts, EventStart{Definition: d, NodeID: id})
		}
	}
	return starts
}
