package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	sdkerrors "github.com/wehubfusion/Ariadne/pkg/errors"
	"github.com/wehubfusion/Ariadne/pkg/process"
	"go.uber.org/multierr"
)

// Builder assembles a Definition. Problems are collected and reported together by Build.
type Builder struct {
	def    *Definition
	schema string
	errs   error
}

// NewBuilder starts a definition for ref.
func NewBuilder(ref process.ProcessRef) *Builder {
	return &Builder{
		def: &Definition{
			ref:         ref,
			nodes:       make(map[string]process.Executable),
			outgoing:    make(map[string][]process.Flow),
			incoming:    make(map[string]int),
			boundaries:  make(map[string][]string),
			eventStarts: make(map[process.EventKey][]string),
		},
	}
}

// Name sets the human readable process name.
func (b *Builder) Name(name string) *Builder {
	b.def.name = name
	return b
}

// Node adds nodes in declaration order.
func (b *Builder) Node(nodes ...process.Executable) *Builder {
	for _, n := range nodes {
		if n == nil {
			b.errs = multierr.Append(b.errs, errors.New("nil node"))
			continue
		}
		id := n.ID()
		if id == "" {
			b.errs = multierr.Append(b.errs, errors.New("node with empty id"))
			continue
		}
		if _, dup := b.def.nodes[id]; dup {
			b.errs = multierr.Append(b.errs, fmt.Errorf("duplicate node id %q", id))
			continue
		}
		b.def.nodes[id] = n
		b.def.order = append(b.def.order, id)
	}
	return b
}

// Flow adds an unconditional sequence flow.
func (b *Builder) Flow(id, source, target string) *Builder {
	return b.AddFlow(process.Flow{ID: id, Source: source, Target: target})
}

// ConditionalFlow adds a sequence flow guarded by a condition expression.
func (b *Builder) ConditionalFlow(id, source, target, condition string) *Builder {
	return b.AddFlow(process.Flow{ID: id, Source: source, Target: target, Condition: condition})
}

// DefaultFlow adds the default flow of a gateway.
func (b *Builder) DefaultFlow(id, source, target string) *Builder {
	return b.AddFlow(process.Flow{ID: id, Source: source, Target: target, Default: true})
}

// AddFlow adds a sequence flow.
func (b *Builder) AddFlow(f process.Flow) *Builder {
	if f.ID == "" {
		f.ID = f.Source + "->" + f.Target
	}
	b.def.flows = append(b.def.flows, f)
	return b
}

// InputSchema sets a JSON schema the start variables must satisfy.
func (b *Builder) InputSchema(schema string) *Builder {
	b.schema = schema
	return b
}

// Build validates the definition and indexes it.
func (b *Builder) Build() (*Definition, error) {
	d := b.def
	errs := b.errs

	if d.ref.Group == "" || d.ref.ProcessID == "" {
		errs = multierr.Append(errs, fmt.Errorf("process reference %q is incomplete", d.ref))
	}

	seenFlows := make(map[string]bool, len(d.flows))
	defaults := make(map[string]int)
	for _, f := range d.flows {
		if seenFlows[f.ID] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate flow id %q", f.ID))
			continue
		}
		seenFlows[f.ID] = true

		if _, ok := d.nodes[f.Source]; !ok {
			errs = multierr.Append(errs, fmt.Errorf("flow %q: unknown source node %q", f.ID, f.Source))
			continue
		}
		if _, ok := d.nodes[f.Target]; !ok {
			errs = multierr.Append(errs, fmt.Errorf("flow %q: unknown target node %q", f.ID, f.Target))
			continue
		}
		if f.Default {
			defaults[f.Source]++
			if defaults[f.Source] > 1 {
				errs = multierr.Append(errs, fmt.Errorf("node %q has more than one default flow", f.Source))
			}
		}
		d.outgoing[f.Source] = append(d.outgoing[f.Source], f)
		d.incoming[f.Target]++
	}

	for _, id := range d.order {
		node := d.nodes[id]
		if a, ok := node.(process.Attachable); ok {
			host := a.AttachedTo()
			if _, exists := d.nodes[host]; !exists {
				errs = multierr.Append(errs, fmt.Errorf("boundary event %q attached to unknown node %q", id, host))
				continue
			}
			d.boundaries[host] = append(d.boundaries[host], id)
		}
		if s, ok := node.(process.Starter); ok {
			if trigger := s.Trigger(); trigger != nil {
				key := trigger.Key().Uncorrelated()
				d.eventStarts[key] = append(d.eventStarts[key], id)
			} else {
				d.starts = append(d.starts, id)
			}
		}
	}

	if len(d.starts) == 0 && len(d.eventStarts) == 0 {
		errs = multierr.Append(errs, errors.New("definition has no start event"))
	}

	if strings.TrimSpace(b.schema) != "" {
		schema, err := jsonschema.CompileString(d.ref.String()+".schema.json", b.schema)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("input schema: %w", err))
		} else {
			d.schema = schema
		}
	}

	if errs != nil {
		return nil, sdkerrors.NewError(sdkerrors.CodeInvalidDefinition,
			fmt.Sprintf("definition %s is invalid", d.ref),
			fmt.Errorf("%w: %w", sdkerrors.ErrInvalidDefinition, errs))
	}
	return d, nil
}

// MustBuild is Build for definitions known to be valid, such as test fixtures.
func (b *Builder) MustBuild() *Definition {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}
