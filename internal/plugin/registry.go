// Package plugin defines job types and the registry that maps names to them.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/params"
)

var (
	ErrUnknownJobType   = errors.New("unknown job type")
	ErrDuplicateJobType = errors.New("duplicate job type")
	ErrPrecondition     = errors.New("precondition failed")
)

// Pipeline runs the steps of one job type.
type Pipeline interface {
	Execute(ctx context.Context, env *Env) error
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, env *Env) error

func (f PipelineFunc) Execute(ctx context.Context, env *Env) error {
	return f(ctx, env)
}

// ResultMaterializer is implemented by pipelines that can turn their persisted
// results back into structured data for collaborators.
type ResultMaterializer interface {
	Materialize(ctx context.Context, results []*model.PluginResult, artifacts client.StorageClient) (any, error)
}

// Descriptor is an immutable registry entry.
type Descriptor struct {
	Name     string
	Params   params.Spec
	Steps    int
	Pipeline Pipeline
}

func (d *Descriptor) Validate(input []model.Parameter) (params.Values, error) {
	return params.Validate(d.Params, input)
}

// Materializer returns the result hook if the pipeline has one.
func (d *Descriptor) Materializer() (ResultMaterializer, bool) {
	m, ok := d.Pipeline.(ResultMaterializer)
	return m, ok
}

func (d *Descriptor) Describe() model.PluginDescription {
	return model.PluginDescription{
		Name:       d.Name,
		Steps:      d.Steps,
		Parameters: params.Describe(d.Params),
	}
}

// Registry maps job-type names to descriptors. It is built once at startup and
// only read afterwards.
type Registry struct {
	byName map[string]*Descriptor
	names  []string
}

func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Descriptor, len(descriptors))}
	for i := range descriptors {
		d := descriptors[i]
		if d.Name == "" || d.Pipeline == nil {
			return nil, fmt.Errorf("invalid descriptor at %d: name and pipeline are required", i)
		}
		if _, ok := r.byName[d.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateJobType, d.Name)
		}
		if d.Params == nil {
			d.Params = params.Spec{}
		}
		r.byName[d.Name] = &d
		r.names = append(r.names, d.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

func (r *Registry) Lookup(name string) (*Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, name)
	}
	return d, nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Names returns the registered job types in lexical order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *Registry) Describe() []model.PluginDescription {
	out := make([]model.PluginDescription, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.byName[name].Describe())
	}
	return out
}
