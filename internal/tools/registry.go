package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

type entry struct {
	def    Definition
	schema *jsonschema.Schema
}

// Registry maps tool names to definitions with compiled input schemas.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds a tool. Names must be unique and match the provider-safe
// pattern; the input schema must compile.
func (r *Registry) Register(def Definition) error {
	if !toolNamePattern.MatchString(def.Name) {
		return fmt.Errorf("%w: invalid name %q", ErrInvalidDefinition, def.Name)
	}
	if def.NeedsApproval != nil && def.Execute == nil {
		return fmt.Errorf("%w: %s: approval requires an executor", ErrInvalidDefinition, def.Name)
	}
	schema, err := compileSchema(def.Name, def.Schema())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Name)
	}
	r.tools[def.Name] = &entry{def: def, schema: schema}
	return nil
}

// Resolve looks up a tool by name.
func (r *Registry) Resolve(name string) (*Definition, error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	def := e.def
	return &def, nil
}

// Validate checks input against the tool's schema.
func (r *Registry) Validate(name string, input json.RawMessage) error {
	e, ok := r.lookup(name)
	if !ok {
		return &UnknownToolError{Name: name}
	}
	return validateInput(e.schema, input)
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e, ok
}

// Definitions returns every registered tool sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defs := make([]Definition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, e.def)
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Merge returns a copy of the registry extended with the tools of each
// source. A failing source or a clashing name does not abort the merge; the
// problems are returned joined alongside the usable registry.
func (r *Registry) Merge(ctx context.Context, sources ...Source) (*Registry, error) {
	merged := NewRegistry()
	r.mu.RLock()
	for name, e := range r.tools {
		merged.tools[name] = e
	}
	r.mu.RUnlock()

	var errs []error
	for _, src := range sources {
		defs, err := src.Tools(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("tool source %s: %w", src.Name(), err))
			continue
		}
		for _, def := range defs {
			if err := merged.Register(def); err != nil {
				errs = append(errs, fmt.Errorf("tool source %s: %w", src.Name(), err))
			}
		}
	}
	return merged, errors.Join(errs...)
}
