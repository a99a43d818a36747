package command

import (
	"fmt"
	"sort"
)

// Registry is a constructed-once lookup table of command definitions.
type Registry struct {
	defs   []Definition
	byName map[string]int
}

// NewRegistry builds a registry. Names and aliases must be unique and every
// definition needs a handler. Definitions without timing default to runtime.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{
		defs:   make([]Definition, 0, len(defs)),
		byName: make(map[string]int, len(defs)),
	}

	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("command name cannot be empty")
		}
		if def.Handler == nil {
			return nil, fmt.Errorf("command %s has no handler", def.Name)
		}
		if def.Timing == 0 {
			def.Timing = TimingRuntime
		}

		idx := len(r.defs)
		for _, name := range append([]string{def.Name}, def.Aliases...) {
			if _, exists := r.byName[name]; exists {
				return nil, fmt.Errorf("command already registered: %s", name)
			}
			r.byName[name] = idx
		}
		r.defs = append(r.defs, def)
	}

	return r, nil
}

// Lookup finds a definition by name or alias. Lookup is case-sensitive.
func (r *Registry) Lookup(name string) (Definition, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[idx], true
}

// Names returns all primary command names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for _, def := range r.defs {
		names = append(names, def.Name)
	}
	sort.Strings(names)
	return names
}
