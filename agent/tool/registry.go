package tool

import (
	"fmt"
	"strings"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
)

// Canonical tool names. The set is fixed at startup and immutable for the
// process lifetime.
const (
	NameMoodFeeling     = "mood/feeling"
	NameDietNutrition   = "diet/nutrition"
	NameGeneral         = "general"
	NameFitnessWellness = "fitness/wellness"
	NameDatabase        = "database"
	NameFallback        = "NOTA"
)

// Registry is the fixed set of named query sources. Every registry carries
// exactly one fallback tool, so routing can never come up empty.
type Registry struct {
	order []string
	tools map[string]contractx.QueryTool
}

func NewRegistry(tools ...contractx.QueryTool) (*Registry, error) {
	r := &Registry{
		tools: make(map[string]contractx.QueryTool, len(tools)),
	}

	for _, t := range tools {
		if t == nil {
			return nil, fmt.Errorf("%w: nil tool", contractx.ErrValidation)
		}
		name := strings.TrimSpace(t.Name())
		if name == "" {
			return nil, fmt.Errorf("%w: tool name is empty", contractx.ErrValidation)
		}
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("%w: duplicate tool name %q", contractx.ErrValidation, name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}

	if _, ok := r.tools[NameFallback]; !ok {
		return nil, fmt.Errorf("%w: registry requires the %q fallback tool", contractx.ErrValidation, NameFallback)
	}

	return r, nil
}

func (r *Registry) Lookup(name string) (contractx.QueryTool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Fallback() contractx.QueryTool {
	return r.tools[NameFallback]
}

// Specs returns the {name, description} pairs handed to the decomposition
// model, in registration order.
func (r *Registry) Specs() []contractx.ToolSpec {
	specs := make([]contractx.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, contractx.ToolSpec{
			Name:        name,
			Description: r.tools[name].Description(),
		})
	}
	return specs
}

func (r *Registry) Len() int {
	return len(r.order)
}
