package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/mdao/internal/components"
	"github.com/san-kum/mdao/internal/config"
	"github.com/san-kum/mdao/internal/metrics"
	"github.com/san-kum/mdao/internal/models"
	"github.com/san-kum/mdao/internal/system"
)

// ComponentFactory builds a component from its config entry.
type ComponentFactory func(sc config.SubsystemConfig) (system.System, error)

// ModelFactory builds a complete root group.
type ModelFactory func() (*system.Group, error)

type Registry struct {
	components map[string]ComponentFactory
	models     map[string]ModelFactory
}

func NewRegistry() *Registry {
	r := &Registry{
		components: make(map[string]ComponentFactory),
		models:     make(map[string]ModelFactory),
	}

	r.components["indep"] = newIndep
	r.components["exec"] = func(sc config.SubsystemConfig) (system.System, error) {
		return components.NewExecComp(sc.Exprs, sc.Inits)
	}
	r.components["simple"] = func(config.SubsystemConfig) (system.System, error) { return models.NewSimpleComp(), nil }
	r.components["array"] = func(config.SubsystemConfig) (system.System, error) { return models.NewArrayComp(), nil }
	r.components["simple_implicit"] = func(config.SubsystemConfig) (system.System, error) { return models.NewSimpleImplicit(), nil }
	r.components["paraboloid"] = func(config.SubsystemConfig) (system.System, error) { return models.NewParaboloid(), nil }
	r.components["sellar_dis1"] = func(config.SubsystemConfig) (system.System, error) { return models.NewSellarDis1(), nil }
	r.components["sellar_dis2"] = func(config.SubsystemConfig) (system.System, error) { return models.NewSellarDis2(), nil }
	r.components["sellar_objective"] = func(config.SubsystemConfig) (system.System, error) { return models.NewSellarObjective(), nil }

	r.models["paraboloid"] = func() (*system.Group, error) { return models.NewParaboloidGroup(3, -4), nil }
	r.models["sellar"] = models.NewSellar
	r.models["converge_diverge"] = func() (*system.Group, error) { return models.NewConvergeDiverge(), nil }
	r.models["example_group"] = func() (*system.Group, error) { return models.NewExampleGroup(), nil }

	return r
}

func newIndep(sc config.SubsystemConfig) (system.System, error) {
	if len(sc.Vars) == 0 {
		return nil, fmt.Errorf("indep %s declares no vars", sc.Name)
	}
	var c *components.IndepVarComp
	for _, v := range sc.Vars {
		val, err := config.Value(v.Value)
		if err != nil {
			return nil, fmt.Errorf("indep %s.%s: %w", sc.Name, v.Name, err)
		}
		if c == nil {
			c = components.NewIndepVarComp(v.Name, val)
		} else {
			c.Add(v.Name, val)
		}
	}
	return c, nil
}

func (r *Registry) RegisterComponent(name string, fn ComponentFactory) {
	r.components[name] = fn
}

func (r *Registry) RegisterModel(name string, fn ModelFactory) {
	r.models[name] = fn
}

func (r *Registry) GetComponent(sc config.SubsystemConfig) (system.System, error) {
	fn, ok := r.components[sc.Type]
	if !ok {
		return nil, fmt.Errorf("unknown component type: %s", sc.Type)
	}
	return fn(sc)
}

func (r *Registry) GetModel(name string) (*system.Group, error) {
	fn, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", name)
	}
	return fn()
}

func (r *Registry) ListComponents() []string {
	return sortedKeys(r.components)
}

func (r *Registry) ListModels() []string {
	return sortedKeys(r.models)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) DefaultMetrics(objective string) []metrics.Metric {
	return metrics.Defaults(objective)
}
