package config

import (
	"sort"

	"github.com/san-kum/mdao/internal/deriv"
	"github.com/san-kum/mdao/internal/drivers"
)

var Presets = map[string]map[string]*Config{
	"paraboloid": {
		"single": {
			Model:     "paraboloid",
			Root:      paraboloidRoot(3, -4),
			Driver:    DriverConfig{Type: "run_once"},
			FD:        deriv.DefaultOptions(),
			Recorders: []RecorderConfig{{Type: "store"}},
		},
		"grid": {
			Model: "paraboloid",
			Root:  paraboloidRoot(3, -4),
			Driver: DriverConfig{
				Type: "full_factorial",
				DesignVars: []drivers.DesignVar{
					{Name: "p1.x", Low: 0, High: 10},
					{Name: "p2.y", Low: -10, High: 0},
				},
				NumSteps:  11,
				Objective: "comp.f_xy",
			},
			FD:        deriv.DefaultOptions(),
			Recorders: []RecorderConfig{{Type: "store"}},
		},
		"random": {
			Model: "paraboloid",
			Root:  paraboloidRoot(3, -4),
			Driver: DriverConfig{
				Type: "uniform",
				DesignVars: []drivers.DesignVar{
					{Name: "p1.x", Low: -50, High: 50},
					{Name: "p2.y", Low: -50, High: 50},
				},
				NumSamples: 200,
				Seed:       42,
				Objective:  "comp.f_xy",
			},
			FD:        deriv.DefaultOptions(),
			Recorders: []RecorderConfig{{Type: "store"}},
		},
	},
	"sellar": {
		"mda": {
			Model:  "sellar",
			Driver: DriverConfig{Type: "run_once"},
			FD:     deriv.DefaultOptions(),
			Recorders: []RecorderConfig{
				{Type: "store"},
				{Type: "dump", Excludes: []string{"*.*"}},
			},
		},
		"sweep": {
			Model: "sellar",
			Driver: DriverConfig{
				Type:       "full_factorial",
				DesignVars: []drivers.DesignVar{{Name: "x", Low: 0, High: 10}},
				NumSteps:   21,
				Objective:  "obj",
			},
			FD:        deriv.DefaultOptions(),
			Recorders: []RecorderConfig{{Type: "store"}},
		},
	},
	"converge_diverge": {
		"single": {
			Model:  "converge_diverge",
			Driver: DriverConfig{Type: "run_once"},
			FD:     deriv.Options{Form: deriv.Central, Step: 1e-6, StepCalc: deriv.Absolute},
			Recorders: []RecorderConfig{
				{Type: "store"},
				{Type: "dump", Includes: []string{"comp4.*"}, Excludes: []string{"*.y2"}},
			},
		},
	},
}

// paraboloidRoot spells out the paraboloid model as a config tree.
func paraboloidRoot(x, y float64) GroupConfig {
	return GroupConfig{
		Subsystems: []SubsystemConfig{
			{Name: "p1", Type: "indep", Vars: []VarConfig{{Name: "x", Value: x}}},
			{Name: "p2", Type: "indep", Vars: []VarConfig{{Name: "y", Value: y}}},
			{Name: "comp", Type: "paraboloid"},
		},
		Connections: []ConnectionConfig{
			{Source: "p1.x", Targets: []string{"comp.x"}},
			{Source: "p2.y", Targets: []string{"comp.y"}},
		},
	}
}

// GetPreset returns a shallow copy of a preset, or nil.
func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	c := *cfg
	return &c
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListModels returns the models that have presets.
func ListModels() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
