package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/mdao/internal/deriv"
	"github.com/san-kum/mdao/internal/drivers"
)

const (
	DefaultModel    = "paraboloid"
	DefaultNumSteps = 11
	DefaultSamples  = 100
	DefaultAtol     = 1e-6
	DefaultRtol     = 1e-6
	DefaultMaxIter  = 100
)

var ErrInvalid = errors.New("config: invalid")

// Config describes a problem: the model tree, how to drive it and where
// cases go.
type Config struct {
	Model     string           `yaml:"model"`
	Root      GroupConfig      `yaml:"root,omitempty"`
	Set       []VarConfig      `yaml:"set,omitempty"`
	Driver    DriverConfig     `yaml:"driver"`
	FD        deriv.Options    `yaml:"fd"`
	Recorders []RecorderConfig `yaml:"recorders,omitempty"`
}

// GroupConfig is a group's children, its explicit connections and its
// solver. An empty GroupConfig at the root means "use the registered
// model named by Config.Model".
type GroupConfig struct {
	Solver      SolverConfig       `yaml:"solver,omitempty"`
	Subsystems  []SubsystemConfig  `yaml:"subsystems,omitempty"`
	Connections []ConnectionConfig `yaml:"connections,omitempty"`
}

// SubsystemConfig is one child. Type "group" nests Group; any other type
// names a registered component.
type SubsystemConfig struct {
	Name     string             `yaml:"name"`
	Type     string             `yaml:"type"`
	Promotes []string           `yaml:"promotes,omitempty"`
	Vars     []VarConfig        `yaml:"vars,omitempty"`
	Exprs    []string           `yaml:"exprs,omitempty"`
	Inits    map[string]float64 `yaml:"inits,omitempty"`
	FD       *deriv.Options     `yaml:"fd,omitempty"`
	Group    *GroupConfig       `yaml:"group,omitempty"`
}

// VarConfig names a value: a scalar or a list of numbers.
type VarConfig struct {
	Name  string `yaml:"name"`
	Value any    `yaml:"value"`
}

type ConnectionConfig struct {
	Source  string   `yaml:"source"`
	Targets []string `yaml:"targets"`
}

type SolverConfig struct {
	Type    string  `yaml:"type,omitempty"`
	Atol    float64 `yaml:"atol,omitempty"`
	Rtol    float64 `yaml:"rtol,omitempty"`
	MaxIter int     `yaml:"maxiter,omitempty"`
}

type DriverConfig struct {
	Type       string              `yaml:"type"`
	DesignVars []drivers.DesignVar `yaml:"design_vars,omitempty"`
	NumSteps   int                 `yaml:"num_steps,omitempty"`
	NumSamples int                 `yaml:"num_samples,omitempty"`
	Seed       int64               `yaml:"seed,omitempty"`
	Objective  string              `yaml:"objective,omitempty"`
}

// RecorderConfig selects a recorder. Path is the output file for dump
// ("-" or empty for stdout) and sqlite; store recorders write under the
// run store.
type RecorderConfig struct {
	Type     string   `yaml:"type"`
	Path     string   `yaml:"path,omitempty"`
	Includes []string `yaml:"includes,omitempty"`
	Excludes []string `yaml:"excludes,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Model: DefaultModel,
		Driver: DriverConfig{
			Type:       "run_once",
			NumSteps:   DefaultNumSteps,
			NumSamples: DefaultSamples,
		},
		FD:        deriv.DefaultOptions(),
		Recorders: []RecorderConfig{{Type: "store"}},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks what can be checked without building the model.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalid)
	}
	if err := c.FD.Validate(); err != nil {
		return fmt.Errorf("%w: fd: %v", ErrInvalid, err)
	}
	if err := c.Root.validate("root"); err != nil {
		return err
	}

	switch c.Driver.Type {
	case "", "run_once":
	case "full_factorial":
		if c.Driver.NumSteps < 1 {
			return fmt.Errorf("%w: driver num_steps must be positive", ErrInvalid)
		}
	case "uniform":
		if c.Driver.NumSamples < 1 {
			return fmt.Errorf("%w: driver num_samples must be positive", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown driver %q", ErrInvalid, c.Driver.Type)
	}
	for _, dv := range c.Driver.DesignVars {
		if dv.High < dv.Low {
			return fmt.Errorf("%w: design var %s has high < low", ErrInvalid, dv.Name)
		}
	}

	for _, r := range c.Recorders {
		switch r.Type {
		case "dump", "store":
		case "sqlite":
			if r.Path == "" {
				return fmt.Errorf("%w: sqlite recorder needs a path", ErrInvalid)
			}
		default:
			return fmt.Errorf("%w: unknown recorder %q", ErrInvalid, r.Type)
		}
	}
	return nil
}

func (g *GroupConfig) validate(path string) error {
	switch g.Solver.Type {
	case "", "run_once", "gauss_seidel":
	default:
		return fmt.Errorf("%w: %s: unknown solver %q", ErrInvalid, path, g.Solver.Type)
	}
	seen := make(map[string]bool, len(g.Subsystems))
	for _, s := range g.Subsystems {
		if s.Name == "" {
			return fmt.Errorf("%w: %s: subsystem without a name", ErrInvalid, path)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: %s: duplicate subsystem %s", ErrInvalid, path, s.Name)
		}
		seen[s.Name] = true
		if s.Type == "group" {
			if s.Group == nil {
				return fmt.Errorf("%w: %s.%s: group without a body", ErrInvalid, path, s.Name)
			}
			if err := s.Group.validate(path + "." + s.Name); err != nil {
				return err
			}
		}
		if opts, ok := s.FDOptions(deriv.DefaultOptions()); ok {
			if err := opts.Validate(); err != nil {
				return fmt.Errorf("%w: %s.%s: fd: %v", ErrInvalid, path, s.Name, err)
			}
		}
	}
	return nil
}

// FDOptions returns the subsystem's finite difference options with unset
// fields taken from fallback. ok is false when the subsystem sets none.
func (s *SubsystemConfig) FDOptions(fallback deriv.Options) (deriv.Options, bool) {
	if s.FD == nil {
		return fallback, false
	}
	opts := *s.FD
	if opts.Form == "" {
		opts.Form = fallback.Form
	}
	if opts.Step == 0 {
		opts.Step = fallback.Step
	}
	if opts.StepCalc == "" {
		opts.StepCalc = fallback.StepCalc
	}
	return opts, true
}

// IsEmpty reports whether the group declares nothing.
func (g *GroupConfig) IsEmpty() bool {
	return len(g.Subsystems) == 0 && len(g.Connections) == 0
}

// Float converts a YAML scalar to float64.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

// Value converts a decoded YAML value into a float64 or []float64.
func Value(v any) (any, error) {
	if f, ok := Float(v); ok {
		return f, nil
	}
	switch x := v.(type) {
	case []float64:
		return x, nil
	case []any:
		out := make([]float64, len(x))
		for i, e := range x {
			f, ok := Float(e)
			if !ok {
				return nil, fmt.Errorf("%w: element %d is %T, not a number", ErrInvalid, i, e)
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: value %v is not a number or list", ErrInvalid, v)
}
