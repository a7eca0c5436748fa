package problem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/mdao/internal/recorder"
	"github.com/san-kum/mdao/internal/solvers"
	"github.com/san-kum/mdao/internal/system"
	"github.com/san-kum/mdao/internal/vec"
)

var (
	ErrNotSetup        = errors.New("problem: not set up")
	ErrUnknownVariable = errors.New("problem: unknown variable")
	ErrConnected       = errors.New("problem: param is connected")
	ErrNotIndependent  = errors.New("problem: variable is not independent")
)

// Driver decides which points of the model to evaluate.
type Driver interface {
	Run(ctx context.Context, p *Problem) error
}

type Option func(*Problem)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Problem) { p.logger = logger }
}

func WithDriver(d Driver) Option {
	return func(p *Problem) { p.Driver = d }
}

func WithRecorder(r recorder.Recorder) Option {
	return func(p *Problem) { p.Recorders = append(p.Recorders, r) }
}

// WithOptions attaches settings that recorders store alongside the run.
func WithOptions(opts map[string]string) Option {
	return func(p *Problem) { p.Options = opts }
}

// Problem owns a model and the collaborators that drive and record it.
type Problem struct {
	Root      *system.Group
	Driver    Driver
	Recorders recorder.Multi
	Options   map[string]string

	logger *zap.Logger
	layout *system.Layout

	iter   int
	solves int
}

func New(root *system.Group, opts ...Option) *Problem {
	p := &Problem{Root: root}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

func (p *Problem) Logger() *zap.Logger {
	return p.logger
}

// Setup resolves the model and starts every recorder.
func (p *Problem) Setup() error {
	layout, err := system.Setup(p.Root, p.logger)
	if err != nil {
		return err
	}
	p.layout = layout
	p.iter = 0
	p.solves = 0
	p.attachLogger(p.Root)

	meta := recorder.Metadata{
		Params:      p.Root.Params().Keys(),
		Unknowns:    p.Root.Unknowns().Keys(),
		Resids:      p.Root.Resids().Keys(),
		Connections: layout.Connections,
		Options:     p.Options,
	}
	if err := p.Recorders.Startup(meta); err != nil {
		return fmt.Errorf("problem: starting recorders: %w", err)
	}

	p.logger.Info("problem set up",
		zap.Int("params", len(meta.Params)),
		zap.Int("unknowns", len(meta.Unknowns)),
		zap.Int("connections", len(layout.Connections)),
		zap.Int("recorders", len(p.Recorders)),
	)
	return nil
}

func (p *Problem) attachLogger(g *system.Group) {
	if gs, ok := g.Solver.(*solvers.NLGaussSeidel); ok && gs.Logger == nil {
		gs.Logger = p.logger
	}
	for _, sub := range g.Subsystems() {
		if sg := system.AsGroup(sub); sg != nil {
			p.attachLogger(sg)
		}
	}
}

// Run hands the problem to its driver. Without a driver the model runs and
// records once.
func (p *Problem) Run(ctx context.Context) error {
	if p.layout == nil {
		return ErrNotSetup
	}
	if p.Driver == nil {
		err := p.RunModel()
		if recErr := p.RecordIteration(err == nil, errString(err)); recErr != nil && err == nil {
			err = recErr
		}
		return err
	}
	return p.Driver.Run(ctx, p)
}

// RunModel solves the root system once.
func (p *Problem) RunModel() error {
	if p.layout == nil {
		return ErrNotSetup
	}
	p.solves++
	return p.Root.SolveNonlinear(p.Root.Params(), p.Root.Unknowns(), p.Root.Resids())
}

// Close closes every recorder.
func (p *Problem) Close() error {
	return p.Recorders.Close()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Get returns an unknown by promoted name or a param by pathname or
// promoted name. Flat arrays are views into the model.
func (p *Problem) Get(name string) (any, error) {
	v, key, err := p.lookup(name)
	if err != nil {
		return nil, err
	}
	return v.Get(key)
}

// Float returns a scalar variable.
func (p *Problem) Float(name string) (float64, error) {
	val, err := p.Get(name)
	if err != nil {
		return 0, err
	}
	switch x := val.(type) {
	case float64:
		return x, nil
	case *vec.Array:
		if x.Size() == 1 {
			return x.Data[0], nil
		}
	}
	return 0, fmt.Errorf("problem: %s is not a scalar", name)
}

// Set assigns an unknown or an unconnected param. A promoted name shared by
// several params sets all of them, or none if any is connected or rejects val.
func (p *Problem) Set(name string, val any) error {
	v, key, err := p.lookup(name)
	if err != nil {
		return err
	}
	if v != p.Root.Params() {
		return v.Set(key, val)
	}

	keys := []string{key}
	if !v.Has(name) {
		keys = p.layout.ParamsByName[name]
	}
	for _, k := range keys {
		if src, ok := p.layout.Connections[k]; ok {
			return fmt.Errorf("%w: %s takes its value from %s", ErrConnected, k, src)
		}
	}
	if len(keys) == 1 {
		return v.Set(key, val)
	}

	// Flat sets can fail; object sets cannot, so they go last.
	snap := v.Snapshot()
	for _, k := range keys {
		if v.Flat(k) == nil {
			continue
		}
		if err := v.Set(k, val); err != nil {
			if rerr := v.Restore(snap); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
	}
	for _, k := range keys {
		if v.Flat(k) == nil {
			if err := v.Set(k, val); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Problem) lookup(name string) (*vec.Vector, string, error) {
	if p.layout == nil {
		return nil, "", ErrNotSetup
	}
	if u := p.Root.Unknowns(); u.Has(name) {
		return u, name, nil
	}
	params := p.Root.Params()
	if params.Has(name) {
		return params, name, nil
	}
	if paths := p.layout.ParamsByName[name]; len(paths) > 0 {
		return params, paths[0], nil
	}
	return nil, "", fmt.Errorf("%w: %s", ErrUnknownVariable, name)
}

// Layout returns what setup resolved, or nil before Setup.
func (p *Problem) Layout() *system.Layout {
	return p.layout
}

// Connections maps each connected param pathname to its source pathname.
func (p *Problem) Connections() map[string]string {
	if p.layout == nil {
		return nil
	}
	return p.layout.Connections
}

// Dangling lists params that are connected to nothing.
func (p *Problem) Dangling() []string {
	if p.layout == nil {
		return nil
	}
	return p.layout.Dangling
}

// Iteration returns the number of recorded cases.
func (p *Problem) Iteration() int {
	return p.iter
}

// RecordIteration sends the current contents of the root vectors to every
// recorder.
func (p *Problem) RecordIteration(success bool, msg string) error {
	if p.layout == nil {
		return ErrNotSetup
	}
	p.iter++
	solves := p.solves
	if solves == 0 {
		solves = 1
	}
	c := &recorder.Case{
		Coordinate: recorder.Coordinate{Driver: p.iter, Root: solves},
		Timestamp:  time.Now(),
		Params:     snapshotVars(p.Root.Params()),
		Unknowns:   snapshotVars(p.Root.Unknowns()),
		Resids:     snapshotVars(p.Root.Resids()),
		Success:    success,
		Msg:        msg,
	}
	p.solves = 0
	return p.Recorders.Record(c)
}

// snapshotVars copies flat values. Non-flat values keep their reference.
func snapshotVars(v *vec.Vector) []recorder.Var {
	keys := v.Keys()
	out := make([]recorder.Var, 0, len(keys))
	for _, name := range keys {
		m := v.Meta(name)
		var val any
		switch {
		case !m.Flat:
			val, _ = v.Get(name)
		case len(m.Shape) == 0 && m.Size == 1:
			val = v.Float(name)
		default:
			val = append([]float64{}, v.Flat(name)...)
		}
		out = append(out, recorder.Var{Name: name, Value: val})
	}
	return out
}
