package experiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/san-kum/mdao/internal/config"
	"github.com/san-kum/mdao/internal/deriv"
	"github.com/san-kum/mdao/internal/drivers"
	"github.com/san-kum/mdao/internal/metrics"
	"github.com/san-kum/mdao/internal/problem"
	"github.com/san-kum/mdao/internal/recorder"
	"github.com/san-kum/mdao/internal/solvers"
	"github.com/san-kum/mdao/internal/storage"
	"github.com/san-kum/mdao/internal/system"
)

var ErrNotBuilt = errors.New("experiment: not built")

type Option func(*Experiment)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Experiment) { e.logger = logger }
}

// WithStore sets where "store" recorders write their runs.
func WithStore(st *storage.Store) Option {
	return func(e *Experiment) { e.store = st }
}

// WithOutput redirects dump recorders that would write to stdout.
func WithOutput(w io.Writer) Option {
	return func(e *Experiment) { e.out = w }
}

func WithRegistry(r *Registry) Option {
	return func(e *Experiment) { e.registry = r }
}

// Experiment turns a config into a problem with its driver and recorders
// and runs it.
type Experiment struct {
	cfg      *config.Config
	registry *Registry
	logger   *zap.Logger
	store    *storage.Store
	out      io.Writer

	problem   *problem.Problem
	collector *metrics.Collector
	run       *storage.Recorder
	result    *drivers.Result
}

func New(cfg *config.Config, opts ...Option) *Experiment {
	e := &Experiment{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.out == nil {
		e.out = os.Stdout
	}
	return e
}

// Build assembles the model tree, driver and recorders without setting
// anything up.
func (e *Experiment) Build() (*problem.Problem, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	root, err := e.buildRoot()
	if err != nil {
		return nil, err
	}

	e.collector = metrics.NewCollector(e.registry.DefaultMetrics(e.cfg.Driver.Objective)...)
	recs, err := e.buildRecorders()
	if err != nil {
		return nil, err
	}

	opts := []problem.Option{
		problem.WithLogger(e.logger),
		problem.WithOptions(e.options()),
		problem.WithRecorder(e.collector),
	}
	for _, r := range recs {
		opts = append(opts, problem.WithRecorder(r))
	}
	if d := e.buildDriver(); d != nil {
		opts = append(opts, problem.WithDriver(d))
	}

	e.problem = problem.New(root, opts...)
	return e.problem, nil
}

func (e *Experiment) buildRoot() (*system.Group, error) {
	if e.cfg.Root.IsEmpty() {
		root, err := e.registry.GetModel(e.cfg.Model)
		if err != nil {
			return nil, err
		}
		for _, c := range root.Components() {
			if fc := system.AsComponent(c); fc != nil {
				fc.SetFDOptions(e.cfg.FD)
			}
		}
		return root, applySolver(root, e.cfg.Root.Solver)
	}
	return e.buildGroup(e.cfg.Root)
}

func (e *Experiment) buildGroup(gc config.GroupConfig) (*system.Group, error) {
	g := system.NewGroup()
	for _, sc := range gc.Subsystems {
		var sub system.System
		if sc.Type == "group" {
			sg, err := e.buildGroup(*sc.Group)
			if err != nil {
				return nil, err
			}
			sub = sg
		} else {
			c, err := e.registry.GetComponent(sc)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", sc.Name, err)
			}
			if fc := system.AsComponent(c); fc != nil {
				opts, _ := sc.FDOptions(e.cfg.FD)
				fc.SetFDOptions(opts)
			}
			sub = c
		}
		g.Add(sc.Name, sub, sc.Promotes...)
	}
	for _, conn := range gc.Connections {
		g.Connect(conn.Source, conn.Targets...)
	}
	return g, applySolver(g, gc.Solver)
}

// applySolver leaves a model's own solver alone unless the config names one.
func applySolver(g *system.Group, sc config.SolverConfig) error {
	switch sc.Type {
	case "":
	case "run_once":
		g.Solver = solvers.NewRunOnce()
	case "gauss_seidel":
		gs := solvers.NewNLGaussSeidel()
		if sc.Atol > 0 {
			gs.Atol = sc.Atol
		}
		if sc.Rtol > 0 {
			gs.Rtol = sc.Rtol
		}
		if sc.MaxIter > 0 {
			gs.MaxIter = sc.MaxIter
		}
		g.Solver = gs
	default:
		return fmt.Errorf("unknown solver: %s", sc.Type)
	}
	return nil
}

func (e *Experiment) buildDriver() problem.Driver {
	dc := e.cfg.Driver
	switch dc.Type {
	case "full_factorial":
		return drivers.NewFullFactorial(dc.DesignVars, dc.NumSteps, dc.Objective)
	case "uniform":
		return drivers.NewUniform(dc.DesignVars, dc.NumSamples, dc.Seed, dc.Objective)
	default:
		return drivers.NewRunOnce()
	}
}

func (e *Experiment) buildRecorders() ([]recorder.Recorder, error) {
	var recs []recorder.Recorder
	for _, rc := range e.cfg.Recorders {
		filter, err := recorder.NewFilter(rc.Includes, rc.Excludes)
		if err != nil {
			return nil, err
		}
		switch rc.Type {
		case "dump":
			w := e.out
			if rc.Path != "" && rc.Path != "-" {
				f, err := os.Create(rc.Path)
				if err != nil {
					return nil, err
				}
				w = f
			}
			recs = append(recs, recorder.NewDumpRecorder(w, filter))
		case "sqlite":
			r, err := recorder.NewSQLiteRecorder(rc.Path, filter)
			if err != nil {
				return nil, err
			}
			recs = append(recs, r)
		case "store":
			if e.store == nil {
				e.logger.Debug("no run store, skipping store recorder")
				continue
			}
			if err := e.store.Init(); err != nil {
				return nil, err
			}
			r := e.store.NewRecorder(e.cfg.Model, driverName(e.cfg.Driver.Type), e.cfg.Driver.Seed, filter)
			r.Metrics = e.collector
			e.run = r
			recs = append(recs, r)
		}
	}
	return recs, nil
}

func driverName(t string) string {
	if t == "" {
		return "run_once"
	}
	return t
}

func (e *Experiment) options() map[string]string {
	dc := e.cfg.Driver
	opts := map[string]string{
		"model":     e.cfg.Model,
		"driver":    driverName(dc.Type),
		"fd_form":   string(e.cfg.FD.Form),
		"fd_step":   strconv.FormatFloat(e.cfg.FD.Step, 'g', -1, 64),
		"objective": dc.Objective,
	}
	switch dc.Type {
	case "full_factorial":
		opts["num_steps"] = strconv.Itoa(dc.NumSteps)
	case "uniform":
		opts["num_samples"] = strconv.Itoa(dc.NumSamples)
		opts["seed"] = strconv.FormatInt(dc.Seed, 10)
	}
	return opts
}

// Setup builds the problem if needed, sets it up and applies the
// configured starting values.
func (e *Experiment) Setup() error {
	if e.problem == nil {
		if _, err := e.Build(); err != nil {
			return err
		}
	}
	if err := e.problem.Setup(); err != nil {
		return err
	}
	for _, v := range e.cfg.Set {
		val, err := config.Value(v.Value)
		if err != nil {
			return fmt.Errorf("set %s: %w", v.Name, err)
		}
		if err := e.problem.Set(v.Name, val); err != nil {
			return err
		}
	}
	return nil
}

func (e *Experiment) Run(ctx context.Context) error {
	if e.problem == nil {
		return ErrNotBuilt
	}
	e.logger.Info("running experiment",
		zap.String("model", e.cfg.Model),
		zap.String("driver", driverName(e.cfg.Driver.Type)),
	)
	err := e.problem.Run(ctx)
	e.result = driverResult(e.problem.Driver)
	return err
}

func driverResult(d problem.Driver) *drivers.Result {
	switch x := d.(type) {
	case *drivers.FullFactorial:
		return &x.Result
	case *drivers.Uniform:
		return &x.Result
	}
	return nil
}

func (e *Experiment) Close() error {
	if e.problem == nil {
		return nil
	}
	return e.problem.Close()
}

// Problem is nil before Build.
func (e *Experiment) Problem() *problem.Problem {
	return e.problem
}

// RunID names the stored run, or is empty when nothing was stored.
func (e *Experiment) RunID() string {
	if e.run == nil {
		return ""
	}
	return e.run.RunID()
}

// Result is the driver's summary; nil for drivers that keep none.
func (e *Experiment) Result() *drivers.Result {
	return e.result
}

func (e *Experiment) Metrics() map[string]float64 {
	if e.collector == nil {
		return nil
	}
	return e.collector.Values()
}

// FD is the finite difference policy for problem level derivatives.
func (e *Experiment) FD() deriv.Options {
	return e.cfg.FD
}
