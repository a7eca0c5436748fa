package drivers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"github.com/san-kum/mdao/internal/problem"
)

var ErrNoDesignVars = errors.New("drivers: no design variables")

// DesignVar is a scalar unknown the driver may move between Low and High.
type DesignVar struct {
	Name string  `yaml:"name"`
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// Result summarizes the cases a driver ran.
type Result struct {
	Cases         int
	Failed        int
	Best          map[string]float64
	BestObjective float64
}

// RunOnce solves the model a single time and records it.
type RunOnce struct{}

func NewRunOnce() *RunOnce {
	return &RunOnce{}
}

func (d *RunOnce) Run(ctx context.Context, p *problem.Problem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.RunModel()
	if recErr := p.RecordIteration(err == nil, errMsg(err)); recErr != nil {
		return recErr
	}
	return err
}

// FullFactorial evaluates every combination of NumSteps evenly spaced
// values per design variable. Failed cases are recorded and skipped.
type FullFactorial struct {
	DesignVars []DesignVar
	NumSteps   int
	// Objective names the unknown to minimize; empty disables tracking.
	Objective string

	Result Result
}

func NewFullFactorial(vars []DesignVar, numSteps int, objective string) *FullFactorial {
	return &FullFactorial{DesignVars: vars, NumSteps: numSteps, Objective: objective}
}

func (d *FullFactorial) Run(ctx context.Context, p *problem.Problem) error {
	if len(d.DesignVars) == 0 {
		return ErrNoDesignVars
	}
	if d.NumSteps < 1 {
		return fmt.Errorf("drivers: num_steps must be positive, got %d", d.NumSteps)
	}
	ranges := make([][]float64, len(d.DesignVars))
	for i, dv := range d.DesignVars {
		ranges[i] = Linspace(dv.Low, dv.High, d.NumSteps)
	}

	t := newTracker(d.Objective)
	err := d.searchRecursive(ctx, p, 0, make(map[string]float64), ranges, t)
	d.Result = t.result
	return err
}

func (d *FullFactorial) searchRecursive(
	ctx context.Context,
	p *problem.Problem,
	depth int,
	current map[string]float64,
	ranges [][]float64,
	t *tracker,
) error {
	if depth == len(d.DesignVars) {
		return t.evaluate(ctx, p, current)
	}

	name := d.DesignVars[depth].Name
	for _, val := range ranges[depth] {
		next := make(map[string]float64, len(current)+1)
		for k, v := range current {
			next[k] = v
		}
		next[name] = val

		if err := d.searchRecursive(ctx, p, depth+1, next, ranges, t); err != nil {
			return err
		}
	}
	return nil
}

// Uniform draws NumSamples points uniformly from the design space. The same
// seed reproduces the same cases.
type Uniform struct {
	DesignVars []DesignVar
	NumSamples int
	Seed       int64
	Objective  string

	Result Result
}

func NewUniform(vars []DesignVar, numSamples int, seed int64, objective string) *Uniform {
	return &Uniform{DesignVars: vars, NumSamples: numSamples, Seed: seed, Objective: objective}
}

func (d *Uniform) Run(ctx context.Context, p *problem.Problem) error {
	if len(d.DesignVars) == 0 {
		return ErrNoDesignVars
	}
	rng := rand.New(rand.NewSource(d.Seed))
	t := newTracker(d.Objective)
	for i := 0; i < d.NumSamples; i++ {
		point := make(map[string]float64, len(d.DesignVars))
		for _, dv := range d.DesignVars {
			point[dv.Name] = dv.Low + rng.Float64()*(dv.High-dv.Low)
		}
		if err := t.evaluate(ctx, p, point); err != nil {
			d.Result = t.result
			return err
		}
	}
	d.Result = t.result
	return nil
}

// Linspace returns n evenly spaced values from low to high inclusive.
func Linspace(low, high float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{low}
	}
	out := make([]float64, n)
	step := (high - low) / float64(n-1)
	for i := range out {
		out[i] = low + float64(i)*step
	}
	out[n-1] = high
	return out
}

type tracker struct {
	objective string
	result    Result
}

func newTracker(objective string) *tracker {
	return &tracker{objective: objective, result: Result{BestObjective: math.Inf(1)}}
}

// evaluate runs one case. Model failures are recorded and do not stop the
// driver; cancellation and recorder failures do.
func (t *tracker) evaluate(ctx context.Context, p *problem.Problem, point map[string]float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for name, val := range point {
		if err := p.Set(name, val); err != nil {
			return fmt.Errorf("drivers: design variable %s: %w", name, err)
		}
	}

	t.result.Cases++
	runErr := p.RunModel()
	if err := p.RecordIteration(runErr == nil, errMsg(runErr)); err != nil {
		return err
	}
	if runErr != nil {
		t.result.Failed++
		p.Logger().Warn("case failed", zap.Int("case", t.result.Cases), zap.Error(runErr))
		return nil
	}

	if t.objective == "" {
		p.Logger().Debug("case", zap.Int("case", t.result.Cases), zap.Any("point", point))
		return nil
	}
	obj, err := p.Float(t.objective)
	if err != nil {
		return fmt.Errorf("drivers: objective: %w", err)
	}
	p.Logger().Debug("case",
		zap.Int("case", t.result.Cases),
		zap.Any("point", point),
		zap.Float64("objective", obj),
	)
	if obj < t.result.BestObjective {
		t.result.BestObjective = obj
		t.result.Best = make(map[string]float64, len(point))
		for k, v := range point {
			t.result.Best[k] = v
		}
	}
	return nil
}

func errMsg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
