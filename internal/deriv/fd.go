package deriv

import (
	"errors"
	"fmt"

	"github.com/san-kum/mdao/internal/vec"
)

var (
	// ErrUnstableShape indicates outputs whose layout changed between evaluations.
	ErrUnstableShape = errors.New("deriv: output shape changed between evaluations")

	// ErrNoResiduals indicates an implicit component without residual evaluation.
	ErrNoResiduals = errors.New("deriv: implicit component cannot evaluate residuals")

	ErrBadOptions = errors.New("deriv: invalid finite difference options")
)

type Evaluator interface {
	SolveNonlinear(params, unknowns, resids *vec.Vector) error
}

type ResidualEvaluator interface {
	ApplyNonlinear(params, unknowns, resids *vec.Vector) error
}

// Linearizer is implemented by components that provide analytic partials.
type Linearizer interface {
	Linearize(params, unknowns, resids *vec.Vector) (Jacobian, error)
}

// Perturb adds delta to buf[i] while fn runs and restores the original
// value on every exit path.
func Perturb(buf []float64, i int, delta float64, fn func() error) error {
	orig := buf[i]
	buf[i] = orig + delta
	defer func() { buf[i] = orig }()
	return fn()
}

type input struct {
	vec  *vec.Vector
	name string
}

// FDJacobian approximates the partial derivatives of one component by
// perturbing each input element in turn. Explicit components are
// differentiated through SolveNonlinear on their unknowns; components with
// states through ApplyNonlinear on their residuals, with the states counted
// as inputs. All three vectors hold their original contents on return.
func FDJacobian(ev Evaluator, params, unknowns, resids *vec.Vector, opts Options) (Jacobian, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	states := unknowns.States()
	implicit := len(states) > 0

	var eval func() error
	out := unknowns
	if implicit {
		re, ok := ev.(ResidualEvaluator)
		if !ok {
			return nil, ErrNoResiduals
		}
		out = resids
		eval = func() error { return re.ApplyNonlinear(params, unknowns, resids) }
	} else {
		eval = func() error { return ev.SolveNonlinear(params, unknowns, resids) }
	}

	inputs := make([]input, 0)
	for _, name := range params.FlatNames() {
		inputs = append(inputs, input{vec: params, name: name})
	}
	for _, name := range states {
		inputs = append(inputs, input{vec: unknowns, name: name})
	}

	savedP, savedU, savedR := params.Snapshot(), unknowns.Snapshot(), resids.Snapshot()
	defer func() {
		_ = params.Restore(savedP)
		_ = unknowns.Restore(savedU)
		_ = resids.Restore(savedR)
	}()

	outNames := out.FlatNames()
	outSize := len(out.Vec())
	bounds := make([][2]int, len(outNames))
	for k, name := range outNames {
		start, end, _ := out.Bounds(name)
		bounds[k] = [2]int{start, end}
	}
	// A component may set its vectors up again while evaluating.
	stable := func() bool {
		if len(out.Vec()) != outSize {
			return false
		}
		for k, name := range outNames {
			start, end, ok := out.Bounds(name)
			if !ok || start != bounds[k][0] || end != bounds[k][1] {
				return false
			}
		}
		return true
	}

	sample := func(x []float64, i int, delta float64) ([]float64, error) {
		var got []float64
		err := Perturb(x, i, delta, func() error {
			if err := eval(); err != nil {
				return err
			}
			if !stable() {
				return ErrUnstableShape
			}
			got = out.Snapshot()
			return nil
		})
		return got, err
	}

	var base []float64
	if opts.Form != Central {
		if err := eval(); err != nil {
			return nil, fmt.Errorf("deriv: baseline evaluation: %w", err)
		}
		if !stable() {
			return nil, fmt.Errorf("deriv: baseline evaluation: %w", ErrUnstableShape)
		}
		base = out.Snapshot()
	}

	jac := make(Jacobian)
	for _, in := range inputs {
		x := in.vec.Flat(in.name)
		blocks := make([]*Block, len(outNames))
		for k, name := range outNames {
			start, end, _ := out.Bounds(name)
			blocks[k] = NewBlock(end-start, len(x))
		}

		for i := range x {
			h := opts.StepFor(x[i])
			col, err := Difference(x, i, h, opts.Form, base, sample)
			if err != nil {
				return nil, fmt.Errorf("deriv: perturbing %s[%d]: %w", in.name, i, err)
			}
			for k, name := range outNames {
				start, end, _ := out.Bounds(name)
				for row := 0; row < end-start; row++ {
					blocks[k].Set(row, i, col[start+row])
				}
			}
		}

		for k, name := range outNames {
			if blocks[k].Rows == 0 || blocks[k].Cols == 0 {
				continue
			}
			if !opts.KeepZeroBlocks && blocks[k].IsZero() {
				continue
			}
			jac[Key{Of: name, Wrt: in.name}] = blocks[k]
		}
	}
	return jac, nil
}

// Sampler evaluates the outputs with x[i] moved by delta.
type Sampler func(x []float64, i int, delta float64) ([]float64, error)

// Difference returns one Jacobian column over the whole output buffer. base
// holds the unperturbed outputs and is unused by the central form.
func Difference(x []float64, i int, h float64, form Form, base []float64, sample Sampler) ([]float64, error) {
	orig := x[i]
	switch form {
	case Backward:
		dx := orig - (orig - h)
		lo, err := sample(x, i, -h)
		if err != nil {
			return nil, err
		}
		col := make([]float64, len(lo))
		for r := range col {
			col[r] = (base[r] - lo[r]) / dx
		}
		return col, nil
	case Central:
		dx := (orig + h) - (orig - h)
		hi, err := sample(x, i, h)
		if err != nil {
			return nil, err
		}
		lo, err := sample(x, i, -h)
		if err != nil {
			return nil, err
		}
		col := make([]float64, len(hi))
		for r := range col {
			col[r] = (hi[r] - lo[r]) / dx
		}
		return col, nil
	default:
		dx := (orig + h) - orig
		hi, err := sample(x, i, h)
		if err != nil {
			return nil, err
		}
		col := make([]float64, len(hi))
		for r := range col {
			col[r] = (hi[r] - base[r]) / dx
		}
		return col, nil
	}
}
