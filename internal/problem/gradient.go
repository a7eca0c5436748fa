package problem

import (
	"fmt"
	"io"
	"sort"

	"go.uber.org/zap"

	"github.com/san-kum/mdao/internal/deriv"
	"github.com/san-kum/mdao/internal/system"
)

// CalcGradient approximates d of / d wrt across the whole model by
// re-solving it once per perturbed element. Every wrt must be an
// independent unknown, such as the output of an IndepVarComp. The model is
// left solved at its original point.
func (p *Problem) CalcGradient(of, wrt []string, opts deriv.Options) (deriv.Jacobian, error) {
	if p.layout == nil {
		return nil, ErrNotSetup
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	u := p.Root.Unknowns()
	for _, name := range append(append([]string(nil), of...), wrt...) {
		if m := u.Meta(name); m == nil || !m.Flat {
			return nil, fmt.Errorf("%w: %s is not a flat unknown", ErrUnknownVariable, name)
		}
	}

	saved := u.Snapshot()
	defer func() {
		_ = u.Restore(saved)
		if err := p.RunModel(); err != nil {
			p.logger.Warn("re-solving after gradient failed", zap.Error(err))
		}
	}()

	outputs := func() []float64 {
		var out []float64
		for _, name := range of {
			out = append(out, u.Flat(name)...)
		}
		return out
	}

	if err := p.RunModel(); err != nil {
		return nil, fmt.Errorf("problem: baseline solve: %w", err)
	}
	base := outputs()

	jac := make(deriv.Jacobian)
	for _, w := range wrt {
		x := u.Flat(w)
		sample := func(x []float64, i int, delta float64) ([]float64, error) {
			var got []float64
			err := deriv.Perturb(x, i, delta, func() error {
				want := x[i]
				if err := p.RunModel(); err != nil {
					return err
				}
				if x[i] != want {
					return fmt.Errorf("%w: solving the model changed %s", ErrNotIndependent, w)
				}
				got = outputs()
				return nil
			})
			return got, err
		}

		cols := make([][]float64, len(x))
		for i := range x {
			col, err := deriv.Difference(x, i, opts.StepFor(x[i]), opts.Form, base, sample)
			if err != nil {
				return nil, fmt.Errorf("problem: perturbing %s[%d]: %w", w, i, err)
			}
			cols[i] = col
		}

		row := 0
		for _, o := range of {
			n := len(u.Flat(o))
			b := deriv.NewBlock(n, len(x))
			for r := 0; r < n; r++ {
				for c := range cols {
					b.Set(r, c, cols[c][row+r])
				}
			}
			jac[deriv.Key{Of: o, Wrt: w}] = b
			row += n
		}
	}

	p.logger.Debug("gradient computed", zap.Strings("of", of), zap.Strings("wrt", wrt), zap.Int("solves", p.solves))
	return jac, nil
}

// PartialsResult holds the comparison for one component.
type PartialsResult struct {
	Pathname string
	Results  map[deriv.Key]deriv.CheckResult
}

// CheckPartials compares the analytic partials of every component that
// provides them against finite differences taken with the component's own
// options. Components are visited depth first.
func (p *Problem) CheckPartials() ([]PartialsResult, error) {
	if p.layout == nil {
		return nil, ErrNotSetup
	}
	var out []PartialsResult
	for _, sys := range p.Root.Components() {
		lin, ok := sys.(deriv.Linearizer)
		if !ok {
			continue
		}
		analytic, err := lin.Linearize(sys.Params(), sys.Unknowns(), sys.Resids())
		if err != nil {
			return nil, fmt.Errorf("problem: linearize %s: %w", sys.Pathname(), err)
		}
		opts := deriv.DefaultOptions()
		if c := system.AsComponent(sys); c != nil {
			opts = c.FDOptions()
		}
		fd, err := deriv.FDJacobian(sys, sys.Params(), sys.Unknowns(), sys.Resids(), opts)
		if err != nil {
			return nil, fmt.Errorf("problem: finite difference %s: %w", sys.Pathname(), err)
		}
		out = append(out, PartialsResult{Pathname: sys.Pathname(), Results: deriv.Compare(analytic, fd)})
	}
	return out, nil
}

// WritePartials prints a CheckPartials report sorted by key.
func WritePartials(w io.Writer, results []PartialsResult) error {
	for _, r := range results {
		if _, err := fmt.Fprintf(w, "%s\n", r.Pathname); err != nil {
			return err
		}
		keys := make([]deriv.Key, 0, len(r.Results))
		for k := range r.Results {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].Of != keys[j].Of {
				return keys[i].Of < keys[j].Of
			}
			return keys[i].Wrt < keys[j].Wrt
		})
		for _, k := range keys {
			res := r.Results[k]
			fmt.Fprintf(w, "  %-24s abs %.3e  rel %.3e\n", k.String(), res.Abs, res.Rel)
		}
	}
	return nil
}
