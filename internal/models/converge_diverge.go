package models

import (
	"github.com/san-kum/mdao/internal/components"
	"github.com/san-kum/mdao/internal/deriv"
	"github.com/san-kum/mdao/internal/system"
	"github.com/san-kum/mdao/internal/vec"
)

// chainComp evaluates a fixed scalar map from its params to its outputs.
type chainComp struct {
	system.Component

	ins  []string
	outs []string
	eval func(x []float64) []float64
	// jac returns d outs[i] / d ins[j] at x.
	jac func(x []float64) [][]float64
}

func newChainComp(ins, outs []string, eval func([]float64) []float64, jac func([]float64) [][]float64) *chainComp {
	c := &chainComp{ins: ins, outs: outs, eval: eval, jac: jac}
	for _, name := range ins {
		c.AddParam(name, 1.0)
	}
	for _, name := range outs {
		c.AddOutput(name, 1.0)
	}
	return c
}

func (c *chainComp) inputs(params *vec.Vector) []float64 {
	x := make([]float64, len(c.ins))
	for i, name := range c.ins {
		x[i] = params.Float(name)
	}
	return x
}

func (c *chainComp) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	for i, y := range c.eval(c.inputs(params)) {
		unknowns.SetFloat(c.outs[i], y)
	}
	return nil
}

func (c *chainComp) Linearize(params, unknowns, resids *vec.Vector) (deriv.Jacobian, error) {
	jac := make(deriv.Jacobian)
	for i, row := range c.jac(c.inputs(params)) {
		for j, d := range row {
			jac[deriv.Key{Of: c.outs[i], Wrt: c.ins[j]}] = deriv.BlockFrom([][]float64{{d}})
		}
	}
	return jac, nil
}

func scale(k float64) *chainComp {
	return newChainComp([]string{"x1"}, []string{"y1"},
		func(x []float64) []float64 { return []float64{k * x[0]} },
		func(x []float64) [][]float64 { return [][]float64{{k}} },
	)
}

// NewConvergeDiverge builds a one-two-one-two-one chain of seven components
// fed by p.x = 2. At that point comp7.y1 is -102.7.
func NewConvergeDiverge() *system.Group {
	root := system.NewGroup()

	root.Add("comp1", newChainComp([]string{"x1"}, []string{"y1", "y2"},
		func(x []float64) []float64 { return []float64{2 * x[0] * x[0], 3 * x[0]} },
		func(x []float64) [][]float64 { return [][]float64{{4 * x[0]}, {3}} },
	))
	root.Add("comp2", scale(0.5))
	root.Add("comp3", scale(3.5))
	root.Add("comp4", newChainComp([]string{"x1", "x2"}, []string{"y1", "y2"},
		func(x []float64) []float64 { return []float64{x[0] + 2*x[1], 3*x[0] - 5*x[1]} },
		func(x []float64) [][]float64 { return [][]float64{{1, 2}, {3, -5}} },
	))
	root.Add("comp5", scale(0.8))
	root.Add("comp6", scale(0.5))
	root.Add("comp7", newChainComp([]string{"x1", "x2"}, []string{"y1"},
		func(x []float64) []float64 { return []float64{x[0] + 3*x[1]} },
		func(x []float64) [][]float64 { return [][]float64{{1, 3}} },
	))
	root.Add("p", components.NewIndepVarComp("x", 2.0))

	root.Connect("p.x", "comp1.x1")
	root.Connect("comp1.y1", "comp2.x1")
	root.Connect("comp1.y2", "comp3.x1")
	root.Connect("comp2.y1", "comp4.x1")
	root.Connect("comp3.y1", "comp4.x2")
	root.Connect("comp4.y1", "comp5.x1")
	root.Connect("comp4.y2", "comp6.x1")
	root.Connect("comp5.y1", "comp7.x1")
	root.Connect("comp6.y1", "comp7.x2")
	return root
}

// NewExampleGroup builds a small nested model:
//
//	G2.C1.x -> G2.G1.C2.x, G2.G1.C2.y -> G3.C3.x, G3.C3.y -> G3.C4.x
//
// C1 starts at 5, so C4.y ends at 40.
func NewExampleGroup() *system.Group {
	root := system.NewGroup()

	g2 := system.NewGroup()
	g2.Add("C1", components.NewIndepVarComp("x", 5.0))
	g1 := system.NewGroup()
	g1.Add("C2", NewSimpleComp())
	g2.Add("G1", g1)
	root.Add("G2", g2)

	g3 := system.NewGroup()
	g3.Add("C3", NewSimpleComp())
	g3.Add("C4", NewSimpleComp())
	root.Add("G3", g3)

	g2.Connect("C1.x", "G1.C2.x")
	root.Connect("G2.G1.C2.y", "G3.C3.x")
	g3.Connect("C3.y", "C4.x")
	return root
}
