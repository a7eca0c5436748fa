package models

import (
	"math"

	"github.com/san-kum/mdao/internal/components"
	"github.com/san-kum/mdao/internal/deriv"
	"github.com/san-kum/mdao/internal/solvers"
	"github.com/san-kum/mdao/internal/system"
	"github.com/san-kum/mdao/internal/vec"
)

// SellarDis1 is the first discipline of the Sellar problem:
// y1 = z1^2 + z2 + x - 0.2 y2.
type SellarDis1 struct {
	system.Component
}

func NewSellarDis1() *SellarDis1 {
	c := &SellarDis1{}
	c.AddParam("z", []float64{5, 2})
	c.AddParam("x", 0.0)
	c.AddParam("y2", 1.0)
	c.AddOutput("y1", 1.0)
	return c
}

func (c *SellarDis1) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	z := params.Flat("z")
	unknowns.SetFloat("y1", z[0]*z[0]+z[1]+params.Float("x")-0.2*params.Float("y2"))
	return nil
}

func (c *SellarDis1) Linearize(params, unknowns, resids *vec.Vector) (deriv.Jacobian, error) {
	z := params.Flat("z")
	return deriv.Jacobian{
		{Of: "y1", Wrt: "y2"}: deriv.BlockFrom([][]float64{{-0.2}}),
		{Of: "y1", Wrt: "z"}:  deriv.BlockFrom([][]float64{{2 * z[0], 1}}),
		{Of: "y1", Wrt: "x"}:  deriv.BlockFrom([][]float64{{1}}),
	}, nil
}

// SellarDis2 is the second discipline: y2 = sqrt(|y1|) + z1 + z2.
type SellarDis2 struct {
	system.Component
}

func NewSellarDis2() *SellarDis2 {
	c := &SellarDis2{}
	c.AddParam("z", []float64{5, 2})
	c.AddParam("y1", 1.0)
	c.AddOutput("y2", 1.0)
	return c
}

func (c *SellarDis2) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	z := params.Flat("z")
	y1 := math.Abs(params.Float("y1"))
	unknowns.SetFloat("y2", math.Sqrt(y1)+z[0]+z[1])
	return nil
}

func (c *SellarDis2) Linearize(params, unknowns, resids *vec.Vector) (deriv.Jacobian, error) {
	y1 := params.Float("y1")
	d := 0.5 / math.Sqrt(math.Abs(y1))
	if y1 < 0 {
		d = -d
	}
	return deriv.Jacobian{
		{Of: "y2", Wrt: "y1"}: deriv.BlockFrom([][]float64{{d}}),
		{Of: "y2", Wrt: "z"}:  deriv.BlockFrom([][]float64{{1, 1}}),
	}, nil
}

// SellarObjective computes obj = x^2 + z2 + y1 + exp(-y2).
type SellarObjective struct {
	system.Component
}

func NewSellarObjective() *SellarObjective {
	c := &SellarObjective{}
	c.AddParam("x", 0.0)
	c.AddParam("z", []float64{0, 0})
	c.AddParam("y1", 0.0)
	c.AddParam("y2", 0.0)
	c.AddOutput("obj", 0.0)
	return c
}

func (c *SellarObjective) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	x, z := params.Float("x"), params.Flat("z")
	unknowns.SetFloat("obj", x*x+z[1]+params.Float("y1")+math.Exp(-params.Float("y2")))
	return nil
}

func (c *SellarObjective) Linearize(params, unknowns, resids *vec.Vector) (deriv.Jacobian, error) {
	return deriv.Jacobian{
		{Of: "obj", Wrt: "x"}:  deriv.BlockFrom([][]float64{{2 * params.Float("x")}}),
		{Of: "obj", Wrt: "z"}:  deriv.BlockFrom([][]float64{{0, 1}}),
		{Of: "obj", Wrt: "y1"}: deriv.BlockFrom([][]float64{{1}}),
		{Of: "obj", Wrt: "y2"}: deriv.BlockFrom([][]float64{{-math.Exp(-params.Float("y2"))}}),
	}, nil
}

// NewSellar builds the Sellar MDA with every variable promoted to the root.
// The two disciplines feed each other, so the root converges them with
// nonlinear Gauss-Seidel.
func NewSellar() (*system.Group, error) {
	con1, err := components.NewExecComp([]string{"con1 = 3.16 - y1"}, nil)
	if err != nil {
		return nil, err
	}
	con2, err := components.NewExecComp([]string{"con2 = y2 - 24.0"}, nil)
	if err != nil {
		return nil, err
	}

	root := system.NewGroup()
	root.Add("px", components.NewIndepVarComp("x", 1.0), "x")
	root.Add("pz", components.NewIndepVarComp("z", []float64{5, 2}), "z")
	root.Add("d1", NewSellarDis1(), "*")
	root.Add("d2", NewSellarDis2(), "*")
	root.Add("obj_cmp", NewSellarObjective(), "*")
	root.Add("con_cmp1", con1, "*")
	root.Add("con_cmp2", con2, "*")
	root.Solver = solvers.NewNLGaussSeidel()
	return root, nil
}
