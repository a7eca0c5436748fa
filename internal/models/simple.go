package models

import (
	"math"

	"github.com/san-kum/mdao/internal/deriv"
	"github.com/san-kum/mdao/internal/system"
	"github.com/san-kum/mdao/internal/vec"
)

// SimpleComp computes y = 2x.
type SimpleComp struct {
	system.Component
}

func NewSimpleComp() *SimpleComp {
	c := &SimpleComp{}
	c.AddParam("x", 3.0)
	c.AddOutput("y", 5.5)
	return c
}

func (c *SimpleComp) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	unknowns.SetFloat("y", 2*params.Float("x"))
	return nil
}

func (c *SimpleComp) Linearize(params, unknowns, resids *vec.Vector) (deriv.Jacobian, error) {
	return deriv.Jacobian{
		{Of: "y", Wrt: "x"}: deriv.BlockFrom([][]float64{{2}}),
	}, nil
}

// ArrayComp maps a 2-vector through a fixed matrix: y = J x.
type ArrayComp struct {
	system.Component
	J [2][2]float64
}

func NewArrayComp() *ArrayComp {
	c := &ArrayComp{J: [2][2]float64{{2, 7}, {5, -3}}}
	c.AddParam("x", []float64{0, 0})
	c.AddOutput("y", []float64{0, 0})
	return c
}

func (c *ArrayComp) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	x := params.Flat("x")
	y := unknowns.Flat("y")
	for i := range y {
		y[i] = c.J[i][0]*x[0] + c.J[i][1]*x[1]
	}
	return nil
}

func (c *ArrayComp) Linearize(params, unknowns, resids *vec.Vector) (deriv.Jacobian, error) {
	return deriv.Jacobian{
		{Of: "y", Wrt: "x"}: deriv.BlockFrom([][]float64{c.J[0][:], c.J[1][:]}),
	}, nil
}

// SimpleImplicit drives the state z to the root of xz + z - 4 and reports
// y = x + 2z. The fixed-point iteration z <- 4 - xz converges for |x| < 1.
type SimpleImplicit struct {
	system.Component

	MaxIter int
	Atol    float64
}

func NewSimpleImplicit() *SimpleImplicit {
	c := &SimpleImplicit{MaxIter: 10, Atol: 1e-12}
	c.AddParam("x", 0.5)
	c.AddOutput("y", 0.0)
	c.AddState("z", 0.0)
	return c
}

func (c *SimpleImplicit) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	x := params.Float("x")
	z := unknowns.Float("z")

	eps := 1e99
	for i := 0; i < c.MaxIter && math.Abs(eps) > c.Atol; i++ {
		z = 4 - x*z
		eps = x*z + z - 4
	}

	unknowns.SetFloat("z", z)
	unknowns.SetFloat("y", x+2*z)
	resids.SetFloat("z", eps)
	resids.SetFloat("y", 0)
	return nil
}

func (c *SimpleImplicit) ApplyNonlinear(params, unknowns, resids *vec.Vector) error {
	x := params.Float("x")
	z := unknowns.Float("z")
	resids.SetFloat("z", x*z+z-4)
	resids.SetFloat("y", x+2*z-unknowns.Float("y"))
	return nil
}

func (c *SimpleImplicit) Linearize(params, unknowns, resids *vec.Vector) (deriv.Jacobian, error) {
	x := params.Float("x")
	z := unknowns.Float("z")
	return deriv.Jacobian{
		{Of: "y", Wrt: "x"}: deriv.BlockFrom([][]float64{{1}}),
		{Of: "y", Wrt: "z"}: deriv.BlockFrom([][]float64{{2}}),
		{Of: "z", Wrt: "z"}: deriv.BlockFrom([][]float64{{x + 1}}),
		{Of: "z", Wrt: "x"}: deriv.BlockFrom([][]float64{{z}}),
	}, nil
}
