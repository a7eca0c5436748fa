package models

import (
	"github.com/san-kum/mdao/internal/components"
	"github.com/san-kum/mdao/internal/deriv"
	"github.com/san-kum/mdao/internal/system"
	"github.com/san-kum/mdao/internal/vec"
)

// Paraboloid evaluates f(x, y) = (x-3)^2 + xy + (y+4)^2 - 3, whose minimum
// is at x = 20/3, y = -22/3.
type Paraboloid struct {
	system.Component
}

func NewParaboloid() *Paraboloid {
	c := &Paraboloid{}
	c.AddParam("x", 0.0)
	c.AddParam("y", 0.0)
	c.AddOutput("f_xy", 0.0)
	return c
}

func (c *Paraboloid) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	x, y := params.Float("x"), params.Float("y")
	unknowns.SetFloat("f_xy", (x-3)*(x-3)+x*y+(y+4)*(y+4)-3)
	return nil
}

func (c *Paraboloid) Linearize(params, unknowns, resids *vec.Vector) (deriv.Jacobian, error) {
	x, y := params.Float("x"), params.Float("y")
	return deriv.Jacobian{
		{Of: "f_xy", Wrt: "x"}: deriv.BlockFrom([][]float64{{2*x - 6 + y}}),
		{Of: "f_xy", Wrt: "y"}: deriv.BlockFrom([][]float64{{2*y + 8 + x}}),
	}, nil
}

// NewParaboloidGroup wires two independent variables into a Paraboloid.
func NewParaboloidGroup(x, y float64) *system.Group {
	root := system.NewGroup()
	root.Add("p1", components.NewIndepVarComp("x", x))
	root.Add("p2", components.NewIndepVarComp("y", y))
	root.Add("comp", NewParaboloid())
	root.Connect("p1.x", "comp.x")
	root.Connect("p2.y", "comp.y")
	return root
}
