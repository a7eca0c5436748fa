package components

import (
	"github.com/san-kum/mdao/internal/system"
	"github.com/san-kum/mdao/internal/vec"
)

// IndepVarComp owns independent variables such as design variables. It
// never changes its outputs on its own.
type IndepVarComp struct {
	system.Component
}

func NewIndepVarComp(name string, val any) *IndepVarComp {
	c := &IndepVarComp{}
	c.AddOutput(name, val)
	return c
}

// Add declares another independent output.
func (c *IndepVarComp) Add(name string, val any) *IndepVarComp {
	c.AddOutput(name, val)
	return c
}

func (c *IndepVarComp) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	return nil
}
