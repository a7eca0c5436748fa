package system

import (
	"github.com/san-kum/mdao/internal/vec"
)

// System is a node of the model hierarchy. User components embed Component
// and implement SolveNonlinear; composites are Groups.
type System interface {
	Name() string
	Pathname() string
	Params() *vec.Vector
	Unknowns() *vec.Vector
	Resids() *vec.Vector
	SolveNonlinear(params, unknowns, resids *vec.Vector) error
	base() *node
}

// ResidualEvaluator is implemented by implicit components. Explicit
// components fall back to the difference between a fresh solve and the
// current unknowns.
type ResidualEvaluator interface {
	ApplyNonlinear(params, unknowns, resids *vec.Vector) error
}

// NonlinearSolver converges the children of a group.
type NonlinearSolver interface {
	Solve(params, unknowns, resids *vec.Vector, g *Group) error
}

type namePair struct {
	path string
	name string
}

// node carries what every system shares.
type node struct {
	name     string
	pathname string
	promotes []string
	self     System

	params   *vec.Vector
	unknowns *vec.Vector
	resids   *vec.Vector

	// path -> name relative to this system, filled in by Setup
	paramNames   []namePair
	unknownNames []namePair
}

func (n *node) Name() string {
	return n.name
}

func (n *node) Pathname() string {
	return n.pathname
}

func (n *node) Params() *vec.Vector {
	return n.params
}

func (n *node) Unknowns() *vec.Vector {
	return n.unknowns
}

func (n *node) Resids() *vec.Vector {
	return n.resids
}

// Promotes returns the promotion patterns given when the system was added.
func (n *node) Promotes() []string {
	return n.promotes
}

func (n *node) base() *node {
	return n
}
