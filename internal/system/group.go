package system

import (
	"fmt"
	"strings"

	"github.com/san-kum/mdao/internal/vec"
)

// Group is a composite system. Its children run in producer-before-consumer
// order and values cross connections before each child runs.
type Group struct {
	node

	Solver NonlinearSolver

	subs     []System
	subIndex map[string]System
	conns    []connection
	errs     []*ConfigError

	order     []System
	transfers map[string][]transfer
	cycles    [][]string
}

type connection struct {
	source string
	target string
}

// transfer copies g.unknowns[src] into g.params[tgt].
type transfer struct {
	src string
	tgt string
}

func NewGroup() *Group {
	return &Group{}
}

// Add appends a child under name. Promotes lists names or glob patterns of
// the child's variables to expose in this group's namespace unqualified.
func (g *Group) Add(name string, sys System, promotes ...string) System {
	if g.subIndex == nil {
		g.subIndex = make(map[string]System)
	}
	if _, dup := g.subIndex[name]; dup {
		g.errs = append(g.errs, &ConfigError{Pathname: name, Wrapped: ErrDuplicateSubsystem})
		return sys
	}
	b := sys.base()
	b.name = name
	b.self = sys
	b.promotes = append([]string(nil), promotes...)
	g.subs = append(g.subs, sys)
	g.subIndex[name] = sys
	return sys
}

// Connect links the unknown named source to one or more params. Names are
// relative to this group after promotion.
func (g *Group) Connect(source string, targets ...string) {
	for _, t := range targets {
		g.conns = append(g.conns, connection{source: source, target: t})
	}
}

// Subsystems returns the children in insertion order.
func (g *Group) Subsystems() []System {
	out := make([]System, len(g.subs))
	copy(out, g.subs)
	return out
}

// Order returns the children in execution order. It is empty before setup.
func (g *Group) Order() []System {
	out := make([]System, len(g.order))
	copy(out, g.order)
	return out
}

// Cycles lists groups of children that feed each other.
func (g *Group) Cycles() [][]string {
	return g.cycles
}

// Subsystem finds a descendant by its dotted path relative to g.
func (g *Group) Subsystem(path string) (System, bool) {
	head, rest, nested := strings.Cut(path, ".")
	sub, ok := g.subIndex[head]
	if !ok {
		return nil, false
	}
	if !nested {
		return sub, true
	}
	sg := asGroup(sub)
	if sg == nil {
		return nil, false
	}
	return sg.Subsystem(rest)
}

// Components returns every descendant component depth first.
func (g *Group) Components() []System {
	var out []System
	for _, sub := range g.subs {
		if sg := asGroup(sub); sg != nil {
			out = append(out, sg.Components()...)
			continue
		}
		out = append(out, sub)
	}
	return out
}

// SolveNonlinear runs the group's solver, or one pass over the children
// when none is set.
func (g *Group) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	if g.Solver == nil {
		return g.ChildrenSolveNonlinear()
	}
	return g.Solver.Solve(params, unknowns, resids, g)
}

// ChildrenSolveNonlinear makes a single ordered pass over the children.
func (g *Group) ChildrenSolveNonlinear() error {
	for _, sub := range g.order {
		if err := g.transferTo(sub); err != nil {
			return evalError(sub.Pathname(), err)
		}
		if err := solveSystem(sub); err != nil {
			return evalError(sub.Pathname(), err)
		}
	}
	return nil
}

// ApplyNonlinear evaluates the residuals of every child without moving
// the unknowns.
func (g *Group) ApplyNonlinear(params, unknowns, resids *vec.Vector) error {
	for _, sub := range g.order {
		if err := g.transferTo(sub); err != nil {
			return evalError(sub.Pathname(), err)
		}
		if err := applyNonlinear(sub); err != nil {
			return evalError(sub.Pathname(), err)
		}
	}
	return nil
}

// TransferAll pushes every connection local to g.
func (g *Group) TransferAll() error {
	for _, sub := range g.order {
		if err := g.transferTo(sub); err != nil {
			return err
		}
	}
	return nil
}

func (g *Group) transferTo(sub System) error {
	for _, t := range g.transfers[sub.Name()] {
		if err := vec.Copy(g.params, t.tgt, g.unknowns, t.src); err != nil {
			return fmt.Errorf("transfer %s -> %s: %w", t.src, t.tgt, err)
		}
	}
	return nil
}

func (g *Group) group() *Group {
	return g
}
