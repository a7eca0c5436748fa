package system

import (
	"github.com/san-kum/mdao/internal/deriv"
	"github.com/san-kum/mdao/internal/vec"
)

// Component is a leaf system. Embed it and declare variables in the
// constructor:
//
//	type Paraboloid struct{ system.Component }
//
//	func NewParaboloid() *Paraboloid {
//		p := &Paraboloid{}
//		p.AddParam("x", 3.0)
//		p.AddOutput("f_xy", 0.0)
//		return p
//	}
type Component struct {
	node

	params   []*vec.Meta
	unknowns []*vec.Meta
	declared map[string]bool
	errs     []*ConfigError

	fd    deriv.Options
	fdSet bool
}

// AddParam declares an input. A nil val means the param must be connected.
func (c *Component) AddParam(name string, val any) {
	if c.declare(name, val) {
		c.params = append(c.params, vec.NewMeta(name, val))
	}
}

// AddOutput declares an explicit unknown.
func (c *Component) AddOutput(name string, val any) {
	if c.declare(name, val) {
		c.unknowns = append(c.unknowns, vec.NewMeta(name, val))
	}
}

// AddState declares an implicit unknown whose residual the component owns.
func (c *Component) AddState(name string, val any) {
	if c.declare(name, val) {
		m := vec.NewMeta(name, val)
		m.State = true
		c.unknowns = append(c.unknowns, m)
	}
}

func (c *Component) declare(name string, val any) bool {
	if c.declared == nil {
		c.declared = make(map[string]bool)
	}
	if c.declared[name] {
		c.errs = append(c.errs, &ConfigError{Pathname: name, Wrapped: ErrDuplicateVariable, Detail: "declared twice"})
		return false
	}
	if err := vec.Check(val); err != nil {
		c.errs = append(c.errs, &ConfigError{Pathname: name, Wrapped: err})
		return false
	}
	c.declared[name] = true
	return true
}

// ParamMetas returns the declared params in declaration order.
func (c *Component) ParamMetas() []*vec.Meta {
	return c.params
}

// UnknownMetas returns the declared outputs and states in declaration order.
func (c *Component) UnknownMetas() []*vec.Meta {
	return c.unknowns
}

// IsImplicit reports whether the component declared any state.
func (c *Component) IsImplicit() bool {
	for _, m := range c.unknowns {
		if m.State {
			return true
		}
	}
	return false
}

func (c *Component) SetFDOptions(opts deriv.Options) {
	c.fd = opts
	c.fdSet = true
}

// FDOptions returns the per-component finite difference options, or the
// defaults when none were set.
func (c *Component) FDOptions() deriv.Options {
	if !c.fdSet {
		return deriv.DefaultOptions()
	}
	return c.fd
}

func (c *Component) component() *Component {
	return c
}

type componentHolder interface {
	component() *Component
}

type groupHolder interface {
	group() *Group
}

func asComponent(s System) *Component {
	if h, ok := s.(componentHolder); ok {
		return h.component()
	}
	return nil
}

func asGroup(s System) *Group {
	if h, ok := s.(groupHolder); ok {
		return h.group()
	}
	return nil
}

// AsComponent returns the embedded Component of s, or nil for groups.
func AsComponent(s System) *Component {
	return asComponent(s)
}

// AsGroup returns the embedded Group of s, or nil for components.
func AsGroup(s System) *Group {
	return asGroup(s)
}

// applyNonlinear evaluates residuals of one system without changing its
// unknowns. Explicit components report y_new - y_old.
func applyNonlinear(s System) error {
	b := s.base()
	if g := asGroup(s); g != nil {
		return g.ApplyNonlinear(b.params, b.unknowns, b.resids)
	}
	if re, ok := s.(ResidualEvaluator); ok {
		return re.ApplyNonlinear(b.params, b.unknowns, b.resids)
	}

	old := b.unknowns.Snapshot()
	if err := s.SolveNonlinear(b.params, b.unknowns, b.resids); err != nil {
		_ = b.unknowns.Restore(old)
		return err
	}
	cur := b.unknowns.Vec()
	res := b.resids.Vec()
	for i := range res {
		res[i] = cur[i] - old[i]
	}
	return b.unknowns.Restore(old)
}

// solveSystem runs one system's solve. Explicit components end with zero
// residuals.
func solveSystem(s System) error {
	b := s.base()
	if err := s.SolveNonlinear(b.params, b.unknowns, b.resids); err != nil {
		return err
	}
	if c := asComponent(s); c != nil && !c.IsImplicit() {
		b.resids.Zero()
	}
	return nil
}
