package components

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/san-kum/mdao/internal/system"
	"github.com/san-kum/mdao/internal/vec"
)

var ErrBadExpression = errors.New("components: invalid expression")

// ExecComp evaluates scalar assignments such as "y = pow(x, 2) + 3*z".
// Left-hand names become outputs and every other name an expression refers
// to becomes a param.
type ExecComp struct {
	system.Component

	assigns []assignment
	params  []string
}

type assignment struct {
	out  string
	src  string
	expr hclsyntax.Expression
}

// NewExecComp parses exprs. inits supplies starting values by variable name;
// anything missing starts at zero.
func NewExecComp(exprs []string, inits map[string]float64) (*ExecComp, error) {
	c := &ExecComp{}
	outs := make(map[string]bool, len(exprs))

	for i, e := range exprs {
		lhs, rhs, ok := strings.Cut(e, "=")
		lhs = strings.TrimSpace(lhs)
		if !ok || !hclsyntax.ValidIdentifier(lhs) || strings.HasPrefix(rhs, "=") {
			return nil, fmt.Errorf("%w: %q is not an assignment", ErrBadExpression, e)
		}
		if outs[lhs] {
			return nil, fmt.Errorf("%w: %s assigned twice", ErrBadExpression, lhs)
		}
		expr, diags := hclsyntax.ParseExpression([]byte(strings.TrimSpace(rhs)), fmt.Sprintf("expr[%d]", i), hcl.InitialPos)
		if diags.HasErrors() {
			return nil, fmt.Errorf("%w: %q: %s", ErrBadExpression, e, diags.Error())
		}
		outs[lhs] = true
		c.assigns = append(c.assigns, assignment{out: lhs, src: e, expr: expr})
	}

	seen := make(map[string]bool)
	for _, a := range c.assigns {
		for _, tr := range a.expr.Variables() {
			name := tr.RootName()
			if outs[name] || seen[name] {
				continue
			}
			seen[name] = true
			c.params = append(c.params, name)
		}
	}

	for _, name := range c.params {
		c.AddParam(name, inits[name])
	}
	for _, a := range c.assigns {
		c.AddOutput(a.out, inits[a.out])
	}
	return c, nil
}

// Expressions returns the source assignments in evaluation order.
func (c *ExecComp) Expressions() []string {
	out := make([]string, len(c.assigns))
	for i, a := range c.assigns {
		out[i] = a.src
	}
	return out
}

// SolveNonlinear evaluates the assignments in order; later expressions see
// outputs computed by earlier ones.
func (c *ExecComp) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	vars := make(map[string]cty.Value, len(c.params)+len(c.assigns))
	for _, name := range c.params {
		v, err := toCty(params.Float(name))
		if err != nil {
			return fmt.Errorf("param %s: %w", name, err)
		}
		vars[name] = v
	}
	for _, a := range c.assigns {
		v, err := toCty(unknowns.Float(a.out))
		if err != nil {
			return fmt.Errorf("output %s: %w", a.out, err)
		}
		vars[a.out] = v
	}

	ctx := &hcl.EvalContext{Variables: vars, Functions: mathFunctions}
	for _, a := range c.assigns {
		val, diags := a.expr.Value(ctx)
		if diags.HasErrors() {
			return fmt.Errorf("%s: %w", a.src, diags)
		}
		f, err := fromCty(val)
		if err != nil {
			return fmt.Errorf("%s: %w", a.src, err)
		}
		unknowns.SetFloat(a.out, f)
		if vars[a.out], err = toCty(f); err != nil {
			return fmt.Errorf("%s: %w", a.src, err)
		}
	}
	return nil
}
