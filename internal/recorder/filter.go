package recorder

import (
	"fmt"

	"github.com/bmatcuk/doublestar"
)

// Filter selects variables by glob. A name is recorded when it matches an
// include and no exclude.
type Filter struct {
	Includes []string
	Excludes []string
}

// NewFilter checks the patterns. Empty includes mean everything.
func NewFilter(includes, excludes []string) (*Filter, error) {
	if len(includes) == 0 {
		includes = []string{"*"}
	}
	for _, p := range append(append([]string(nil), includes...), excludes...) {
		if _, err := doublestar.Match(p, p); err != nil {
			return nil, fmt.Errorf("recorder: pattern %q: %w", p, err)
		}
	}
	return &Filter{Includes: includes, Excludes: excludes}, nil
}

func (f *Filter) Match(name string) bool {
	includes := f.Includes
	if len(includes) == 0 {
		includes = []string{"*"}
	}
	if !matchAny(includes, name) {
		return false
	}
	return !matchAny(f.Excludes, name)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Select keeps the matching names in their given order.
func (f *Filter) Select(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if f.Match(n) {
			out = append(out, n)
		}
	}
	return out
}

// Apply returns a copy of c holding only the matching variables.
func (f *Filter) Apply(c *Case) *Case {
	out := *c
	out.Params = f.vars(c.Params)
	out.Unknowns = f.vars(c.Unknowns)
	out.Resids = f.vars(c.Resids)
	return &out
}

func (f *Filter) vars(in []Var) []Var {
	out := make([]Var, 0, len(in))
	for _, v := range in {
		if f.Match(v.Name) {
			out = append(out, v)
		}
	}
	return out
}
