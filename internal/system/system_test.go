package system

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/mdao/internal/vec"
)

type indep struct {
	Component
}

func newIndep(name string, val any) *indep {
	c := &indep{}
	c.AddOutput(name, val)
	return c
}

func (c *indep) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	return nil
}

// scaled computes y = k*x.
type scaled struct {
	Component
	k     float64
	calls int
}

func newScaled(k float64) *scaled {
	c := &scaled{k: k}
	c.AddParam("x", 0.0)
	c.AddOutput("y", 0.0)
	return c
}

func (c *scaled) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	c.calls++
	unknowns.SetFloat("y", c.k*params.Float("x"))
	return nil
}

// adder computes y = x1 + x2.
type adder struct {
	Component
}

func newAdder() *adder {
	c := &adder{}
	c.AddParam("x1", 0.0)
	c.AddParam("x2", 0.0)
	c.AddOutput("y", 0.0)
	return c
}

func (c *adder) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	unknowns.SetFloat("y", params.Float("x1")+params.Float("x2"))
	return nil
}

type blob struct {
	data map[string]int
}

type objSink struct {
	Component
	seen *blob
}

func (c *objSink) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	v, err := params.Get("in")
	if err != nil {
		return err
	}
	c.seen, _ = v.(*blob)
	unknowns.SetFloat("n", float64(len(c.seen.data)))
	return nil
}

type broken struct {
	Component
}

func (c *broken) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	return errors.New("diverged")
}

func run(t *testing.T, root *Group) {
	t.Helper()
	require.NoError(t, root.SolveNonlinear(root.Params(), root.Unknowns(), root.Resids()))
}

func TestExplicitConnection(t *testing.T) {
	root := NewGroup()
	root.Add("p1", newIndep("x", 4.0))
	root.Add("comp1", newScaled(2))
	root.Connect("p1.x", "comp1.x")

	layout, err := Setup(root, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"comp1.x": "p1.x"}, layout.Connections)

	run(t, root)
	assert.Equal(t, 4.0, root.Params().Float("comp1.x"))
	assert.Equal(t, 8.0, root.Unknowns().Float("comp1.y"))
}

func TestPromotionMakesImplicitConnection(t *testing.T) {
	root := NewGroup()
	root.Add("p", newIndep("x", 3.0), "x")
	root.Add("c", newScaled(5), "x")

	layout, err := Setup(root, nil)
	require.NoError(t, err)
	assert.Equal(t, "p.x", layout.Connections["c.x"])
	assert.Equal(t, []string{"c.x"}, layout.ParamsByName["x"])

	run(t, root)
	assert.Equal(t, 15.0, root.Unknowns().Float("c.y"))
	assert.True(t, root.Unknowns().Has("x"))
}

func TestPromotionGlob(t *testing.T) {
	root := NewGroup()
	add := newAdder()
	root.Add("a", add, "x*")

	_, err := Setup(root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"x1", "x2"}, names(root.base().paramNames))
	assert.Equal(t, []string{"a.y"}, names(root.base().unknownNames))
}

func TestPromotionMatchingNothingIsNoop(t *testing.T) {
	root := NewGroup()
	root.Add("a", newScaled(1), "nothing*")
	_, err := Setup(root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.x"}, names(root.base().paramNames))
}

func TestChildrenRunInDependencyOrder(t *testing.T) {
	root := NewGroup()
	root.Add("last", newScaled(2))
	root.Add("mid", newScaled(3))
	root.Add("src", newIndep("x", 1.0))
	root.Connect("src.x", "mid.x")
	root.Connect("mid.y", "last.x")

	_, err := Setup(root, nil)
	require.NoError(t, err)

	var order []string
	for _, s := range root.Order() {
		order = append(order, s.Name())
	}
	assert.Equal(t, []string{"src", "mid", "last"}, order)

	run(t, root)
	assert.Equal(t, 6.0, root.Unknowns().Float("last.y"))
}

func TestConsumerAddedBeforeCycle(t *testing.T) {
	root := NewGroup()
	root.Add("obj", newScaled(2))
	root.Add("d1", newAdder())
	root.Add("d2", newScaled(0.5))
	root.Connect("d1.y", "d2.x")
	root.Connect("d2.y", "d1.x1")
	root.Connect("d2.y", "obj.x")

	_, err := Setup(root, nil)
	require.NoError(t, err)

	var order []string
	for _, s := range root.Order() {
		order = append(order, s.Name())
	}
	assert.Equal(t, []string{"d1", "d2", "obj"}, order)
	assert.Equal(t, [][]string{{"d1", "d2"}}, root.Cycles())
}

func TestNestedGroups(t *testing.T) {
	root := NewGroup()
	sub := NewGroup()
	sub.Add("c1", newScaled(2), "x")
	sub.Add("c2", newScaled(10))
	sub.Connect("c1.y", "c2.x")
	root.Add("src", newIndep("x", 1.5), "x")
	root.Add("sub", sub, "x")

	layout, err := Setup(root, nil)
	require.NoError(t, err)
	assert.Equal(t, "sub.c1.y", layout.Connections["sub.c2.x"])
	assert.Equal(t, "src.x", layout.Connections["sub.c1.x"])

	assert.Equal(t, "sub", sub.Pathname())
	c2, ok := root.Subsystem("sub.c2")
	require.True(t, ok)
	assert.Equal(t, "sub.c2", c2.Pathname())
	assert.Equal(t, []string{"c1.y", "c2.y"}, sub.Unknowns().Keys())
	assert.Equal(t, []string{"c1.x", "c2.x"}, sub.Params().Keys())

	run(t, root)
	assert.Equal(t, 30.0, root.Unknowns().Float("sub.c2.y"))
	assert.Equal(t, 30.0, c2.Unknowns().Float("y"))
}

func TestDanglingParamKeepsValue(t *testing.T) {
	root := NewGroup()
	c := &scaled{k: 2}
	c.AddParam("x", 7.0)
	c.AddOutput("y", 0.0)
	root.Add("c", c)

	layout, err := Setup(root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.x"}, layout.Dangling)
	assert.Equal(t, []string{"c.y"}, layout.Unconnected)

	run(t, root)
	assert.Equal(t, 14.0, root.Unknowns().Float("c.y"))
}

func TestNonFlatPassedByReference(t *testing.T) {
	root := NewGroup()
	obj := &blob{data: map[string]int{"a": 1, "b": 2}}
	root.Add("src", newIndep("out", obj))
	sink := &objSink{}
	sink.AddParam("in", nil)
	sink.AddOutput("n", 0.0)
	root.Add("sink", sink)
	root.Connect("src.out", "sink.in")

	_, err := Setup(root, nil)
	require.NoError(t, err)
	run(t, root)

	assert.Same(t, obj, sink.seen)
	assert.Equal(t, 2.0, root.Unknowns().Float("sink.n"))
	assert.Len(t, root.Resids().Vec(), 1)
}

func TestExplicitResiduals(t *testing.T) {
	root := NewGroup()
	root.Add("src", newIndep("x", 2.0))
	c := newScaled(3)
	root.Add("c", c)
	root.Connect("src.x", "c.x")

	_, err := Setup(root, nil)
	require.NoError(t, err)
	root.Resids().Vec()[1] = 99
	run(t, root)
	for _, r := range root.Resids().Vec() {
		assert.Equal(t, 0.0, r)
	}

	root.Unknowns().SetFloat("c.y", 5)
	require.NoError(t, root.ApplyNonlinear(root.Params(), root.Unknowns(), root.Resids()))
	assert.Equal(t, 1.0, root.Resids().Float("c.y"))
	assert.Equal(t, 5.0, root.Unknowns().Float("c.y"))
}

func TestEvaluationErrorCarriesPathname(t *testing.T) {
	root := NewGroup()
	sub := NewGroup()
	b := &broken{}
	b.AddOutput("y", 0.0)
	sub.Add("bad", b)
	root.Add("sub", sub)

	_, err := Setup(root, nil)
	require.NoError(t, err)

	err = root.SolveNonlinear(root.Params(), root.Unknowns(), root.Resids())
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "sub.bad", ee.Pathname)
	assert.ErrorContains(t, err, "diverged")
}

func TestSetupErrors(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *Group
		wantErr  error
		pathname string
	}{
		{
			name: "duplicate promoted unknown",
			build: func() *Group {
				g := NewGroup()
				g.Add("a", newScaled(1), "y")
				g.Add("b", newScaled(1), "y")
				return g
			},
			wantErr:  ErrDuplicateVariable,
			pathname: "y",
		},
		{
			name: "param connected twice",
			build: func() *Group {
				g := NewGroup()
				g.Add("p1", newIndep("x", 1.0))
				g.Add("p2", newIndep("x", 2.0))
				g.Add("c", newScaled(1))
				g.Connect("p1.x", "c.x")
				g.Connect("p2.x", "c.x")
				return g
			},
			wantErr:  ErrMultipleSources,
			pathname: "c.x",
		},
		{
			name: "explicit and implicit sources differ",
			build: func() *Group {
				g := NewGroup()
				g.Add("p1", newIndep("x", 1.0), "x")
				g.Add("p2", newIndep("z", 2.0))
				g.Add("c", newScaled(1), "x")
				g.Connect("p2.z", "x")
				return g
			},
			wantErr:  ErrMultipleSources,
			pathname: "c.x",
		},
		{
			name: "unresolved param",
			build: func() *Group {
				g := NewGroup()
				c := &scaled{}
				c.AddParam("x", nil)
				c.AddOutput("y", 0.0)
				g.Add("c", c)
				return g
			},
			wantErr:  ErrUnresolvedParam,
			pathname: "c.x",
		},
		{
			name: "shape mismatch",
			build: func() *Group {
				g := NewGroup()
				g.Add("p", newIndep("x", []float64{1, 2, 3}))
				c := &scaled{}
				c.AddParam("x", []float64{0, 0})
				c.AddOutput("y", 0.0)
				g.Add("c", c)
				g.Connect("p.x", "c.x")
				return g
			},
			wantErr:  ErrShapeMismatch,
			pathname: "c.x",
		},
		{
			name: "same size different shape",
			build: func() *Group {
				g := NewGroup()
				g.Add("p", newIndep("x", [][]float64{{1, 2}, {3, 4}}))
				c := &scaled{}
				c.AddParam("x", []float64{0, 0, 0, 0})
				c.AddOutput("y", 0.0)
				g.Add("c", c)
				g.Connect("p.x", "c.x")
				return g
			},
			wantErr:  ErrShapeMismatch,
			pathname: "c.x",
		},
		{
			name: "ragged default",
			build: func() *Group {
				g := NewGroup()
				c := &scaled{}
				c.AddParam("x", [][]float64{{1, 2}, {3}})
				c.AddOutput("y", 0.0)
				g.Add("c", c)
				return g
			},
			wantErr:  vec.ErrRagged,
			pathname: "c.x",
		},
		{
			name: "missing source",
			build: func() *Group {
				g := NewGroup()
				g.Add("c", newScaled(1))
				g.Connect("nope.x", "c.x")
				return g
			},
			wantErr:  ErrNoSuchVariable,
			pathname: "nope.x",
		},
		{
			name: "source is a param",
			build: func() *Group {
				g := NewGroup()
				g.Add("a", newScaled(1))
				g.Add("b", newScaled(1))
				g.Connect("a.x", "b.x")
				return g
			},
			wantErr:  ErrInvalidSource,
			pathname: "a.x",
		},
		{
			name: "missing target",
			build: func() *Group {
				g := NewGroup()
				g.Add("p", newIndep("x", 1.0))
				g.Connect("p.x", "nope.x")
				return g
			},
			wantErr:  ErrNoSuchVariable,
			pathname: "nope.x",
		},
		{
			name: "target is an unknown",
			build: func() *Group {
				g := NewGroup()
				g.Add("p", newIndep("x", 1.0))
				g.Add("c", newScaled(1))
				g.Connect("p.x", "c.y")
				return g
			},
			wantErr:  ErrInvalidTarget,
			pathname: "c.y",
		},
		{
			name: "duplicate subsystem",
			build: func() *Group {
				g := NewGroup()
				g.Add("c", newScaled(1))
				g.Add("c", newScaled(2))
				return g
			},
			wantErr:  ErrDuplicateSubsystem,
			pathname: "c",
		},
		{
			name: "duplicate declaration",
			build: func() *Group {
				g := NewGroup()
				c := newScaled(1)
				c.AddOutput("x", 0.0)
				g.Add("c", c)
				return g
			},
			wantErr:  ErrDuplicateVariable,
			pathname: "c.x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Setup(tt.build(), nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.pathname, ce.Pathname)
		})
	}
}

func TestCyclesReported(t *testing.T) {
	root := NewGroup()
	a := newScaled(0.5)
	b := newScaled(0.5)
	root.Add("a", a)
	root.Add("b", b)
	root.Connect("a.y", "b.x")
	root.Connect("b.y", "a.x")

	_, err := Setup(root, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, root.Cycles())
	assert.Len(t, root.Order(), 2)
}

func TestComponentsDepthFirst(t *testing.T) {
	root := NewGroup()
	sub := NewGroup()
	sub.Add("inner", newScaled(1))
	root.Add("first", newScaled(1))
	root.Add("sub", sub)
	root.Add("last", newScaled(1))

	var got []string
	for _, c := range root.Components() {
		got = append(got, c.Name())
	}
	assert.Equal(t, []string{"first", "inner", "last"}, got)
	assert.Nil(t, AsComponent(sub))
	assert.NotNil(t, AsGroup(sub))
}

func names(pairs []namePair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.name
	}
	return out
}
