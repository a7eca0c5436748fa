package deriv

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/mdao/internal/vec"
)

// arrayMap computes y = J x for x of shape (2) or (2, n).
type arrayMap struct {
	calls int
}

var testJ = [2][2]float64{{2, 7}, {5, -3}}

func (c *arrayMap) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	c.calls++
	x := params.Flat("x")
	y := unknowns.Flat("y")
	n := len(x) / 2
	for i := 0; i < 2; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for k := 0; k < 2; k++ {
				sum += testJ[i][k] * x[k*n+j]
			}
			y[i*n+j] = sum
		}
	}
	return nil
}

// implicitComp solves x*z + z - 4 = 0 for z and reports y = x + 2z.
type implicitComp struct{}

func (c *implicitComp) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	x := params.Float("x")
	z := 4.0 / (x + 1)
	unknowns.SetFloat("z", z)
	unknowns.SetFloat("y", x+2*z)
	return c.ApplyNonlinear(params, unknowns, resids)
}

func (c *implicitComp) ApplyNonlinear(params, unknowns, resids *vec.Vector) error {
	x := params.Float("x")
	y := unknowns.Float("y")
	z := unknowns.Float("z")
	resids.SetFloat("y", x+2*z-y)
	resids.SetFloat("z", x*z+z-4)
	return nil
}

// relayout swaps the order of its outputs after the first evaluation.
type relayout struct {
	calls int
}

func (c *relayout) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	c.calls++
	if c.calls > 1 {
		return unknowns.Setup([]*vec.Meta{vec.NewMeta("b", 0.0), vec.NewMeta("a", 0.0)}, false)
	}
	unknowns.SetFloat("a", params.Float("x"))
	unknowns.SetFloat("b", 2*params.Float("x"))
	return nil
}

type failing struct{}

func (failing) SolveNonlinear(params, unknowns, resids *vec.Vector) error {
	return errors.New("boom")
}

func vectors(t *testing.T, params, unknowns []*vec.Meta) (*vec.Vector, *vec.Vector, *vec.Vector) {
	t.Helper()
	p := vec.New("comp")
	if err := p.Setup(params, true); err != nil {
		t.Fatalf("params setup: %v", err)
	}
	u := vec.New("comp")
	if err := u.Setup(unknowns, true); err != nil {
		t.Fatalf("unknowns setup: %v", err)
	}
	resids := make([]*vec.Meta, 0, len(unknowns))
	for _, m := range unknowns {
		c := m.Clone()
		c.Val = nil
		resids = append(resids, c)
	}
	r := vec.New("comp")
	if err := r.Setup(resids, false); err != nil {
		t.Fatalf("resids setup: %v", err)
	}
	return p, u, r
}

func assertBlock(t *testing.T, jac Jacobian, of, wrt string, want [][]float64, tol float64) {
	t.Helper()
	b := jac.Get(of, wrt)
	if b == nil {
		t.Fatalf("missing block (%s, %s)", of, wrt)
	}
	if b.Rows != len(want) || b.Cols != len(want[0]) {
		t.Fatalf("block (%s, %s): expected %dx%d, got %dx%d", of, wrt, len(want), len(want[0]), b.Rows, b.Cols)
	}
	for i := range want {
		for j := range want[i] {
			if got := b.At(i, j); math.Abs(got-want[i][j]) > tol {
				t.Errorf("block (%s, %s)[%d][%d]: expected %g, got %g", of, wrt, i, j, want[i][j], got)
			}
		}
	}
}

func TestFDJacobianArray(t *testing.T) {
	comp := &arrayMap{}
	p, u, r := vectors(t,
		[]*vec.Meta{vec.NewMeta("x", []float64{1, 1})},
		[]*vec.Meta{vec.NewMeta("y", []float64{0, 0})},
	)
	if err := comp.SolveNonlinear(p, u, r); err != nil {
		t.Fatal(err)
	}

	jac, err := FDJacobian(comp, p, u, r, DefaultOptions())
	if err != nil {
		t.Fatalf("fd failed: %v", err)
	}
	if len(jac) != 1 {
		t.Errorf("expected 1 block, got %d", len(jac))
	}
	assertBlock(t, jac, "y", "x", [][]float64{{2, 7}, {5, -3}}, 1e-8)
}

func TestFDJacobianArray2x2(t *testing.T) {
	comp := &arrayMap{}
	p, u, r := vectors(t,
		[]*vec.Meta{vec.NewMeta("x", [][]float64{{1, 1}, {1, 1}})},
		[]*vec.Meta{vec.NewMeta("y", [][]float64{{0, 0}, {0, 0}})},
	)
	if err := comp.SolveNonlinear(p, u, r); err != nil {
		t.Fatal(err)
	}

	jac, err := FDJacobian(comp, p, u, r, DefaultOptions())
	if err != nil {
		t.Fatalf("fd failed: %v", err)
	}
	assertBlock(t, jac, "y", "x", [][]float64{
		{2, 0, 7, 0},
		{0, 2, 0, 7},
		{5, 0, -3, 0},
		{0, 5, 0, -3},
	}, 1e-8)
}

func TestFDJacobianImplicit(t *testing.T) {
	comp := &implicitComp{}
	z := vec.NewMeta("z", 0.0)
	z.State = true
	p, u, r := vectors(t,
		[]*vec.Meta{vec.NewMeta("x", 0.5)},
		[]*vec.Meta{vec.NewMeta("y", 0.0), z},
	)
	if err := comp.SolveNonlinear(p, u, r); err != nil {
		t.Fatal(err)
	}
	zval := u.Float("z")

	jac, err := FDJacobian(comp, p, u, r, DefaultOptions())
	if err != nil {
		t.Fatalf("fd failed: %v", err)
	}

	want := map[Key]float64{
		{Of: "y", Wrt: "x"}: 1,
		{Of: "y", Wrt: "z"}: 2,
		{Of: "z", Wrt: "z"}: 1.5,
		{Of: "z", Wrt: "x"}: zval,
	}
	if len(jac) != len(want) {
		t.Errorf("expected keys %v, got %v", len(want), jac.Keys())
	}
	for k, v := range want {
		assertBlock(t, jac, k.Of, k.Wrt, [][]float64{{v}}, 1e-7)
	}
}

func TestFDJacobianKeysFollowDependencies(t *testing.T) {
	comp := evalFunc(func(p, u, r *vec.Vector) error {
		u.SetFloat("y1", 2*p.Float("a"))
		u.SetFloat("y2", 3*p.Float("b"))
		return nil
	})
	p, u, r := vectors(t,
		[]*vec.Meta{vec.NewMeta("a", 1.0), vec.NewMeta("b", 1.0)},
		[]*vec.Meta{vec.NewMeta("y1", 0.0), vec.NewMeta("y2", 0.0)},
	)

	jac, err := FDJacobian(comp, p, u, r, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	keys := jac.Keys()
	want := []Key{{Of: "y1", Wrt: "a"}, {Of: "y2", Wrt: "b"}}
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("expected keys %v, got %v", want, keys)
	}

	opts := DefaultOptions()
	opts.KeepZeroBlocks = true
	jac, err = FDJacobian(comp, p, u, r, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(jac) != 4 {
		t.Errorf("expected 4 blocks with zero blocks kept, got %d", len(jac))
	}
}

func TestFDJacobianIdempotent(t *testing.T) {
	comp := &arrayMap{}
	p, u, r := vectors(t,
		[]*vec.Meta{vec.NewMeta("x", []float64{0.3, -1.2})},
		[]*vec.Meta{vec.NewMeta("y", []float64{0, 0})},
	)
	if err := comp.SolveNonlinear(p, u, r); err != nil {
		t.Fatal(err)
	}
	before := u.Snapshot()

	first, err := FDJacobian(comp, p, u, r, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	second, err := FDJacobian(comp, p, u, r, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	a, b := first.Get("y", "x"), second.Get("y", "x")
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Errorf("entry %d: expected %g, got %g", i, a.Data[i], b.Data[i])
		}
	}
	if x := p.Flat("x"); x[0] != 0.3 || x[1] != -1.2 {
		t.Errorf("expected params restored, got %v", x)
	}
	for i, v := range u.Vec() {
		if v != before[i] {
			t.Errorf("expected unknowns restored at %d: %g vs %g", i, before[i], v)
		}
	}
}

func TestFDJacobianForms(t *testing.T) {
	square := evalFunc(func(p, u, r *vec.Vector) error {
		x := p.Float("x")
		u.SetFloat("y", x*x)
		return nil
	})

	tests := []struct {
		form Form
		tol  float64
	}{
		{Forward, 1e-5},
		{Backward, 1e-5},
		{Central, 1e-8},
	}
	for _, tt := range tests {
		t.Run(string(tt.form), func(t *testing.T) {
			p, u, r := vectors(t,
				[]*vec.Meta{vec.NewMeta("x", 3.0)},
				[]*vec.Meta{vec.NewMeta("y", 9.0)},
			)
			opts := DefaultOptions()
			opts.Form = tt.form
			jac, err := FDJacobian(square, p, u, r, opts)
			if err != nil {
				t.Fatal(err)
			}
			assertBlock(t, jac, "y", "x", [][]float64{{6}}, tt.tol)
		})
	}
}

func TestFDJacobianErrors(t *testing.T) {
	t.Run("evaluation failure", func(t *testing.T) {
		p, u, r := vectors(t,
			[]*vec.Meta{vec.NewMeta("x", 1.0)},
			[]*vec.Meta{vec.NewMeta("y", 0.0)},
		)
		_, err := FDJacobian(failing{}, p, u, r, DefaultOptions())
		if err == nil || err.Error() == "" {
			t.Fatal("expected error")
		}
		if p.Float("x") != 1 {
			t.Errorf("expected x restored, got %g", p.Float("x"))
		}
	})

	t.Run("implicit without residuals", func(t *testing.T) {
		z := vec.NewMeta("z", 0.0)
		z.State = true
		p, u, r := vectors(t, []*vec.Meta{vec.NewMeta("x", 1.0)}, []*vec.Meta{z})
		_, err := FDJacobian(failing{}, p, u, r, DefaultOptions())
		if !errors.Is(err, ErrNoResiduals) {
			t.Errorf("expected ErrNoResiduals, got %v", err)
		}
	})

	t.Run("outputs laid out again", func(t *testing.T) {
		p, u, r := vectors(t,
			[]*vec.Meta{vec.NewMeta("x", 1.0)},
			[]*vec.Meta{vec.NewMeta("a", 0.0), vec.NewMeta("b", 0.0)},
		)
		c := &relayout{}
		_, err := FDJacobian(c, p, u, r, DefaultOptions())
		if !errors.Is(err, ErrUnstableShape) {
			t.Errorf("expected ErrUnstableShape, got %v", err)
		}
		if c.calls != 2 {
			t.Errorf("expected 2 evaluations, got %d", c.calls)
		}
	})

	t.Run("bad options", func(t *testing.T) {
		p, u, r := vectors(t, nil, nil)
		opts := DefaultOptions()
		opts.Step = 0
		if _, err := FDJacobian(failing{}, p, u, r, opts); !errors.Is(err, ErrBadOptions) {
			t.Errorf("expected ErrBadOptions, got %v", err)
		}
	})
}

func TestStepFor(t *testing.T) {
	abs := DefaultOptions()
	rel := DefaultOptions()
	rel.StepCalc = Relative

	tests := []struct {
		name string
		opts Options
		x    float64
		want float64
	}{
		{"absolute", abs, 100, 1e-6},
		{"relative", rel, -100, 1e-4},
		{"relative at zero", rel, 0, 1e-6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.opts.StepFor(tt.x); math.Abs(got-tt.want) > 1e-18 {
				t.Errorf("expected %g, got %g", tt.want, got)
			}
		})
	}
}

func TestPerturbRestoresOnPanic(t *testing.T) {
	buf := []float64{1, 2}
	func() {
		defer func() { _ = recover() }()
		_ = Perturb(buf, 1, 0.5, func() error {
			if buf[1] != 2.5 {
				t.Errorf("expected perturbed value 2.5, got %g", buf[1])
			}
			panic("evaluation exploded")
		})
	}()
	if buf[1] != 2 {
		t.Errorf("expected 2 after panic, got %g", buf[1])
	}
}

func TestCompare(t *testing.T) {
	analytic := Jacobian{{Of: "y", Wrt: "x"}: BlockFrom([][]float64{{2, 7}, {5, -3}})}
	fd := Jacobian{{Of: "y", Wrt: "x"}: BlockFrom([][]float64{{2, 7.001}, {5, -3}})}

	res := Compare(analytic, fd)
	got := res[Key{Of: "y", Wrt: "x"}]
	if math.Abs(got.Abs-0.001) > 1e-12 {
		t.Errorf("expected abs error 0.001, got %g", got.Abs)
	}
	if math.Abs(got.Rel-0.001/7.001) > 1e-12 {
		t.Errorf("expected rel error %g, got %g", 0.001/7.001, got.Rel)
	}
}

type evalFunc func(p, u, r *vec.Vector) error

func (f evalFunc) SolveNonlinear(p, u, r *vec.Vector) error {
	return f(p, u, r)
}
