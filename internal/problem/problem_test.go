package problem_test

import (
	"bytes"
	"context"
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/mdao/internal/components"
	"github.com/san-kum/mdao/internal/deriv"
	"github.com/san-kum/mdao/internal/models"
	"github.com/san-kum/mdao/internal/problem"
	"github.com/san-kum/mdao/internal/recorder"
	"github.com/san-kum/mdao/internal/solvers"
	"github.com/san-kum/mdao/internal/system"
	"github.com/san-kum/mdao/internal/vec"
)

// captured keeps every case it is given.
type captured struct {
	meta   recorder.Metadata
	cases  []*recorder.Case
	filter *recorder.Filter
	closed bool
}

func (c *captured) Startup(meta recorder.Metadata) error {
	c.meta = meta
	return nil
}

func (c *captured) Record(cs *recorder.Case) error {
	if c.filter != nil {
		cs = c.filter.Apply(cs)
	}
	c.cases = append(c.cases, cs)
	return nil
}

func (c *captured) Close() error {
	c.closed = true
	return nil
}

func varNames(vars []recorder.Var) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Name
	}
	return out
}

var _ = Describe("Problem", func() {
	Context("before setup", func() {
		It("refuses to run or read variables", func() {
			p := problem.New(models.NewParaboloidGroup(3, -4))
			Expect(p.Run(context.Background())).To(MatchError(problem.ErrNotSetup))
			_, err := p.Get("comp.f_xy")
			Expect(err).To(MatchError(problem.ErrNotSetup))
			_, err = p.CheckPartials()
			Expect(err).To(MatchError(problem.ErrNotSetup))
		})
	})

	Context("with an explicit connection in a flat group", func() {
		var p *problem.Problem

		BeforeEach(func() {
			root := system.NewGroup()
			root.Add("p1", components.NewIndepVarComp("x", 5.0))
			root.Add("comp1", models.NewSimpleComp())
			root.Connect("p1.x", "comp1.x")
			p = problem.New(root)
			Expect(p.Setup()).To(Succeed())
			Expect(p.Run(context.Background())).To(Succeed())
		})

		It("copies the source value into the param", func() {
			target, err := p.Float("comp1.x")
			Expect(err).NotTo(HaveOccurred())
			source, err := p.Float("p1.x")
			Expect(err).NotTo(HaveOccurred())
			Expect(target).To(Equal(source))
			Expect(p.Float("comp1.y")).To(Equal(10.0))
		})

		It("reports the connection", func() {
			Expect(p.Connections()).To(HaveKeyWithValue("comp1.x", "p1.x"))
			Expect(p.Dangling()).To(BeEmpty())
		})

		It("rejects setting a connected param", func() {
			Expect(p.Set("comp1.x", 1.0)).To(MatchError(problem.ErrConnected))
		})

		It("reruns after a design variable changes", func() {
			Expect(p.Set("p1.x", 7.0)).To(Succeed())
			Expect(p.Run(context.Background())).To(Succeed())
			Expect(p.Float("comp1.y")).To(Equal(14.0))
		})

		It("rejects unknown names", func() {
			_, err := p.Get("nope")
			Expect(err).To(MatchError(problem.ErrUnknownVariable))
		})

		It("rejects wrong sizes with the variable name", func() {
			err := p.Set("p1.x", []float64{1, 2})
			var se *vec.SizeError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Name).To(Equal("p1.x"))
			Expect(se.Expected).To(Equal(1))
			Expect(se.Actual).To(Equal(2))
		})
	})

	Context("with promoted variables", func() {
		It("reads params by promoted name", func() {
			root := system.NewGroup()
			root.Add("px", components.NewIndepVarComp("x", 3.0), "x")
			root.Add("c", models.NewSimpleComp(), "x")
			p := problem.New(root)
			Expect(p.Setup()).To(Succeed())
			Expect(p.Run(context.Background())).To(Succeed())

			Expect(p.Float("x")).To(Equal(3.0))
			Expect(p.Float("c.x")).To(Equal(3.0))
			Expect(p.Float("c.y")).To(Equal(6.0))
		})

		It("sets every param sharing a promoted name", func() {
			root := system.NewGroup()
			root.Add("c1", models.NewSimpleComp(), "x")
			root.Add("c2", models.NewSimpleComp(), "x")
			p := problem.New(root)
			Expect(p.Setup()).To(Succeed())

			Expect(p.Set("x", 10.0)).To(Succeed())
			Expect(p.Float("c1.x")).To(Equal(10.0))
			Expect(p.Float("c2.x")).To(Equal(10.0))

			Expect(p.Run(context.Background())).To(Succeed())
			Expect(p.Float("c1.y")).To(Equal(20.0))
			Expect(p.Float("c2.y")).To(Equal(20.0))
		})

		It("leaves shared params untouched when the value is rejected", func() {
			root := system.NewGroup()
			root.Add("c1", models.NewSimpleComp(), "x")
			root.Add("c2", models.NewSimpleComp(), "x")
			p := problem.New(root)
			Expect(p.Setup()).To(Succeed())

			Expect(p.Set("x", []float64{1, 2})).To(MatchError(vec.ErrSizeMismatch))
			Expect(p.Float("c1.x")).To(Equal(3.0))
			Expect(p.Float("c2.x")).To(Equal(3.0))
		})

		It("refuses a shared name when one of its params is connected", func() {
			sub := system.NewGroup()
			sub.Add("p", components.NewIndepVarComp("a", 1.0))
			sub.Add("c2", models.NewSimpleComp(), "x")
			sub.Connect("p.a", "x")

			root := system.NewGroup()
			root.Add("c1", models.NewSimpleComp(), "x")
			root.Add("g", sub, "x")
			p := problem.New(root)
			Expect(p.Setup()).To(Succeed())

			Expect(p.Set("x", 10.0)).To(MatchError(problem.ErrConnected))
			Expect(p.Float("c1.x")).To(Equal(3.0))
		})
	})

	Context("recording", func() {
		It("emits only the filtered names in collection order", func() {
			f, err := recorder.NewFilter([]string{"comp4.*"}, []string{"*.y2"})
			Expect(err).NotTo(HaveOccurred())
			rec := &captured{filter: f}

			p := problem.New(models.NewConvergeDiverge(), problem.WithRecorder(rec))
			Expect(p.Setup()).To(Succeed())
			Expect(p.Run(context.Background())).To(Succeed())
			Expect(p.Close()).To(Succeed())

			Expect(rec.closed).To(BeTrue())
			Expect(rec.cases).To(HaveLen(1))
			cs := rec.cases[0]
			Expect(cs.Coordinate.String()).To(Equal("rank0:Driver/1/root/1"))
			Expect(varNames(cs.Params)).To(Equal([]string{"comp4.x1", "comp4.x2"}))
			Expect(varNames(cs.Unknowns)).To(Equal([]string{"comp4.y1"}))
			Expect(varNames(cs.Resids)).To(Equal([]string{"comp4.y1"}))
			Expect(cs.Unknowns[0].Value).To(Equal(46.0))
			Expect(cs.Resids[0].Value).To(Equal(0.0))
		})

		It("copies flat arrays so later runs do not change recorded cases", func() {
			rec := &captured{}
			root := system.NewGroup()
			root.Add("p", components.NewIndepVarComp("x", []float64{1, 1}))
			root.Add("comp", models.NewArrayComp())
			root.Connect("p.x", "comp.x")

			p := problem.New(root, problem.WithRecorder(rec))
			Expect(p.Setup()).To(Succeed())
			Expect(p.Run(context.Background())).To(Succeed())
			Expect(p.Set("p.x", []float64{2, 2})).To(Succeed())
			Expect(p.Run(context.Background())).To(Succeed())

			Expect(rec.cases).To(HaveLen(2))
			first, ok := rec.cases[0].Lookup("comp.y")
			Expect(ok).To(BeTrue())
			Expect(first).To(Equal([]float64{9, 2}))
			Expect(rec.cases[1].Coordinate.Driver).To(Equal(2))
		})
	})

	Context("gradients", func() {
		It("matches the analytic gradient of the paraboloid", func() {
			p := problem.New(models.NewParaboloidGroup(3, -4))
			Expect(p.Setup()).To(Succeed())
			Expect(p.Run(context.Background())).To(Succeed())

			jac, err := p.CalcGradient([]string{"comp.f_xy"}, []string{"p1.x", "p2.y"}, deriv.DefaultOptions())
			Expect(err).NotTo(HaveOccurred())
			// df/dx = 2x - 6 + y, df/dy = 2y + 8 + x at (3, -4)
			Expect(jac.Get("comp.f_xy", "p1.x").At(0, 0)).To(BeNumerically("~", -4, 1e-5))
			Expect(jac.Get("comp.f_xy", "p2.y").At(0, 0)).To(BeNumerically("~", 3, 1e-5))

			Expect(p.Float("p1.x")).To(Equal(3.0))
			Expect(p.Float("comp.f_xy")).To(Equal(-15.0))
		})

		It("differentiates through a coupled model", func() {
			root, err := models.NewSellar()
			Expect(err).NotTo(HaveOccurred())
			p := problem.New(root)
			Expect(p.Setup()).To(Succeed())
			Expect(p.Run(context.Background())).To(Succeed())

			gs := root.Solver.(*solvers.NLGaussSeidel)
			gs.Atol, gs.Rtol = 1e-12, 1e-12

			opts := deriv.DefaultOptions()
			opts.Form = deriv.Central
			opts.Step = 1e-5
			jac, err := p.CalcGradient([]string{"obj", "con1"}, []string{"x", "z"}, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(jac).To(HaveLen(4))
			Expect(jac.Get("obj", "z").Cols).To(Equal(2))
			// published total derivatives of the Sellar objective at z = (5, 2), x = 1
			Expect(jac.Get("obj", "x").At(0, 0)).To(BeNumerically("~", 2.98061391, 1e-3))
			Expect(jac.Get("obj", "z").At(0, 0)).To(BeNumerically("~", 9.61001155, 1e-3))
			Expect(jac.Get("obj", "z").At(0, 1)).To(BeNumerically("~", 1.78448534, 1e-3))
		})

		It("rejects derived variables as wrt", func() {
			p := problem.New(models.NewParaboloidGroup(3, -4))
			Expect(p.Setup()).To(Succeed())
			_, err := p.CalcGradient([]string{"comp.f_xy"}, []string{"comp.f_xy"}, deriv.DefaultOptions())
			Expect(err).To(MatchError(problem.ErrNotIndependent))
		})
	})

	Context("checks", func() {
		It("finds no partial mismatches in the reference models", func() {
			p := problem.New(models.NewConvergeDiverge())
			Expect(p.Setup()).To(Succeed())
			Expect(p.Run(context.Background())).To(Succeed())

			results, err := p.CheckPartials()
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(7))
			for _, r := range results {
				for key, res := range r.Results {
					Expect(res.Abs).To(BeNumerically("<", 1e-4), "%s %s", r.Pathname, key)
				}
			}

			var buf bytes.Buffer
			Expect(problem.WritePartials(&buf, results)).To(Succeed())
			Expect(buf.String()).To(ContainSubstring("comp4\n"))
			Expect(buf.String()).To(ContainSubstring("(y2, x2)"))
		})

		It("reports dangling params and cycles", func() {
			root, err := models.NewSellar()
			Expect(err).NotTo(HaveOccurred())
			root.Add("extra", models.NewSimpleComp())
			p := problem.New(root)
			Expect(p.Setup()).To(Succeed())

			var buf bytes.Buffer
			n, err := p.CheckSetup(&buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeNumerically(">=", 2))
			Expect(buf.String()).To(ContainSubstring("Dangling params:\n  extra.x\n"))
			Expect(buf.String()).To(ContainSubstring("root: d1, d2"))
		})

		It("reports a clean model", func() {
			root := system.NewGroup()
			root.Add("p1", components.NewIndepVarComp("x", 5.0))
			root.Add("comp1", models.NewSimpleComp())
			root.Add("sink", models.NewSimpleComp())
			root.Connect("p1.x", "comp1.x")
			root.Connect("comp1.y", "sink.x")
			p := problem.New(root)
			Expect(p.Setup()).To(Succeed())

			var buf bytes.Buffer
			n, err := p.CheckSetup(&buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
			Expect(buf.String()).To(ContainSubstring("Unconnected unknowns:\n  sink.y\n"))
		})
	})

	It("surfaces setup errors with the offending pathname", func() {
		root := system.NewGroup()
		root.Add("a", components.NewIndepVarComp("x", 1.0))
		root.Add("b", components.NewIndepVarComp("x", 2.0))
		root.Add("c", models.NewSimpleComp())
		root.Connect("a.x", "c.x")
		root.Connect("b.x", "c.x")

		err := problem.New(root).Setup()
		var ce *system.ConfigError
		Expect(errors.As(err, &ce)).To(BeTrue())
		Expect(ce.Pathname).To(Equal("c.x"))
		Expect(err).To(MatchError(system.ErrMultipleSources))
	})

	It("keeps a tiny residual norm after the coupled solve", func() {
		root, err := models.NewSellar()
		Expect(err).NotTo(HaveOccurred())
		p := problem.New(root)
		Expect(p.Setup()).To(Succeed())
		Expect(p.Run(context.Background())).To(Succeed())
		Expect(math.Abs(root.Resids().Norm())).To(BeNumerically("<", 1e-5))
	})
})
