package solvers

import (
	"go.uber.org/zap"

	"github.com/san-kum/mdao/internal/system"
	"github.com/san-kum/mdao/internal/vec"
)

// RunOnce executes the children of a group a single time.
type RunOnce struct {
	IterCount int
}

func NewRunOnce() *RunOnce {
	return &RunOnce{}
}

func (s *RunOnce) Solve(params, unknowns, resids *vec.Vector, g *system.Group) error {
	s.IterCount = 1
	return g.ChildrenSolveNonlinear()
}

// NLGaussSeidel repeats ordered passes over a group's children until the
// group residual norm meets the absolute or relative tolerance.
type NLGaussSeidel struct {
	Atol    float64
	Rtol    float64
	MaxIter int
	Logger  *zap.Logger

	IterCount int
	Norm      float64
	Converged bool
}

func NewNLGaussSeidel() *NLGaussSeidel {
	return &NLGaussSeidel{
		Atol:    1e-6,
		Rtol:    1e-6,
		MaxIter: 100,
	}
}

func (s *NLGaussSeidel) Solve(params, unknowns, resids *vec.Vector, g *system.Group) error {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s.IterCount = 0
	s.Converged = false

	if err := g.ChildrenSolveNonlinear(); err != nil {
		return err
	}
	s.IterCount++
	if err := g.ApplyNonlinear(params, unknowns, resids); err != nil {
		return err
	}
	s.Norm = resids.Norm()
	base := s.Norm
	if base <= s.Atol {
		base = 1.0
	}

	for s.IterCount < s.MaxIter && s.Norm > s.Atol && s.Norm/base > s.Rtol {
		if err := g.ChildrenSolveNonlinear(); err != nil {
			return err
		}
		s.IterCount++
		if err := g.ApplyNonlinear(params, unknowns, resids); err != nil {
			return err
		}
		s.Norm = resids.Norm()
		log.Debug("gauss-seidel iteration",
			zap.String("group", g.Pathname()),
			zap.Int("iter", s.IterCount),
			zap.Float64("norm", s.Norm),
		)
	}

	s.Converged = s.Norm <= s.Atol || s.Norm/base <= s.Rtol
	if !s.Converged {
		log.Warn("gauss-seidel did not converge",
			zap.String("group", g.Pathname()),
			zap.Int("iter", s.IterCount),
			zap.Float64("norm", s.Norm),
		)
	}
	return nil
}
