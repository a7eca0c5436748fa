package metrics

import (
	"math"

	"github.com/san-kum/mdao/internal/recorder"
)

// Metric folds the cases of a run into one number.
type Metric interface {
	Name() string
	Observe(c *recorder.Case)
	Value() float64
	Reset()
}

type CaseCount struct {
	name  string
	count int
}

func NewCaseCount() *CaseCount {
	return &CaseCount{name: "cases"}
}

func (m *CaseCount) Name() string {
	return m.name
}

func (m *CaseCount) Observe(c *recorder.Case) {
	m.count++
}

func (m *CaseCount) Value() float64 {
	return float64(m.count)
}

func (m *CaseCount) Reset() {
	m.count = 0
}

// SuccessRate is the fraction of cases that solved.
type SuccessRate struct {
	name    string
	ok      int
	samples int
}

func NewSuccessRate() *SuccessRate {
	return &SuccessRate{name: "success_rate"}
}

func (m *SuccessRate) Name() string {
	return m.name
}

func (m *SuccessRate) Observe(c *recorder.Case) {
	m.samples++
	if c.Success {
		m.ok++
	}
}

func (m *SuccessRate) Value() float64 {
	if m.samples == 0 {
		return 1.0
	}
	return float64(m.ok) / float64(m.samples)
}

func (m *SuccessRate) Reset() {
	m.ok = 0
	m.samples = 0
}

// ObjectiveMin tracks the smallest value of a scalar unknown over the
// successful cases.
type ObjectiveMin struct {
	name      string
	objective string
	best      float64
}

func NewObjectiveMin(objective string) *ObjectiveMin {
	return &ObjectiveMin{
		name:      objective + "_min",
		objective: objective,
		best:      math.Inf(1),
	}
}

func (m *ObjectiveMin) Name() string {
	return m.name
}

func (m *ObjectiveMin) Observe(c *recorder.Case) {
	if !c.Success {
		return
	}
	v, ok := c.Lookup(m.objective)
	if !ok {
		return
	}
	if x, ok := v.(float64); ok && x < m.best {
		m.best = x
	}
}

func (m *ObjectiveMin) Value() float64 {
	return m.best
}

func (m *ObjectiveMin) Reset() {
	m.best = math.Inf(1)
}

// ResidualNorm is the largest residual norm seen in any case.
type ResidualNorm struct {
	name string
	max  float64
}

func NewResidualNorm() *ResidualNorm {
	return &ResidualNorm{name: "max_resid_norm"}
}

func (m *ResidualNorm) Name() string {
	return m.name
}

func (m *ResidualNorm) Observe(c *recorder.Case) {
	sum := 0.0
	for _, v := range c.Resids {
		switch x := v.Value.(type) {
		case float64:
			sum += x * x
		case []float64:
			for _, e := range x {
				sum += e * e
			}
		}
	}
	m.max = math.Max(m.max, math.Sqrt(sum))
}

func (m *ResidualNorm) Value() float64 {
	return m.max
}

func (m *ResidualNorm) Reset() {
	m.max = 0
}
