package deriv

import (
	"math"
)

// CheckResult compares one analytic block against its finite difference
// estimate.
type CheckResult struct {
	Analytic *Block
	FD       *Block
	Abs      float64
	Rel      float64
}

// Compare matches analytic and finite difference blocks key by key. A key
// present on one side only is compared against zeros.
func Compare(analytic, fd Jacobian) map[Key]CheckResult {
	out := make(map[Key]CheckResult)
	keys := make(map[Key]bool)
	for k := range analytic {
		keys[k] = true
	}
	for k := range fd {
		keys[k] = true
	}

	for k := range keys {
		a, f := analytic[k], fd[k]
		if a == nil {
			a = NewBlock(f.Rows, f.Cols)
		}
		if f == nil {
			f = NewBlock(a.Rows, a.Cols)
		}
		res := CheckResult{Analytic: a, FD: f}
		if len(a.Data) != len(f.Data) {
			res.Abs = math.Inf(1)
			res.Rel = math.Inf(1)
			out[k] = res
			continue
		}
		for i := range a.Data {
			res.Abs = math.Max(res.Abs, math.Abs(a.Data[i]-f.Data[i]))
		}
		if scale := f.MaxAbs(); scale > 0 {
			res.Rel = res.Abs / scale
		} else {
			res.Rel = res.Abs
		}
		out[k] = res
	}
	return out
}
