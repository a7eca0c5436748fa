package deriv

import (
	"fmt"
	"math"
)

type Form string

const (
	Forward  Form = "forward"
	Backward Form = "backward"
	Central  Form = "central"
)

// StepCalc selects how the perturbation size is derived from the step.
type StepCalc string

const (
	Absolute StepCalc = "absolute"
	Relative StepCalc = "relative"
)

const DefaultStep = 1e-6

type Options struct {
	Form     Form     `yaml:"form" json:"form"`
	Step     float64  `yaml:"step" json:"step"`
	StepCalc StepCalc `yaml:"step_calc" json:"step_calc"`
	// KeepZeroBlocks reports blocks whose entries are all zero.
	KeepZeroBlocks bool `yaml:"keep_zero_blocks" json:"keep_zero_blocks"`
}

func DefaultOptions() Options {
	return Options{
		Form:     Forward,
		Step:     DefaultStep,
		StepCalc: Absolute,
	}
}

func (o Options) Validate() error {
	switch o.Form {
	case Forward, Backward, Central:
	default:
		return fmt.Errorf("%w: form %q", ErrBadOptions, o.Form)
	}
	switch o.StepCalc {
	case Absolute, Relative:
	default:
		return fmt.Errorf("%w: step_calc %q", ErrBadOptions, o.StepCalc)
	}
	if !(o.Step > 0) || math.IsInf(o.Step, 0) {
		return fmt.Errorf("%w: step %g", ErrBadOptions, o.Step)
	}
	return nil
}

// StepFor returns the perturbation for an element currently at x. Relative
// steps fall back to the absolute step at zero.
func (o Options) StepFor(x float64) float64 {
	if o.StepCalc == Relative && x != 0 {
		return o.Step * math.Abs(x)
	}
	return o.Step
}
