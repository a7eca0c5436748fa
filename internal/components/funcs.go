package components

import (
	"errors"
	"math"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	"github.com/zclconf/go-cty/cty/gocty"
)

var errNaN = errors.New("result is not a number")

// mathFunctions are callable from ExecComp expressions.
var mathFunctions = map[string]function.Function{
	"abs":   stdlib.AbsoluteFunc,
	"ceil":  stdlib.CeilFunc,
	"floor": stdlib.FloorFunc,
	"pow":   stdlib.PowFunc,
	"min":   stdlib.MinFunc,
	"max":   stdlib.MaxFunc,
	"sign":  stdlib.SignumFunc,
	"sqrt":  unary(math.Sqrt),
	"exp":   unary(math.Exp),
	"log":   unary(math.Log),
	"log10": unary(math.Log10),
	"sin":   unary(math.Sin),
	"cos":   unary(math.Cos),
	"tan":   unary(math.Tan),
	"asin":  unary(math.Asin),
	"acos":  unary(math.Acos),
	"atan":  unary(math.Atan),
	"sinh":  unary(math.Sinh),
	"cosh":  unary(math.Cosh),
	"tanh":  unary(math.Tanh),
}

func unary(fn func(float64) float64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "x", Type: cty.Number}},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			var x float64
			if err := gocty.FromCtyValue(args[0], &x); err != nil {
				return cty.NilVal, err
			}
			return toCty(fn(x))
		},
	})
}

func toCty(x float64) (cty.Value, error) {
	if math.IsNaN(x) {
		return cty.NilVal, errNaN
	}
	return cty.NumberFloatVal(x), nil
}

func fromCty(v cty.Value) (float64, error) {
	if v.IsNull() || !v.IsKnown() {
		return 0, errors.New("expression has no value")
	}
	if v.Type() != cty.Number {
		return 0, errors.New("expression is not a number: " + v.Type().FriendlyName())
	}
	var f float64
	if err := gocty.FromCtyValue(v, &f); err != nil {
		return 0, err
	}
	return f, nil
}
