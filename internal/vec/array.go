package vec

import (
	"errors"
	"fmt"
	"strings"
)

// Array is a dense float64 array stored in row-major order.
type Array struct {
	Shape []int
	Data  []float64
}

func NewArray(shape ...int) *Array {
	return &Array{Shape: cloneShape(shape), Data: make([]float64, ShapeSize(shape))}
}

// FromSlice wraps data without copying. With no shape the array is 1-d.
func FromSlice(data []float64, shape ...int) (*Array, error) {
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	if n := ShapeSize(shape); n != len(data) {
		return nil, &SizeError{Name: "array", Expected: n, Actual: len(data)}
	}
	return &Array{Shape: cloneShape(shape), Data: data}, nil
}

// ShapeSize is the element count of shape; the empty shape is a scalar.
func ShapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func (a *Array) Size() int {
	return len(a.Data)
}

func (a *Array) Clone() *Array {
	data := make([]float64, len(a.Data))
	copy(data, a.Data)
	return &Array{Shape: cloneShape(a.Shape), Data: data}
}

func (a *Array) At(idx ...int) float64 {
	return a.Data[a.offset(idx)]
}

func (a *Array) SetAt(v float64, idx ...int) {
	a.Data[a.offset(idx)] = v
}

func (a *Array) offset(idx []int) int {
	off := 0
	for i, k := range idx {
		off = off*a.Shape[i] + k
	}
	return off
}

// Equal reports bitwise equality of shape and data.
func (a *Array) Equal(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !sameShape(a.Shape, b.Shape) || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

func (a *Array) String() string {
	if len(a.Shape) <= 1 {
		return fmt.Sprint(a.Data)
	}
	var sb strings.Builder
	a.format(&sb, 0, 0)
	return sb.String()
}

func (a *Array) format(sb *strings.Builder, dim, off int) {
	stride := ShapeSize(a.Shape[dim+1:])
	sb.WriteByte('[')
	for i := 0; i < a.Shape[dim]; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if dim == len(a.Shape)-1 {
			fmt.Fprint(sb, a.Data[off+i])
		} else {
			a.format(sb, dim+1, off+i*stride)
		}
	}
	sb.WriteByte(']')
}

// Flatten returns a copy of val's elements and its shape. It fails with
// ErrNotFlat for values that cannot live in a flat buffer and with ErrRagged
// for nested slices whose rows differ in length.
func Flatten(val any) ([]float64, []int, error) {
	switch v := val.(type) {
	case float64:
		return []float64{v}, nil, nil
	case float32:
		return []float64{float64(v)}, nil, nil
	case int:
		return []float64{float64(v)}, nil, nil
	case int64:
		return []float64{float64(v)}, nil, nil
	case []float64:
		data := make([]float64, len(v))
		copy(data, v)
		return data, []int{len(v)}, nil
	case [][]float64:
		cols := 0
		if len(v) > 0 {
			cols = len(v[0])
		}
		data := make([]float64, 0, len(v)*cols)
		for i, row := range v {
			if len(row) != cols {
				return nil, nil, fmt.Errorf("%w: row %d has %d elements, row 0 has %d", ErrRagged, i, len(row), cols)
			}
			data = append(data, row...)
		}
		return data, []int{len(v), cols}, nil
	case *Array:
		if v == nil {
			return nil, nil, ErrNotFlat
		}
		c := v.Clone()
		return c.Data, c.Shape, nil
	case Array:
		c := v.Clone()
		return c.Data, c.Shape, nil
	}
	return nil, nil, ErrNotFlat
}

// Check rejects values that look like arrays but cannot be flattened.
// Anything else is accepted, flat or not.
func Check(val any) error {
	if _, _, err := Flatten(val); errors.Is(err, ErrRagged) {
		return err
	}
	return nil
}

// SameShape compares shapes; nil and empty both mean scalar.
func SameShape(a, b []int) bool {
	return sameShape(a, b)
}

func cloneShape(shape []int) []int {
	if shape == nil {
		return nil
	}
	c := make([]int, len(shape))
	copy(c, shape)
	return c
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
