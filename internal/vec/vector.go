package vec

import (
	"fmt"
	"io"
	"math"
)

// Vector maps variable names onto one contiguous float64 buffer. Values that
// cannot be flattened are held by reference beside the buffer.
type Vector struct {
	pathname string
	buf      []float64
	names    []string
	slots    map[string]*slot
}

type slot struct {
	meta  *Meta
	start int
	end   int
	box   *box
}

// box lets views share a non-flat reference with their parent vector.
type box struct {
	val any
}

func New(pathname string) *Vector {
	return &Vector{pathname: pathname, slots: make(map[string]*slot)}
}

// Setup allocates the buffer for metas in order, keyed by RelName. When
// storeNoFlats is false a non-flat descriptor is rejected.
func (v *Vector) Setup(metas []*Meta, storeNoFlats bool) error {
	size := 0
	seen := make(map[string]bool, len(metas))
	for _, m := range metas {
		if seen[m.RelName] {
			return fmt.Errorf("%w: %s", ErrDuplicateName, m.RelName)
		}
		seen[m.RelName] = true
		if !m.Flat && !storeNoFlats {
			return fmt.Errorf("%w: %s", ErrNotFlat, m.RelName)
		}
		if m.Flat {
			size += m.Size
		}
	}

	v.buf = make([]float64, size)
	v.names = make([]string, 0, len(metas))
	v.slots = make(map[string]*slot, len(metas))

	off := 0
	for _, m := range metas {
		s := &slot{meta: m, start: off, end: off}
		if m.Flat {
			s.end = off + m.Size
			off = s.end
			if m.Val != nil {
				data, _, err := Flatten(m.Val)
				if err != nil {
					return fmt.Errorf("%s: %w", m.RelName, err)
				}
				if len(data) != m.Size {
					return &SizeError{Name: m.RelName, Expected: m.Size, Actual: len(data)}
				}
				copy(v.buf[s.start:s.end], data)
			}
		} else {
			s.box = &box{val: m.Val}
		}
		v.names = append(v.names, m.RelName)
		v.slots[m.RelName] = s
	}
	return nil
}

func (v *Vector) Pathname() string {
	return v.pathname
}

// Get returns a float64 for scalars, an *Array view into the buffer for other
// flat variables, and the stored reference for non-flat ones.
func (v *Vector) Get(name string) (any, error) {
	s, ok := v.slots[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchName, name)
	}
	if s.box != nil {
		return s.box.val, nil
	}
	if len(s.meta.Shape) == 0 && s.end-s.start == 1 {
		return v.buf[s.start], nil
	}
	shape := s.meta.Shape
	if len(shape) == 0 {
		shape = []int{s.end - s.start}
	}
	return &Array{Shape: cloneShape(shape), Data: v.buf[s.start:s.end:s.end]}, nil
}

// Set copies a flattenable value into the buffer or replaces a non-flat
// reference. Flat values must match the variable size exactly.
func (v *Vector) Set(name string, val any) error {
	s, ok := v.slots[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchName, name)
	}
	if s.box != nil {
		s.box.val = val
		return nil
	}
	data, _, err := Flatten(val)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if len(data) != s.end-s.start {
		return &SizeError{Name: name, Expected: s.end - s.start, Actual: len(data)}
	}
	copy(v.buf[s.start:s.end], data)
	return nil
}

// Flat returns the buffer slice of name, or nil for missing or non-flat names.
func (v *Vector) Flat(name string) []float64 {
	s, ok := v.slots[name]
	if !ok || s.box != nil {
		return nil
	}
	return v.buf[s.start:s.end:s.end]
}

// Float returns the first element of a flat variable. It panics if name is
// missing, non-flat or empty.
func (v *Vector) Float(name string) float64 {
	s := v.mustFlat(name)
	if s.end == s.start {
		panic(fmt.Sprintf("vec: %s has no elements", name))
	}
	return v.buf[s.start]
}

// SetFloat writes a scalar variable. It panics unless name is a flat
// variable of size one.
func (v *Vector) SetFloat(name string, x float64) {
	s := v.mustFlat(name)
	if s.end-s.start != 1 {
		panic(&SizeError{Name: name, Expected: s.end - s.start, Actual: 1})
	}
	v.buf[s.start] = x
}

func (v *Vector) mustFlat(name string) *slot {
	s, ok := v.slots[name]
	if !ok {
		panic(fmt.Sprintf("vec: no such variable %q in %q", name, v.pathname))
	}
	if s.box != nil {
		panic(fmt.Sprintf("vec: %s is not flat", name))
	}
	return s
}

// Keys returns the variable names in collection order.
func (v *Vector) Keys() []string {
	out := make([]string, len(v.names))
	copy(out, v.names)
	return out
}

func (v *Vector) Len() int {
	return len(v.names)
}

func (v *Vector) Has(name string) bool {
	_, ok := v.slots[name]
	return ok
}

func (v *Vector) Meta(name string) *Meta {
	s, ok := v.slots[name]
	if !ok {
		return nil
	}
	return s.meta
}

// Bounds returns the half-open buffer range of a flat variable.
func (v *Vector) Bounds(name string) (int, int, bool) {
	s, ok := v.slots[name]
	if !ok || s.box != nil {
		return 0, 0, false
	}
	return s.start, s.end, true
}

// Vec exposes the flat buffer itself.
func (v *Vector) Vec() []float64 {
	return v.buf
}

func (v *Vector) Norm() float64 {
	sum := 0.0
	for _, x := range v.buf {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// States lists the flat names flagged as implicit states.
func (v *Vector) States() []string {
	var out []string
	for _, name := range v.names {
		s := v.slots[name]
		if s.meta.State && s.box == nil {
			out = append(out, name)
		}
	}
	return out
}

// FlatNames lists names held in the buffer, in collection order.
func (v *Vector) FlatNames() []string {
	out := make([]string, 0, len(v.names))
	for _, name := range v.names {
		if v.slots[name].box == nil {
			out = append(out, name)
		}
	}
	return out
}

// Snapshot copies the buffer.
func (v *Vector) Snapshot() []float64 {
	out := make([]float64, len(v.buf))
	copy(out, v.buf)
	return out
}

func (v *Vector) Restore(snap []float64) error {
	if len(snap) != len(v.buf) {
		return &SizeError{Name: v.pathname, Expected: len(v.buf), Actual: len(snap)}
	}
	copy(v.buf, snap)
	return nil
}

// Zero clears every flat entry.
func (v *Vector) Zero() {
	for i := range v.buf {
		v.buf[i] = 0
	}
}

// Rename maps a name of the parent vector onto the name used in a view.
type Rename struct {
	From string
	To   string
}

// View builds a vector over a contiguous part of v's buffer. Flat entries
// alias v's buffer and non-flat entries share v's references.
func (v *Vector) View(pathname string, names []Rename) (*Vector, error) {
	lo, hi, total := -1, -1, 0
	for _, r := range names {
		s, ok := v.slots[r.From]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchName, r.From)
		}
		if s.box != nil || s.end == s.start {
			continue
		}
		if lo < 0 || s.start < lo {
			lo = s.start
		}
		if s.end > hi {
			hi = s.end
		}
		total += s.end - s.start
	}
	if lo < 0 {
		lo, hi = 0, 0
	}
	if hi-lo != total {
		return nil, fmt.Errorf("%w: %s", ErrNotContiguous, pathname)
	}

	view := &Vector{
		pathname: pathname,
		buf:      v.buf[lo:hi:hi],
		names:    make([]string, 0, len(names)),
		slots:    make(map[string]*slot, len(names)),
	}
	for _, r := range names {
		if _, dup := view.slots[r.To]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, r.To)
		}
		s := v.slots[r.From]
		vs := &slot{meta: s.meta, box: s.box}
		if s.box == nil {
			vs.start, vs.end = s.start-lo, s.end-lo
			if s.end == s.start {
				vs.start, vs.end = 0, 0
			}
		}
		view.names = append(view.names, r.To)
		view.slots[r.To] = vs
	}
	return view, nil
}

// Copy moves the value of src[srcName] into dst[dstName]. Flat values are
// copied element-wise and non-flat references are shared.
func Copy(dst *Vector, dstName string, src *Vector, srcName string) error {
	ss, ok := src.slots[srcName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchName, srcName)
	}
	ds, ok := dst.slots[dstName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchName, dstName)
	}
	switch {
	case ss.box != nil && ds.box != nil:
		ds.box.val = ss.box.val
	case ss.box == nil && ds.box == nil:
		if ss.end-ss.start != ds.end-ds.start {
			return &SizeError{Name: dstName, Expected: ds.end - ds.start, Actual: ss.end - ss.start}
		}
		copy(dst.buf[ds.start:ds.end], src.buf[ss.start:ss.end])
	default:
		return fmt.Errorf("%w: %s -> %s", ErrNotFlat, srcName, dstName)
	}
	return nil
}

// Dump writes one line per variable with its buffer range and value.
func (v *Vector) Dump(w io.Writer) error {
	for _, name := range v.names {
		s := v.slots[name]
		var err error
		if s.box != nil {
			_, err = fmt.Fprintf(w, "%s: (by obj) %v\n", name, s.box.val)
		} else {
			val, _ := v.Get(name)
			_, err = fmt.Fprintf(w, "%s: [%d:%d] %v\n", name, s.start, s.end, val)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
