package vec

// Meta describes one variable: where it lives in the hierarchy, how big it is
// and whether it can live in a flat buffer.
type Meta struct {
	Pathname     string
	RelName      string
	PromotedName string
	Shape        []int
	Size         int
	Flat         bool
	State        bool
	Val          any
}

// NewMeta derives shape, size and flatness from val. A nil val declares a
// variable with no default whose shape is filled in later. Values rejected by
// Check are treated as non-flat.
func NewMeta(relName string, val any) *Meta {
	m := &Meta{RelName: relName, Val: val, Flat: true}
	if val == nil {
		return m
	}
	data, shape, err := Flatten(val)
	if err != nil {
		m.Flat = false
		return m
	}
	m.Shape = shape
	m.Size = len(data)
	return m
}

func (m *Meta) HasValue() bool {
	return m.Val != nil
}

func (m *Meta) Clone() *Meta {
	c := *m
	c.Shape = cloneShape(m.Shape)
	return &c
}

// Adopt copies shape, size and flatness from a connected source.
func (m *Meta) Adopt(src *Meta) {
	m.Shape = cloneShape(src.Shape)
	m.Size = src.Size
	m.Flat = src.Flat
}
