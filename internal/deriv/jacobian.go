package deriv

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

// Key names a Jacobian block: the derivative of Of with respect to Wrt.
type Key struct {
	Of  string
	Wrt string
}

func (k Key) String() string {
	return fmt.Sprintf("(%s, %s)", k.Of, k.Wrt)
}

// Block is a dense row-major matrix. Rows follow the flattened output and
// columns the flattened input.
type Block struct {
	Rows int
	Cols int
	Data []float64
}

func NewBlock(rows, cols int) *Block {
	return &Block{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// BlockFrom builds a block from rows of equal length.
func BlockFrom(rows [][]float64) *Block {
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
	}
	b := NewBlock(len(rows), cols)
	for i, row := range rows {
		copy(b.Data[i*cols:(i+1)*cols], row)
	}
	return b
}

func (b *Block) At(i, j int) float64 {
	return b.Data[i*b.Cols+j]
}

func (b *Block) Set(i, j int, v float64) {
	b.Data[i*b.Cols+j] = v
}

func (b *Block) IsZero() bool {
	for _, v := range b.Data {
		if v != 0 {
			return false
		}
	}
	return true
}

// MaxAbs is the largest entry magnitude.
func (b *Block) MaxAbs() float64 {
	m := 0.0
	for _, v := range b.Data {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

func (b *Block) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i := 0; i < b.Rows; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprint(&sb, b.Data[i*b.Cols:(i+1)*b.Cols])
	}
	sb.WriteByte(']')
	return sb.String()
}

// Jacobian maps (output, input) pairs to their derivative blocks.
type Jacobian map[Key]*Block

func (j Jacobian) Get(of, wrt string) *Block {
	return j[Key{Of: of, Wrt: wrt}]
}

// Keys returns the keys sorted by output, then input.
func (j Jacobian) Keys() []Key {
	keys := make([]Key, 0, len(j))
	for k := range j {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].Of != keys[b].Of {
			return keys[a].Of < keys[b].Of
		}
		return keys[a].Wrt < keys[b].Wrt
	})
	return keys
}

func (j Jacobian) Dump(w io.Writer) error {
	for _, k := range j.Keys() {
		if _, err := fmt.Fprintf(w, "%s: %s\n", k, j[k]); err != nil {
			return err
		}
	}
	return nil
}
