package recorder

import (
	"errors"
	"fmt"
	"time"
)

var ErrClosed = errors.New("recorder: closed")

// Var is one recorded variable.
type Var struct {
	Name  string
	Value any
}

// Coordinate locates a case within a run.
type Coordinate struct {
	Rank   int
	Driver int
	Root   int
}

func (c Coordinate) String() string {
	return fmt.Sprintf("rank%d:Driver/%d/root/%d", c.Rank, c.Driver, c.Root)
}

// Case is the full contents of the root vectors after one evaluation.
// Each section keeps the vector's collection order.
type Case struct {
	Coordinate Coordinate
	Timestamp  time.Time
	Params     []Var
	Unknowns   []Var
	Resids     []Var
	Success    bool
	Msg        string
}

// Lookup finds name among the case's unknowns, then its params.
func (c *Case) Lookup(name string) (any, bool) {
	for _, section := range [][]Var{c.Unknowns, c.Params} {
		for _, v := range section {
			if v.Name == name {
				return v.Value, true
			}
		}
	}
	return nil, false
}

// Metadata describes the model before the first case.
type Metadata struct {
	Params      []string
	Unknowns    []string
	Resids      []string
	Connections map[string]string
	Options     map[string]string
}

type Recorder interface {
	Startup(meta Metadata) error
	Record(c *Case) error
	Close() error
}

// Multi fans out to several recorders and stops at the first error.
type Multi []Recorder

func (m Multi) Startup(meta Metadata) error {
	for _, r := range m {
		if err := r.Startup(meta); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Record(c *Case) error {
	for _, r := range m {
		if err := r.Record(c); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every recorder and returns the first error.
func (m Multi) Close() error {
	var first error
	for _, r := range m {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
