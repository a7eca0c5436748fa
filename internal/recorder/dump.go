package recorder

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// DumpRecorder writes each case as readable text. Names within a section
// are sorted.
type DumpRecorder struct {
	Filter *Filter

	w      io.Writer
	closer io.Closer
	closed bool
}

// NewDumpRecorder writes to w. Close closes w when it is a closer other
// than stdout or stderr.
func NewDumpRecorder(w io.Writer, filter *Filter) *DumpRecorder {
	if filter == nil {
		filter = &Filter{}
	}
	d := &DumpRecorder{Filter: filter, w: w}
	if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
		d.closer = c
	}
	return d
}

func (d *DumpRecorder) Startup(meta Metadata) error {
	if d.closed {
		return ErrClosed
	}
	_, err := fmt.Fprintf(d.w, "Recording %d params, %d unknowns, %d resids\n",
		len(d.Filter.Select(meta.Params)), len(d.Filter.Select(meta.Unknowns)), len(d.Filter.Select(meta.Resids)))
	return err
}

func (d *DumpRecorder) Record(c *Case) error {
	if d.closed {
		return ErrClosed
	}
	fc := d.Filter.Apply(c)

	if _, err := fmt.Fprintf(d.w, "Iteration Coordinate: %s\n", fc.Coordinate); err != nil {
		return err
	}
	if !fc.Timestamp.IsZero() {
		fmt.Fprintf(d.w, "Timestamp: %s\n", fc.Timestamp.Format(time.RFC3339))
	}
	if !fc.Success {
		fmt.Fprintf(d.w, "Failed: %s\n", fc.Msg)
	}
	for _, section := range []struct {
		title string
		vars  []Var
	}{
		{"Params", fc.Params},
		{"Unknowns", fc.Unknowns},
		{"Resids", fc.Resids},
	} {
		if _, err := fmt.Fprintf(d.w, "%s:\n", section.title); err != nil {
			return err
		}
		vars := append([]Var(nil), section.vars...)
		sort.SliceStable(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
		for _, v := range vars {
			if _, err := fmt.Fprintf(d.w, "  %s: %v\n", v.Name, v.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *DumpRecorder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
