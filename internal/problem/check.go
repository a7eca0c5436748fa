package problem

import (
	"fmt"
	"io"
	"strings"

	"github.com/san-kum/mdao/internal/system"
)

// CheckSetup reports dangling params, unknowns nothing reads, and groups
// whose children feed each other. It returns the number of findings.
func (p *Problem) CheckSetup(w io.Writer) (int, error) {
	if p.layout == nil {
		return 0, ErrNotSetup
	}
	found := 0

	if len(p.layout.Dangling) > 0 {
		fmt.Fprintln(w, "Dangling params:")
		for _, name := range p.layout.Dangling {
			fmt.Fprintf(w, "  %s\n", name)
		}
		found += len(p.layout.Dangling)
	}

	if len(p.layout.Unconnected) > 0 {
		fmt.Fprintln(w, "Unconnected unknowns:")
		for _, name := range p.layout.Unconnected {
			fmt.Fprintf(w, "  %s\n", name)
		}
		found += len(p.layout.Unconnected)
	}

	var cycles []string
	walkGroups(p.Root, func(g *system.Group) {
		name := g.Pathname()
		if name == "" {
			name = "root"
		}
		for _, c := range g.Cycles() {
			cycles = append(cycles, fmt.Sprintf("  %s: %s", name, strings.Join(c, ", ")))
		}
	})
	if len(cycles) > 0 {
		fmt.Fprintln(w, "Cycles:")
		for _, line := range cycles {
			fmt.Fprintln(w, line)
		}
		found += len(cycles)
	}

	if found == 0 {
		_, err := fmt.Fprintln(w, "No issues found.")
		return 0, err
	}
	return found, nil
}

func walkGroups(g *system.Group, fn func(*system.Group)) {
	fn(g)
	for _, sub := range g.Subsystems() {
		if sg := system.AsGroup(sub); sg != nil {
			walkGroups(sg, fn)
		}
	}
}
