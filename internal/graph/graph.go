package graph

import (
	"fmt"
)

// Graph is a directed graph whose nodes keep their insertion order, so every
// traversal is deterministic.
type Graph struct {
	nodes map[string]*node
	order []string
}

type node struct {
	id         string
	index      int
	deps       []string
	dependents []string
	depSet     map[string]bool
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
	}
}

// AddNode adds a node. Adding an existing ID does nothing.
func (g *Graph) AddNode(id string) {
	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = &node{
		id:     id,
		index:  len(g.order),
		depSet: make(map[string]bool),
	}
	g.order = append(g.order, id)
}

// AddEdge records that toID depends on fromID. Repeated edges are ignored.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}
	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}
	if toNode.depSet[fromID] {
		return nil
	}

	toNode.depSet[fromID] = true
	toNode.deps = append(toNode.deps, fromID)
	fromNode.dependents = append(fromNode.dependents, toID)
	return nil
}

// Nodes returns node IDs in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Dependencies returns the IDs the given node depends on.
func (g *Graph) Dependencies(id string) ([]string, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	out := make([]string, len(n.deps))
	copy(out, n.deps)
	return out, nil
}

// Dependents returns the IDs that depend on the given node.
func (g *Graph) Dependents(id string) ([]string, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	out := make([]string, len(n.dependents))
	copy(out, n.dependents)
	return out, nil
}

// DetectCycles returns an error naming a node on the first cycle found.
func (g *Graph) DetectCycles() error {
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *node) error
	visit = func(n *node) error {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			return fmt.Errorf("cycle detected involving node '%s'", n.id)
		}
		temporary[n.id] = true
		for _, id := range n.dependents {
			if err := visit(g.nodes[id]); err != nil {
				return err
			}
		}
		delete(temporary, n.id)
		permanent[n.id] = true
		return nil
	}

	for _, id := range g.order {
		if err := visit(g.nodes[id]); err != nil {
			return err
		}
	}
	return nil
}

// Cycles returns the strongly connected components with more than one node,
// each listed in insertion order.
func (g *Graph) Cycles() [][]string {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var out [][]string

	var strongConnect func(id string)
	strongConnect = func(id string) {
		indices[id] = index
		lowlink[id] = index
		index++
		stack = append(stack, id)
		onStack[id] = true

		for _, next := range g.nodes[id].dependents {
			if _, seen := indices[next]; !seen {
				strongConnect(next)
				lowlink[id] = min(lowlink[id], lowlink[next])
			} else if onStack[next] {
				lowlink[id] = min(lowlink[id], indices[next])
			}
		}

		if lowlink[id] != indices[id] {
			return
		}
		var scc []string
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			scc = append(scc, top)
			if top == id {
				break
			}
		}
		if len(scc) > 1 {
			out = append(out, g.byInsertion(scc))
		}
	}

	for _, id := range g.order {
		if _, seen := indices[id]; !seen {
			strongConnect(id)
		}
	}

	// Order the components by their earliest member.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && g.nodes[out[j][0]].index < g.nodes[out[j-1][0]].index; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// TopoSort orders nodes so dependencies come first. Among ready nodes the
// earliest inserted wins. When nothing is ready, the earliest inserted
// remaining member of a cycle whose outside dependencies are all done is
// emitted and its unmet dependencies inside the cycle are ignored.
func (g *Graph) TopoSort() []string {
	pending := make(map[string]int, len(g.order))
	for _, id := range g.order {
		pending[id] = len(g.nodes[id].deps)
	}
	done := make(map[string]bool, len(g.order))
	out := make([]string, 0, len(g.order))
	var cycles [][]string
	var member map[string]int

	for len(out) < len(g.order) {
		next := ""
		for _, id := range g.order {
			if !done[id] && pending[id] == 0 {
				next = id
				break
			}
		}
		if next == "" {
			if member == nil {
				cycles = g.Cycles()
				member = make(map[string]int)
				for i, c := range cycles {
					for _, id := range c {
						member[id] = i
					}
				}
			}
			next = g.breakCycle(cycles, member, done)
		}
		done[next] = true
		out = append(out, next)
		for _, dep := range g.nodes[next].dependents {
			pending[dep]--
		}
	}
	return out
}

// breakCycle picks the node to emit when every remaining node waits on
// another one.
func (g *Graph) breakCycle(cycles [][]string, member map[string]int, done map[string]bool) string {
	for _, id := range g.order {
		if done[id] {
			continue
		}
		c, ok := member[id]
		if ok && g.entered(cycles[c], c, member, done) {
			return id
		}
	}
	for _, id := range g.order {
		if !done[id] {
			return id
		}
	}
	return ""
}

// entered reports whether every dependency from outside cycle c is done.
func (g *Graph) entered(cycle []string, c int, member map[string]int, done map[string]bool) bool {
	for _, id := range cycle {
		for _, dep := range g.nodes[id].deps {
			if done[dep] {
				continue
			}
			if dc, ok := member[dep]; !ok || dc != c {
				return false
			}
		}
	}
	return true
}

func (g *Graph) byInsertion(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && g.nodes[out[j]].index < g.nodes[out[j-1]].index; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
