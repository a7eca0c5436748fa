package system

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar"
	"go.uber.org/zap"

	"github.com/san-kum/mdao/internal/graph"
	"github.com/san-kum/mdao/internal/vec"
)

// Layout is what Setup resolved about the model.
type Layout struct {
	// Connections maps each connected param pathname to its source unknown.
	Connections map[string]string
	// Dangling lists unconnected params that keep their own value.
	Dangling []string
	// Unconnected lists unknowns that feed no param.
	Unconnected []string
	// ParamsByName maps a top-level promoted param name to its pathnames.
	ParamsByName map[string][]string
	// UnknownNames maps unknown pathnames to top-level promoted names.
	UnknownNames map[string]string
}

type resolver struct {
	log      *zap.Logger
	params   map[string]*vec.Meta
	unknowns map[string]*vec.Meta
	conns    map[string]string
	topNames map[string]string
}

// Setup assigns pathnames, resolves promotions and connections, allocates
// the root vectors and hands every descendant a view of them. Structure is
// fixed afterwards.
func Setup(root *Group, logger *zap.Logger) (*Layout, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	root.self = root
	root.name = ""

	r := &resolver{
		log:      logger,
		params:   make(map[string]*vec.Meta),
		unknowns: make(map[string]*vec.Meta),
		conns:    make(map[string]string),
		topNames: make(map[string]string),
	}

	if err := r.assignPaths(root, ""); err != nil {
		return nil, err
	}
	if err := r.collect(root); err != nil {
		return nil, err
	}
	if err := r.resolveExplicit(root); err != nil {
		return nil, err
	}
	if err := r.resolveImplicit(root); err != nil {
		return nil, err
	}
	dangling, err := r.checkParams(root)
	if err != nil {
		return nil, err
	}
	if err := r.allocate(root); err != nil {
		return nil, err
	}
	if err := r.views(root, root); err != nil {
		return nil, err
	}
	if err := r.order(root); err != nil {
		return nil, err
	}

	layout := r.layout(root, dangling)
	logger.Debug("setup complete",
		zap.Int("params", len(root.paramNames)),
		zap.Int("unknowns", len(root.unknownNames)),
		zap.Int("connections", len(layout.Connections)),
		zap.Int("dangling", len(layout.Dangling)),
	)
	return layout, nil
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// within reports whether path lies in the subtree rooted at sysPath.
func within(path, sysPath string) bool {
	return sysPath == "" || strings.HasPrefix(path, sysPath+".")
}

func scoped(path, sysPath string) string {
	if sysPath == "" {
		return path
	}
	return strings.TrimPrefix(path, sysPath+".")
}

func (r *resolver) assignPaths(g *Group, pathname string) error {
	g.pathname = pathname
	if len(g.errs) > 0 {
		e := *g.errs[0]
		e.Pathname = joinPath(pathname, e.Pathname)
		return &e
	}
	for _, sub := range g.subs {
		b := sub.base()
		b.pathname = joinPath(pathname, b.name)
		if sg := asGroup(sub); sg != nil {
			if err := r.assignPaths(sg, b.pathname); err != nil {
				return err
			}
			continue
		}
		c := asComponent(sub)
		if c == nil {
			return fmt.Errorf("system: %s is neither a component nor a group", b.pathname)
		}
		if len(c.errs) > 0 {
			e := *c.errs[0]
			e.Pathname = joinPath(b.pathname, e.Pathname)
			return &e
		}
		for _, m := range c.params {
			pm := m.Clone()
			pm.Pathname = joinPath(b.pathname, m.RelName)
			r.params[pm.Pathname] = pm
		}
		for _, m := range c.unknowns {
			um := m.Clone()
			um.Pathname = joinPath(b.pathname, m.RelName)
			r.unknowns[um.Pathname] = um
		}
	}
	return nil
}

// collect fills in every system's promoted names bottom-up.
func (r *resolver) collect(sys System) error {
	b := sys.base()
	b.paramNames = nil
	b.unknownNames = nil

	if c := asComponent(sys); c != nil {
		for _, m := range c.params {
			b.paramNames = append(b.paramNames, namePair{path: joinPath(b.pathname, m.RelName), name: m.RelName})
		}
		for _, m := range c.unknowns {
			b.unknownNames = append(b.unknownNames, namePair{path: joinPath(b.pathname, m.RelName), name: m.RelName})
		}
		return nil
	}

	g := asGroup(sys)
	owner := make(map[string]string)
	for _, sub := range g.subs {
		if err := r.collect(sub); err != nil {
			return err
		}
		sb := sub.base()
		for _, p := range sb.paramNames {
			name, err := promotedName(sb, p.name)
			if err != nil {
				return err
			}
			b.paramNames = append(b.paramNames, namePair{path: p.path, name: name})
		}
		for _, u := range sb.unknownNames {
			name, err := promotedName(sb, u.name)
			if err != nil {
				return err
			}
			if prev, dup := owner[name]; dup {
				return &ConfigError{
					Pathname: joinPath(b.pathname, name),
					Wrapped:  ErrDuplicateVariable,
					Detail:   fmt.Sprintf("promoted from both %s and %s", prev, u.path),
				}
			}
			owner[name] = u.path
			b.unknownNames = append(b.unknownNames, namePair{path: u.path, name: name})
		}
	}
	return nil
}

func promotedName(child *node, name string) (string, error) {
	for _, pattern := range child.promotes {
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			return "", &ConfigError{Pathname: child.pathname, Wrapped: err, Detail: "bad promotion pattern " + pattern}
		}
		if ok {
			return name, nil
		}
	}
	return child.name + "." + name, nil
}

func (r *resolver) resolveExplicit(g *Group) error {
	if len(g.conns) > 0 {
		unknownByName := make(map[string]string, len(g.unknownNames))
		for _, u := range g.unknownNames {
			unknownByName[u.name] = u.path
		}
		paramsByName := make(map[string][]string)
		for _, p := range g.paramNames {
			paramsByName[p.name] = append(paramsByName[p.name], p.path)
		}

		for _, c := range g.conns {
			src, ok := unknownByName[c.source]
			if !ok {
				wrapped := ErrNoSuchVariable
				if _, isParam := paramsByName[c.source]; isParam {
					wrapped = ErrInvalidSource
				}
				return &ConfigError{Pathname: joinPath(g.pathname, c.source), Wrapped: wrapped, Detail: "connect source"}
			}
			targets, ok := paramsByName[c.target]
			if !ok {
				wrapped := ErrNoSuchVariable
				if _, isUnknown := unknownByName[c.target]; isUnknown {
					wrapped = ErrInvalidTarget
				}
				return &ConfigError{Pathname: joinPath(g.pathname, c.target), Wrapped: wrapped, Detail: "connect target"}
			}
			for _, tgt := range targets {
				if prev, dup := r.conns[tgt]; dup {
					return &ConfigError{
						Pathname: tgt,
						Wrapped:  ErrMultipleSources,
						Detail:   fmt.Sprintf("connected to %s and %s", prev, src),
					}
				}
				r.conns[tgt] = src
			}
		}
	}

	for _, sub := range g.subs {
		if sg := asGroup(sub); sg != nil {
			if err := r.resolveExplicit(sg); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveImplicit connects params to unknowns sharing their promoted name.
// Names that coincide in any group still coincide at the root.
func (r *resolver) resolveImplicit(root *Group) error {
	unknownByName := make(map[string]string, len(root.unknownNames))
	for _, u := range root.unknownNames {
		unknownByName[u.name] = u.path
	}
	for _, p := range root.paramNames {
		src, ok := unknownByName[p.name]
		if !ok {
			continue
		}
		if prev, dup := r.conns[p.path]; dup {
			if prev == src {
				continue
			}
			return &ConfigError{
				Pathname: p.path,
				Wrapped:  ErrMultipleSources,
				Detail:   fmt.Sprintf("connected to %s and %s", prev, src),
			}
		}
		r.conns[p.path] = src
	}
	return nil
}

func (r *resolver) checkParams(root *Group) ([]string, error) {
	var dangling []string
	for _, p := range root.paramNames {
		tgt := r.params[p.path]
		srcPath, ok := r.conns[p.path]
		if !ok {
			if !tgt.HasValue() {
				return nil, &ConfigError{Pathname: p.path, Wrapped: ErrUnresolvedParam}
			}
			dangling = append(dangling, p.path)
			continue
		}
		src := r.unknowns[srcPath]
		if !tgt.HasValue() {
			tgt.Adopt(src)
			continue
		}
		if tgt.Flat != src.Flat || (tgt.Flat && (tgt.Size != src.Size || !vec.SameShape(tgt.Shape, src.Shape))) {
			return nil, &ConfigError{
				Pathname: p.path,
				Wrapped:  ErrShapeMismatch,
				Detail:   fmt.Sprintf("source %s has %s, target has %s", srcPath, describe(src), describe(tgt)),
			}
		}
	}
	return dangling, nil
}

func describe(m *vec.Meta) string {
	if !m.Flat {
		return "a non-flat value"
	}
	if len(m.Shape) == 0 {
		return "a scalar"
	}
	dims := make([]string, len(m.Shape))
	for i, d := range m.Shape {
		dims[i] = strconv.Itoa(d)
	}
	return fmt.Sprintf("shape (%s)", strings.Join(dims, ","))
}

func (r *resolver) allocate(root *Group) error {
	unknowns := make([]*vec.Meta, 0, len(root.unknownNames))
	resids := make([]*vec.Meta, 0, len(root.unknownNames))
	for _, u := range root.unknownNames {
		m := r.unknowns[u.path]
		m.PromotedName = u.name
		r.topNames[u.path] = u.name

		top := m.Clone()
		top.RelName = u.name
		unknowns = append(unknowns, top)
		if m.Flat {
			res := top.Clone()
			res.Val = nil
			resids = append(resids, res)
		}
	}

	params := make([]*vec.Meta, 0, len(root.paramNames))
	for _, p := range root.paramNames {
		m := r.params[p.path]
		m.PromotedName = p.name
		top := m.Clone()
		top.RelName = p.path
		params = append(params, top)
	}

	root.unknowns = vec.New("")
	if err := root.unknowns.Setup(unknowns, true); err != nil {
		return fmt.Errorf("allocate unknowns: %w", err)
	}
	root.resids = vec.New("")
	if err := root.resids.Setup(resids, false); err != nil {
		return fmt.Errorf("allocate resids: %w", err)
	}
	root.params = vec.New("")
	if err := root.params.Setup(params, true); err != nil {
		return fmt.Errorf("allocate params: %w", err)
	}
	return nil
}

// views hands each descendant of g a view of the root vectors.
func (r *resolver) views(root, g *Group) error {
	for _, sub := range g.subs {
		b := sub.base()

		var uNames, rNames, pNames []vec.Rename
		for _, u := range b.unknownNames {
			rn := vec.Rename{From: r.topNames[u.path], To: u.name}
			uNames = append(uNames, rn)
			if r.unknowns[u.path].Flat {
				rNames = append(rNames, rn)
			}
		}
		for _, p := range b.paramNames {
			pNames = append(pNames, vec.Rename{From: p.path, To: scoped(p.path, b.pathname)})
		}

		var err error
		if b.unknowns, err = root.unknowns.View(b.pathname, uNames); err != nil {
			return fmt.Errorf("unknowns view for %s: %w", b.pathname, err)
		}
		if b.resids, err = root.resids.View(b.pathname, rNames); err != nil {
			return fmt.Errorf("resids view for %s: %w", b.pathname, err)
		}
		if b.params, err = root.params.View(b.pathname, pNames); err != nil {
			return fmt.Errorf("params view for %s: %w", b.pathname, err)
		}

		if sg := asGroup(sub); sg != nil {
			if err := r.views(root, sg); err != nil {
				return err
			}
		}
	}
	return nil
}

// order builds each group's transfer lists and child execution order.
func (r *resolver) order(g *Group) error {
	local := make(map[string]string, len(g.unknownNames))
	for _, u := range g.unknownNames {
		local[u.path] = u.name
	}

	deps := graph.New()
	for _, sub := range g.subs {
		deps.AddNode(sub.Name())
	}
	g.transfers = make(map[string][]transfer)

	for _, p := range g.paramNames {
		src, ok := r.conns[p.path]
		if !ok || !within(src, g.pathname) {
			continue
		}
		tgtChild := g.childContaining(p.path)
		srcChild := g.childContaining(src)
		if tgtChild == srcChild && asGroup(tgtChild) != nil {
			continue
		}
		g.transfers[tgtChild.Name()] = append(g.transfers[tgtChild.Name()], transfer{
			src: local[src],
			tgt: scoped(p.path, g.pathname),
		})
		if srcChild != tgtChild {
			if err := deps.AddEdge(srcChild.Name(), tgtChild.Name()); err != nil {
				return err
			}
		}
	}

	g.order = g.order[:0]
	for _, name := range deps.TopoSort() {
		g.order = append(g.order, g.subIndex[name])
	}
	g.cycles = deps.Cycles()
	for _, c := range g.cycles {
		r.log.Debug("children form a cycle", zap.String("group", g.pathname), zap.Strings("members", c))
	}

	for _, sub := range g.subs {
		if sg := asGroup(sub); sg != nil {
			if err := r.order(sg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Group) childContaining(path string) System {
	head, _, _ := strings.Cut(scoped(path, g.pathname), ".")
	return g.subIndex[head]
}

func (r *resolver) layout(root *Group, dangling []string) *Layout {
	l := &Layout{
		Connections:  make(map[string]string, len(r.conns)),
		Dangling:     dangling,
		ParamsByName: make(map[string][]string),
		UnknownNames: make(map[string]string, len(r.topNames)),
	}
	used := make(map[string]bool)
	for tgt, src := range r.conns {
		l.Connections[tgt] = src
		used[src] = true
	}
	for _, p := range root.paramNames {
		l.ParamsByName[p.name] = append(l.ParamsByName[p.name], p.path)
	}
	for _, u := range root.unknownNames {
		l.UnknownNames[u.path] = u.name
		if !used[u.path] {
			l.Unconnected = append(l.Unconnected, u.path)
		}
	}
	return l
}
