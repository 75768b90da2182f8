package parts

import (
	"sort"

	"github.com/distr1/distri-parts/internal/lifecycle/lcerrors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// node adapts a Part into a gonum graph.Node so PartGraph can reuse gonum's
// traversal algorithms for the recursive dependency queries, the same
// way distri's internal/batch package represents its package graph as a
// gonum simple.DirectedGraph for topological batching.
type node struct {
	id   int64
	name string
}

func (n *node) ID() int64 { return n.id }

// PartGraph is the DAG of parts built from a Document: a topologically
// ordered, cycle-free adjacency list with deterministic ordering.
type PartGraph struct {
	byName map[string]*Part
	deps   map[string][]string // part name -> names of its direct dependencies (After)

	// ordered is the result of the ordering algorithm: a part appears after all
	// of its dependents and before all of its dependencies.
	ordered []*Part

	g        *simple.DirectedGraph
	gNodes   map[string]*node
	workDir  string
}

// NewPartGraph builds and validates a PartGraph from a decoded Document.
func NewPartGraph(doc *Document, workDir string) (*PartGraph, error) {
	pg := &PartGraph{
		byName:  make(map[string]*Part, len(doc.Parts)),
		deps:    make(map[string][]string, len(doc.Parts)),
		g:       simple.NewDirectedGraph(),
		gNodes:  make(map[string]*node, len(doc.Parts)),
		workDir: workDir,
	}

	// 1. Build all Part records; register each name.
	var names []string
	for name, spec := range doc.Parts {
		p := spec.toPart(name)
		p.SetWorkDir(workDir)
		pg.byName[name] = p
		names = append(names, name)
	}
	sort.Strings(names) // deterministic node id assignment
	var id int64
	for _, name := range names {
		n := &node{id: id, name: name}
		id++
		pg.gNodes[name] = n
		pg.g.AddNode(n)
	}

	// 2. Resolve each `after` name to a Part; fail on unknown names.
	for _, name := range names {
		p := pg.byName[name]
		for _, dep := range p.After {
			if _, ok := pg.byName[dep]; !ok {
				return nil, &lcerrors.MissingDependency{Part: name, Missing: dep}
			}
			pg.deps[name] = append(pg.deps[name], dep)
			pg.g.SetEdge(pg.g.NewEdge(pg.gNodes[name], pg.gNodes[dep]))
		}
	}

	ordered, err := pg.topoOrder(names)
	if err != nil {
		return nil, err
	}
	pg.ordered = ordered

	return pg, nil
}

// topoOrder implements the ordering algorithm: stable sort by name descending, then
// repeatedly select a part not listed in any remaining part's deps ("top"),
// appending it to the output.
func (pg *PartGraph) topoOrder(allNames []string) ([]*Part, error) {
	pool := append([]string(nil), allNames...)
	sort.Sort(sort.Reverse(sort.StringSlice(pool)))

	// remainingDeps mirrors pg.deps as sets; only parts still in the pool
	// are consulted, so entries of parts that left it are simply ignored.
	remainingDeps := make(map[string]map[string]bool, len(pool))
	for name, ds := range pg.deps {
		m := make(map[string]bool, len(ds))
		for _, d := range ds {
			m[d] = true
		}
		remainingDeps[name] = m
	}

	var ordered []*Part
	for len(pool) > 0 {
		topIdx := -1
	search:
		for i, candidate := range pool {
			for _, other := range pool {
				if other == candidate {
					continue
				}
				if remainingDeps[other][candidate] {
					continue search // candidate is still a dependency of other
				}
			}
			topIdx = i
			break
		}
		if topIdx == -1 {
			return nil, &lcerrors.CircularDependency{Remaining: append([]string(nil), pool...)}
		}
		top := pool[topIdx]
		ordered = append(ordered, pg.byName[top])
		pool = append(pool[:topIdx], pool[topIdx+1:]...)
	}
	return ordered, nil
}

// Ordered returns the part sequence in dependency-last order: each
// part appears after all of its dependents and before all of its
// dependencies.
func (pg *PartGraph) Ordered() []*Part {
	return append([]*Part(nil), pg.ordered...)
}

// ExecutionOrder returns parts in dependency-first order (the reverse of
// Ordered), the order the StepExecutor drives.
func (pg *PartGraph) ExecutionOrder() []*Part {
	out := make([]*Part, len(pg.ordered))
	for i, p := range pg.ordered {
		out[len(pg.ordered)-1-i] = p
	}
	return out
}

// Part looks up a part by name.
func (pg *PartGraph) Part(name string) (*Part, bool) {
	p, ok := pg.byName[name]
	return p, ok
}

// Parts returns every part, unordered.
func (pg *PartGraph) Parts() []*Part {
	out := make([]*Part, 0, len(pg.byName))
	for _, p := range pg.byName {
		out = append(out, p)
	}
	return out
}

// GetDependencies returns the direct (or, if recursive, transitive) set of
// parts name depends on.
func (pg *PartGraph) GetDependencies(name string, recursive bool) map[string]*Part {
	return pg.walk(name, recursive, true)
}

// GetReverseDependencies returns the direct (or, if recursive, transitive)
// set of parts that depend on name.
func (pg *PartGraph) GetReverseDependencies(name string, recursive bool) map[string]*Part {
	return pg.walk(name, recursive, false)
}

func (pg *PartGraph) walk(name string, recursive bool, forward bool) map[string]*Part {
	start, ok := pg.gNodes[name]
	if !ok {
		return nil
	}
	result := make(map[string]*Part)

	if !recursive {
		var it graph.Nodes
		if forward {
			it = pg.g.From(start.ID())
		} else {
			it = pg.g.To(start.ID())
		}
		for it.Next() {
			n := it.Node().(*node)
			result[n.name] = pg.byName[n.name]
		}
		return result
	}

	bf := traverse.BreadthFirst{}
	traversal := func(next graph.Node) {
		n := next.(*node)
		if n.name != name {
			result[n.name] = pg.byName[n.name]
		}
	}
	g := directionalGraph{DirectedGraph: pg.g, forward: forward}
	bf.Walk(g, start, func(n graph.Node, _ int) bool {
		traversal(n)
		return false
	})
	return result
}

// directionalGraph flips edge direction for reverse-dependency traversal,
// since gonum's BreadthFirst always walks g.From().
type directionalGraph struct {
	*simple.DirectedGraph
	forward bool
}

func (d directionalGraph) From(id int64) graph.Nodes {
	if d.forward {
		return d.DirectedGraph.From(id)
	}
	return d.DirectedGraph.To(id)
}
