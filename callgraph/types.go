package callgraph

import (
	"path"
	"sort"
)

// FunctionDescriptor identifies a function in a snapshot. Name is often a
// slash delimited path.
type FunctionDescriptor struct {
	ID   uint64
	Name string
}

// ShortName returns the last path segment of the function name.
func (f FunctionDescriptor) ShortName() string {
	if f.Name == "" {
		return ""
	}
	return path.Base(f.Name)
}

// Location is a single frame of a sampled stack.
type Location struct {
	FunctionID uint64
}

// Sample is one observation. Stack[0] is the innermost frame, the last
// element is the root caller.
type Sample struct {
	Value int64
	Stack []Location
}

// Snapshot is the input to Build.
type Snapshot struct {
	Functions []FunctionDescriptor
	Samples   []Sample
}

func (s Snapshot) Build(opts ...Option) (*CallGraph, error) {
	return Build(s.Functions, s.Samples, opts...)
}

type Node struct {
	Function FunctionDescriptor

	SelfTime  int64
	TotalTime int64

	SelfTimePercentage  float64
	TotalTimePercentage float64

	// Index is the position of the node in CallGraph.Nodes. It is only
	// valid once the graph is returned from Build.
	Index int
}

type Edge struct {
	Caller *Node
	Callee *Node

	Time           int64
	TimePercentage float64
}

// EdgeKey is the ordered (caller, callee) pair of node indices.
type EdgeKey struct {
	Caller int
	Callee int
}

func (e *Edge) Key() EdgeKey {
	return EdgeKey{Caller: e.Caller.Index, Callee: e.Callee.Index}
}

type CallGraph struct {
	// Nodes are sorted by TotalTime descending, ties broken by function ID.
	Nodes []*Node
	Edges map[EdgeKey]*Edge

	GrandTotal int64
}

// Node returns the node at index i, or nil.
func (g *CallGraph) Node(i int) *Node {
	if i < 0 || i >= len(g.Nodes) {
		return nil
	}
	return g.Nodes[i]
}

// Edge returns the edge from caller to callee, if any.
func (g *CallGraph) Edge(caller, callee int) (*Edge, bool) {
	e, ok := g.Edges[EdgeKey{Caller: caller, Callee: callee}]
	return e, ok
}

// SortedEdges returns the edges ordered by time descending, then by caller
// and callee index.
func (g *CallGraph) SortedEdges() []*Edge {
	edges := make([]*Edge, 0, len(g.Edges))
	for _, e := range g.Edges {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Time != b.Time {
			return a.Time > b.Time
		}
		if a.Caller.Index != b.Caller.Index {
			return a.Caller.Index < b.Caller.Index
		}
		return a.Callee.Index < b.Callee.Index
	})
	return edges
}

// Callers returns the edges whose callee is the node at index i.
func (g *CallGraph) Callers(i int) []*Edge {
	var in []*Edge
	for _, e := range g.SortedEdges() {
		if e.Callee.Index == i {
			in = append(in, e)
		}
	}
	return in
}

// Callees returns the edges whose caller is the node at index i.
func (g *CallGraph) Callees(i int) []*Edge {
	var out []*Edge
	for _, e := range g.SortedEdges() {
		if e.Caller.Index == i {
			out = append(out, e)
		}
	}
	return out
}
