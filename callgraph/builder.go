// Package callgraph aggregates stack samples into a weighted call graph.
//
// A graph holds one node per function observed in any sample and one edge per
// distinct caller -> callee pair of adjacent frames. Nodes carry self time
// (weight of samples where the function is the innermost frame) and total
// time (weight of samples where it appears anywhere in the stack), both also
// normalized against the sum of all sample weights.
package callgraph

import (
	"fmt"
	"math"
	"sort"
)

type options struct {
	recursionOnce bool
}

type Option func(*options)

// WithRecursionCountedOnce counts a function's total time, and an edge's
// time, at most once per sample. By default every stack position counts, so
// a recursive function present twice in one stack accumulates twice.
func WithRecursionCountedOnce() Option {
	return func(o *options) {
		o.recursionOnce = true
	}
}

type edgeID struct {
	caller uint64
	callee uint64
}

type builder struct {
	opts options

	functions map[uint64]FunctionDescriptor
	nodes     map[uint64]*Node
	edges     map[edgeID]*Edge
	total     int64
}

// Build aggregates samples into a CallGraph. Every function referenced by a
// sample must be present in functions. The returned graph is never partial:
// on error nothing is returned.
func Build(functions []FunctionDescriptor, samples []Sample, opts ...Option) (*CallGraph, error) {
	b := &builder{
		functions: make(map[uint64]FunctionDescriptor, len(functions)),
		nodes:     make(map[uint64]*Node),
		edges:     make(map[edgeID]*Edge),
	}
	for _, opt := range opts {
		opt(&b.opts)
	}
	for _, fn := range functions {
		if _, ok := b.functions[fn.ID]; ok {
			continue
		}
		b.functions[fn.ID] = fn
	}

	err := b.materialize(samples)
	if err != nil {
		return nil, err
	}
	for _, s := range samples {
		b.accumulate(s)
	}
	b.percentages()
	return b.graph(), nil
}

// materialize validates every sample and creates one node per referenced
// function.
//
// The sum of all sample values must fit in an int64. A function occupying
// several positions of one stack accumulates once per position unless
// WithRecursionCountedOnce is set, so its total time may exceed the grand
// total and is not covered by that limit.
func (b *builder) materialize(samples []Sample) error {
	var total int64
	for i, s := range samples {
		if s.Value < 0 {
			return &InvalidSampleError{Index: i, Value: s.Value, Reason: fmt.Sprintf("negative value %d", s.Value)}
		}
		if s.Value > math.MaxInt64-total {
			return &InvalidSampleError{Index: i, Value: s.Value, Reason: "total weight overflows int64"}
		}
		total += s.Value
		// The weight must land on an innermost frame or self time would no
		// longer sum to the grand total.
		if len(s.Stack) == 0 {
			return &InvalidSampleError{Index: i, Value: s.Value, Reason: "empty stack"}
		}
		for _, loc := range s.Stack {
			if _, ok := b.nodes[loc.FunctionID]; ok {
				continue
			}
			fn, ok := b.functions[loc.FunctionID]
			if !ok {
				return &UnknownFunctionError{ID: loc.FunctionID}
			}
			b.nodes[fn.ID] = &Node{Function: fn}
		}
	}
	return nil
}

func (b *builder) accumulate(s Sample) {
	b.total += s.Value

	var (
		seenNode map[uint64]bool
		seenEdge map[edgeID]bool
	)
	if b.opts.recursionOnce {
		seenNode = make(map[uint64]bool, len(s.Stack))
		seenEdge = make(map[edgeID]bool, len(s.Stack))
	}

	b.nodes[s.Stack[0].FunctionID].SelfTime += s.Value
	for i, loc := range s.Stack {
		if seenNode == nil || !seenNode[loc.FunctionID] {
			b.nodes[loc.FunctionID].TotalTime += s.Value
			if seenNode != nil {
				seenNode[loc.FunctionID] = true
			}
		}

		if i+1 >= len(s.Stack) {
			continue
		}
		id := edgeID{caller: s.Stack[i+1].FunctionID, callee: loc.FunctionID}
		if seenEdge != nil {
			if seenEdge[id] {
				continue
			}
			seenEdge[id] = true
		}
		e, ok := b.edges[id]
		if !ok {
			e = &Edge{
				Caller: b.nodes[id.caller],
				Callee: b.nodes[id.callee],
			}
			b.edges[id] = e
		}
		e.Time += s.Value
	}
}

func (b *builder) percentages() {
	for _, n := range b.nodes {
		n.SelfTimePercentage = ratio(n.SelfTime, b.total)
		n.TotalTimePercentage = ratio(n.TotalTime, b.total)
	}
	for _, e := range b.edges {
		e.TimePercentage = ratio(e.Time, b.total)
	}
}

// graph sorts the nodes, assigns indices and keys the edges by index. Edge
// keys depend on the final index, so this must run after accumulation.
func (b *builder) graph() *CallGraph {
	nodes := make([]*Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].TotalTime != nodes[j].TotalTime {
			return nodes[i].TotalTime > nodes[j].TotalTime
		}
		return nodes[i].Function.ID < nodes[j].Function.ID
	})
	for i, n := range nodes {
		n.Index = i
	}

	edges := make(map[EdgeKey]*Edge, len(b.edges))
	for _, e := range b.edges {
		edges[e.Key()] = e
	}

	return &CallGraph{
		Nodes:      nodes,
		Edges:      edges,
		GrandTotal: b.total,
	}
}

func ratio(v, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(v) / float64(total)
}
