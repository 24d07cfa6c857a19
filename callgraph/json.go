package callgraph

import (
	gojson "github.com/goccy/go-json"
)

type (
	jsonGraph struct {
		GrandTotal int64      `json:"grand_total"`
		Nodes      []jsonNode `json:"nodes"`
		Edges      []jsonEdge `json:"edges"`
	}

	jsonNode struct {
		Index               int     `json:"index"`
		ID                  uint64  `json:"id"`
		Name                string  `json:"name"`
		ShortName           string  `json:"short_name"`
		SelfTime            int64   `json:"self_time"`
		TotalTime           int64   `json:"total_time"`
		SelfTimePercentage  float64 `json:"self_time_percentage"`
		TotalTimePercentage float64 `json:"total_time_percentage"`
	}

	jsonEdge struct {
		Caller         int     `json:"caller"`
		Callee         int     `json:"callee"`
		Time           int64   `json:"time"`
		TimePercentage float64 `json:"time_percentage"`
	}
)

// MarshalJSON encodes the graph with nodes in index order and edges in
// SortedEdges order, so equal graphs encode to identical bytes.
func (g *CallGraph) MarshalJSON() ([]byte, error) {
	out := jsonGraph{
		GrandTotal: g.GrandTotal,
		Nodes:      make([]jsonNode, 0, len(g.Nodes)),
		Edges:      make([]jsonEdge, 0, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		out.Nodes = append(out.Nodes, jsonNode{
			Index:               n.Index,
			ID:                  n.Function.ID,
			Name:                n.Function.Name,
			ShortName:           n.Function.ShortName(),
			SelfTime:            n.SelfTime,
			TotalTime:           n.TotalTime,
			SelfTimePercentage:  n.SelfTimePercentage,
			TotalTimePercentage: n.TotalTimePercentage,
		})
	}
	for _, e := range g.SortedEdges() {
		out.Edges = append(out.Edges, jsonEdge{
			Caller:         e.Caller.Index,
			Callee:         e.Callee.Index,
			Time:           e.Time,
			TimePercentage: e.TimePercentage,
		})
	}
	return gojson.Marshal(out)
}
