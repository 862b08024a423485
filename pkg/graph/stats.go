package graph

import "github.com/OFFIS-RIT/simgraph/pkg/common"

// Summary describes an edge set for logging.
type Summary struct {
	Nodes      int
	Edges      int
	Isolated   int
	MaxDegree  int
	MeanWeight float64
}

// Degrees counts incident edges per document id.
func Degrees(edges []common.Edge) map[string]int {
	deg := make(map[string]int)
	for _, e := range edges {
		deg[e.SourceID]++
		deg[e.TargetID]++
	}
	return deg
}

// Summarize computes a Summary for edges over the given node ids.
func Summarize(ids []string, edges []common.Edge) Summary {
	deg := Degrees(edges)
	s := Summary{Nodes: len(ids), Edges: len(edges)}
	for _, id := range ids {
		d := deg[id]
		if d == 0 {
			s.Isolated++
		}
		s.MaxDegree = max(s.MaxDegree, d)
	}
	if len(edges) > 0 {
		var sum float64
		for _, e := range edges {
			sum += e.Weight
		}
		s.MeanWeight = sum / float64(len(edges))
	}
	return s
}
