// Package graph builds the sparse document similarity graph: a mutual top-k
// graph above a similarity floor whose node degree never exceeds k.
package graph

import (
	"math"
	"runtime"
	"sort"

	"github.com/OFFIS-RIT/simgraph/pkg/common"
	"golang.org/x/sync/errgroup"
)

// Options configures Build. Method and DocType are copied onto every edge.
type Options struct {
	K             int
	MinSimilarity float64
	Method        string
	DocType       string
}

// pair is a canonical undirected edge between node indices a < b. Nodes are
// indexed in ascending id order, so index order equals id order.
type pair struct {
	a, b int
}

type candidate struct {
	neighbor int
	weight   float64
}

// Build computes the similarity graph for the given vectors. It is a pure
// function: the same input always yields the same edges, sorted by
// (SourceID, TargetID).
//
// Every returned edge has Weight >= opts.MinSimilarity and every node has at
// most opts.K incident edges. Empty input or K <= 0 yields no edges.
func Build(vectors map[string][]float32, opts Options) []common.Edge {
	if len(vectors) < 2 || opts.K <= 0 {
		return nil
	}

	ids := make([]string, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	normalized := make([][]float64, len(ids))
	for i, id := range ids {
		normalized[i] = NormalizeL2(vectors[id])
	}

	candidates := similarCandidates(normalized, opts.MinSimilarity)
	merged := mergeTopK(candidates, opts.K)
	pruneDegrees(len(ids), merged, opts.K)

	pairs := make([]pair, 0, len(merged))
	for p := range merged {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].a != pairs[j].a {
			return pairs[i].a < pairs[j].a
		}
		return pairs[i].b < pairs[j].b
	})

	edges := make([]common.Edge, 0, len(pairs))
	for _, p := range pairs {
		edges = append(edges, common.Edge{
			SourceID:      ids[p.a],
			TargetID:      ids[p.b],
			DocType:       opts.DocType,
			Method:        opts.Method,
			Weight:        merged[p],
			K:             opts.K,
			MinSimilarity: opts.MinSimilarity,
		})
	}
	return edges
}

// NormalizeL2 returns a unit-length float64 copy of v. A zero vector is
// returned unchanged.
func NormalizeL2(v []float32) []float64 {
	out := make([]float64, len(v))
	var sum float64
	for i, x := range v {
		out[i] = float64(x)
		sum += out[i] * out[i]
	}
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i := range out {
		out[i] /= norm
	}
	return out
}

// Dot returns the dot product of a and b and false if their lengths differ.
func Dot(a, b []float64) (float64, bool) {
	if len(a) != len(b) {
		return 0, false
	}
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s, true
}

// similarCandidates evaluates every unordered pair once and returns, per
// node, all neighbours at or above the floor. Rows of the upper triangle are
// computed concurrently; the merge into per-node lists is sequential.
func similarCandidates(vectors [][]float64, floor float64) [][]candidate {
	n := len(vectors)
	rows := make([][]candidate, n)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < n-1; i++ {
		g.Go(func() error {
			var row []candidate
			for j := i + 1; j < n; j++ {
				sim, ok := Dot(vectors[i], vectors[j])
				// NaN compares false; only similarities at or above the floor count.
				if !ok || !(sim >= floor) {
					continue
				}
				row = append(row, candidate{neighbor: j, weight: sim})
			}
			rows[i] = row
			return nil
		})
	}
	_ = g.Wait()

	out := make([][]candidate, n)
	for i, row := range rows {
		for _, c := range row {
			out[i] = append(out[i], c)
			out[c.neighbor] = append(out[c.neighbor], candidate{neighbor: i, weight: c.weight})
		}
	}
	return out
}

// mergeTopK keeps the k best candidates of every node and unions them into
// canonical pairs. A pair proposed from both sides keeps the larger weight.
func mergeTopK(candidates [][]candidate, k int) map[pair]float64 {
	merged := make(map[pair]float64)
	for node, list := range candidates {
		sort.Slice(list, func(i, j int) bool {
			if list[i].weight != list[j].weight {
				return list[i].weight > list[j].weight
			}
			return list[i].neighbor < list[j].neighbor
		})
		if len(list) > k {
			list = list[:k]
		}
		for _, c := range list {
			p := pair{a: min(node, c.neighbor), b: max(node, c.neighbor)}
			if w, ok := merged[p]; !ok || c.weight > w {
				merged[p] = c.weight
			}
		}
	}
	return merged
}
