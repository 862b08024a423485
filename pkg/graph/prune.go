package graph

import "container/heap"

type heapEdge struct {
	p      pair
	weight float64
}

// edgeHeap orders incident edges by weight, then by canonical pair, so the
// lowest-weight edge with the smallest (source, target) is popped first.
type edgeHeap []heapEdge

func (h edgeHeap) Len() int { return len(h) }

func (h edgeHeap) Less(i, j int) bool {
	if h[i].weight != h[j].weight {
		return h[i].weight < h[j].weight
	}
	if h[i].p.a != h[j].p.a {
		return h[i].p.a < h[j].p.a
	}
	return h[i].p.b < h[j].p.b
}

func (h edgeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *edgeHeap) Push(x any) { *h = append(*h, x.(heapEdge)) }

func (h *edgeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// pruneDegrees removes edges from alive until no node has more than k
// incident edges. For an over-full node the lowest-weight incident edge goes
// first. Heaps are lazily cleaned: entries whose pair is no longer alive are
// skipped when popped.
//
// Removing an edge only lowers degrees, so a single pass over the nodes in
// index order reaches the fixpoint.
func pruneDegrees(n int, alive map[pair]float64, k int) {
	degree := make([]int, n)
	heaps := make([]edgeHeap, n)
	for p, w := range alive {
		degree[p.a]++
		degree[p.b]++
		heaps[p.a] = append(heaps[p.a], heapEdge{p: p, weight: w})
		heaps[p.b] = append(heaps[p.b], heapEdge{p: p, weight: w})
	}

	for node := 0; node < n; node++ {
		if degree[node] <= k {
			continue
		}
		h := &heaps[node]
		heap.Init(h)
		for degree[node] > k && h.Len() > 0 {
			e := heap.Pop(h).(heapEdge)
			if _, ok := alive[e.p]; !ok {
				continue
			}
			delete(alive, e.p)
			degree[e.p.a]--
			degree[e.p.b]--
		}
	}
}
