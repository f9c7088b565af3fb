package pathfinding

import (
	"container/heap"

	"github.com/Scrimzay/rtsim/internal/types"
)

var orthogonal = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// ReachableTiles returns every tile reachable from origin over 4-way moves
// whose cumulative cost stays within budget, mapped to that cost.
// Used for movement-range previews.
func ReachableTiles(g Grid, origin types.Point, budget float64) map[types.Point]float64 {
	out := make(map[types.Point]float64)
	if !inBounds(g, origin) || budget < 0 {
		return out
	}
	out[origin] = 0

	first := &pathNode{p: origin}
	ol := &openList{first}
	heap.Init(ol)

	for ol.Len() > 0 {
		cur := heap.Pop(ol).(*pathNode)
		if cur.g > out[cur.p] {
			continue // Stale entry
		}
		for _, d := range orthogonal {
			np := cur.p.Add(d[0], d[1])
			if !passable(g, np) {
				continue
			}
			ng := cur.g + OrthogonalCost + g.Surcharge(np)
			if ng > budget {
				continue
			}
			if prev, ok := out[np]; ok && ng >= prev {
				continue
			}
			out[np] = ng
			heap.Push(ol, &pathNode{p: np, g: ng})
		}
	}
	return out
}
