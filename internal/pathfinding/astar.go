package pathfinding

import (
	"container/heap"
	"math"

	"github.com/Scrimzay/rtsim/internal/types"
)

const (
	OrthogonalCost = 1.0
	DiagonalCost   = 1.4

	// How far out an unwalkable goal gets swapped for a walkable one
	MaxGoalSearchRadius = 5
)

// Grid is the read side of the map the planner needs.
type Grid interface {
	Size() int
	Walkable(p types.Point) bool
	Surcharge(p types.Point) float64
}

type pathNode struct {
	p      types.Point
	g, h   float64
	parent *pathNode
	index  int // heap index
}

type openList []*pathNode

func (ol openList) Len() int { return len(ol) }
func (ol openList) Less(i, j int) bool {
	fi, fj := ol[i].g+ol[i].h, ol[j].g+ol[j].h
	if fi != fj {
		return fi < fj
	}
	return ol[i].h < ol[j].h
}
func (ol openList) Swap(i, j int)       { ol[i], ol[j] = ol[j], ol[i]; ol[i].index = i; ol[j].index = j }
func (ol *openList) Push(x interface{}) { n := x.(*pathNode); n.index = len(*ol); *ol = append(*ol, n) }
func (ol *openList) Pop() interface{} {
	old := *ol
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*ol = old[:len(old)-1]
	return n
}

var dirs = [8][2]int{
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
	{1, 1}, {1, -1}, {-1, 1}, {-1, -1},
}

func inBounds(g Grid, p types.Point) bool {
	n := g.Size()
	return p.X >= 0 && p.Y >= 0 && p.X < n && p.Y < n
}

func passable(g Grid, p types.Point) bool {
	return inBounds(g, p) && g.Walkable(p)
}

func manhattan(a, b types.Point) float64 {
	return math.Abs(float64(a.X-b.X)) + math.Abs(float64(a.Y-b.Y))
}

// StepCost is the price of moving from a onto the neighbouring tile b.
func StepCost(g Grid, a, b types.Point) float64 {
	cost := OrthogonalCost
	if a.X != b.X && a.Y != b.Y {
		cost = DiagonalCost
	}
	return cost + g.Surcharge(b)
}

// neighbors yields the 8-way moves out of p. Diagonals cant cut a blocked corner.
func neighbors(g Grid, p types.Point) []types.Point {
	out := make([]types.Point, 0, 8)
	for _, d := range dirs {
		n := p.Add(d[0], d[1])
		if !passable(g, n) {
			continue
		}
		if d[0] != 0 && d[1] != 0 {
			if !passable(g, p.Add(d[0], 0)) || !passable(g, p.Add(0, d[1])) {
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

// FindPath runs A* from start to goal and returns the tiles to walk, start excluded.
// An unwalkable goal is replaced by the nearest walkable tile within
// MaxGoalSearchRadius. A nil result means there is no route, which callers
// treat as a cancelled move rather than a failure.
func FindPath(g Grid, start, goal types.Point) []types.Point {
	if !inBounds(g, start) {
		return nil
	}
	goal, ok := ResolveGoal(g, start, goal)
	if !ok || start == goal {
		return nil
	}

	n := g.Size()
	key := func(p types.Point) int { return p.Y*n + p.X }

	first := &pathNode{p: start, h: manhattan(start, goal)}
	ol := &openList{first}
	heap.Init(ol)

	closed := make(map[int]bool)
	best := make(map[int]*pathNode)
	best[key(start)] = first

	for ol.Len() > 0 {
		cur := heap.Pop(ol).(*pathNode)
		if cur.p == goal {
			return buildPath(cur)
		}
		k := key(cur.p)
		if closed[k] {
			continue
		}
		closed[k] = true

		for _, np := range neighbors(g, cur.p) {
			nk := key(np)
			if closed[nk] {
				continue
			}
			ng := cur.g + StepCost(g, cur.p, np)
			if prev, ok := best[nk]; ok && ng >= prev.g {
				continue
			}
			node := &pathNode{p: np, g: ng, h: manhattan(np, goal), parent: cur}
			best[nk] = node
			heap.Push(ol, node)
		}
	}
	return nil
}

func buildPath(end *pathNode) []types.Point {
	var cells []types.Point
	for n := end; n.parent != nil; n = n.parent {
		cells = append(cells, n.p)
	}
	// Reverse
	for i, j := 0, len(cells)-1; i < j; i, j = i+1, j-1 {
		cells[i], cells[j] = cells[j], cells[i]
	}
	return cells
}

// ResolveGoal returns the tile FindPath will actually aim for.
func ResolveGoal(g Grid, start, goal types.Point) (types.Point, bool) {
	if passable(g, goal) {
		return goal, true
	}
	return NearestWalkable(g, goal, start, MaxGoalSearchRadius)
}

// PathCost sums step costs along a path that begins next to start.
func PathCost(g Grid, start types.Point, path []types.Point) float64 {
	total := 0.0
	prev := start
	for _, p := range path {
		total += StepCost(g, prev, p)
		prev = p
	}
	return total
}

// NearestWalkable scans square rings around center out to maxRadius and returns
// the walkable tile closest to center. Ties go to the tile closer to from.
func NearestWalkable(g Grid, center, from types.Point, maxRadius int) (types.Point, bool) {
	if passable(g, center) {
		return center, true
	}
	for r := 1; r <= maxRadius; r++ {
		var best types.Point
		found := false
		bestD, bestFrom := 0.0, 0.0
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if max(abs(dx), abs(dy)) != r {
					continue
				}
				p := center.Add(dx, dy)
				if !passable(g, p) {
					continue
				}
				d, df := p.Dist(center), p.Dist(from)
				if !found || d < bestD || (d == bestD && df < bestFrom) {
					best, bestD, bestFrom, found = p, d, df, true
				}
			}
		}
		if found {
			return best, true
		}
	}
	return types.Point{}, false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
