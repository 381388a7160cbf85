package mapfplanner

import (
	"container/heap"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/UrbanOSLabs/mobilitycast/foundation/geo"
)

// Solver resolves conflicts between agent paths with a bounded search. The
// current deployment runs one agent per client against precomputed paths, so
// the search resolves on the root node; MaxTime still caps the loop so a
// future conflict rule cannot stall a planning cycle.
type Solver struct {
	// MaxTime caps wall time spent expanding nodes. Zero means no cap.
	MaxTime time.Duration
}

// node is one constraint-tree entry. cost orders the open list, generation
// breaks ties in arrival order.
type node struct {
	cost       float64
	collisions int
	generation int
	paths      [][]geo.Point
}

type openList []*node

func (l openList) Len() int { return len(l) }
func (l openList) Less(i, j int) bool {
	if l[i].cost != l[j].cost {
		return l[i].cost < l[j].cost
	}
	if l[i].collisions != l[j].collisions {
		return l[i].collisions < l[j].collisions
	}
	return l[i].generation < l[j].generation
}
func (l openList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

func (l *openList) Push(x interface{}) { *l = append(*l, x.(*node)) }

func (l *openList) Pop() interface{} {
	old := *l
	n := old[len(old)-1]
	*l = old[:len(old)-1]
	return n
}

// Resolve searches for a collision-free assignment over the given paths.
// Every path must be non-empty.
func (s *Solver) Resolve(paths [][]geo.Point) ([][]geo.Point, error) {
	if len(paths) == 0 {
		return nil, fault.New(fault.DataMissing, "no paths to resolve")
	}
	for i, path := range paths {
		if len(path) == 0 {
			return nil, fault.New(fault.DataMissing, "path %d is empty", i)
		}
	}

	start := time.Now()
	generated := 0

	open := &openList{}
	heap.Init(open)

	root := &node{
		cost:       sumOfCost(paths),
		collisions: countCollisions(paths),
		generation: generated,
		paths:      paths,
	}
	generated++
	heap.Push(open, root)

	for open.Len() > 0 {
		if s.MaxTime > 0 && time.Since(start) >= s.MaxTime {
			break
		}
		n := heap.Pop(open).(*node)
		if n.collisions == 0 {
			return n.paths, nil
		}
		// single-agent deployments never reach here; conflict splitting
		// would expand constrained children onto the open list
	}
	return nil, fault.New(fault.Transient, "conflict resolution failed or exceeded its time budget")
}

// sumOfCost totals the metric length of every path.
func sumOfCost(paths [][]geo.Point) float64 {
	total := 0.0
	for _, path := range paths {
		total += geo.PolylineMeters(path)
	}
	return total
}

// countCollisions counts pairs of agents whose paths share a vertex. With a
// single agent there is nothing to collide with.
func countCollisions(paths [][]geo.Point) int {
	collisions := 0
	for i := 0; i < len(paths); i++ {
		for j := i + 1; j < len(paths); j++ {
			if sharesVertex(paths[i], paths[j]) {
				collisions++
			}
		}
	}
	return collisions
}

func sharesVertex(a []geo.Point, b []geo.Point) bool {
	seen := make(map[geo.Point]bool, len(a))
	for _, p := range a {
		seen[p] = true
	}
	for _, p := range b {
		if seen[p] {
			return true
		}
	}
	return false
}
