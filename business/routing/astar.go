package routing

import (
	"container/heap"

	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/UrbanOSLabs/mobilitycast/foundation/geo"
)

// ShortestPath runs A* between two graph nodes. Edge costs are the stored
// segment lengths with a great-circle fallback, and the heuristic is the
// great-circle distance to the goal, so the estimate never overshoots on a
// length-weighted road graph. Start equal to goal yields a two-vertex
// zero-length path so the geometry stays a valid polyline. Disconnected
// endpoints surface as DataMissing.
func ShortestPath(g *Graph, startID, goalID int64) (*Path, error) {
	start, ok := g.Node(startID)
	if !ok {
		return nil, fault.New(fault.DataMissing, "start node %d is not in the road graph", startID)
	}
	goal, ok := g.Node(goalID)
	if !ok {
		return nil, fault.New(fault.DataMissing, "goal node %d is not in the road graph", goalID)
	}

	if startID == goalID {
		points := []geo.Point{
			{Lat: start.Lat, Lon: start.Lon},
			{Lat: goal.Lat, Lon: goal.Lon},
		}
		return &Path{Points: points}, nil
	}

	goalPoint := geo.Point{Lat: goal.Lat, Lon: goal.Lon}

	gScore := map[int64]float64{startID: 0}
	cameFrom := make(map[int64]int64)

	open := &openQueue{}
	heap.Init(open)
	// queued mirrors open set membership so the push test stays O(1).
	queued := make(map[int64]struct{})

	seq := 0
	heap.Push(open, &searchItem{
		node: startID,
		f:    geo.HaversineMeters(geo.Point{Lat: start.Lat, Lon: start.Lon}, goalPoint),
		seq:  seq,
	})
	queued[startID] = struct{}{}

	for open.Len() > 0 {
		current := heap.Pop(open).(*searchItem)
		delete(queued, current.node)

		if current.node == goalID {
			return assemblePath(g, walkBack(cameFrom, goalID)), nil
		}

		currentNode, ok := g.Node(current.node)
		if !ok {
			continue
		}
		from := geo.Point{Lat: currentNode.Lat, Lon: currentNode.Lon}

		for _, edge := range g.Neighbors(current.node) {
			neighbor, ok := g.Node(edge.To)
			if !ok {
				continue
			}
			to := geo.Point{Lat: neighbor.Lat, Lon: neighbor.Lon}

			cost := edge.Meters
			if cost <= 0 {
				cost = geo.HaversineMeters(from, to)
			}

			tentative := gScore[current.node] + cost
			if best, seen := gScore[edge.To]; seen && tentative >= best {
				continue
			}

			cameFrom[edge.To] = current.node
			gScore[edge.To] = tentative

			if _, inOpen := queued[edge.To]; !inOpen {
				seq++
				heap.Push(open, &searchItem{
					node: edge.To,
					f:    tentative + geo.HaversineMeters(to, goalPoint),
					seq:  seq,
				})
				queued[edge.To] = struct{}{}
			}
		}
	}

	return nil, fault.New(fault.DataMissing, "no path between road graph nodes %d and %d", startID, goalID)
}

// walkBack follows predecessor links from a node back to the search origin
// and returns the chain in travel order.
func walkBack(cameFrom map[int64]int64, nodeID int64) []int64 {
	path := []int64{nodeID}
	for {
		prev, ok := cameFrom[nodeID]
		if !ok {
			break
		}
		nodeID = prev
		path = append(path, nodeID)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// assemblePath resolves node ids to coordinates and totals the great-circle
// length along the vertices.
func assemblePath(g *Graph, ids []int64) *Path {
	points := make([]geo.Point, 0, len(ids))
	for _, id := range ids {
		n, ok := g.Node(id)
		if !ok {
			continue
		}
		points = append(points, geo.Point{Lat: n.Lat, Lon: n.Lon})
	}
	meters := geo.PolylineMeters(points)
	return &Path{
		Points:   points,
		Meters:   meters,
		Duration: EstimateDuration(meters, WalkSpeedMetersPerSecond),
	}
}

// searchItem is an open set entry ordered by f score, then by push order so
// equal scores pop in insertion sequence.
type searchItem struct {
	node  int64
	f     float64
	seq   int
	index int
}

type openQueue []*searchItem

func (q openQueue) Len() int { return len(q) }

func (q openQueue) Less(i, j int) bool {
	if q[i].f != q[j].f {
		return q[i].f < q[j].f
	}
	return q[i].seq < q[j].seq
}

func (q openQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *openQueue) Push(x interface{}) {
	item := x.(*searchItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *openQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[0 : n-1]
	return item
}
