package routing

import (
	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/UrbanOSLabs/mobilitycast/foundation/geo"
)

// Node is a road graph vertex.
type Node struct {
	ID  int64
	Lat float64
	Lon float64
}

// Edge is a directed connection to a neighboring node. A non-positive Meters
// means the source carried no length and the solver falls back to the
// great-circle distance between the endpoints.
type Edge struct {
	To     int64
	Meters float64
}

// Graph is an in-memory road graph with adjacency lists.
type Graph struct {
	nodes map[int64]Node
	edges map[int64][]Edge
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[int64]Node),
		edges: make(map[int64][]Edge),
	}
}

// AddNode registers a vertex, replacing any previous node with the same id.
func (g *Graph) AddNode(n Node) {
	g.nodes[n.ID] = n
}

// AddEdge adds a directed edge. Road segments are walkable both ways, so
// builders normally add each pair twice.
func (g *Graph) AddEdge(from, to int64, meters float64) {
	g.edges[from] = append(g.edges[from], Edge{To: to, Meters: meters})
}

// Node returns the vertex with the given id.
func (g *Graph) Node(id int64) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Neighbors returns the outgoing edges of a vertex.
func (g *Graph) Neighbors(id int64) []Edge {
	return g.edges[id]
}

// NodeCount returns the number of vertices.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of directed edges.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, edges := range g.edges {
		count += len(edges)
	}
	return count
}

// NearestNode scans every vertex and returns the one closest to the point by
// squared euclidean distance over raw lon/lat. Ties resolve to the lowest id.
func (g *Graph) NearestNode(p geo.Point) (Node, error) {
	if len(g.nodes) == 0 {
		return Node{}, fault.New(fault.DataMissing, "road graph has no nodes")
	}

	var best Node
	bestDist := -1.0
	for _, n := range g.nodes {
		dx := n.Lon - p.Lon
		dy := n.Lat - p.Lat
		d := dx*dx + dy*dy
		if bestDist < 0 || d < bestDist || (d == bestDist && n.ID < best.ID) {
			best = n
			bestDist = d
		}
	}
	return best, nil
}
