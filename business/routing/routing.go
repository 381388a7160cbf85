// Package routing plans walking paths over road graphs fetched from
// OpenStreetMap. A planner builds a bounding box around the endpoints, loads
// the road graph for that box through an on-disk cache, snaps the endpoints
// to graph nodes and runs A* between them.
package routing

import (
	logger "log"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/UrbanOSLabs/mobilitycast/foundation/geo"
)

const (
	// WalkSpeedMetersPerSecond is the pace assumed when no live speed is known.
	WalkSpeedMetersPerSecond = 1.4

	// BBoxPadDegrees is added on every side of the endpoint bounding box so
	// the road graph extends past the straight line between the endpoints.
	BBoxPadDegrees = 0.01
)

// Path is a walking route between two snapped graph nodes.
type Path struct {
	Points   []geo.Point
	Meters   float64
	Duration time.Duration
}

// EstimateDuration returns the travel time for a distance at the given speed.
// Non-positive speeds fall back to the default walking pace.
func EstimateDuration(meters, metersPerSecond float64) time.Duration {
	if metersPerSecond <= 0 {
		metersPerSecond = WalkSpeedMetersPerSecond
	}
	return time.Duration(meters / metersPerSecond * float64(time.Second))
}

// Planner resolves walking paths between coordinates.
type Planner struct {
	log    *logger.Logger
	source *GraphSource
}

// NewPlanner creates a Planner over a road graph source.
func NewPlanner(log *logger.Logger, source *GraphSource) *Planner {
	return &Planner{
		log:    log,
		source: source,
	}
}

// PlanWalk finds the shortest walking path from start to goal. Endpoints are
// snapped to the nearest graph nodes, so the returned path begins and ends at
// road vertices rather than the exact input coordinates. Missing road data or
// disconnected endpoints surface as DataMissing.
func (p *Planner) PlanWalk(start, goal geo.Point) (*Path, error) {
	box := BoundsAround([]geo.Point{start, goal}, BBoxPadDegrees)

	graph, err := p.source.GraphForBBox(box)
	if err != nil {
		return nil, err
	}

	startNode, err := graph.NearestNode(start)
	if err != nil {
		return nil, fault.Wrap(fault.KindOf(err), err, "unable to snap start location to road graph")
	}
	goalNode, err := graph.NearestNode(goal)
	if err != nil {
		return nil, fault.Wrap(fault.KindOf(err), err, "unable to snap goal location to road graph")
	}

	path, err := ShortestPath(graph, startNode.ID, goalNode.ID)
	if err != nil {
		return nil, err
	}

	p.log.Printf("planned walking path, %d vertices, %.2f meters", len(path.Points), path.Meters)
	return path, nil
}
