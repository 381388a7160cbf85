package mapfplanner

import (
	"testing"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/UrbanOSLabs/mobilitycast/foundation/geo"
)

func walkPath() []geo.Point {
	return []geo.Point{
		{Lat: 59.33, Lon: 18.07},
		{Lat: 59.34, Lon: 18.09},
	}
}

// A single agent resolves on the root node with its path unchanged.
func Test_Resolve_singleAgentPassesPathThrough(t *testing.T) {
	s := Solver{MaxTime: 10 * time.Second}

	resolved, err := s.Resolve([][]geo.Point{walkPath()})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(resolved) != 1 {
		t.Fatalf("resolved %d paths, want 1", len(resolved))
	}
	if len(resolved[0]) != 2 || resolved[0][0] != (geo.Point{Lat: 59.33, Lon: 18.07}) {
		t.Errorf("resolved path = %v, want the input path unchanged", resolved[0])
	}
}

func Test_Resolve_rejectsEmptyInput(t *testing.T) {
	s := Solver{MaxTime: 10 * time.Second}

	if _, err := s.Resolve(nil); !fault.IsMissing(err) {
		t.Errorf("Resolve(nil) error = %v, want DataMissing", err)
	}
	if _, err := s.Resolve([][]geo.Point{{}}); !fault.IsMissing(err) {
		t.Errorf("Resolve with an empty path error = %v, want DataMissing", err)
	}
}

// Two agents sharing a vertex cannot resolve without conflict splitting, so
// the search must terminate with an error instead of returning a colliding
// assignment.
func Test_Resolve_collidingAgentsFailClosed(t *testing.T) {
	s := Solver{MaxTime: time.Second}

	shared := geo.Point{Lat: 59.33, Lon: 18.07}
	a := []geo.Point{shared, {Lat: 59.34, Lon: 18.09}}
	b := []geo.Point{{Lat: 59.32, Lon: 18.05}, shared}

	if _, err := s.Resolve([][]geo.Point{a, b}); err == nil {
		t.Error("Resolve() returned a colliding assignment, want error")
	}
}

func Test_countCollisions(t *testing.T) {
	shared := geo.Point{Lat: 59.33, Lon: 18.07}
	a := []geo.Point{shared, {Lat: 59.34, Lon: 18.09}}
	b := []geo.Point{{Lat: 59.32, Lon: 18.05}, shared}
	c := []geo.Point{{Lat: 59.30, Lon: 18.00}, {Lat: 59.31, Lon: 18.01}}

	if got := countCollisions([][]geo.Point{a, b, c}); got != 1 {
		t.Errorf("countCollisions() = %d, want 1", got)
	}
	if got := countCollisions([][]geo.Point{a, c}); got != 0 {
		t.Errorf("countCollisions() = %d for disjoint paths, want 0", got)
	}
}
