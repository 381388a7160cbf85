package routing

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/UrbanOSLabs/mobilitycast/foundation/geo"
)

func Test_ShortestPath_prefersCheapestTotal(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{ID: 1, Lat: 45.5200, Lon: -122.6800})
	g.AddNode(Node{ID: 2, Lat: 45.5210, Lon: -122.6800})
	g.AddNode(Node{ID: 3, Lat: 45.5220, Lon: -122.6800})

	// Direct hop is stored as longer than the two-hop chain.
	g.AddEdge(1, 3, 500)
	g.AddEdge(1, 2, 100)
	g.AddEdge(2, 3, 100)

	path, err := ShortestPath(g, 1, 3)
	if err != nil {
		t.Fatalf("ShortestPath() error = %v", err)
	}

	want := []geo.Point{
		{Lat: 45.5200, Lon: -122.6800},
		{Lat: 45.5210, Lon: -122.6800},
		{Lat: 45.5220, Lon: -122.6800},
	}
	if !reflect.DeepEqual(path.Points, want) {
		t.Errorf("ShortestPath() points = %v, want %v", path.Points, want)
	}
	if wantMeters := geo.PolylineMeters(want); path.Meters != wantMeters {
		t.Errorf("ShortestPath() meters = %v, want %v", path.Meters, wantMeters)
	}
}

func Test_ShortestPath_fallsBackToGreatCircleCost(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{ID: 1, Lat: 45.5200, Lon: -122.6800})
	g.AddNode(Node{ID: 2, Lat: 45.5210, Lon: -122.6800})
	g.AddNode(Node{ID: 3, Lat: 45.5220, Lon: -122.6800})

	// The direct hop carries no length, so its cost is the great-circle
	// distance, roughly 222 meters, cheaper than the priced chain.
	g.AddEdge(1, 3, 0)
	g.AddEdge(1, 2, 500)
	g.AddEdge(2, 3, 500)

	path, err := ShortestPath(g, 1, 3)
	if err != nil {
		t.Fatalf("ShortestPath() error = %v", err)
	}

	if len(path.Points) != 2 {
		t.Fatalf("ShortestPath() vertices = %d, want 2", len(path.Points))
	}
	if path.Points[1].Lat != 45.5220 {
		t.Errorf("ShortestPath() final vertex = %v, want goal", path.Points[1])
	}
}

func Test_ShortestPath_startEqualsGoal(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{ID: 7, Lat: 45.5, Lon: -122.6})

	path, err := ShortestPath(g, 7, 7)
	if err != nil {
		t.Fatalf("ShortestPath() error = %v", err)
	}

	want := []geo.Point{
		{Lat: 45.5, Lon: -122.6},
		{Lat: 45.5, Lon: -122.6},
	}
	if !reflect.DeepEqual(path.Points, want) {
		t.Errorf("ShortestPath() points = %v, want %v", path.Points, want)
	}
	if path.Meters != 0 {
		t.Errorf("ShortestPath() meters = %v, want 0", path.Meters)
	}
	if path.Duration != 0 {
		t.Errorf("ShortestPath() duration = %v, want 0", path.Duration)
	}
}

func Test_ShortestPath_disconnected(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{ID: 1, Lat: 45.52, Lon: -122.68})
	g.AddNode(Node{ID: 2, Lat: 45.53, Lon: -122.68})
	g.AddNode(Node{ID: 9, Lat: 45.60, Lon: -122.60})
	g.AddEdge(1, 2, 100)
	g.AddEdge(2, 1, 100)

	_, err := ShortestPath(g, 1, 9)
	if err == nil {
		t.Fatal("ShortestPath() expected error for disconnected endpoints")
	}
	if !fault.IsMissing(err) {
		t.Errorf("ShortestPath() error kind = %v, want DataMissing", fault.KindOf(err))
	}
}

func Test_ShortestPath_unknownNode(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{ID: 1, Lat: 45.52, Lon: -122.68})

	_, err := ShortestPath(g, 1, 404)
	if err == nil {
		t.Fatal("ShortestPath() expected error for unknown goal")
	}
	if !fault.IsMissing(err) {
		t.Errorf("ShortestPath() error kind = %v, want DataMissing", fault.KindOf(err))
	}
}

func Test_ShortestPath_equalScoresPopInPushOrder(t *testing.T) {
	// Symmetric diamond: both branches have identical length, so every
	// f score ties and insertion order decides. The branch whose edge was
	// added first must win.
	g := NewGraph()
	g.AddNode(Node{ID: 1, Lat: 0, Lon: 0})
	g.AddNode(Node{ID: 2, Lat: 0.001, Lon: 0.001})
	g.AddNode(Node{ID: 3, Lat: -0.001, Lon: 0.001})
	g.AddNode(Node{ID: 4, Lat: 0, Lon: 0.002})

	g.AddEdge(1, 2, 0)
	g.AddEdge(1, 3, 0)
	g.AddEdge(2, 4, 0)
	g.AddEdge(3, 4, 0)

	path, err := ShortestPath(g, 1, 4)
	if err != nil {
		t.Fatalf("ShortestPath() error = %v", err)
	}

	if len(path.Points) != 3 {
		t.Fatalf("ShortestPath() vertices = %d, want 3", len(path.Points))
	}
	if path.Points[1].Lat != 0.001 {
		t.Errorf("ShortestPath() middle vertex = %v, want the first-pushed branch", path.Points[1])
	}
}

func Test_NearestNode(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{ID: 1, Lat: 45.520, Lon: -122.680})
	g.AddNode(Node{ID: 2, Lat: 45.530, Lon: -122.680})
	g.AddNode(Node{ID: 3, Lat: 45.520, Lon: -122.600})

	tests := []struct {
		name string
		give geo.Point
		want int64
	}{
		{name: "close to first", give: geo.Point{Lat: 45.521, Lon: -122.681}, want: 1},
		{name: "close to second", give: geo.Point{Lat: 45.529, Lon: -122.679}, want: 2},
		{name: "close to third", give: geo.Point{Lat: 45.519, Lon: -122.601}, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.NearestNode(tt.give)
			if err != nil {
				t.Fatalf("NearestNode() error = %v", err)
			}
			if got.ID != tt.want {
				t.Errorf("NearestNode() = %d, want %d", got.ID, tt.want)
			}
		})
	}
}

func Test_NearestNode_emptyGraph(t *testing.T) {
	g := NewGraph()

	_, err := g.NearestNode(geo.Point{Lat: 45.52, Lon: -122.68})
	if err == nil {
		t.Fatal("NearestNode() expected error for empty graph")
	}
	if !fault.IsMissing(err) {
		t.Errorf("NearestNode() error kind = %v, want DataMissing", fault.KindOf(err))
	}
}

func Test_BoundsAround(t *testing.T) {
	points := []geo.Point{
		{Lat: 45.52, Lon: -122.68},
		{Lat: 45.50, Lon: -122.60},
	}

	got := BoundsAround(points, 0.01)

	want := BBox{South: 45.49, West: -122.69, North: 45.53, East: -122.59}
	const tolerance = 1e-9
	if math.Abs(got.South-want.South) > tolerance ||
		math.Abs(got.West-want.West) > tolerance ||
		math.Abs(got.North-want.North) > tolerance ||
		math.Abs(got.East-want.East) > tolerance {
		t.Errorf("BoundsAround() = %+v, want %+v", got, want)
	}
}

func Test_EstimateDuration(t *testing.T) {
	tests := []struct {
		name   string
		meters float64
		speed  float64
		want   time.Duration
	}{
		{name: "default pace", meters: 1400, speed: 0, want: 1000 * time.Second},
		{name: "live speed", meters: 1400, speed: 2.0, want: 700 * time.Second},
		{name: "negative speed falls back", meters: 140, speed: -1, want: 100 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateDuration(tt.meters, tt.speed); got != tt.want {
				t.Errorf("EstimateDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
