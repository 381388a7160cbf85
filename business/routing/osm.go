package routing

import (
	"encoding/json"
	"fmt"
	logger "log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/UrbanOSLabs/mobilitycast/foundation/geo"
	"github.com/UrbanOSLabs/mobilitycast/foundation/httpclient"
)

// DefaultOverpassEndpoint serves the public Overpass API.
const DefaultOverpassEndpoint = "https://overpass-api.de/api/interpreter"

// overpassTimeout is sent to the server and also bounds the HTTP client.
const overpassTimeout = 300 * time.Second

// BBox is a WGS84 bounding box.
type BBox struct {
	South float64
	West  float64
	North float64
	East  float64
}

// BoundsAround computes the bounding box of the points padded on every side.
func BoundsAround(points []geo.Point, pad float64) BBox {
	box := BBox{}
	for i, p := range points {
		if i == 0 {
			box = BBox{South: p.Lat, West: p.Lon, North: p.Lat, East: p.Lon}
			continue
		}
		if p.Lat < box.South {
			box.South = p.Lat
		}
		if p.Lat > box.North {
			box.North = p.Lat
		}
		if p.Lon < box.West {
			box.West = p.Lon
		}
		if p.Lon > box.East {
			box.East = p.Lon
		}
	}
	box.South -= pad
	box.West -= pad
	box.North += pad
	box.East += pad
	return box
}

// key renders the box as a stable cache file stem. Coordinates are rounded so
// repeated plans between the same endpoints hit the same entry.
func (b BBox) key() string {
	f := func(v float64) string {
		return strconv.FormatFloat(geo.RoundCoord(v), 'f', 6, 64)
	}
	return fmt.Sprintf("osm_%s_%s_%s_%s", f(b.South), f(b.West), f(b.North), f(b.East))
}

// GraphSource loads walkable road graphs for bounding boxes from the Overpass
// API, caching raw responses on disk keyed by the rounded box. The cache
// directory is shared read-mostly between planner processes.
type GraphSource struct {
	log      *logger.Logger
	endpoint string
	cacheDir string
}

// NewGraphSource creates a GraphSource. An empty endpoint selects the public
// Overpass API.
func NewGraphSource(log *logger.Logger, endpoint, cacheDir string) *GraphSource {
	if endpoint == "" {
		endpoint = DefaultOverpassEndpoint
	}
	return &GraphSource{
		log:      log,
		endpoint: endpoint,
		cacheDir: cacheDir,
	}
}

// GraphForBBox returns the road graph covering the box, from cache when a
// readable entry exists. Fetch failures are Transient, unparseable payloads
// Malformed.
func (s *GraphSource) GraphForBBox(box BBox) (*Graph, error) {
	cachePath := filepath.Join(s.cacheDir, box.key()+".json")

	if data, err := os.ReadFile(cachePath); err == nil {
		graph, err := buildGraph(data)
		if err == nil {
			return graph, nil
		}
		s.log.Printf("discarding unreadable road graph cache entry %s: %v", cachePath, err)
	}

	data, err := s.fetch(box)
	if err != nil {
		return nil, fault.Wrap(fault.Transient, err, "unable to fetch road graph")
	}

	if err := s.store(cachePath, data); err != nil {
		s.log.Printf("unable to cache road graph at %s: %v", cachePath, err)
	}

	return buildGraph(data)
}

func (s *GraphSource) fetch(box BBox) ([]byte, error) {
	query := fmt.Sprintf(
		"[out:json][timeout:%d];(way[\"highway\"](%f,%f,%f,%f););(._;>;);out body;",
		int(overpassTimeout.Seconds()), box.South, box.West, box.North, box.East)

	values := url.Values{}
	values.Set("data", query)

	return httpclient.FetchBytes(s.endpoint+"?"+values.Encode(), overpassTimeout)
}

func (s *GraphSource) store(cachePath string, data []byte) error {
	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(cachePath, data, 0o644)
}

// overpassElement is one entry of an Overpass response. Nodes carry
// coordinates, ways carry the ordered node ids of a road segment chain.
type overpassElement struct {
	Type  string  `json:"type"`
	ID    int64   `json:"id"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Nodes []int64 `json:"nodes"`
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

// buildGraph parses a raw Overpass payload into a graph. Every consecutive
// node pair of a way becomes a bidirectional edge with its great-circle
// length. Way members without a known node are skipped.
func buildGraph(data []byte) (*Graph, error) {
	var response overpassResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fault.Wrap(fault.Malformed, err, "unable to decode road graph payload")
	}

	graph := NewGraph()
	for _, element := range response.Elements {
		if element.Type == "node" {
			graph.AddNode(Node{ID: element.ID, Lat: element.Lat, Lon: element.Lon})
		}
	}

	for _, element := range response.Elements {
		if element.Type != "way" {
			continue
		}
		for i := 1; i < len(element.Nodes); i++ {
			from, ok := graph.Node(element.Nodes[i-1])
			if !ok {
				continue
			}
			to, ok := graph.Node(element.Nodes[i])
			if !ok {
				continue
			}
			meters := geo.HaversineMeters(
				geo.Point{Lat: from.Lat, Lon: from.Lon},
				geo.Point{Lat: to.Lat, Lon: to.Lon})
			graph.AddEdge(from.ID, to.ID, meters)
			graph.AddEdge(to.ID, from.ID, meters)
		}
	}

	return graph, nil
}
