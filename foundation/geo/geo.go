// Package geo provides the spatial primitives shared by the planners and the
// reroute watcher: great-circle distance, WKT polyline encoding, web-mercator
// projection and point-to-polyline distance in meters.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	earthRadiusMeters    = 6371000.0
	mercatorRadiusMeters = 6378137.0
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// HaversineMeters returns the great-circle distance between two coordinates.
func HaversineMeters(from, to Point) float64 {
	lat1 := from.Lat * math.Pi / 180
	lat2 := to.Lat * math.Pi / 180
	dLat := (to.Lat - from.Lat) * math.Pi / 180
	dLon := (to.Lon - from.Lon) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// EncodeLineString renders points as a WKT LINESTRING in lon lat order.
// An empty slice renders as LINESTRING EMPTY.
func EncodeLineString(points []Point) string {
	if len(points) == 0 {
		return "LINESTRING EMPTY"
	}
	parts := make([]string, 0, len(points))
	for _, p := range points {
		parts = append(parts, fmt.Sprintf("%s %s",
			strconv.FormatFloat(p.Lon, 'f', -1, 64),
			strconv.FormatFloat(p.Lat, 'f', -1, 64)))
	}
	return "LINESTRING(" + strings.Join(parts, ", ") + ")"
}

// EncodePointEWKT renders a coordinate as EWKT with the WGS84 SRID, the form
// the geodata and poi tables store.
func EncodePointEWKT(p Point) string {
	return fmt.Sprintf("SRID=4326;POINT(%s %s)",
		strconv.FormatFloat(p.Lon, 'f', -1, 64),
		strconv.FormatFloat(p.Lat, 'f', -1, 64))
}

// ParseLineString reads a WKT LINESTRING in lon lat order. LINESTRING EMPTY
// parses to an empty slice. Anything else malformed returns an error.
func ParseLineString(wkt string) ([]Point, error) {
	s := strings.TrimSpace(wkt)
	upper := strings.ToUpper(s)
	if upper == "LINESTRING EMPTY" {
		return []Point{}, nil
	}
	if !strings.HasPrefix(upper, "LINESTRING") {
		return nil, fmt.Errorf("not a linestring: %q", wkt)
	}
	open := strings.Index(s, "(")
	close_ := strings.LastIndex(s, ")")
	if open < 0 || close_ < open {
		return nil, fmt.Errorf("unbalanced linestring: %q", wkt)
	}
	body := s[open+1 : close_]
	pairs := strings.Split(body, ",")
	points := make([]Point, 0, len(pairs))
	for _, pair := range pairs {
		fields := strings.Fields(strings.TrimSpace(pair))
		if len(fields) != 2 {
			return nil, fmt.Errorf("bad coordinate pair %q in %q", pair, wkt)
		}
		lon, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad longitude %q: %v", fields[0], err)
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad latitude %q: %v", fields[1], err)
		}
		points = append(points, Point{Lat: lat, Lon: lon})
	}
	return points, nil
}

// PolylineMeters sums the great-circle lengths of the polyline's segments.
func PolylineMeters(points []Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += HaversineMeters(points[i-1], points[i])
	}
	return total
}

// planar is a point in EPSG:3857 meters.
type planar struct {
	x float64
	y float64
}

// toMercator projects a WGS84 coordinate to EPSG:3857.
func toMercator(p Point) planar {
	x := mercatorRadiusMeters * p.Lon * math.Pi / 180
	y := mercatorRadiusMeters * math.Log(math.Tan(math.Pi/4+p.Lat*math.Pi/360))
	return planar{x: x, y: y}
}

// DistanceToPolylineMeters projects the point and polyline to EPSG:3857 and
// returns the minimum distance from the point to any segment. A single-vertex
// polyline degrades to point distance. An empty polyline returns +Inf.
func DistanceToPolylineMeters(p Point, line []Point) float64 {
	if len(line) == 0 {
		return math.Inf(1)
	}
	pp := toMercator(p)
	if len(line) == 1 {
		v := toMercator(line[0])
		return math.Hypot(pp.x-v.x, pp.y-v.y)
	}
	min := math.Inf(1)
	prev := toMercator(line[0])
	for i := 1; i < len(line); i++ {
		cur := toMercator(line[i])
		if d := pointToSegment(pp, prev, cur); d < min {
			min = d
		}
		prev = cur
	}
	return min
}

func pointToSegment(p, a, b planar) float64 {
	dx := b.x - a.x
	dy := b.y - a.y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(p.x-a.x, p.y-a.y)
	}
	t := ((p.x-a.x)*dx + (p.y-a.y)*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(p.x-(a.x+t*dx), p.y-(a.y+t*dy))
}

// RoundCoord truncates a coordinate to six decimal places, the fixed
// precision used for POI aggregation keys.
func RoundCoord(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
