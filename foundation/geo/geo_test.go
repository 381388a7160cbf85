package geo

import (
	"math"
	"reflect"
	"testing"
)

func Test_HaversineMeters(t *testing.T) {
	tests := []struct {
		name      string
		from      Point
		to        Point
		want      float64
		tolerance float64
	}{
		{
			name:      "same point is zero",
			from:      Point{Lat: 59.33, Lon: 18.07},
			to:        Point{Lat: 59.33, Lon: 18.07},
			want:      0,
			tolerance: 0.001,
		},
		{
			name:      "one degree of latitude",
			from:      Point{Lat: 59.0, Lon: 18.0},
			to:        Point{Lat: 60.0, Lon: 18.0},
			want:      111195,
			tolerance: 100,
		},
		{
			name:      "short hop across central stockholm",
			from:      Point{Lat: 59.3293, Lon: 18.0686},
			to:        Point{Lat: 59.3326, Lon: 18.0649},
			want:      424,
			tolerance: 10,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineMeters(tt.from, tt.to)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("HaversineMeters() = %v, want %v (±%v)", got, tt.want, tt.tolerance)
			}
		})
	}
}

func Test_ParseLineString(t *testing.T) {
	tests := []struct {
		name    string
		wkt     string
		want    []Point
		wantErr bool
	}{
		{
			name: "two vertex line",
			wkt:  "LINESTRING(18.07 59.33, 18.09 59.34)",
			want: []Point{{Lat: 59.33, Lon: 18.07}, {Lat: 59.34, Lon: 18.09}},
		},
		{
			name: "tolerates ragged whitespace",
			wkt:  "  LINESTRING( 18.07  59.33 ,18.09 59.34 )",
			want: []Point{{Lat: 59.33, Lon: 18.07}, {Lat: 59.34, Lon: 18.09}},
		},
		{
			name: "empty linestring",
			wkt:  "LINESTRING EMPTY",
			want: []Point{},
		},
		{
			name:    "not a linestring",
			wkt:     "POINT(18.07 59.33)",
			wantErr: true,
		},
		{
			name:    "missing coordinate",
			wkt:     "LINESTRING(18.07 59.33, 18.09)",
			wantErr: true,
		},
		{
			name:    "unparseable number",
			wkt:     "LINESTRING(18.07 fifty, 18.09 59.34)",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLineString(tt.wkt)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLineString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseLineString() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_EncodeLineString_roundTrip(t *testing.T) {
	line := []Point{{Lat: 59.33, Lon: 18.07}, {Lat: 59.335, Lon: 18.08}, {Lat: 59.34, Lon: 18.09}}
	got, err := ParseLineString(EncodeLineString(line))
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if !reflect.DeepEqual(got, line) {
		t.Errorf("round trip = %v, want %v", got, line)
	}
	if EncodeLineString(nil) != "LINESTRING EMPTY" {
		t.Errorf("empty polyline should encode as LINESTRING EMPTY")
	}
}

func Test_EncodePointEWKT(t *testing.T) {
	got := EncodePointEWKT(Point{Lat: 59.33, Lon: 18.07})
	want := "SRID=4326;POINT(18.07 59.33)"
	if got != want {
		t.Errorf("EncodePointEWKT() = %q, want %q", got, want)
	}
}

func Test_DistanceToPolylineMeters(t *testing.T) {
	// Distances come out in EPSG:3857 plane meters, which match true meters
	// at the equator. The watcher applies its thresholds in that plane.
	line := []Point{{Lat: 0.000, Lon: 18.070}, {Lat: 0.010, Lon: 18.070}}
	tests := []struct {
		name      string
		p         Point
		want      float64
		tolerance float64
	}{
		{
			name:      "point on the line",
			p:         Point{Lat: 0.005, Lon: 18.070},
			want:      0,
			tolerance: 0.5,
		},
		{
			name:      "seventy meters east of the line",
			p:         Point{Lat: 0.005, Lon: 18.07062884},
			want:      70,
			tolerance: 1,
		},
		{
			name:      "beyond the end clamps to the endpoint",
			p:         Point{Lat: 0.015, Lon: 18.070},
			want:      HaversineMeters(Point{Lat: 0.010, Lon: 18.070}, Point{Lat: 0.015, Lon: 18.070}),
			tolerance: 5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceToPolylineMeters(tt.p, line)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("DistanceToPolylineMeters() = %v, want %v (±%v)", got, tt.want, tt.tolerance)
			}
		})
	}
	if !math.IsInf(DistanceToPolylineMeters(Point{}, nil), 1) {
		t.Errorf("empty polyline should be infinitely far")
	}
}

func Test_RoundCoord(t *testing.T) {
	tests := []struct {
		name string
		v    float64
		want float64
	}{
		{name: "truncates to six decimals", v: 59.3312345678, want: 59.331235},
		{name: "stable for already rounded", v: 18.07, want: 18.07},
		{name: "negative coordinates", v: -122.4194155, want: -122.419416},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundCoord(tt.v); got != tt.want {
				t.Errorf("RoundCoord() = %v, want %v", got, tt.want)
			}
		})
	}
}
