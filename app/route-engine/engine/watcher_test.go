package engine

import (
	"io"
	logger "log"
	"testing"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/business/data/livetransit"
	"github.com/UrbanOSLabs/mobilitycast/business/data/route"
	"github.com/UrbanOSLabs/mobilitycast/foundation/geo"
)

func testEngine() *Engine {
	return New(logger.New(io.Discard, "", 0), nil, nil)
}

func Test_streakTracker(t *testing.T) {
	tracker := newStreakTracker()

	if got := tracker.observe("c1", true); got != 1 {
		t.Errorf("first off-path tick streak = %d, want 1", got)
	}
	if got := tracker.observe("c1", true); got != 2 {
		t.Errorf("second off-path tick streak = %d, want 2", got)
	}
	if got := tracker.observe("c1", false); got != 0 {
		t.Errorf("in-tolerance tick streak = %d, want 0", got)
	}
	if got := tracker.observe("c1", true); got != 1 {
		t.Errorf("streak after reset = %d, want 1", got)
	}
	// clients track independently
	if got := tracker.observe("c2", true); got != 1 {
		t.Errorf("other client streak = %d, want 1", got)
	}
}

func Test_deviationThresholdMeters(t *testing.T) {
	if got := deviationThresholdMeters(route.SegmentDirect); got != 35 {
		t.Errorf("direct threshold = %v, want 35", got)
	}
	if got := deviationThresholdMeters(route.SegmentMultimodal); got != 60 {
		t.Errorf("multimodal threshold = %v, want 60", got)
	}
	if got := deviationThresholdMeters(route.SegmentFallback); got != 35 {
		t.Errorf("fallback threshold = %v, want 35", got)
	}
}

// A client drifting ~70 m east of a direct north-south path must fail two
// consecutive ticks before the deviation fires, and the reason carries the
// measured meters.
func Test_deviationReason_firesAfterStreak(t *testing.T) {
	e := testEngine()
	streaks := newStreakTracker()

	// path runs north along a meridian; the client stands ~70 m east
	choice := &route.ChoiceSnapshot{
		SegmentType: route.SegmentDirect,
		StopID:      route.DirectStopID,
		Path:        "LINESTRING(18.07 59.33, 18.07 59.34)",
	}
	location := geo.Point{Lat: 59.335, Lon: 18.0709}

	if reason, fire := e.deviationReason(streaks, "c1", choice, location); fire {
		t.Fatalf("deviationReason() fired on first tick with reason %q", reason)
	}
	reason, fire := e.deviationReason(streaks, "c1", choice, location)
	if !fire {
		t.Fatal("deviationReason() did not fire on second consecutive tick")
	}
	if reason == "" || reason[:9] != "off_path_" {
		t.Errorf("deviationReason() reason = %q, want off_path_<n>m", reason)
	}
}

func Test_deviationReason_onPathResetsStreak(t *testing.T) {
	e := testEngine()
	streaks := newStreakTracker()

	choice := &route.ChoiceSnapshot{
		SegmentType: route.SegmentDirect,
		StopID:      route.DirectStopID,
		Path:        "LINESTRING(18.07 59.33, 18.07 59.34)",
	}
	off := geo.Point{Lat: 59.335, Lon: 18.0709}
	on := geo.Point{Lat: 59.335, Lon: 18.07}

	e.deviationReason(streaks, "c1", choice, off)
	e.deviationReason(streaks, "c1", choice, on)
	if _, fire := e.deviationReason(streaks, "c1", choice, off); fire {
		t.Error("deviationReason() fired after an in-tolerance tick reset the streak")
	}
}

func Test_deviationReason_missingChoiceFiresImmediately(t *testing.T) {
	e := testEngine()
	streaks := newStreakTracker()

	reason, fire := e.deviationReason(streaks, "c1", nil, geo.Point{Lat: 59.33, Lon: 18.07})
	if !fire || reason != "no_path_in_choice" {
		t.Errorf("deviationReason() = (%q, %v), want (no_path_in_choice, true)", reason, fire)
	}
}

func Test_offPathMeters_badGeometryReadsAsFar(t *testing.T) {
	threshold := deviationThresholdMeters(route.SegmentDirect)

	// malformed and empty geometry read as infinitely far
	location := geo.Point{Lat: 59.33, Lon: 18.07}
	if got := offPathMeters(location, "not wkt"); got <= threshold {
		t.Errorf("offPathMeters(malformed) = %v, want +Inf", got)
	}
	if got := offPathMeters(location, "LINESTRING EMPTY"); got <= threshold {
		t.Errorf("offPathMeters(empty) = %v, want +Inf", got)
	}
}

func Test_departureShiftReason(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	delayBig := 600
	delayOK := 30

	tests := []struct {
		name      string
		departure livetransit.DepartureCandidate
		want      string
		wantFire  bool
	}{
		{
			name: "departure long gone",
			departure: livetransit.DepartureCandidate{
				DepartureTime: now.Add(-46 * time.Second),
				DelaySeconds:  &delayOK,
			},
			want:     "departure_passed",
			wantFire: true,
		},
		{
			name: "exactly 45 seconds past is still viable",
			departure: livetransit.DepartureCandidate{
				DepartureTime: now.Add(-45 * time.Second),
				DelaySeconds:  &delayOK,
			},
		},
		{
			name: "delay past threshold",
			departure: livetransit.DepartureCandidate{
				DepartureTime: now.Add(2 * time.Minute),
				DelaySeconds:  &delayBig,
			},
			want:     "delay_600s",
			wantFire: true,
		},
		{
			name: "healthy departure",
			departure: livetransit.DepartureCandidate{
				DepartureTime: now.Add(2 * time.Minute),
				DelaySeconds:  &delayOK,
			},
		},
		{
			name: "unreported delay counts as zero",
			departure: livetransit.DepartureCandidate{
				DepartureTime: now.Add(2 * time.Minute),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fire := departureShiftReason(&tt.departure, now)
			if fire != tt.wantFire || got != tt.want {
				t.Errorf("departureShiftReason() = (%q, %v), want (%q, %v)", got, fire, tt.want, tt.wantFire)
			}
		})
	}
}

func Test_routesDiffer(t *testing.T) {
	stopA := "S100"
	stopB := "S200"
	base := route.LiveRoute{
		StopID:      &stopA,
		SegmentType: route.SegmentMultimodal,
		Path:        "LINESTRING(18.07 59.33, 18.08 59.34)",
	}

	tests := []struct {
		name   string
		before *route.LiveRoute
		after  route.LiveRoute
		want   bool
	}{
		{name: "no previous route", before: nil, after: base, want: true},
		{name: "identical advice", before: &base, after: base, want: false},
		{
			name:   "segment changed",
			before: &base,
			after:  route.LiveRoute{StopID: &stopA, SegmentType: route.SegmentDirect, Path: base.Path},
			want:   true,
		},
		{
			name:   "stop changed",
			before: &base,
			after:  route.LiveRoute{StopID: &stopB, SegmentType: route.SegmentMultimodal, Path: base.Path},
			want:   true,
		},
		{
			name:   "path changed",
			before: &base,
			after:  route.LiveRoute{StopID: &stopA, SegmentType: route.SegmentMultimodal, Path: "LINESTRING(18.07 59.33, 18.09 59.35)"},
			want:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := routesDiffer(tt.before, &tt.after); got != tt.want {
				t.Errorf("routesDiffer() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_nextBackoff(t *testing.T) {
	if got := nextBackoff(0, plannerBackoffCap); got != 2*time.Second {
		t.Errorf("nextBackoff(0) = %v, want 2s", got)
	}
	if got := nextBackoff(2*time.Second, plannerBackoffCap); got != 4*time.Second {
		t.Errorf("nextBackoff(2s) = %v, want 4s", got)
	}
	if got := nextBackoff(48*time.Second, plannerBackoffCap); got != plannerBackoffCap {
		t.Errorf("nextBackoff(48s) = %v, want %v", got, plannerBackoffCap)
	}
}
