package poipredict

import (
	"io"
	logger "log"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/business/data/poi"
)

func testPredictor() *Predictor {
	return &Predictor{
		log:      logger.New(io.Discard, "", 0),
		calendar: newBusinessCalendar(),
	}
}

func Test_BuildSequence_ordersByScore(t *testing.T) {
	// a Wednesday, so the business calendar stays out of the picture
	now := time.Date(2022, 5, 11, 10, 0, 0, 0, time.UTC)

	pois := []*poi.POI{
		{Latitude: 45.52, Longitude: -122.68, TimeSpent: 600, POIRank: 100, CreatedAt: now},
		{Latitude: 45.53, Longitude: -122.69, TimeSpent: 600, POIRank: 500, CreatedAt: now},
		{Latitude: 45.54, Longitude: -122.70, TimeSpent: 600, POIRank: 100, CreatedAt: now.Add(-24 * time.Hour)},
	}

	got := testPredictor().BuildSequence(pois, nil, PredictionDaily, now)

	// highest rank first, then the fresh POI, then the day-old one decayed
	// by e^-1; slots spaced by the 600 s median dwell
	want := []*poi.PredictedPOI{
		{PredictedLatitude: 45.53, PredictedLongitude: -122.69, PredictedVisitTime: now},
		{PredictedLatitude: 45.52, PredictedLongitude: -122.68, PredictedVisitTime: now.Add(10 * time.Minute)},
		{PredictedLatitude: 45.54, PredictedLongitude: -122.70, PredictedVisitTime: now.Add(20 * time.Minute)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BuildSequence() = %+v, want %+v", got, want)
	}
}

func Test_BuildSequence_patternBoost(t *testing.T) {
	now := time.Date(2022, 5, 11, 10, 0, 0, 0, time.UTC)

	pois := []*poi.POI{
		{Latitude: 45.60, Longitude: -122.60, TimeSpent: 600, POIRank: 30, CreatedAt: now},
		{Latitude: 45.52, Longitude: -122.68, TimeSpent: 600, POIRank: 10, CreatedAt: now},
	}
	patterns := []*poi.UserPattern{
		// two patterns inside the window of the low-ranked POI
		{Latitude: 45.5215, Longitude: -122.6785},
		{Latitude: 45.5185, Longitude: -122.6815},
		// exactly on the window edge of the high-ranked POI, no boost
		{Latitude: 45.602, Longitude: -122.598},
	}

	got := testPredictor().BuildSequence(pois, patterns, PredictionDaily, now)

	if len(got) != 2 {
		t.Fatalf("BuildSequence() returned %d entries, want 2", len(got))
	}
	if got[0].PredictedLatitude != 45.52 {
		t.Errorf("BuildSequence()[0].PredictedLatitude = %v, want boosted POI at 45.52 first", got[0].PredictedLatitude)
	}
	if got[1].PredictedLatitude != 45.60 {
		t.Errorf("BuildSequence()[1].PredictedLatitude = %v, want 45.60", got[1].PredictedLatitude)
	}
}

func Test_BuildSequence_weeklyAvoidsNonBusinessDays(t *testing.T) {
	// a Sunday; with a 24 h median dwell the second slot lands on Monday
	now := time.Date(2022, 5, 15, 10, 0, 0, 0, time.UTC)

	pois := []*poi.POI{
		{Latitude: 45.52, Longitude: -122.68, TimeSpent: 86400, POIRank: 100, CreatedAt: now},
		{Latitude: 45.53, Longitude: -122.69, TimeSpent: 86400, POIRank: 60, CreatedAt: now},
	}

	daily := testPredictor().BuildSequence(pois, nil, PredictionDaily, now)
	if daily[0].PredictedLatitude != 45.52 {
		t.Errorf("daily BuildSequence()[0].PredictedLatitude = %v, want 45.52", daily[0].PredictedLatitude)
	}

	got := testPredictor().BuildSequence(pois, nil, PredictionWeekly, now)

	// the top entry's Sunday slot halves its score below the runner-up,
	// whose provisional slot falls on Monday
	want := []*poi.PredictedPOI{
		{PredictedLatitude: 45.53, PredictedLongitude: -122.69, PredictedVisitTime: now},
		{PredictedLatitude: 45.52, PredictedLongitude: -122.68, PredictedVisitTime: now.Add(24 * time.Hour)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("weekly BuildSequence() = %+v, want %+v", got, want)
	}
}

func Test_ClusterSequence(t *testing.T) {
	base := time.Date(2022, 5, 11, 10, 0, 0, 0, time.UTC)

	sequence := []*poi.PredictedPOI{
		{PredictedLatitude: 45.52001, PredictedLongitude: -122.68001, PredictedVisitTime: base},
		{PredictedLatitude: 45.52002, PredictedLongitude: -122.68002, PredictedVisitTime: base.Add(30 * time.Minute)},
		{PredictedLatitude: 45.60, PredictedLongitude: -122.60, PredictedVisitTime: base.Add(time.Hour)},
	}

	got := ClusterSequence(sequence, clusterCellDegrees)

	if len(got) != 2 {
		t.Fatalf("ClusterSequence() returned %d clusters, want 2", len(got))
	}
	if math.Abs(got[0].PredictedLatitude-45.520015) > 1e-9 || math.Abs(got[0].PredictedLongitude-(-122.680015)) > 1e-9 {
		t.Errorf("ClusterSequence()[0] centroid = %v,%v, want 45.520015,-122.680015",
			got[0].PredictedLatitude, got[0].PredictedLongitude)
	}
	if !got[0].PredictedVisitTime.Equal(base) {
		t.Errorf("ClusterSequence()[0].PredictedVisitTime = %v, want first member slot %v", got[0].PredictedVisitTime, base)
	}
	if got[1].PredictedLatitude != 45.60 || !got[1].PredictedVisitTime.Equal(base.Add(time.Hour)) {
		t.Errorf("ClusterSequence()[1] = %+v, want the lone cluster at 45.60", got[1])
	}
}

func Test_medianDwell(t *testing.T) {
	tests := []struct {
		name string
		dwel []float64
		want float64
	}{
		{name: "single value", dwel: []float64{600}, want: 600},
		{name: "even count averages the middle pair", dwel: []float64{600, 1200}, want: 900},
		{name: "odd count takes the middle", dwel: []float64{1200, 300, 600}, want: 600},
		{name: "no pois falls back to the default", dwel: nil, want: 1800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pois := make([]*poi.POI, 0, len(tt.dwel))
			for _, d := range tt.dwel {
				pois = append(pois, &poi.POI{TimeSpent: d})
			}
			if got := medianDwell(pois); got != tt.want {
				t.Errorf("medianDwell() = %v, want %v", got, tt.want)
			}
		})
	}
}
