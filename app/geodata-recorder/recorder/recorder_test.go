package recorder

import (
	"testing"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
)

func Test_ClientIDFromTopic(t *testing.T) {
	tests := []struct {
		name    string
		give    string
		want    string
		wantErr bool
	}{
		{name: "full topic", give: "client/abc-123/session/42/", want: "abc-123"},
		{name: "no trailing slash", give: "client/abc-123/session/42", want: "abc-123"},
		{name: "too short", give: "client/abc-123", wantErr: true},
		{name: "empty", give: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClientIDFromTopic(tt.give)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ClientIDFromTopic() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if fault.KindOf(err) != fault.Malformed {
					t.Errorf("ClientIDFromTopic() error kind = %v, want Malformed", fault.KindOf(err))
				}
				return
			}
			if got != tt.want {
				t.Errorf("ClientIDFromTopic() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_decodePayload(t *testing.T) {
	payload := []byte(`{
		"start_time": "2026-08-24T10:00:00Z",
		"end_time": "2026-08-24T10:30:00Z",
		"trajectory": [
			{"lat": 45.52, "lon": -122.68, "speed": 1.2, "timestamp": "2026-08-24T10:01:00Z"}
		]
	}`)

	message, err := decodePayload(payload)
	if err != nil {
		t.Fatalf("decodePayload() error = %v", err)
	}
	if message.StartTime != "2026-08-24T10:00:00Z" {
		t.Errorf("decodePayload() start_time = %v", message.StartTime)
	}
	if len(message.Trajectory) != 1 {
		t.Fatalf("decodePayload() trajectory length = %d, want 1", len(message.Trajectory))
	}
	if message.Trajectory[0].Speed == nil || *message.Trajectory[0].Speed != 1.2 {
		t.Errorf("decodePayload() speed = %v, want 1.2", message.Trajectory[0].Speed)
	}
}

func Test_decodePayload_malformed(t *testing.T) {
	_, err := decodePayload([]byte("{not json"))
	if err == nil {
		t.Fatal("decodePayload() expected error")
	}
	if fault.KindOf(err) != fault.Malformed {
		t.Errorf("decodePayload() error kind = %v, want Malformed", fault.KindOf(err))
	}
}

func Test_collectPoints(t *testing.T) {
	lat := 45.52
	lon := -122.68
	elevation := 12.5
	activity := "walking"

	trajectory := []trajectoryPoint{
		{Lat: &lat, Lon: &lon, Elevation: &elevation, Activity: &activity, Timestamp: "2026-08-24T10:01:00Z"},
		{Lat: nil, Lon: &lon, Timestamp: "2026-08-24T10:02:00Z"},
		{Lat: &lat, Lon: nil, Timestamp: "2026-08-24T10:03:00Z"},
		{Lat: &lat, Lon: &lon, Timestamp: ""},
		{Lat: &lat, Lon: &lon, Timestamp: "null"},
		{Lat: &lat, Lon: &lon, Timestamp: "not a time"},
		{Lat: &lat, Lon: &lon, Timestamp: "2026-08-24T10:04:00.250Z"},
	}

	points := collectPoints("abc-123", 42, trajectory)

	if len(points) != 2 {
		t.Fatalf("collectPoints() kept %d points, want 2", len(points))
	}
	first := points[0]
	if first.ClientID != "abc-123" || first.SessionID != 42 {
		t.Errorf("collectPoints() keys = %s/%d, want abc-123/42", first.ClientID, first.SessionID)
	}
	if first.Elevation == nil || *first.Elevation != 12.5 {
		t.Errorf("collectPoints() elevation = %v, want 12.5", first.Elevation)
	}
	if first.Activity == nil || *first.Activity != "walking" {
		t.Errorf("collectPoints() activity = %v, want walking", first.Activity)
	}
	wantFractional := time.Date(2026, 8, 24, 10, 4, 0, 250000000, time.UTC)
	if !points[1].Timestamp.Equal(wantFractional) {
		t.Errorf("collectPoints() fractional timestamp = %v, want %v", points[1].Timestamp, wantFractional)
	}
}
