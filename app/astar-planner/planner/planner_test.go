package planner

import (
	"testing"

	"github.com/UrbanOSLabs/mobilitycast/business/routing"
)

func Test_walkingPace(t *testing.T) {
	tests := []struct {
		name        string
		deviceSpeed float64
		want        float64
	}{
		{name: "moving client keeps device speed", deviceSpeed: 2.1, want: 2.1},
		{name: "stationary client gets nominal pace", deviceSpeed: 0, want: routing.WalkSpeedMetersPerSecond},
		{name: "negative speed gets nominal pace", deviceSpeed: -1.5, want: routing.WalkSpeedMetersPerSecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := walkingPace(tt.deviceSpeed); got != tt.want {
				t.Errorf("walkingPace(%v) = %v, want %v", tt.deviceSpeed, got, tt.want)
			}
		})
	}
}
