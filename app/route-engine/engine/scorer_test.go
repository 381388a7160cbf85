package engine

import (
	"math"
	"reflect"
	"testing"

	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
)

func Test_candidateFeatures(t *testing.T) {
	tests := []struct {
		name       string
		dist       float64
		multimodal bool
		hour       int
		speed      float64
		want       []float64
	}{
		{
			name: "walking candidate mid range",
			dist: 2500, multimodal: false, hour: 23, speed: 3,
			want: []float64{0.5, 0, 1, 0.5, 0.2, 0.8},
		},
		{
			name: "distance and speed cap at one",
			dist: 9000, multimodal: true, hour: 0, speed: 12,
			want: []float64{1, 1, 0, 1, 0.2, 0.8},
		},
		{
			name: "zero distance is a valid candidate",
			dist: 0, multimodal: false, hour: 0, speed: 0,
			want: []float64{0, 0, 0, 0, 0.2, 0.8},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := candidateFeatures(tt.dist, tt.multimodal, tt.hour, tt.speed, 0.2, 0.8)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("candidateFeatures() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_interpretModelOutput(t *testing.T) {
	tests := []struct {
		name    string
		give    []float64
		want    [2]float64
		wantErr bool
	}{
		{name: "score pair", give: []float64{0.3, 0.7}, want: [2]float64{0.3, 0.7}},
		{name: "scalar becomes complement pair", give: []float64{0.7}, want: [2]float64{0.3, 0.7}},
		{name: "empty output", give: []float64{}, wantErr: true},
		{name: "too many outputs", give: []float64{0.1, 0.2, 0.7}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := interpretModelOutput(tt.give)
			if (err != nil) != tt.wantErr {
				t.Fatalf("interpretModelOutput() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if fault.KindOf(err) != fault.Malformed {
					t.Errorf("interpretModelOutput() error kind = %v, want Malformed", fault.KindOf(err))
				}
				return
			}
			if math.Abs(got[0]-tt.want[0]) > 1e-9 || math.Abs(got[1]-tt.want[1]) > 1e-9 {
				t.Errorf("interpretModelOutput() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_normalizeScores(t *testing.T) {
	tests := []struct {
		name string
		give [2]float64
		want [2]float64
	}{
		{name: "shifts negative minimum to zero", give: [2]float64{-1, 1}, want: [2]float64{0, 1}},
		{name: "normalizes to probabilities", give: [2]float64{1, 3}, want: [2]float64{0, 1}},
		{name: "degenerate pair is uniform", give: [2]float64{0.4, 0.4}, want: [2]float64{0.5, 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeScores(tt.give)
			if math.Abs(got[0]-tt.want[0]) > 1e-9 || math.Abs(got[1]-tt.want[1]) > 1e-9 {
				t.Errorf("normalizeScores() = %v, want %v", got, tt.want)
			}
		})
	}
}

// A client with strong multimodal history and a favorable model output keeps
// the multimodal candidate ahead after blending.
func Test_blendWithHistory_favorsMultimodal(t *testing.T) {
	pModel := normalizeScores([2]float64{0.3, 0.7})
	blended := blendWithHistory(pModel, 0.2, 0.8, "14", nil)

	// 0.85 * (0.3, 0.7) shifted-normalized + 0.15 * (0.2, 0.8)
	if blended[candidateMAPF] <= blended[candidateAStar] {
		t.Errorf("blendWithHistory() = %v, want multimodal ahead", blended)
	}
	if total := blended[0] + blended[1]; math.Abs(total-1) > 1e-9 {
		t.Errorf("blendWithHistory() sums to %v, want 1", total)
	}
}

func Test_blendWithHistory_knownLineNudge(t *testing.T) {
	pModel := [2]float64{0.5, 0.5}
	favored := map[string]bool{"14": true}

	plain := blendWithHistory(pModel, 0.5, 0.5, "99", favored)
	nudged := blendWithHistory(pModel, 0.5, 0.5, "14", favored)

	if plain[candidateMAPF] != 0.5 {
		t.Errorf("blendWithHistory() without favored route = %v, want 0.5", plain[candidateMAPF])
	}
	if nudged[candidateMAPF] <= plain[candidateMAPF] {
		t.Errorf("blendWithHistory() favored route = %v, want above %v", nudged[candidateMAPF], plain[candidateMAPF])
	}
}

func Test_finalChoice(t *testing.T) {
	avgSwitchFast := 120.0
	avgSwitchSlow := 121.0

	tests := []struct {
		name      string
		blended   [2]float64
		delay     float64
		avgSwitch *float64
		want      int
	}{
		{name: "clear multimodal win", blended: [2]float64{0.3, 0.7}, want: candidateMAPF},
		{name: "clear walking win", blended: [2]float64{0.7, 0.3}, want: candidateAStar},
		{
			name:    "close call without profile keeps argmax",
			blended: [2]float64{0.52, 0.48},
			want:    candidateAStar,
		},
		{
			name:      "close call with fast switcher leans multimodal",
			blended:   [2]float64{0.52, 0.48},
			delay:     60,
			avgSwitch: &avgSwitchFast,
			want:      candidateMAPF,
		},
		{
			name:      "boundary delay and switch are inclusive",
			blended:   [2]float64{0.48, 0.52},
			delay:     60,
			avgSwitch: &avgSwitchFast,
			want:      candidateMAPF,
		},
		{
			name:      "slow switcher keeps argmax",
			blended:   [2]float64{0.52, 0.48},
			delay:     30,
			avgSwitch: &avgSwitchSlow,
			want:      candidateAStar,
		},
		{
			name:      "large delay keeps argmax",
			blended:   [2]float64{0.52, 0.48},
			delay:     61,
			avgSwitch: &avgSwitchFast,
			want:      candidateAStar,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := finalChoice(tt.blended, tt.delay, tt.avgSwitch); got != tt.want {
				t.Errorf("finalChoice() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_heuristicChoice(t *testing.T) {
	tests := []struct {
		name      string
		astarDist float64
		mapfDist  float64
		delay     float64
		want      int
	}{
		{name: "walking shorter than leg plus penalty", astarDist: 500, mapfDist: 450, delay: 0, want: candidateAStar},
		{name: "multimodal wins a long walk", astarDist: 2000, mapfDist: 800, delay: 30, want: candidateMAPF},
		{name: "delay prices the leg out", astarDist: 950, mapfDist: 800, delay: 600, want: candidateAStar},
		{name: "negative delay does not reward the leg", astarDist: 901, mapfDist: 800, delay: -30, want: candidateMAPF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := heuristicChoice(tt.astarDist, tt.mapfDist, tt.delay); got != tt.want {
				t.Errorf("heuristicChoice() = %v, want %v", got, tt.want)
			}
		})
	}
}
