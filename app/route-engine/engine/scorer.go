package engine

import (
	"math"

	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
)

// Candidate indexes into score and probability pairs.
const (
	candidateAStar = 0
	candidateMAPF  = 1
)

// Blending tunables. Small and conservative: the model drives the choice,
// history and live context only lean on it.
const (
	// historyBlend is the weight of the client's historical usage ratios.
	historyBlend = 0.15
	// knownLineNudge is added to the multimodal probability when the live
	// departure runs on one of the client's favored routes.
	knownLineNudge = 0.05
	// closeMargin is the probability gap under which the choice is too
	// close to call and the switch-speed tie-breaker applies.
	closeMargin = 0.10
	// mapfPenaltyMeters handicaps the multimodal leg in the heuristic
	// fallback, pricing in the boarding overhead.
	mapfPenaltyMeters = 100.0

	// tieBreakerMaxDelaySeconds and tieBreakerMaxSwitchSeconds bound when a
	// too-close call leans multimodal: the departure must be near on time
	// and the client must switch modes quickly. Both bounds are inclusive.
	tieBreakerMaxDelaySeconds  = 60.0
	tieBreakerMaxSwitchSeconds = 120.0

	// favoredRouteLimit is how many of the client's most used routes count
	// as favored for the known-line nudge.
	favoredRouteLimit = 5
)

// Feature normalization caps: ~5 km distance scale, ~6 m/s speed cap.
const (
	featureDistanceScale = 5000.0
	featureSpeedScale    = 6.0
)

// candidateFeatures builds the fixed-shape feature vector for one candidate:
// [dist_norm, is_multimodal, hour_norm, speed_norm, astar_ratio, mapf_ratio].
func candidateFeatures(distMeters float64, multimodal bool, hour int, speed float64, astarRatio float64, mapfRatio float64) []float64 {
	distNorm := math.Max(0, math.Min(distMeters/featureDistanceScale, 1))
	speedNorm := math.Max(0, math.Min(speed/featureSpeedScale, 1))
	multimodalFlag := 0.0
	if multimodal {
		multimodalFlag = 1.0
	}
	return []float64{
		distNorm,
		multimodalFlag,
		float64(hour) / 23.0,
		speedNorm,
		astarRatio,
		mapfRatio,
	}
}

// interpretModelOutput turns a raw model output into an [astar, mapf] score
// pair. Two values are taken as is; a single scalar s becomes [1-s, s]; any
// other shape is a Malformed scoring error and the caller falls back to the
// heuristic.
func interpretModelOutput(outputs []float64) ([2]float64, error) {
	switch len(outputs) {
	case 2:
		return [2]float64{outputs[candidateAStar], outputs[candidateMAPF]}, nil
	case 1:
		return [2]float64{1 - outputs[0], outputs[0]}, nil
	}
	return [2]float64{}, fault.New(fault.Malformed, "unexpected model output length %d", len(outputs))
}

// normalizeScores shifts the score pair so its minimum is zero and
// normalizes to probabilities. A degenerate pair becomes the uniform split.
func normalizeScores(scores [2]float64) [2]float64 {
	min := math.Min(scores[0], scores[1])
	shifted := [2]float64{scores[0] - min, scores[1] - min}
	return normalizePair(shifted)
}

func normalizePair(pair [2]float64) [2]float64 {
	total := pair[0] + pair[1]
	if total <= 1e-9 {
		return [2]float64{0.5, 0.5}
	}
	return [2]float64{pair[0] / total, pair[1] / total}
}

// blendWithHistory mixes the model probabilities with the client's
// historical usage split, then nudges the multimodal side when the live
// departure runs on a favored route.
func blendWithHistory(pModel [2]float64, astarRatio float64, mapfRatio float64, departureRouteID string, favored map[string]bool) [2]float64 {
	pHist := normalizePair([2]float64{astarRatio, mapfRatio})

	blended := [2]float64{
		(1-historyBlend)*pModel[candidateAStar] + historyBlend*pHist[candidateAStar],
		(1-historyBlend)*pModel[candidateMAPF] + historyBlend*pHist[candidateMAPF],
	}

	if departureRouteID != "" && favored[departureRouteID] {
		blended[candidateMAPF] = math.Min(1, blended[candidateMAPF]+knownLineNudge)
	}

	return normalizePair(blended)
}

// finalChoice picks the candidate from blended probabilities. When the call
// is within closeMargin, a small live delay and a fast-switching client lean
// the choice multimodal.
func finalChoice(blended [2]float64, delaySeconds float64, avgSwitchSeconds *float64) int {
	choice := candidateAStar
	if blended[candidateMAPF] > blended[candidateAStar] {
		choice = candidateMAPF
	}

	margin := math.Abs(blended[candidateMAPF] - blended[candidateAStar])
	if margin < closeMargin && avgSwitchSeconds != nil &&
		delaySeconds <= tieBreakerMaxDelaySeconds && *avgSwitchSeconds <= tieBreakerMaxSwitchSeconds {
		return candidateMAPF
	}
	return choice
}

// heuristicChoice is the model-free fallback: walking wins only when it is
// shorter than the multimodal leg plus the boarding penalty and the live
// delay.
func heuristicChoice(astarDist float64, mapfDist float64, delaySeconds float64) int {
	if astarDist < mapfDist+mapfPenaltyMeters+math.Max(0, delaySeconds) {
		return candidateAStar
	}
	return candidateMAPF
}
