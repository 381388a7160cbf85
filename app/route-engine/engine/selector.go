package engine

import (
	"time"

	"github.com/UrbanOSLabs/mobilitycast/business/data/geodata"
	"github.com/UrbanOSLabs/mobilitycast/business/data/livetransit"
	"github.com/UrbanOSLabs/mobilitycast/business/data/poi"
	"github.com/UrbanOSLabs/mobilitycast/business/data/route"
	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
)

// emptyPath is the WKT stored when a choice carries no usable geometry.
const emptyPath = "LINESTRING EMPTY"

// ChooseRoute evaluates the candidates for one client and upserts the chosen
// route. The target is the head of the combined POI view; the walking
// candidate is the latest planned route to it and the multimodal candidate
// the latest successful leg to a boarding stop with an aligned live
// departure. Absent inputs degrade in order: no target does nothing, no
// walking route seeds a fallback, no viable multimodal leg goes direct.
func (e *Engine) ChooseRoute(clientID string) error {
	target, err := poi.CombinedPOIHead(e.db, clientID)
	if err != nil {
		return err
	}

	astar, err := route.LatestAStarToPOI(e.db, clientID, target.Latitude, target.Longitude)
	if fault.IsMissing(err) {
		return e.seedFallback(clientID, target.Latitude, target.Longitude)
	}
	if err != nil {
		return err
	}
	if astar.Path == "" {
		astar.Path = emptyPath
	}

	mapf, err := route.LatestSuccessfulMAPF(e.db, clientID, target.Latitude, target.Longitude)
	if fault.IsMissing(err) {
		e.log.Printf("no multimodal candidate for client %s, going direct", clientID)
		return e.storeDirect(clientID, astar)
	}
	if err != nil {
		return err
	}
	if mapf.Path == "" {
		mapf.Path = emptyPath
	}

	departure, err := livetransit.BestDeparture(e.db, clientID, mapf.StopID)
	if fault.IsMissing(err) {
		e.log.Printf("no aligned departure at stop %s for client %s, going direct", mapf.StopID, clientID)
		return e.storeDirect(clientID, astar)
	}
	if err != nil {
		return err
	}
	e.log.Printf("candidate departure for client %s at stop %s: route %s, delay %.0fs",
		clientID, mapf.StopID, departure.Route(), departure.Delay())

	choice := e.scoreCandidates(clientID, astar, mapf, departure)
	if choice == candidateMAPF {
		return e.storeMultimodal(clientID, astar, mapf)
	}
	return e.storeDirect(clientID, astar)
}

// scoreCandidates runs the model-blended scoring pipeline and falls back to
// the distance heuristic whenever the model is unavailable or misbehaves.
func (e *Engine) scoreCandidates(clientID string, astar *route.AStarRoute, mapf *route.MAPFRoute, departure *livetransit.DepartureCandidate) int {
	delay := departure.Delay()

	if e.model == nil {
		e.log.Printf("no scoring model loaded, using heuristic for client %s", clientID)
		return heuristicChoice(astar.Distance, mapf.Distance, delay)
	}

	scores, err := e.modelScores(clientID, astar.Distance, mapf.Distance)
	if err != nil {
		e.log.Printf("model scoring failed for client %s, using heuristic: %v", clientID, err)
		return heuristicChoice(astar.Distance, mapf.Distance, delay)
	}

	astarRatio, mapfRatio, err := route.UsageRatios(e.db, clientID)
	if err != nil {
		e.log.Printf("unable to load usage ratios for client %s, using heuristic: %v", clientID, err)
		return heuristicChoice(astar.Distance, mapf.Distance, delay)
	}

	favored, err := livetransit.FavoredRoutes(e.db, clientID, favoredRouteLimit)
	if err != nil {
		e.log.Printf("unable to load favored routes for client %s: %v", clientID, err)
		favored = nil
	}

	blended := blendWithHistory(normalizeScores(scores), astarRatio, mapfRatio, departure.Route(), favored)
	e.log.Printf("blended probabilities for client %s: astar=%.3f mapf=%.3f",
		clientID, blended[candidateAStar], blended[candidateMAPF])

	avgSwitch, err := route.SwitchProfileSeconds(e.db, clientID, mapf.StopID)
	if err != nil {
		e.log.Printf("unable to load switch profile for client %s: %v", clientID, err)
		avgSwitch = nil
	}
	return finalChoice(blended, delay, avgSwitch)
}

// modelScores builds the two candidate feature vectors, runs them through the
// model as one temporal sequence and interprets the output as a score pair.
func (e *Engine) modelScores(clientID string, astarDist float64, mapfDist float64) ([2]float64, error) {
	speed := 0.0
	if fix, err := geodata.LatestFix(e.db, clientID); err == nil {
		speed = fix.Speed
	}
	hour := time.Now().UTC().Hour()

	astarRatio, mapfRatio, err := route.UsageRatios(e.db, clientID)
	if err != nil {
		return [2]float64{}, err
	}

	sequence := [][]float64{
		candidateFeatures(astarDist, false, hour, speed, astarRatio, mapfRatio),
		candidateFeatures(mapfDist, true, hour, speed, astarRatio, mapfRatio),
	}
	outputs, err := e.model.Score(sequence)
	if err != nil {
		return [2]float64{}, err
	}
	return interpretModelOutput(outputs)
}

// seedFallback records a minimal walking route and a pathless fallback
// choice so downstream consumers can heal once the planner catches up.
func (e *Engine) seedFallback(clientID string, destLat float64, destLon float64) error {
	fix, err := geodata.LatestFix(e.db, clientID)
	if err != nil {
		return fault.Wrap(fault.KindOf(err), err, "unable to seed fallback without a location")
	}

	if err := route.SeedFallbackAStar(e.db, clientID, fix.Latitude, fix.Longitude, destLat, destLon); err != nil {
		return err
	}

	e.log.Printf("no planned route for client %s, storing fallback choice", clientID)
	return route.UpsertChosenRoute(e.db, &route.ChosenRoute{
		ClientID:       clientID,
		StopID:         route.DirectStopID,
		OriginLat:      &fix.Latitude,
		OriginLon:      &fix.Longitude,
		DestinationLat: destLat,
		DestinationLon: destLon,
		Path:           emptyPath,
		SegmentType:    route.SegmentFallback,
		IsChosen:       true,
	})
}

func (e *Engine) storeDirect(clientID string, astar *route.AStarRoute) error {
	return route.UpsertChosenRoute(e.db, &route.ChosenRoute{
		ClientID:       clientID,
		StopID:         route.DirectStopID,
		OriginLat:      astar.OriginLat,
		OriginLon:      astar.OriginLon,
		DestinationLat: astar.DestinationLat,
		DestinationLon: astar.DestinationLon,
		Path:           astar.Path,
		SegmentType:    route.SegmentDirect,
		IsChosen:       true,
	})
}

func (e *Engine) storeMultimodal(clientID string, astar *route.AStarRoute, mapf *route.MAPFRoute) error {
	return route.UpsertChosenRoute(e.db, &route.ChosenRoute{
		ClientID:       clientID,
		StopID:         mapf.StopID,
		OriginLat:      astar.OriginLat,
		OriginLon:      astar.OriginLon,
		DestinationLat: mapf.DestinationLat,
		DestinationLon: mapf.DestinationLon,
		Path:           mapf.Path,
		SegmentType:    route.SegmentMultimodal,
		IsChosen:       true,
	})
}
