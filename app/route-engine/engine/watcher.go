package engine

import (
	"fmt"
	"os"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/business/data/geodata"
	"github.com/UrbanOSLabs/mobilitycast/business/data/livetransit"
	"github.com/UrbanOSLabs/mobilitycast/business/data/route"
	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/UrbanOSLabs/mobilitycast/foundation/geo"
)

// Watcher tunables.
const (
	// deviationMetersDirect and deviationMetersMAPF are the off-path
	// thresholds per segment type, measured in the EPSG:3857 plane.
	// Exactly at the threshold is still on path.
	deviationMetersDirect = 35.0
	deviationMetersMAPF   = 60.0

	// deviationStreaksRequired is how many consecutive off-path ticks must
	// accumulate before a deviation reroute fires.
	deviationStreaksRequired = 2

	// delayThresholdSeconds reroutes a multimodal choice when the live
	// delay grows past it.
	delayThresholdSeconds = 180.0

	// departureStaleSeconds reroutes when the chosen departure already left
	// this long ago.
	departureStaleSeconds = 45 * time.Second

	rerouteBackoffCap = 30 * time.Second
)

// streakTracker counts consecutive off-path ticks per client. Any
// in-tolerance tick resets the client to zero. State is process local; a
// restart costs at most one extra tick of tolerance.
type streakTracker struct {
	counts map[string]int
}

func newStreakTracker() *streakTracker {
	return &streakTracker{counts: make(map[string]int)}
}

// observe records one tick and returns the current streak.
func (t *streakTracker) observe(clientID string, offPath bool) int {
	if !offPath {
		t.counts[clientID] = 0
		return 0
	}
	t.counts[clientID]++
	return t.counts[clientID]
}

// RunRerouteLoop watches active clients for path deviation and live-transit
// shifts at a fast cadence until the shutdown signal fires. A triggered
// client is re-planned end to end, and a reroute event is recorded iff the
// advice actually changed.
func (e *Engine) RunRerouteLoop(cfg Config, shutdownSignal chan os.Signal) error {
	sleepChan := make(chan bool)
	sleep := cfg.RerouteTick
	var backoff time.Duration
	streaks := newStreakTracker()

	e.log.Printf("reroute loop started, tick %v", cfg.RerouteTick)
	for {
		go func(d time.Duration) {
			time.Sleep(d)
			sleepChan <- true
		}(sleep)

		select {
		case <-shutdownSignal:
			e.log.Printf("reroute loop exiting on shutdown signal")
			return nil
		case <-sleepChan:
			break
		}

		if err := e.rerouteTick(streaks); err != nil {
			backoff = nextBackoff(backoff, rerouteBackoffCap)
			e.log.Printf("reroute tick failed, backing off %v: %v", backoff, err)
			sleep = backoff
			continue
		}
		backoff = 0
		sleep = cfg.RerouteTick
	}
}

// rerouteTick scans every active client once. Per-client problems are logged
// and skipped; only the active-client fetch itself can fail the tick.
func (e *Engine) rerouteTick(streaks *streakTracker) error {
	clients, err := geodata.ActiveClients(e.db)
	if err != nil {
		return err
	}

	for _, clientID := range clients {
		if err := e.watchClient(streaks, clientID); err != nil {
			if fault.IsMissing(err) {
				continue
			}
			e.log.Printf("reroute check failed for client %s: %v", clientID, err)
		}
	}
	return nil
}

// watchClient applies the deviation test and, for multimodal choices, the
// live-transit shift tests, rerouting on the first reason that fires.
func (e *Engine) watchClient(streaks *streakTracker, clientID string) error {
	choice, err := route.CurrentChoice(e.db, clientID)
	if err != nil && !fault.IsMissing(err) {
		return err
	}

	fix, err := geodata.LatestFix(e.db, clientID)
	if err != nil {
		return err
	}

	if reason, fire := e.deviationReason(streaks, clientID, choice, fix.Location()); fire {
		return e.rerouteClient(clientID, reason)
	}

	if reason, fire := e.transitShiftReason(clientID, choice); fire {
		return e.rerouteClient(clientID, reason)
	}
	return nil
}

// deviationReason runs the geometric off-path test. A missing or pathless
// choice reroutes immediately; a real deviation must hold for
// deviationStreaksRequired consecutive ticks before it fires.
func (e *Engine) deviationReason(streaks *streakTracker, clientID string, choice *route.ChoiceSnapshot, location geo.Point) (string, bool) {
	if choice == nil || choice.Path == "" {
		return "no_path_in_choice", true
	}

	meters := offPathMeters(location, choice.Path)
	threshold := deviationThresholdMeters(choice.SegmentType)

	streak := streaks.observe(clientID, meters > threshold)
	if streak >= deviationStreaksRequired {
		return fmt.Sprintf("off_path_%dm", int(meters)), true
	}
	return "", false
}

// offPathMeters measures the client's distance to the advised polyline in
// the EPSG:3857 plane. Unparseable or empty geometry counts as infinitely
// far so a broken path forces a re-plan.
func offPathMeters(location geo.Point, pathWKT string) float64 {
	line, err := geo.ParseLineString(pathWKT)
	if err != nil {
		return geo.DistanceToPolylineMeters(location, nil)
	}
	return geo.DistanceToPolylineMeters(location, line)
}

func deviationThresholdMeters(segmentType string) float64 {
	if segmentType == route.SegmentMultimodal {
		return deviationMetersMAPF
	}
	return deviationMetersDirect
}

// transitShiftReason verifies a multimodal choice still has a viable
// departure: the boarding stop must be known, an aligned candidate must
// exist, and the best one must be neither long gone nor badly delayed.
func (e *Engine) transitShiftReason(clientID string, choice *route.ChoiceSnapshot) (string, bool) {
	if choice == nil || choice.SegmentType != route.SegmentMultimodal {
		return "", false
	}
	if choice.StopID == "" || choice.StopID == route.DirectStopID {
		return "missing_stop_id", true
	}

	departure, err := livetransit.BestDeparture(e.db, clientID, choice.StopID)
	if fault.IsMissing(err) {
		return "no_departure_candidate", true
	}
	if err != nil {
		e.log.Printf("unable to check departures for client %s at stop %s: %v", clientID, choice.StopID, err)
		return "", false
	}
	return departureShiftReason(departure, time.Now().UTC())
}

// departureShiftReason applies the staleness and delay thresholds to the
// best live departure.
func departureShiftReason(departure *livetransit.DepartureCandidate, now time.Time) (string, bool) {
	if now.Sub(departure.DepartureTime) > departureStaleSeconds {
		return "departure_passed", true
	}
	if delay := departure.Delay(); delay > delayThresholdSeconds {
		return fmt.Sprintf("delay_%ds", int(delay)), true
	}
	return "", false
}

// rerouteClient re-plans the client and records a reroute event iff the
// advised (segment_type, stop_id, path) tuple changed.
func (e *Engine) rerouteClient(clientID string, reason string) error {
	e.log.Printf("rerouting client %s due to %s", clientID, reason)

	before, err := route.CurrentLiveRoute(e.db, clientID)
	if err != nil && !fault.IsMissing(err) {
		return err
	}

	if err := e.ChooseRoute(clientID); err != nil {
		return err
	}

	after, err := route.CurrentLiveRoute(e.db, clientID)
	if err != nil {
		if fault.IsMissing(err) {
			return nil
		}
		return err
	}

	if !routesDiffer(before, after) {
		return nil
	}

	reroute := route.Reroute{
		ClientID:       clientID,
		StopID:         after.StopID,
		OriginLat:      after.OriginLat,
		OriginLon:      after.OriginLon,
		DestinationLat: after.DestinationLat,
		DestinationLon: after.DestinationLon,
		Path:           after.Path,
		SegmentType:    after.SegmentType,
		Reason:         reason,
	}
	if reroute.Path == "" {
		reroute.Path = emptyPath
	}
	if before != nil {
		reroute.PreviousStopID = before.StopID
		previousSegment := before.SegmentType
		reroute.PreviousSegmentType = &previousSegment
	}
	return route.RecordReroute(e.db, &reroute)
}

// routesDiffer compares the advice tuple that matters to the client: mode,
// boarding stop and geometry.
func routesDiffer(before *route.LiveRoute, after *route.LiveRoute) bool {
	if before == nil {
		return true
	}
	if before.SegmentType != after.SegmentType {
		return true
	}
	if stopValue(before.StopID) != stopValue(after.StopID) {
		return true
	}
	return before.Path != after.Path
}

func stopValue(stopID *string) string {
	if stopID == nil {
		return ""
	}
	return *stopID
}
