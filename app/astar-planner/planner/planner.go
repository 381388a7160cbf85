// Package planner runs the walking route service: every cycle it plans a
// path per active client to the client's combined POI target, with a second
// path to the nearest boarding stop as the standing fallback. Planned routes
// land in astar_routes for the choice pipeline and the multimodal planner to
// consume.
package planner

import (
	logger "log"
	"os"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/business/data/geodata"
	"github.com/UrbanOSLabs/mobilitycast/business/data/poi"
	"github.com/UrbanOSLabs/mobilitycast/business/data/route"
	"github.com/UrbanOSLabs/mobilitycast/business/data/transit"
	"github.com/UrbanOSLabs/mobilitycast/business/routing"
	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/UrbanOSLabs/mobilitycast/foundation/geo"
	"github.com/jmoiron/sqlx"
)

// poiMatchToleranceMeters bounds how far a combined target may sit from a
// stored POI and still link the planned route to that POI row.
const poiMatchToleranceMeters = 25.0

// Config carries the planner service tunables.
type Config struct {
	// InitialWait gives the recorder and loaders a head start after a
	// fleet restart.
	InitialWait time.Duration
	Sleep       time.Duration
	ErrorSleep  time.Duration
}

// Planner plans walking routes for active clients.
type Planner struct {
	log    *logger.Logger
	db     *sqlx.DB
	walker *routing.Planner
}

// New creates a Planner over a road graph source.
func New(log *logger.Logger, db *sqlx.DB, source *routing.GraphSource) *Planner {
	return &Planner{
		log:    log,
		db:     db,
		walker: routing.NewPlanner(log, source),
	}
}

// Run plans routes on a fixed cadence until the shutdown signal fires.
func (p *Planner) Run(cfg Config, shutdownSignal chan os.Signal) error {
	sleepChan := make(chan bool)
	sleep := cfg.InitialWait

	for {
		go func(d time.Duration) {
			time.Sleep(d)
			sleepChan <- true
		}(sleep)

		select {
		case <-shutdownSignal:
			p.log.Printf("planner loop exiting on shutdown signal")
			return nil
		case <-sleepChan:
			break
		}

		if err := p.planCycle(); err != nil {
			p.log.Printf("planning cycle failed: %v", err)
			sleep = cfg.ErrorSleep
			continue
		}
		sleep = cfg.Sleep
	}
}

// planCycle plans for every client with a settled location. Per-client
// problems are logged and skipped.
func (p *Planner) planCycle() error {
	fixes, err := geodata.LatestFixes(p.db)
	if err != nil {
		return err
	}
	if len(fixes) == 0 {
		p.log.Printf("no located clients this cycle")
		return nil
	}

	for _, fix := range fixes {
		if err := p.planClient(fix); err != nil {
			if fault.IsMissing(err) {
				p.log.Printf("skipping client %s: %v", fix.ClientID, err)
				continue
			}
			p.log.Printf("planning failed for client %s: %v", fix.ClientID, err)
		}
	}
	return nil
}

// target is one destination to plan a walking route to.
type target struct {
	point           geo.Point
	targetType      string
	stopID          *string
	parentStation   *string
	poiID           *int64
	decisionContext string
}

// planClient resolves the client's targets and plans a route to each.
func (p *Planner) planClient(fix *geodata.ClientFix) error {
	targets := make([]target, 0, 2)

	// primary target: the head of the combined POI view, boarding at the
	// stop nearest to it
	combined, err := poi.CombinedPOIHead(p.db, fix.ClientID)
	switch {
	case err == nil:
		t := target{
			point:           geo.Point{Lat: combined.Latitude, Lon: combined.Longitude},
			targetType:      "poi",
			decisionContext: "routed_to_poi",
		}
		if stop, err := transit.NearestBoardingStop(p.db, combined.Latitude, combined.Longitude); err == nil {
			t.stopID = &stop.StopID
			if stop.ParentStation != "" {
				t.parentStation = &stop.ParentStation
			}
		}
		if poiID, err := poi.NearbyPOIID(p.db, fix.ClientID, combined.Latitude, combined.Longitude, poiMatchToleranceMeters); err == nil {
			t.poiID = &poiID
		}
		targets = append(targets, t)
	case fault.IsMissing(err):
		p.log.Printf("no combined poi for client %s, planning stop fallback only", fix.ClientID)
	default:
		return err
	}

	// standing fallback: the boarding stop nearest to the client
	if stop, err := transit.NearestBoardingStop(p.db, fix.Latitude, fix.Longitude); err == nil {
		t := target{
			point:           geo.Point{Lat: stop.Latitude, Lon: stop.Longitude},
			targetType:      "stop_point",
			stopID:          &stop.StopID,
			decisionContext: "fallback_stop_point",
		}
		if stop.ParentStation != "" {
			t.parentStation = &stop.ParentStation
		}
		targets = append(targets, t)
	} else if !fault.IsMissing(err) {
		return err
	}

	if len(targets) == 0 {
		return fault.New(fault.DataMissing, "no routing targets for client %s", fix.ClientID)
	}

	for _, t := range targets {
		if err := p.planTarget(fix, t); err != nil {
			if fault.IsMissing(err) {
				p.log.Printf("no path for client %s to %s target: %v", fix.ClientID, t.targetType, err)
				continue
			}
			return err
		}
	}
	return nil
}

// walkingPace picks the pace for an ETA estimate. Stationary or missing
// device speeds fall back to the nominal walking pace rather than producing
// an infinite ETA.
func walkingPace(deviceSpeed float64) float64 {
	if deviceSpeed <= 0 {
		return routing.WalkSpeedMetersPerSecond
	}
	return deviceSpeed
}

// planTarget plans and persists one walking route. Empty paths are never
// persisted; disconnected endpoints surface as DataMissing.
func (p *Planner) planTarget(fix *geodata.ClientFix, t target) error {
	path, err := p.walker.PlanWalk(fix.Location(), t.point)
	if err != nil {
		return err
	}
	if len(path.Points) < 2 {
		return fault.New(fault.DataMissing, "planned path has %d vertices", len(path.Points))
	}

	eta := time.Now().UTC().Add(routing.EstimateDuration(path.Meters, walkingPace(fix.Speed)))

	return route.RecordAStarRoute(p.db, &route.AStarRoute{
		ClientID:        fix.ClientID,
		StopID:          t.stopID,
		TargetType:      t.targetType,
		ParentStation:   t.parentStation,
		POIID:           t.poiID,
		OriginLat:       &fix.Latitude,
		OriginLon:       &fix.Longitude,
		DestinationLat:  t.point.Lat,
		DestinationLon:  t.point.Lon,
		Path:            geo.EncodeLineString(path.Points),
		Distance:        path.Meters,
		EfficiencyScore: path.Meters,
		DecisionContext: t.decisionContext,
		PredictedETA:    eta,
	})
}
