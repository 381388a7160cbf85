// Package mapfplanner runs the multimodal leg service: each cycle it takes
// every active client's latest walking target, resolves the precomputed path
// through the conflict solver and records the result as the client's
// multimodal leg. Clients without a boarding stop or a precomputed path are
// skipped, never synthesized.
package mapfplanner

import (
	logger "log"
	"os"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/business/data/geodata"
	"github.com/UrbanOSLabs/mobilitycast/business/data/route"
	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/UrbanOSLabs/mobilitycast/foundation/geo"
	"github.com/jmoiron/sqlx"
)

// Config carries the leg planner tunables.
type Config struct {
	InitialWait time.Duration
	Sleep       time.Duration
}

// Planner plans multimodal legs from precomputed walking routes.
type Planner struct {
	log    *logger.Logger
	db     *sqlx.DB
	solver *Solver
}

// New creates a Planner with the given solve budget.
func New(log *logger.Logger, db *sqlx.DB, solveBudget time.Duration) *Planner {
	return &Planner{
		log:    log,
		db:     db,
		solver: &Solver{MaxTime: solveBudget},
	}
}

// Run plans legs on a fixed cadence until the shutdown signal fires.
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
			p.log.Printf("leg planner loop exiting on shutdown signal")
			return nil
		case <-sleepChan:
			break
		}
		sleep = cfg.Sleep

		if err := p.planCycle(); err != nil {
			p.log.Printf("leg planning cycle failed: %v", err)
		}
	}
}

// planCycle plans one leg per active client. Per-client problems are logged
// and skipped.
func (p *Planner) planCycle() error {
	clientIDs, err := geodata.ActiveClients(p.db)
	if err != nil {
		return err
	}
	if len(clientIDs) == 0 {
		p.log.Printf("no active clients this cycle")
		return nil
	}

	for _, clientID := range clientIDs {
		if err := p.planClient(clientID); err != nil {
			if fault.IsMissing(err) {
				p.log.Printf("skipping client %s: %v", clientID, err)
				continue
			}
			p.log.Printf("leg planning failed for client %s: %v", clientID, err)
		}
	}
	return nil
}

// planClient resolves the client's latest walking target into a multimodal
// leg. Targets without a boarding stop carry no transit leg to plan.
func (p *Planner) planClient(clientID string) error {
	target, err := route.LatestAStarTarget(p.db, clientID)
	if err != nil {
		return err
	}
	if target.StopID == nil || *target.StopID == "" {
		return fault.New(fault.DataMissing, "latest target for %s has no boarding stop", clientID)
	}

	wkt, err := route.LatestAStarPath(p.db, clientID, target.DestinationLat, target.DestinationLon)
	if err != nil {
		return err
	}
	points, err := geo.ParseLineString(wkt)
	if err != nil {
		return fault.Wrap(fault.Malformed, err, "unable to parse stored path for "+clientID)
	}
	if len(points) < 2 {
		return fault.New(fault.DataMissing, "stored path for %s has %d vertices", clientID, len(points))
	}

	resolved, err := p.solver.Resolve([][]geo.Point{points})
	if err != nil {
		return err
	}
	leg := resolved[0]

	return route.RecordMAPFRoute(p.db, &route.MAPFRoute{
		ClientID:        clientID,
		StopID:          *target.StopID,
		DestinationLat:  target.DestinationLat,
		DestinationLon:  target.DestinationLon,
		Path:            geo.EncodeLineString(leg),
		Distance:        geo.PolylineMeters(leg),
		Success:         true,
		DecisionContext: "mapf_predicted",
	})
}
