// Package poidetect learns points of interest from migrated trajectories.
// A point becomes a visit candidate when the client dwelled there past the
// minimum or was moving slower than the speed threshold; candidates at the
// same fixed-precision coordinate accumulate into one ranked POI.
package poidetect

import (
	logger "log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/business/data/geodata"
	"github.com/UrbanOSLabs/mobilitycast/business/data/poi"
	"github.com/UrbanOSLabs/mobilitycast/foundation/geo"
	"github.com/jmoiron/sqlx"
)

// maxWorkers caps the per-client fan-out of one detection pass.
const maxWorkers = 50

// Config carries the detector tunables.
type Config struct {
	Sleep           time.Duration
	MinDwellSeconds float64
	SpeedThreshold  float64
}

// Visit is one POI candidate detected from a trajectory. Latitude and
// Longitude are already 6-decimal keys.
type Visit struct {
	Latitude   float64
	Longitude  float64
	TimeSpent  float64
	POIRank    float64
	VisitStart time.Time
}

// RunDetectionLoop periodically runs POI detection for every client with
// trajectories until the shutdown signal fires.
func RunDetectionLoop(log *logger.Logger, db *sqlx.DB, cfg Config, shutdownSignal chan os.Signal) error {
	sleepChan := make(chan bool)
	sleep := time.Duration(0)

	for {
		go func() {
			time.Sleep(sleep)
			sleepChan <- true
		}()

		select {
		case <-shutdownSignal:
			log.Printf("Exiting on shutdown signal")
			return nil
		case <-sleepChan:
			break
		}

		sleep = cfg.Sleep

		clientIDs, err := geodata.TrajectoryClients(db)
		if err != nil {
			log.Printf("error attempting to get trajectory clients. error:%v\n", err)
			continue
		}
		if len(clientIDs) == 0 {
			log.Printf("no clients with trajectories\n")
			continue
		}

		detectAll(log, db, cfg, clientIDs)
	}
}

// detectAll fans detection out over a bounded pool, one task per client.
func detectAll(log *logger.Logger, db *sqlx.DB, cfg Config, clientIDs []string) {
	workers := len(clientIDs)
	if workers > maxWorkers {
		workers = maxWorkers
	}
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for _, clientID := range clientIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(clientID string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := ProcessClient(log, db, cfg, clientID); err != nil {
				log.Printf("error processing client %s: %v", clientID, err)
			}
		}(clientID)
	}
	wg.Wait()
}

// ProcessClient runs detection for one client and persists the results:
// new POIs insert, and every distinct (lat, lon, visit_start) records an
// arrival bumping the visit counter.
func ProcessClient(log *logger.Logger, db *sqlx.DB, cfg Config, clientID string) error {
	trajectories, err := geodata.ClientTrajectories(db, clientID)
	if err != nil {
		return err
	}
	if len(trajectories) == 0 {
		log.Printf("no trajectory data for client %s, skipping detection", clientID)
		return nil
	}

	visits := DetectVisits(trajectories, cfg.MinDwellSeconds, cfg.SpeedThreshold)
	if len(visits) == 0 {
		log.Printf("no POIs detected for client %s", clientID)
		return nil
	}

	pois := make([]*poi.POI, 0, len(visits))
	for _, visit := range visits {
		pois = append(pois, &poi.POI{
			ClientID:   clientID,
			Latitude:   visit.Latitude,
			Longitude:  visit.Longitude,
			TimeSpent:  visit.TimeSpent,
			POIRank:    visit.POIRank,
			VisitStart: visit.VisitStart,
			CreatedAt:  visit.VisitStart,
		})
	}
	if err := poi.RecordPOIs(pois, db); err != nil {
		return err
	}

	arrivals := 0
	for _, visit := range distinctArrivals(visits) {
		touched, err := poi.RecordArrival(db, clientID, visit.Latitude, visit.Longitude, visit.VisitStart)
		if err != nil {
			log.Printf("unable to record arrival for client %s at %f,%f: %v",
				clientID, visit.Latitude, visit.Longitude, err)
			continue
		}
		if touched == 0 {
			log.Printf("no matching POI for arrival (client %s, %f,%f)", clientID, visit.Latitude, visit.Longitude)
			continue
		}
		arrivals++
	}

	log.Printf("saved %d POIs and recorded %d arrivals for client %s", len(pois), arrivals, clientID)
	return nil
}

type coordKey struct {
	lat float64
	lon float64
}

// DetectVisits finds dwell candidates across a client's trajectories. Points
// are ordered per session; a point's dwell is the gap to the next point in
// the same session, zero for the last. A candidate dwells longer than
// minDwellSeconds or reports a speed below speedThreshold. Coordinates become
// 6-decimal keys here; poi_rank is the total candidate dwell per key.
// Exact duplicate visits collapse.
func DetectVisits(trajectories []*geodata.Trajectory, minDwellSeconds float64, speedThreshold float64) []Visit {
	candidates := make([]Visit, 0)
	for _, trajectory := range trajectories {
		points := append([]geodata.TrajectoryPoint(nil), trajectory.Points...)
		sort.SliceStable(points, func(i, j int) bool {
			return points[i].Timestamp.Before(points[j].Timestamp)
		})

		for i, point := range points {
			dwell := 0.0
			if i+1 < len(points) {
				dwell = points[i+1].Timestamp.Sub(point.Timestamp).Seconds()
			}
			slow := point.Speed != nil && *point.Speed < speedThreshold
			if dwell > minDwellSeconds || slow {
				candidates = append(candidates, Visit{
					Latitude:   geo.RoundCoord(point.Latitude),
					Longitude:  geo.RoundCoord(point.Longitude),
					TimeSpent:  dwell,
					VisitStart: point.Timestamp,
				})
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	rank := make(map[coordKey]float64)
	for _, c := range candidates {
		rank[coordKey{lat: c.Latitude, lon: c.Longitude}] += c.TimeSpent
	}

	type visitKey struct {
		coordKey
		timeSpent  float64
		visitStart int64
	}
	seen := make(map[visitKey]bool)
	visits := make([]Visit, 0, len(candidates))
	for _, c := range candidates {
		c.POIRank = rank[coordKey{lat: c.Latitude, lon: c.Longitude}]
		vk := visitKey{
			coordKey:   coordKey{lat: c.Latitude, lon: c.Longitude},
			timeSpent:  c.TimeSpent,
			visitStart: c.VisitStart.UnixNano(),
		}
		if seen[vk] {
			continue
		}
		seen[vk] = true
		visits = append(visits, c)
	}
	return visits
}

// distinctArrivals keeps one visit per (lat, lon, visit_start).
func distinctArrivals(visits []Visit) []Visit {
	type arrivalKey struct {
		coordKey
		visitStart int64
	}
	seen := make(map[arrivalKey]bool)
	arrivals := make([]Visit, 0, len(visits))
	for _, visit := range visits {
		ak := arrivalKey{
			coordKey:   coordKey{lat: visit.Latitude, lon: visit.Longitude},
			visitStart: visit.VisitStart.UnixNano(),
		}
		if seen[ak] {
			continue
		}
		seen[ak] = true
		arrivals = append(arrivals, visit)
	}
	return arrivals
}
