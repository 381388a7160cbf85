// Package poipredict builds decay-weighted visit sequences from a client's
// detected POIs. Daily sequences favor recent visits, weekly sequences decay
// slower and avoid non-business days. Sequences are grid-clustered before
// storage so near-duplicate targets collapse into one predicted stop.
package poipredict

import (
	logger "log"
	"math"
	"os"
	"sort"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/business/data/geodata"
	"github.com/UrbanOSLabs/mobilitycast/business/data/poi"
	"github.com/jmoiron/sqlx"
	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
)

// Prediction types stored with each sequence.
const (
	PredictionDaily  = "daily"
	PredictionWeekly = "weekly"
)

const (
	dayDecay  = 1.0 / (24 * 3600)
	weekDecay = 1.0 / (7 * 24 * 3600)

	// patternWindowDegrees is how close a POI must sit to a mined movement
	// pattern before the pattern boosts its score.
	patternWindowDegrees = 0.002
	patternBoost         = 1.5

	// defaultDwellSeconds spaces visit slots when no dwell data exists.
	defaultDwellSeconds = 1800.0

	// clusterCellDegrees is the grid cell used to collapse near-duplicate
	// sequence entries, roughly 165 m of latitude.
	clusterCellDegrees = 0.0015

	// nonBusinessDayWeight scales scores of weekly entries whose visit slot
	// lands on a weekend or observed holiday.
	nonBusinessDayWeight = 0.5

	startupGrace = 10 * time.Second
)

// Config carries the predictor tunables.
type Config struct {
	Sleep          time.Duration
	WeeklyInterval time.Duration
	EnableWeekly   bool
}

// Predictor scores a client's POIs and maintains their predicted visit
// sequences.
type Predictor struct {
	log      *logger.Logger
	db       *sqlx.DB
	calendar *cal.BusinessCalendar
}

// New builds a Predictor with the business calendar used by weekly passes.
func New(log *logger.Logger, db *sqlx.DB) *Predictor {
	return &Predictor{
		log:      log,
		db:       db,
		calendar: newBusinessCalendar(),
	}
}

// newBusinessCalendar builds the calendar of observed holidays.
// TODO:: should be customizable per deployment region rather than hardcoded.
func newBusinessCalendar() *cal.BusinessCalendar {
	calendar := cal.NewBusinessCalendar()
	calendar.AddHoliday(
		us.NewYear,
		us.MlkDay,
		us.MemorialDay,
		us.IndependenceDay,
		us.LaborDay,
		us.ThanksgivingDay,
		us.ChristmasDay,
		us.Juneteenth,
	)
	return calendar
}

// RunPredictionLoop repeatedly predicts visit sequences for every client
// with trajectories until the shutdown signal fires. Daily passes run every
// cycle, weekly passes on their own cadence.
func RunPredictionLoop(log *logger.Logger, db *sqlx.DB, cfg Config, shutdownSignal chan os.Signal) error {
	predictor := New(log, db)

	sleepChan := make(chan bool)
	sleep := startupGrace
	lastWeekly := time.Time{}

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

		now := time.Now().UTC()
		runWeekly := cfg.EnableWeekly && now.Sub(lastWeekly) >= cfg.WeeklyInterval
		for _, clientID := range clientIDs {
			if err := predictor.PredictClient(clientID, PredictionDaily, now); err != nil {
				log.Printf("error predicting daily sequence for client %s: %v", clientID, err)
			}
			if !runWeekly {
				continue
			}
			if err := predictor.PredictClient(clientID, PredictionWeekly, now); err != nil {
				log.Printf("error predicting weekly sequence for client %s: %v", clientID, err)
			}
		}
		if runWeekly {
			lastWeekly = now
		}
	}
}

// PredictClient rebuilds one prediction-type sequence for a client from its
// detected POIs and mined patterns.
func (p *Predictor) PredictClient(clientID string, predictionType string, now time.Time) error {
	pois, err := poi.ClientPOIs(p.db, clientID)
	if err != nil {
		return err
	}
	if len(pois) == 0 {
		p.log.Printf("no POIs for client %s, skipping %s prediction", clientID, predictionType)
		return nil
	}

	patterns, err := poi.ClientPatterns(p.db, clientID)
	if err != nil {
		return err
	}

	sequence := p.BuildSequence(pois, patterns, predictionType, now)
	clustered := ClusterSequence(sequence, clusterCellDegrees)
	if err := poi.ReplacePredictedSequence(p.db, clientID, predictionType, clustered); err != nil {
		return err
	}

	p.log.Printf("stored %d clustered %s predictions for client %s", len(clustered), predictionType, clientID)
	return nil
}

type scoredPOI struct {
	poi   *poi.POI
	score float64
}

// BuildSequence orders pois by prediction score and assigns visit slots
// spaced by the median dwell, starting at now. The score is
// rank * ln(dwell+1) * exp(-age*decay) * patternWeight. Weekly sequences get
// one reweighting pass: entries whose provisional slot lands outside a
// business day move down the sequence.
func (p *Predictor) BuildSequence(pois []*poi.POI, patterns []*poi.UserPattern, predictionType string, now time.Time) []*poi.PredictedPOI {
	if len(pois) == 0 {
		return nil
	}

	decay := dayDecay
	if predictionType == PredictionWeekly {
		decay = weekDecay
	}

	entries := make([]scoredPOI, 0, len(pois))
	for _, candidate := range pois {
		age := now.Sub(candidate.CreatedAt).Seconds()
		score := candidate.POIRank *
			math.Log(candidate.TimeSpent+1) *
			math.Exp(-age*decay) *
			patternWeight(candidate, patterns)
		entries = append(entries, scoredPOI{poi: candidate, score: score})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})

	dwell := time.Duration(medianDwell(pois) * float64(time.Second))

	if predictionType == PredictionWeekly {
		slot := now
		for i := range entries {
			if !p.calendar.IsWorkday(slot) {
				entries[i].score *= nonBusinessDayWeight
			}
			slot = slot.Add(dwell)
		}
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].score > entries[j].score
		})
	}

	sequence := make([]*poi.PredictedPOI, 0, len(entries))
	visitTime := now
	for _, entry := range entries {
		sequence = append(sequence, &poi.PredictedPOI{
			PredictedLatitude:  entry.poi.Latitude,
			PredictedLongitude: entry.poi.Longitude,
			PredictedVisitTime: visitTime,
		})
		visitTime = visitTime.Add(dwell)
	}
	return sequence
}

// patternWeight starts at 1.0 and gains patternBoost for every mined
// pattern within the window of the candidate.
func patternWeight(candidate *poi.POI, patterns []*poi.UserPattern) float64 {
	weight := 1.0
	for _, pattern := range patterns {
		if math.Abs(candidate.Latitude-pattern.Latitude) < patternWindowDegrees &&
			math.Abs(candidate.Longitude-pattern.Longitude) < patternWindowDegrees {
			weight += patternBoost
		}
	}
	return weight
}

// medianDwell is the median time_spent across pois, defaulting when empty.
func medianDwell(pois []*poi.POI) float64 {
	if len(pois) == 0 {
		return defaultDwellSeconds
	}
	values := make([]float64, len(pois))
	for i, p := range pois {
		values[i] = p.TimeSpent
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}

type cellKey struct {
	row int64
	col int64
}

// ClusterSequence collapses sequence entries into grid cells of cellDegrees.
// Each cell keeps the centroid of its members and the visit slot of its
// best-scored member. Cells come back in first-member order, so the clustered
// sequence stays ordered by score.
func ClusterSequence(sequence []*poi.PredictedPOI, cellDegrees float64) []*poi.PredictedPOI {
	if len(sequence) == 0 {
		return nil
	}

	type cell struct {
		latSum float64
		lonSum float64
		count  int
		visit  time.Time
		first  int
	}
	cells := make(map[cellKey]*cell)
	for i, entry := range sequence {
		key := cellKey{
			row: int64(math.Floor(entry.PredictedLatitude / cellDegrees)),
			col: int64(math.Floor(entry.PredictedLongitude / cellDegrees)),
		}
		c, ok := cells[key]
		if !ok {
			c = &cell{visit: entry.PredictedVisitTime, first: i}
			cells[key] = c
		}
		c.latSum += entry.PredictedLatitude
		c.lonSum += entry.PredictedLongitude
		c.count++
	}

	ordered := make([]*cell, 0, len(cells))
	for _, c := range cells {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].first < ordered[j].first
	})

	clustered := make([]*poi.PredictedPOI, 0, len(ordered))
	for _, c := range ordered {
		clustered = append(clustered, &poi.PredictedPOI{
			PredictedLatitude:  c.latSum / float64(c.count),
			PredictedLongitude: c.lonSum / float64(c.count),
			PredictedVisitTime: c.visit,
		})
	}
	return clustered
}
