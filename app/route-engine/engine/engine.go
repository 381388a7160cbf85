// Package engine is the routing decision core: a periodic planning loop that
// picks the best advised route per active client, and a fast reroute loop
// that watches for path deviation and live-transit shifts. Both loops write
// their choice into optimized_routes; the reroute loop additionally records
// an audit row whenever the advice changes.
package engine

import (
	logger "log"
	"time"

	"github.com/jmoiron/sqlx"
)

// Config carries the engine tunables.
type Config struct {
	// InitialWait delays the first planning pass so the collaborator
	// services have telemetry and schedules loaded after a fleet restart.
	InitialWait  time.Duration
	PlannerSleep time.Duration
	RerouteTick  time.Duration
	// JoinTimeout bounds how long a planning cycle waits for its client
	// workers before moving on. Stragglers finish in the background.
	JoinTimeout    time.Duration
	WorkerPoolSize int
}

// scorerModel is the slice of the ml model the choice pipeline needs. Kept
// small so tests can stand in for the real artifact.
type scorerModel interface {
	Score(sequence [][]float64) ([]float64, error)
}

// Engine evaluates and stores the best route per client. A nil model is
// valid and routes every decision through the distance heuristic.
type Engine struct {
	log   *logger.Logger
	db    *sqlx.DB
	model scorerModel
}

// New creates an Engine. Pass a nil model when no artifacts are available.
func New(log *logger.Logger, db *sqlx.DB, model scorerModel) *Engine {
	return &Engine{
		log:   log,
		db:    db,
		model: model,
	}
}
