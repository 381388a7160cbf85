// Package route provides CRUD functionality for planned, chosen and
// republished routes: astar_routes, mapf_routes, optimized_routes and
// reroutes, plus the usage history the route choice blends in.
package route

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/jmoiron/sqlx"
)

// AStarRoute is one walking route produced by the geodesic planner.
// Path is a WGS84 WKT LINESTRING; it is empty only on seeded fallback rows.
type AStarRoute struct {
	ClientID        string    `db:"client_id" json:"client_id"`
	StopID          *string   `db:"stop_id" json:"stop_id,omitempty"`
	TargetType      string    `db:"target_type" json:"target_type"`
	ParentStation   *string   `db:"parent_station" json:"parent_station,omitempty"`
	POIID           *int64    `db:"poi_id" json:"poi_id,omitempty"`
	OriginLat       *float64  `db:"origin_lat" json:"origin_lat,omitempty"`
	OriginLon       *float64  `db:"origin_lon" json:"origin_lon,omitempty"`
	DestinationLat  float64   `db:"destination_lat" json:"destination_lat"`
	DestinationLon  float64   `db:"destination_lon" json:"destination_lon"`
	Path            string    `db:"path" json:"path"`
	Distance        float64   `db:"distance" json:"distance"`
	EfficiencyScore float64   `db:"efficiency_score" json:"efficiency_score"`
	DecisionContext string    `db:"decision_context" json:"decision_context"`
	PredictedETA    time.Time `db:"predicted_eta" json:"predicted_eta"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// AStarTarget is the destination of a client's most recent planned route,
// used to align the multimodal leg with the walking plan.
type AStarTarget struct {
	DestinationLat float64 `db:"destination_lat" json:"destination_lat"`
	DestinationLon float64 `db:"destination_lon" json:"destination_lon"`
	TargetType     string  `db:"target_type" json:"target_type"`
	StopID         *string `db:"stop_id" json:"stop_id,omitempty"`
}

// RecordAStarRoute saves a planned route. Replayed rows are ignored.
func RecordAStarRoute(db *sqlx.DB, r *AStarRoute) error {
	statementString := "insert into astar_routes (client_id, " +
		"stop_id, " +
		"target_type, " +
		"parent_station, " +
		"poi_id, " +
		"origin_lat, " +
		"origin_lon, " +
		"destination_lat, " +
		"destination_lon, " +
		"path, " +
		"distance, " +
		"efficiency_score, " +
		"decision_context, " +
		"predicted_eta) values " +
		"(:client_id, " +
		":stop_id, " +
		":target_type, " +
		":parent_station, " +
		":poi_id, " +
		":origin_lat, " +
		":origin_lon, " +
		":destination_lat, " +
		":destination_lon, " +
		"ST_GeomFromText(:path, 4326), " +
		":distance, " +
		":efficiency_score, " +
		":decision_context, " +
		":predicted_eta) " +
		"on conflict do nothing"
	_, err := db.NamedExec(statementString, r)
	if err != nil {
		return fmt.Errorf("unable to record astar route for client %s, error: %w", r.ClientID, err)
	}
	return nil
}

// SeedFallbackAStar inserts a minimal astar_routes row so downstream
// consumers can heal when no planned route exists yet. The row carries no
// path and zero distance.
func SeedFallbackAStar(db *sqlx.DB, clientID string, originLat, originLon, destLat, destLon float64) error {
	statementString := db.Rebind("insert into astar_routes (client_id, target_type, poi_id, " +
		"origin_lat, origin_lon, destination_lat, destination_lon, " +
		"path, distance, efficiency_score, decision_context, predicted_eta) " +
		"values (?, 'poi', null, ?, ?, ?, ?, null, 0, 0, 'fallback_astar', now()) " +
		"on conflict do nothing")
	_, err := db.Exec(statementString, clientID, originLat, originLon, destLat, destLon)
	if err != nil {
		return fmt.Errorf("unable to seed fallback astar route for client %s, error: %w", clientID, err)
	}
	return nil
}

// LatestAStarToPOI returns the freshest planned route for a client to the
// given POI destination.
func LatestAStarToPOI(db *sqlx.DB, clientID string, destLat, destLon float64) (*AStarRoute, error) {
	r := AStarRoute{}
	statementString := db.Rebind("select client_id, stop_id, target_type, origin_lat, origin_lon, " +
		"destination_lat, destination_lon, " +
		"coalesce(ST_AsText(path), '') as path, " +
		"coalesce(distance, 0) as distance, " +
		"coalesce(efficiency_score, 0) as efficiency_score, " +
		"decision_context, predicted_eta, created_at " +
		"from astar_routes " +
		"where client_id = ? and target_type = 'poi' " +
		"and destination_lat = ? and destination_lon = ? " +
		"order by created_at desc limit 1")
	err := db.Get(&r, statementString, clientID, destLat, destLon)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.DataMissing, "no astar route for client %s", clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve astar route for client %s, error: %w", clientID, err)
	}
	return &r, nil
}

// LatestAStarTarget returns the destination of the client's most recent
// planned route regardless of target type.
func LatestAStarTarget(db *sqlx.DB, clientID string) (*AStarTarget, error) {
	target := AStarTarget{}
	statementString := db.Rebind("select destination_lat, destination_lon, target_type, stop_id " +
		"from astar_routes where client_id = ? " +
		"order by created_at desc limit 1")
	err := db.Get(&target, statementString, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.DataMissing, "no astar target for client %s", clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve astar target for client %s, error: %w", clientID, err)
	}
	return &target, nil
}

// LatestAStarPath returns the freshest planned polyline for a client to a
// destination, in WKT.
func LatestAStarPath(db *sqlx.DB, clientID string, destLat, destLon float64) (string, error) {
	var path string
	statementString := db.Rebind("select coalesce(ST_AsText(path), '') " +
		"from astar_routes " +
		"where client_id = ? and destination_lat = ? and destination_lon = ? " +
		"order by created_at desc limit 1")
	err := db.Get(&path, statementString, clientID, destLat, destLon)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fault.New(fault.DataMissing, "no astar path for client %s", clientID)
	}
	if err != nil {
		return "", fmt.Errorf("unable to retrieve astar path for client %s, error: %w", clientID, err)
	}
	return path, nil
}
