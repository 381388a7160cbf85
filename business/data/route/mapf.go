package route

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/jmoiron/sqlx"
)

// MAPFRoute is one multimodal leg aligned with a precomputed walking route.
type MAPFRoute struct {
	ClientID        string    `db:"client_id" json:"client_id"`
	StopID          string    `db:"stop_id" json:"stop_id"`
	DestinationLat  float64   `db:"destination_lat" json:"destination_lat"`
	DestinationLon  float64   `db:"destination_lon" json:"destination_lon"`
	Path            string    `db:"path" json:"path"`
	Distance        float64   `db:"distance" json:"distance"`
	Success         bool      `db:"success" json:"success"`
	DecisionContext string    `db:"decision_context" json:"decision_context"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// RecordMAPFRoute saves a multimodal leg. Replayed rows are ignored.
func RecordMAPFRoute(db *sqlx.DB, r *MAPFRoute) error {
	statementString := "insert into mapf_routes (client_id, " +
		"stop_id, " +
		"destination_lat, " +
		"destination_lon, " +
		"path, " +
		"distance, " +
		"success, " +
		"decision_context) values " +
		"(:client_id, " +
		":stop_id, " +
		":destination_lat, " +
		":destination_lon, " +
		"ST_GeomFromText(:path, 4326), " +
		":distance, " +
		":success, " +
		":decision_context) " +
		"on conflict do nothing"
	_, err := db.NamedExec(statementString, r)
	if err != nil {
		return fmt.Errorf("unable to record mapf route for client %s, error: %w", r.ClientID, err)
	}
	return nil
}

// LatestSuccessfulMAPF returns the freshest successful multimodal leg for a
// client to the given destination.
func LatestSuccessfulMAPF(db *sqlx.DB, clientID string, destLat, destLon float64) (*MAPFRoute, error) {
	r := MAPFRoute{}
	statementString := db.Rebind("select client_id, stop_id, destination_lat, destination_lon, " +
		"coalesce(ST_AsText(path), '') as path, " +
		"coalesce(distance, 0) as distance, " +
		"success, decision_context, created_at " +
		"from mapf_routes " +
		"where client_id = ? and destination_lat = ? and destination_lon = ? " +
		"and success = true " +
		"order by created_at desc limit 1")
	err := db.Get(&r, statementString, clientID, destLat, destLon)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.DataMissing, "no mapf route for client %s", clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve mapf route for client %s, error: %w", clientID, err)
	}
	return &r, nil
}
