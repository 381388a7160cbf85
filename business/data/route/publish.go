package route

import (
	"fmt"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/foundation/database"
	"github.com/jmoiron/sqlx"
)

// PublishableRoute is a freshly chosen route resolved to the mqtt session
// whose window covers it, ready to publish to the client.
type PublishableRoute struct {
	ClientID       string    `db:"client_id" json:"client_id"`
	SessionID      int64     `db:"session_id" json:"session_id"`
	StopID         *string   `db:"stop_id" json:"stop_id,omitempty"`
	DestinationLat float64   `db:"destination_lat" json:"destination_lat"`
	DestinationLon float64   `db:"destination_lon" json:"destination_lon"`
	Path           string    `db:"path" json:"path"`
	SegmentType    string    `db:"segment_type" json:"segment_type"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// FreshPublishableRoutes returns chosen routes and reroutes created since
// cutoff, each resolved to a session purely by time window. Rows whose
// created_at falls outside every session window are dropped rather than
// misattributed.
func FreshPublishableRoutes(db *sqlx.DB, cutoff time.Time) ([]*PublishableRoute, error) {
	statementString := "select r.client_id, " +
		"s.session_id, " +
		"r.stop_id, " +
		"r.destination_lat, " +
		"r.destination_lon, " +
		"coalesce(ST_AsText(r.path), '') as path, " +
		"r.segment_type, " +
		"r.created_at " +
		"from ( " +
		"select client_id, stop_id, destination_lat, destination_lon, path, segment_type, created_at " +
		"from optimized_routes where is_chosen = true " +
		"union all " +
		"select client_id, stop_id, destination_lat, destination_lon, path, segment_type, created_at " +
		"from reroutes " +
		") as r " +
		"join lateral ( " +
		"select s.session_id " +
		"from mqtt_sessions s " +
		"where s.client_id = r.client_id " +
		"and r.created_at >= s.start_time " +
		"and r.created_at < s.end_time " +
		"order by s.start_time desc " +
		"limit 1 " +
		") as s on true " +
		"where r.created_at >= :cutoff " +
		"order by r.created_at desc"
	rows, err := database.PrepareNamedQueryRowsFromMap(statementString, db, map[string]interface{}{
		"cutoff": cutoff,
	})

	defer func() {
		if rows != nil {
			_ = rows.Close()
		}
	}()

	if err != nil {
		return nil, fmt.Errorf("unable to retrieve publishable routes, error: %w", err)
	}

	routes := make([]*PublishableRoute, 0)
	for rows.Next() {
		r := PublishableRoute{}
		err = rows.StructScan(&r)
		routes = append(routes, &r)
	}
	return routes, err
}
