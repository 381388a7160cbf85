// Package transit provides CRUD functionality for the static GTFS schedule
// tables. Each loader refresh upserts on the natural GTFS key so repeated
// loads of the same feed converge instead of duplicating.
package transit

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/jmoiron/sqlx"
)

// Stop is a record from a gtfs stops.txt file. LocationType 0 marks a
// boardable stop or platform.
type Stop struct {
	StopID        string    `db:"stop_id" json:"stop_id" csv:"stop_id"`
	StopName      string    `db:"stop_name" json:"stop_name" csv:"stop_name"`
	Latitude      float64   `db:"stop_lat" json:"stop_lat" csv:"stop_lat"`
	Longitude     float64   `db:"stop_lon" json:"stop_lon" csv:"stop_lon"`
	LocationType  int       `db:"location_type" json:"location_type" csv:"location_type"`
	ParentStation string    `db:"parent_station" json:"parent_station" csv:"parent_station"`
	CreatedAt     time.Time `db:"created_at" json:"created_at" csv:"-"`
}

// RecordStops saves stops to the database in batch, replacing fields of
// stops already present.
func RecordStops(stops []*Stop, db *sqlx.DB) error {
	if len(stops) == 0 {
		return nil
	}

	statementString := "insert into gtfs_stops (stop_id, " +
		"stop_name, " +
		"stop_lat, " +
		"stop_lon, " +
		"location_type, " +
		"parent_station, " +
		"geom) values " +
		"(:stop_id, " +
		":stop_name, " +
		":stop_lat, " +
		":stop_lon, " +
		":location_type, " +
		":parent_station, " +
		"ST_SetSRID(ST_MakePoint(:stop_lon, :stop_lat), 4326)) " +
		"on conflict (stop_id) do update set " +
		"stop_name = excluded.stop_name, " +
		"stop_lat = excluded.stop_lat, " +
		"stop_lon = excluded.stop_lon, " +
		"location_type = excluded.location_type, " +
		"parent_station = excluded.parent_station, " +
		"geom = excluded.geom"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExec(statementString, stops)
	return err
}

// NearestBoardingStop returns the location_type 0 stop closest to (lat, lon)
// by great-circle distance.
func NearestBoardingStop(db *sqlx.DB, lat float64, lon float64) (*Stop, error) {
	stop := Stop{}
	statementString := db.Rebind("select stop_id, stop_name, stop_lat, stop_lon, location_type, parent_station, created_at " +
		"from gtfs_stops where location_type = 0 " +
		"order by ST_DistanceSphere(geom, ST_SetSRID(ST_MakePoint(?, ?), 4326)) " +
		"limit 1")
	err := db.Get(&stop, statementString, lon, lat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.DataMissing, "no boarding stops loaded")
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve nearest boarding stop, error: %w", err)
	}
	return &stop, nil
}
