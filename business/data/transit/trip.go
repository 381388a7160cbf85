package transit

import (
	"github.com/jmoiron/sqlx"
)

// Route is a record from a gtfs routes.txt file.
type Route struct {
	RouteID        string `db:"route_id" json:"route_id" csv:"route_id"`
	AgencyID       string `db:"agency_id" json:"agency_id" csv:"agency_id"`
	RouteShortName string `db:"route_short_name" json:"route_short_name" csv:"route_short_name"`
	RouteLongName  string `db:"route_long_name" json:"route_long_name" csv:"route_long_name"`
	RouteType      int    `db:"route_type" json:"route_type" csv:"route_type"`
}

// Trip is a record from a gtfs trips.txt file.
type Trip struct {
	TripID       string `db:"trip_id" json:"trip_id" csv:"trip_id"`
	RouteID      string `db:"route_id" json:"route_id" csv:"route_id"`
	ServiceID    string `db:"service_id" json:"service_id" csv:"service_id"`
	TripHeadsign string `db:"trip_headsign" json:"trip_headsign" csv:"trip_headsign"`
	DirectionID  int    `db:"direction_id" json:"direction_id" csv:"direction_id"`
	ShapeID      string `db:"shape_id" json:"shape_id" csv:"shape_id"`
}

// StopTime is a record from a gtfs stop_times.txt file. Times stay in the
// GTFS clock-string form since service days run past midnight.
type StopTime struct {
	TripID        string `db:"trip_id" json:"trip_id" csv:"trip_id"`
	ArrivalTime   string `db:"arrival_time" json:"arrival_time" csv:"arrival_time"`
	DepartureTime string `db:"departure_time" json:"departure_time" csv:"departure_time"`
	StopID        string `db:"stop_id" json:"stop_id" csv:"stop_id"`
	StopSequence  int    `db:"stop_sequence" json:"stop_sequence" csv:"stop_sequence"`
}

// RecordRoutes saves routes to the database in batch, replacing fields of
// routes already present.
func RecordRoutes(routes []*Route, db *sqlx.DB) error {
	if len(routes) == 0 {
		return nil
	}

	statementString := "insert into gtfs_routes (route_id, " +
		"agency_id, " +
		"route_short_name, " +
		"route_long_name, " +
		"route_type) values " +
		"(:route_id, " +
		":agency_id, " +
		":route_short_name, " +
		":route_long_name, " +
		":route_type) " +
		"on conflict (route_id) do update set " +
		"agency_id = excluded.agency_id, " +
		"route_short_name = excluded.route_short_name, " +
		"route_long_name = excluded.route_long_name, " +
		"route_type = excluded.route_type"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExec(statementString, routes)
	return err
}

// RecordTrips saves trips to the database in batch, replacing fields of
// trips already present.
func RecordTrips(trips []*Trip, db *sqlx.DB) error {
	if len(trips) == 0 {
		return nil
	}

	statementString := "insert into gtfs_trips (trip_id, " +
		"route_id, " +
		"service_id, " +
		"trip_headsign, " +
		"direction_id, " +
		"shape_id) values " +
		"(:trip_id, " +
		":route_id, " +
		":service_id, " +
		":trip_headsign, " +
		":direction_id, " +
		":shape_id) " +
		"on conflict (trip_id) do update set " +
		"route_id = excluded.route_id, " +
		"service_id = excluded.service_id, " +
		"trip_headsign = excluded.trip_headsign, " +
		"direction_id = excluded.direction_id, " +
		"shape_id = excluded.shape_id"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExec(statementString, trips)
	return err
}

// RecordStopTimes saves stop times to the database in batch, replacing
// fields of rows already present.
func RecordStopTimes(stopTimes []*StopTime, db *sqlx.DB) error {
	if len(stopTimes) == 0 {
		return nil
	}

	statementString := "insert into gtfs_stop_times (trip_id, " +
		"arrival_time, " +
		"departure_time, " +
		"stop_id, " +
		"stop_sequence) values " +
		"(:trip_id, " +
		":arrival_time, " +
		":departure_time, " +
		":stop_id, " +
		":stop_sequence) " +
		"on conflict (trip_id, stop_sequence) do update set " +
		"arrival_time = excluded.arrival_time, " +
		"departure_time = excluded.departure_time, " +
		"stop_id = excluded.stop_id"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExec(statementString, stopTimes)
	return err
}
