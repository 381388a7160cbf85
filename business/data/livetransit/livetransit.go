// Package livetransit provides CRUD functionality for flattened GTFS-realtime
// rows and the departure-candidate view the route choice reads.
package livetransit

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/foundation/database"
	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/jmoiron/sqlx"
)

// TripUpdate is one stop_time_update flattened out of a GTFS-realtime
// TripUpdate entity.
type TripUpdate struct {
	TripID        string     `db:"trip_id" json:"trip_id"`
	StopID        string     `db:"stop_id" json:"stop_id"`
	ArrivalTime   *time.Time `db:"arrival_time" json:"arrival_time,omitempty"`
	DepartureTime *time.Time `db:"departure_time" json:"departure_time,omitempty"`
	DelaySeconds  *int       `db:"delay_seconds" json:"delay_seconds,omitempty"`
	Status        string     `db:"status" json:"status"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// VehicleArrival is one GTFS-realtime vehicle position observation.
type VehicleArrival struct {
	VehicleID   string    `db:"vehicle_id" json:"vehicle_id"`
	TripID      string    `db:"trip_id" json:"trip_id"`
	RouteID     string    `db:"route_id" json:"route_id"`
	PositionLat float64   `db:"position_lat" json:"position_lat"`
	PositionLon float64   `db:"position_lon" json:"position_lon"`
	StopID      string    `db:"stop_id" json:"stop_id"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ServiceAlert is one GTFS-realtime alert flattened per informed entity.
// AlertID hashes the alert content so replays of the same fetch are ignored.
type ServiceAlert struct {
	AlertID         string     `db:"alert_id" json:"alert_id"`
	Cause           string     `db:"cause" json:"cause"`
	Effect          string     `db:"effect" json:"effect"`
	HeaderText      string     `db:"header_text" json:"header_text"`
	DescriptionText string     `db:"description_text" json:"description_text"`
	AffectedEntity  string     `db:"affected_entity" json:"affected_entity"`
	StartTime       *time.Time `db:"start_time" json:"start_time,omitempty"`
	EndTime         *time.Time `db:"end_time" json:"end_time,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// DepartureCandidate is a row of the departure-candidate view: a live
// departure at a boarding stop that lines up with a client's predicted
// arrival there.
type DepartureCandidate struct {
	TripID        string     `db:"trip_id" json:"trip_id"`
	DepartureTime time.Time  `db:"departure_time" json:"departure_time"`
	ArrivalTime   *time.Time `db:"arrival_time" json:"arrival_time,omitempty"`
	DelaySeconds  *int       `db:"delay_seconds" json:"delay_seconds,omitempty"`
	Status        *string    `db:"status" json:"status,omitempty"`
	RouteID       *string    `db:"route_id" json:"route_id,omitempty"`
	DirectionID   *int       `db:"direction_id" json:"direction_id,omitempty"`
	TripHeadsign  *string    `db:"trip_headsign" json:"trip_headsign,omitempty"`
}

// Delay returns the candidate's delay in seconds, zero when unreported.
func (d *DepartureCandidate) Delay() float64 {
	if d.DelaySeconds == nil {
		return 0
	}
	return float64(*d.DelaySeconds)
}

// Route returns the candidate's route id, empty when unreported.
func (d *DepartureCandidate) Route() string {
	if d.RouteID == nil {
		return ""
	}
	return *d.RouteID
}

// RecordTripUpdates saves flattened trip updates to the database in batch.
// Replayed rows are ignored.
func RecordTripUpdates(tripUpdates []*TripUpdate, db *sqlx.DB) error {
	if len(tripUpdates) == 0 {
		return nil
	}

	statementString := "insert into trip_updates (trip_id, " +
		"stop_id, " +
		"arrival_time, " +
		"departure_time, " +
		"delay_seconds, " +
		"status, " +
		"created_at) values " +
		"(:trip_id, " +
		":stop_id, " +
		":arrival_time, " +
		":departure_time, " +
		":delay_seconds, " +
		":status, " +
		":created_at) " +
		"on conflict do nothing"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExec(statementString, tripUpdates)
	return err
}

// RecordVehicleArrivals saves vehicle observations to the database in batch.
// Replayed rows are ignored.
func RecordVehicleArrivals(arrivals []*VehicleArrival, db *sqlx.DB) error {
	if len(arrivals) == 0 {
		return nil
	}

	statementString := "insert into vehicle_arrivals (vehicle_id, " +
		"trip_id, " +
		"route_id, " +
		"position_lat, " +
		"position_lon, " +
		"stop_id, " +
		"timestamp, " +
		"created_at) values " +
		"(:vehicle_id, " +
		":trip_id, " +
		":route_id, " +
		":position_lat, " +
		":position_lon, " +
		":stop_id, " +
		":timestamp, " +
		":created_at) " +
		"on conflict do nothing"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExec(statementString, arrivals)
	return err
}

// RecordServiceAlerts saves flattened service alerts to the database in
// batch. Alerts whose content hash was already stored are ignored.
func RecordServiceAlerts(alerts []*ServiceAlert, db *sqlx.DB) error {
	if len(alerts) == 0 {
		return nil
	}

	statementString := "insert into service_alerts (alert_id, " +
		"cause, " +
		"effect, " +
		"header_text, " +
		"description_text, " +
		"affected_entity, " +
		"start_time, " +
		"end_time, " +
		"created_at) values " +
		"(:alert_id, " +
		":cause, " +
		":effect, " +
		":header_text, " +
		":description_text, " +
		":affected_entity, " +
		":start_time, " +
		":end_time, " +
		":created_at) " +
		"on conflict (alert_id) do nothing"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExec(statementString, alerts)
	return err
}

// BestDeparture returns the most viable live departure for a client at a
// boarding stop: smallest delay first, then earliest departure.
func BestDeparture(db *sqlx.DB, clientID string, stopID string) (*DepartureCandidate, error) {
	candidate := DepartureCandidate{}
	statementString := db.Rebind("select trip_id, departure_time, arrival_time, delay_seconds, status, " +
		"route_id, direction_id, trip_headsign " +
		"from view_departure_candidates " +
		"where client_id = ? and stop_id = ? " +
		"order by coalesce(delay_seconds, 0) asc, departure_time asc " +
		"limit 1")
	err := db.Get(&candidate, statementString, clientID, stopID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.DataMissing, "no aligned departure for client %s at stop %s", clientID, stopID)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve departure candidate for client %s, error: %w", clientID, err)
	}
	return &candidate, nil
}

// FavoredRoutes returns the client's most used route ids from departure
// candidate history, at most k entries.
func FavoredRoutes(db *sqlx.DB, clientID string, k int) (map[string]bool, error) {
	statementString := "select route_id, count(*) as cnt " +
		"from view_departure_candidates " +
		"where client_id = :client_id and route_id is not null " +
		"group by route_id " +
		"order by cnt desc " +
		"limit :k"
	rows, err := database.PrepareNamedQueryRowsFromMap(statementString, db, map[string]interface{}{
		"client_id": clientID,
		"k":         k,
	})

	defer func() {
		if rows != nil {
			_ = rows.Close()
		}
	}()

	if err != nil {
		return nil, fmt.Errorf("unable to retrieve favored routes for client %s, error: %w", clientID, err)
	}

	favored := make(map[string]bool)
	for rows.Next() {
		var routeID string
		var count int
		err = rows.Scan(&routeID, &count)
		if err != nil {
			return nil, err
		}
		favored[routeID] = true
	}
	return favored, nil
}
