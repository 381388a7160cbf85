package route

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/foundation/database"
	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/jmoiron/sqlx"
)

// Segment types a chosen route can carry. Direct routes walk the planned
// path, multimodal routes board at a stop, fallback rows hold no path.
const (
	SegmentDirect     = "direct"
	SegmentMultimodal = "multimodal"
	SegmentFallback   = "fallback"
)

// DirectStopID is the sentinel stop id for walking routes.
const DirectStopID = "direct"

// ChosenRoute is the route the choice pipeline selected for a client.
// One row exists per (client_id, stop_id, segment_type); newer choices
// replace it in place.
type ChosenRoute struct {
	ClientID       string    `db:"client_id" json:"client_id"`
	StopID         string    `db:"stop_id" json:"stop_id"`
	OriginLat      *float64  `db:"origin_lat" json:"origin_lat,omitempty"`
	OriginLon      *float64  `db:"origin_lon" json:"origin_lon,omitempty"`
	DestinationLat float64   `db:"destination_lat" json:"destination_lat"`
	DestinationLon float64   `db:"destination_lon" json:"destination_lon"`
	Path           string    `db:"path" json:"path"`
	SegmentType    string    `db:"segment_type" json:"segment_type"`
	IsChosen       bool      `db:"is_chosen" json:"is_chosen"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ChoiceSnapshot is the part of the current choice the reroute watcher
// compares against live telemetry.
type ChoiceSnapshot struct {
	SegmentType string    `db:"segment_type" json:"segment_type"`
	StopID      string    `db:"stop_id" json:"stop_id"`
	Path        string    `db:"path" json:"path"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// LiveRoute is a row of the live-routes view: the route currently advised to
// a client, including reroute overrides.
type LiveRoute struct {
	StopID         *string  `db:"stop_id" json:"stop_id,omitempty"`
	SegmentType    string   `db:"segment_type" json:"segment_type"`
	OriginLat      *float64 `db:"origin_lat" json:"origin_lat,omitempty"`
	OriginLon      *float64 `db:"origin_lon" json:"origin_lon,omitempty"`
	DestinationLat float64  `db:"destination_lat" json:"destination_lat"`
	DestinationLon float64  `db:"destination_lon" json:"destination_lon"`
	Path           string   `db:"path" json:"path"`
}

// Reroute is one reroute event with the route that replaced the previous
// choice.
type Reroute struct {
	ClientID            string    `db:"client_id" json:"client_id"`
	StopID              *string   `db:"stop_id" json:"stop_id,omitempty"`
	OriginLat           *float64  `db:"origin_lat" json:"origin_lat,omitempty"`
	OriginLon           *float64  `db:"origin_lon" json:"origin_lon,omitempty"`
	DestinationLat      float64   `db:"destination_lat" json:"destination_lat"`
	DestinationLon      float64   `db:"destination_lon" json:"destination_lon"`
	Path                string    `db:"path" json:"path"`
	SegmentType         string    `db:"segment_type" json:"segment_type"`
	Reason              string    `db:"reason" json:"reason"`
	PreviousStopID      *string   `db:"previous_stop_id" json:"previous_stop_id,omitempty"`
	PreviousSegmentType *string   `db:"previous_segment_type" json:"previous_segment_type,omitempty"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// UpsertChosenRoute records the route choice for a client, replacing the
// previous row for the same (client_id, stop_id, segment_type).
func UpsertChosenRoute(db *sqlx.DB, r *ChosenRoute) error {
	statementString := "insert into optimized_routes (client_id, " +
		"stop_id, " +
		"destination_lat, " +
		"destination_lon, " +
		"path, " +
		"segment_type, " +
		"is_chosen, " +
		"origin_lat, " +
		"origin_lon, " +
		"created_at) values " +
		"(:client_id, " +
		":stop_id, " +
		":destination_lat, " +
		":destination_lon, " +
		"ST_GeomFromText(:path, 4326), " +
		":segment_type, " +
		":is_chosen, " +
		":origin_lat, " +
		":origin_lon, " +
		"now()) " +
		"on conflict (client_id, stop_id, segment_type) do update set " +
		"destination_lat = excluded.destination_lat, " +
		"destination_lon = excluded.destination_lon, " +
		"path = excluded.path, " +
		"is_chosen = excluded.is_chosen, " +
		"origin_lat = excluded.origin_lat, " +
		"origin_lon = excluded.origin_lon, " +
		"created_at = now()"
	_, err := db.NamedExec(statementString, r)
	if err != nil {
		return fmt.Errorf("unable to upsert chosen route for client %s, error: %w", r.ClientID, err)
	}
	return nil
}

// CurrentChoice returns the latest chosen route snapshot for a client.
func CurrentChoice(db *sqlx.DB, clientID string) (*ChoiceSnapshot, error) {
	snapshot := ChoiceSnapshot{}
	statementString := db.Rebind("select segment_type, stop_id, " +
		"coalesce(ST_AsText(path), '') as path, created_at " +
		"from optimized_routes " +
		"where client_id = ? and is_chosen = true " +
		"order by created_at desc limit 1")
	err := db.Get(&snapshot, statementString, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.DataMissing, "no chosen route for client %s", clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve chosen route for client %s, error: %w", clientID, err)
	}
	return &snapshot, nil
}

// CurrentLiveRoute returns the route currently advised to a client from the
// live-routes view.
func CurrentLiveRoute(db *sqlx.DB, clientID string) (*LiveRoute, error) {
	live := LiveRoute{}
	statementString := db.Rebind("select stop_id, segment_type, origin_lat, origin_lon, " +
		"destination_lat, destination_lon, " +
		"coalesce(ST_AsText(path), '') as path " +
		"from view_routes_live where client_id = ? limit 1")
	err := db.Get(&live, statementString, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.DataMissing, "no live route for client %s", clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve live route for client %s, error: %w", clientID, err)
	}
	return &live, nil
}

// UsageRatios returns how often the client historically ended up on a direct
// versus a multimodal route. Clients without history get an even split.
func UsageRatios(db *sqlx.DB, clientID string) (astarRatio float64, mapfRatio float64, err error) {
	statementString := "select segment_type, count(*) as n " +
		"from optimized_routes " +
		"where client_id = :client_id " +
		"group by segment_type"
	rows, err := database.PrepareNamedQueryRowsFromMap(statementString, db, map[string]interface{}{
		"client_id": clientID,
	})

	defer func() {
		if rows != nil {
			_ = rows.Close()
		}
	}()

	if err != nil {
		return 0, 0, fmt.Errorf("unable to retrieve usage ratios for client %s, error: %w", clientID, err)
	}

	var total, directCount, multimodalCount int
	for rows.Next() {
		var segmentType string
		var n int
		err = rows.Scan(&segmentType, &n)
		if err != nil {
			return 0, 0, err
		}
		total += n
		switch segmentType {
		case SegmentDirect:
			directCount += n
		case SegmentMultimodal:
			multimodalCount += n
		}
	}
	if total == 0 {
		return 0.5, 0.5, nil
	}
	return float64(directCount) / float64(total), float64(multimodalCount) / float64(total), nil
}

// SwitchProfileSeconds returns the client's average mode-switch time at a
// stop, or nil when no profile exists.
func SwitchProfileSeconds(db *sqlx.DB, clientID string, stopID string) (*float64, error) {
	var avgSwitch float64
	statementString := db.Rebind("select avg_switch_seconds from client_switch_profiles " +
		"where client_id = ? and stop_id = ? limit 1")
	err := db.Get(&avgSwitch, statementString, clientID, stopID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve switch profile for client %s, error: %w", clientID, err)
	}
	return &avgSwitch, nil
}

// RecordReroute saves a reroute event. The new route keeps is_chosen set so
// the publisher picks it up alongside regular choices.
func RecordReroute(db *sqlx.DB, r *Reroute) error {
	statementString := "insert into reroutes (client_id, " +
		"stop_id, " +
		"origin_lat, " +
		"origin_lon, " +
		"destination_lat, " +
		"destination_lon, " +
		"path, " +
		"segment_type, " +
		"reason, " +
		"previous_stop_id, " +
		"previous_segment_type, " +
		"is_chosen, " +
		"created_at) values " +
		"(:client_id, " +
		":stop_id, " +
		":origin_lat, " +
		":origin_lon, " +
		":destination_lat, " +
		":destination_lon, " +
		"ST_GeomFromText(:path, 4326), " +
		":segment_type, " +
		":reason, " +
		":previous_stop_id, " +
		":previous_segment_type, " +
		"true, " +
		"now())"
	_, err := db.NamedExec(statementString, r)
	if err != nil {
		return fmt.Errorf("unable to record reroute for client %s, error: %w", r.ClientID, err)
	}
	return nil
}
