// Package geodata provides CRUD functionality for mqtt session windows and
// the located telemetry points mobile clients report inside them.
package geodata

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/foundation/database"
	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/UrbanOSLabs/mobilitycast/foundation/geo"
	"github.com/jmoiron/sqlx"
)

// Session is one recording window reported by a mobile client.
// (client_id, start_time) identifies a session across reconnects.
type Session struct {
	SessionID int64     `db:"session_id" json:"session_id"`
	ClientID  string    `db:"client_id" json:"client_id"`
	StartTime time.Time `db:"start_time" json:"start_time"`
	EndTime   time.Time `db:"end_time" json:"end_time"`
}

// Point is a single located sample inside a session.
type Point struct {
	ClientID  string    `db:"client_id" json:"client_id"`
	SessionID int64     `db:"session_id" json:"session_id"`
	Latitude  float64   `db:"lat" json:"lat"`
	Longitude float64   `db:"lon" json:"lon"`
	Elevation *float64  `db:"elevation" json:"elevation,omitempty"`
	Speed     *float64  `db:"speed" json:"speed,omitempty"`
	Activity  *string   `db:"activity" json:"activity,omitempty"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Geom      string    `db:"geom" json:"-"`
}

// Fix is the most recent located sample for a client. Speed is zero when the
// client never reported one.
type Fix struct {
	Latitude  float64   `db:"lat" json:"lat"`
	Longitude float64   `db:"lon" json:"lon"`
	Speed     float64   `db:"speed" json:"speed"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// Location returns the fix as a geo.Point.
func (f *Fix) Location() geo.Point {
	return geo.Point{Lat: f.Latitude, Lon: f.Longitude}
}

// UpsertSession records a session window if it has not been seen before and
// returns the stored row. A replayed (client_id, start_time) pair keeps the
// original session_id.
func UpsertSession(db *sqlx.DB, clientID string, startTime time.Time, endTime time.Time) (*Session, error) {
	insertStatement := "insert into mqtt_sessions (client_id, start_time, end_time) " +
		"values (:client_id, :start_time, :end_time) " +
		"on conflict (client_id, start_time) do nothing"
	_, err := db.NamedExec(insertStatement, map[string]interface{}{
		"client_id":  clientID,
		"start_time": startTime,
		"end_time":   endTime,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to record mqtt session for client %s, error: %w", clientID, err)
	}

	session := Session{}
	selectStatement := db.Rebind("select session_id, client_id, start_time, end_time " +
		"from mqtt_sessions where client_id = ? and start_time = ?")
	err = db.Get(&session, selectStatement, clientID, startTime)
	if err != nil {
		return nil, fmt.Errorf("unable to load mqtt session for client %s, error: %w", clientID, err)
	}
	return &session, nil
}

// RecordPoints saves located points to the database in batch. Point geometry
// is derived from Latitude and Longitude. Replayed points are ignored.
func RecordPoints(points []*Point, db *sqlx.DB) error {
	if len(points) == 0 {
		return nil
	}
	for _, point := range points {
		point.Geom = geo.EncodePointEWKT(geo.Point{Lat: point.Latitude, Lon: point.Longitude})
	}

	statementString := "insert into geodata (client_id, " +
		"session_id, " +
		"lat, " +
		"lon, " +
		"elevation, " +
		"speed, " +
		"activity, " +
		"timestamp, " +
		"geom) values " +
		"(:client_id, " +
		":session_id, " +
		":lat, " +
		":lon, " +
		":elevation, " +
		":speed, " +
		":activity, " +
		":timestamp, " +
		"ST_GeomFromEWKT(:geom)) " +
		"on conflict do nothing"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExec(statementString, points)
	return err
}

// ActiveClients returns the client ids currently reporting telemetry.
func ActiveClients(db *sqlx.DB) ([]string, error) {
	clientIDs := make([]string, 0)
	err := db.Select(&clientIDs, "select client_id from view_active_clients_geodata")
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve active clients, error: %w", err)
	}
	return clientIDs, nil
}

// LatestFix returns the most recent settled sample for clientID. Rows younger
// than two seconds are left alone so in-flight batch writes can land.
func LatestFix(db *sqlx.DB, clientID string) (*Fix, error) {
	fix := Fix{}
	statementString := db.Rebind("select lat, lon, greatest(coalesce(speed, 0), 0) as speed, timestamp " +
		"from geodata where client_id = ? " +
		"and updated_at <= now() - interval '2 seconds' " +
		"order by updated_at desc limit 1")
	err := db.Get(&fix, statementString, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.DataMissing, "no geodata recorded for client %s", clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve latest fix for client %s, error: %w", clientID, err)
	}
	return &fix, nil
}

// ClientFix is a Fix paired with the client that reported it.
type ClientFix struct {
	ClientID string `db:"client_id"`
	Fix
}

// LatestFixes returns the newest settled sample per client in one round trip.
// Device timestamps more than five minutes in the future are ignored.
func LatestFixes(db *sqlx.DB) ([]*ClientFix, error) {
	fixes := make([]*ClientFix, 0)
	statementString := "select distinct on (client_id) client_id, lat, lon, " +
		"greatest(coalesce(speed, 0), 0) as speed, timestamp " +
		"from geodata " +
		"where updated_at <= now() - interval '2 seconds' " +
		"and timestamp <= now() + interval '5 minutes' " +
		"order by client_id, updated_at desc"
	err := db.Select(&fixes, statementString)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve latest fixes, error: %w", err)
	}
	return fixes, nil
}

// CurrentSession returns the session window the client's latest telemetry
// falls inside.
func CurrentSession(db *sqlx.DB, clientID string) (*Session, error) {
	session := Session{}
	statementString := db.Rebind("select session_id, client_id, start_time, end_time " +
		"from view_current_session_id_from_geodata where client_id = ?")
	err := db.Get(&session, statementString, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.DataMissing, "no current session for client %s", clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve current session for client %s, error: %w", clientID, err)
	}
	return &session, nil
}

// SessionPoints returns every point recorded for a session window ordered by
// timestamp, restricted to points inside [start_time, end_time).
func SessionPoints(db *sqlx.DB, clientID string, sessionID int64) ([]*Point, error) {
	statementString := "select g.client_id, g.session_id, g.lat, g.lon, g.elevation, g.speed, g.activity, g.timestamp " +
		"from geodata g " +
		"join mqtt_sessions s on s.session_id = g.session_id " +
		"where g.client_id = :client_id and g.session_id = :session_id " +
		"and g.timestamp >= s.start_time and g.timestamp < s.end_time " +
		"order by g.timestamp"
	rows, err := database.PrepareNamedQueryRowsFromMap(statementString, db, map[string]interface{}{
		"client_id":  clientID,
		"session_id": sessionID,
	})

	defer func() {
		if rows != nil {
			_ = rows.Close()
		}
	}()

	if err != nil {
		return nil, fmt.Errorf("unable to retrieve geodata rows for session %d, error: %w", sessionID, err)
	}

	points := make([]*Point, 0)
	for rows.Next() {
		point := Point{}
		err = rows.StructScan(&point)
		points = append(points, &point)
	}
	return points, err
}

// MigratableSessions returns the (client_id, session_id) pairs whose recording
// window has closed and that still hold raw geodata to migrate.
func MigratableSessions(db *sqlx.DB, now time.Time) ([]*Session, error) {
	statementString := "select distinct s.session_id, s.client_id, s.start_time, s.end_time " +
		"from mqtt_sessions s " +
		"join geodata g on g.session_id = s.session_id " +
		"where s.end_time <= :now " +
		"and g.timestamp >= s.start_time and g.timestamp < s.end_time " +
		"order by s.session_id"
	rows, err := database.PrepareNamedQueryRowsFromMap(statementString, db, map[string]interface{}{
		"now": now,
	})

	defer func() {
		if rows != nil {
			_ = rows.Close()
		}
	}()

	if err != nil {
		return nil, fmt.Errorf("unable to retrieve migratable sessions, error: %w", err)
	}

	sessions := make([]*Session, 0)
	for rows.Next() {
		session := Session{}
		err = rows.StructScan(&session)
		sessions = append(sessions, &session)
	}
	return sessions, err
}

// DeleteSessionPoints removes the raw geodata rows a finished migration has
// copied into trajectories. Returns the number of rows removed.
func DeleteSessionPoints(db *sqlx.DB, clientID string, sessionID int64) (int64, error) {
	statementString := db.Rebind("delete from geodata where client_id = ? and session_id = ?")
	result, err := db.Exec(statementString, clientID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("unable to delete migrated geodata for session %d, error: %w", sessionID, err)
	}
	return result.RowsAffected()
}
