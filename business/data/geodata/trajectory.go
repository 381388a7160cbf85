package geodata

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/foundation/database"
	"github.com/jmoiron/sqlx"
)

// TrajectoryPoint is one sample inside a migrated trajectory document.
type TrajectoryPoint struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Elevation *float64  `json:"elevation,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Activity  *string   `json:"activity,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Trajectory holds the point document migrated from one closed session.
type Trajectory struct {
	ClientID  string            `json:"client_id"`
	SessionID int64             `json:"session_id"`
	Points    []TrajectoryPoint `json:"trajectory"`
	CreatedAt time.Time         `json:"created_at"`
}

// trajectoryRow carries the raw jsonb column before decoding.
type trajectoryRow struct {
	ClientID  string    `db:"client_id"`
	SessionID int64     `db:"session_id"`
	Document  []byte    `db:"trajectory"`
	CreatedAt time.Time `db:"created_at"`
}

// TrajectoryDocument converts session points into the document stored in the
// trajectories table.
func TrajectoryDocument(points []*Point) []TrajectoryPoint {
	document := make([]TrajectoryPoint, 0, len(points))
	for _, point := range points {
		document = append(document, TrajectoryPoint{
			Latitude:  point.Latitude,
			Longitude: point.Longitude,
			Elevation: point.Elevation,
			Speed:     point.Speed,
			Activity:  point.Activity,
			Timestamp: point.Timestamp,
		})
	}
	return document
}

// RecordTrajectory saves the point document for a closed session. A session
// that was already migrated is left untouched.
func RecordTrajectory(db *sqlx.DB, clientID string, sessionID int64, points []TrajectoryPoint) error {
	document, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("unable to encode trajectory for session %d, error: %w", sessionID, err)
	}

	statementString := "insert into trajectories (client_id, session_id, trajectory) " +
		"values (:client_id, :session_id, :trajectory) " +
		"on conflict (session_id) do nothing"
	_, err = db.NamedExec(statementString, map[string]interface{}{
		"client_id":  clientID,
		"session_id": sessionID,
		"trajectory": document,
	})
	if err != nil {
		return fmt.Errorf("unable to record trajectory for session %d, error: %w", sessionID, err)
	}
	return nil
}

// TrajectoryClients returns the client ids with at least one migrated
// trajectory.
func TrajectoryClients(db *sqlx.DB) ([]string, error) {
	clientIDs := make([]string, 0)
	err := db.Select(&clientIDs, "select distinct client_id from trajectories order by client_id")
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve trajectory clients, error: %w", err)
	}
	return clientIDs, nil
}

// ClientTrajectories returns every migrated trajectory for clientID in the
// order the sessions closed.
func ClientTrajectories(db *sqlx.DB, clientID string) ([]*Trajectory, error) {
	statementString := "select client_id, session_id, trajectory, created_at " +
		"from trajectories where client_id = :client_id order by created_at"
	rows, err := database.PrepareNamedQueryRowsFromMap(statementString, db, map[string]interface{}{
		"client_id": clientID,
	})

	defer func() {
		if rows != nil {
			_ = rows.Close()
		}
	}()

	if err != nil {
		return nil, fmt.Errorf("unable to retrieve trajectories for client %s, error: %w", clientID, err)
	}

	trajectories := make([]*Trajectory, 0)
	for rows.Next() {
		row := trajectoryRow{}
		err = rows.StructScan(&row)
		if err != nil {
			return nil, err
		}
		trajectory := Trajectory{
			ClientID:  row.ClientID,
			SessionID: row.SessionID,
			CreatedAt: row.CreatedAt,
		}
		err = json.Unmarshal(row.Document, &trajectory.Points)
		if err != nil {
			return nil, fmt.Errorf("unable to decode trajectory for session %d, error: %w", row.SessionID, err)
		}
		trajectories = append(trajectories, &trajectory)
	}
	return trajectories, nil
}

// CountExpiredTrajectories returns how many trajectories were created before
// cutoff.
func CountExpiredTrajectories(db *sqlx.DB, cutoff time.Time) (int64, error) {
	var count int64
	statementString := db.Rebind("select count(*) from trajectories where created_at < ?")
	err := db.Get(&count, statementString, cutoff)
	if err != nil {
		return 0, fmt.Errorf("unable to count expired trajectories, error: %w", err)
	}
	return count, nil
}

// DeleteExpiredTrajectories removes at most batchSize trajectories created
// before cutoff and returns the number removed. Batching by ctid keeps each
// delete short so retention never holds long locks.
func DeleteExpiredTrajectories(db *sqlx.DB, cutoff time.Time, batchSize int) (int64, error) {
	statementString := db.Rebind("delete from trajectories where ctid in " +
		"(select ctid from trajectories where created_at < ? order by created_at limit ?)")
	result, err := db.Exec(statementString, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("unable to delete expired trajectories, error: %w", err)
	}
	return result.RowsAffected()
}
