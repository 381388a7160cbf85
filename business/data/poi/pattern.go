package poi

import (
	"fmt"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/foundation/database"
	"github.com/jmoiron/sqlx"
)

// UserPattern is a recurring movement pattern mined from a client's
// trajectory history. Predictors boost POIs lying near a pattern centroid.
type UserPattern struct {
	ClientID    string    `db:"client_id" json:"client_id"`
	Latitude    float64   `db:"lat" json:"lat"`
	Longitude   float64   `db:"lon" json:"lon"`
	PatternType string    `db:"pattern_type" json:"pattern_type"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
}

// ClientPatterns returns every mined pattern for clientID, newest first.
func ClientPatterns(db *sqlx.DB, clientID string) ([]*UserPattern, error) {
	statementString := "select client_id, lat, lon, pattern_type, timestamp " +
		"from user_patterns where client_id = :client_id order by timestamp desc"
	rows, err := database.PrepareNamedQueryRowsFromMap(statementString, db, map[string]interface{}{
		"client_id": clientID,
	})

	defer func() {
		if rows != nil {
			_ = rows.Close()
		}
	}()

	if err != nil {
		return nil, fmt.Errorf("unable to retrieve user patterns for client %s, error: %w", clientID, err)
	}

	patterns := make([]*UserPattern, 0)
	for rows.Next() {
		p := UserPattern{}
		err = rows.StructScan(&p)
		patterns = append(patterns, &p)
	}
	return patterns, err
}
