// Package poi provides CRUD functionality for detected points of interest,
// predicted visit sequences and the combined target view the route planners
// read.
package poi

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

// POI is a dwell location detected from a client's trajectories.
// Latitude and Longitude are fixed-precision keys rounded to 6 decimals
// before they reach this package.
type POI struct {
	ClientID   string    `db:"client_id" json:"client_id"`
	Latitude   float64   `db:"lat" json:"lat"`
	Longitude  float64   `db:"lon" json:"lon"`
	TimeSpent  float64   `db:"time_spent" json:"time_spent"`
	POIRank    float64   `db:"poi_rank" json:"poi_rank"`
	VisitStart time.Time `db:"visit_start" json:"visit_start"`
	VisitCount int       `db:"visit_count" json:"visit_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	Geom       string    `db:"geom" json:"-"`
}

// PredictedPOI is one entry of a predicted visit sequence.
type PredictedPOI struct {
	ClientID           string    `db:"client_id" json:"client_id"`
	PredictedLatitude  float64   `db:"predicted_lat" json:"predicted_lat"`
	PredictedLongitude float64   `db:"predicted_lon" json:"predicted_lon"`
	PredictedVisitTime time.Time `db:"predicted_visit_time" json:"predicted_visit_time"`
	PredictionType     string    `db:"prediction_type" json:"prediction_type"`
	Geom               string    `db:"geom" json:"-"`
}

// CombinedPOI is a row of the combined target view merging detected and
// predicted POIs. PredictedVisitTime is nil for detected rows.
type CombinedPOI struct {
	ClientID           string     `db:"client_id" json:"client_id"`
	POIType            string     `db:"poi_type" json:"poi_type"`
	Latitude           float64    `db:"lat" json:"lat"`
	Longitude          float64    `db:"lon" json:"lon"`
	POIRank            float64    `db:"poi_rank" json:"poi_rank"`
	PredictedVisitTime *time.Time `db:"predicted_visit_time" json:"predicted_visit_time,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
}

// Predicted reports whether the row came from a predicted visit sequence.
func (c *CombinedPOI) Predicted() bool {
	return len(c.POIType) >= 10 && c.POIType[:10] == "predicted_"
}

// RecordPOIs saves detected POIs to the database in batch. A POI already
// recorded for (client_id, lat, lon) is left untouched; arrivals at known
// POIs are recorded separately with RecordArrival.
func RecordPOIs(pois []*POI, db *sqlx.DB) error {
	if len(pois) == 0 {
		return nil
	}
	for _, p := range pois {
		p.Geom = geo.EncodePointEWKT(geo.Point{Lat: p.Latitude, Lon: p.Longitude})
	}

	statementString := "insert into pois (client_id, " +
		"lat, " +
		"lon, " +
		"time_spent, " +
		"poi_rank, " +
		"visit_start, " +
		"visit_count, " +
		"created_at, " +
		"geom) values " +
		"(:client_id, " +
		":lat, " +
		":lon, " +
		":time_spent, " +
		":poi_rank, " +
		":visit_start, " +
		":visit_count, " +
		":created_at, " +
		"ST_GeomFromEWKT(:geom)) " +
		"on conflict do nothing"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExec(statementString, pois)
	return err
}

// RecordArrival bumps the visit counter for a known POI and advances
// visit_start when the new visit is more recent. Returns the number of rows
// touched so callers can tell a miss from an update.
func RecordArrival(db *sqlx.DB, clientID string, lat float64, lon float64, visitStart time.Time) (int64, error) {
	statementString := db.Rebind("update pois set visit_count = visit_count + 1, " +
		"visit_start = greatest(visit_start, ?) " +
		"where client_id = ? and lat = ? and lon = ?")
	result, err := db.Exec(statementString, visitStart, clientID, lat, lon)
	if err != nil {
		return 0, fmt.Errorf("unable to record poi arrival for client %s, error: %w", clientID, err)
	}
	return result.RowsAffected()
}

// ClientPOIs returns every detected POI for clientID ordered by rank.
func ClientPOIs(db *sqlx.DB, clientID string) ([]*POI, error) {
	statementString := "select client_id, lat, lon, time_spent, poi_rank, visit_start, visit_count, created_at " +
		"from pois where client_id = :client_id order by poi_rank desc, created_at desc"
	rows, err := database.PrepareNamedQueryRowsFromMap(statementString, db, map[string]interface{}{
		"client_id": clientID,
	})

	defer func() {
		if rows != nil {
			_ = rows.Close()
		}
	}()

	if err != nil {
		return nil, fmt.Errorf("unable to retrieve pois for client %s, error: %w", clientID, err)
	}

	pois := make([]*POI, 0)
	for rows.Next() {
		p := POI{}
		err = rows.StructScan(&p)
		pois = append(pois, &p)
	}
	return pois, err
}

// ReplacePredictedSequence swaps the stored visit sequence of one prediction
// type for a client. The delete keeps stale predictions from competing with
// the fresh sequence in the combined view.
func ReplacePredictedSequence(db *sqlx.DB, clientID string, predictionType string, sequence []*PredictedPOI) error {
	deleteStatement := db.Rebind("delete from predicted_pois_sequence " +
		"where client_id = ? and prediction_type = ?")
	_, err := db.Exec(deleteStatement, clientID, predictionType)
	if err != nil {
		return fmt.Errorf("unable to clear predicted sequence for client %s, error: %w", clientID, err)
	}
	if len(sequence) == 0 {
		return nil
	}

	for _, p := range sequence {
		p.ClientID = clientID
		p.PredictionType = predictionType
		p.Geom = geo.EncodePointEWKT(geo.Point{Lat: p.PredictedLatitude, Lon: p.PredictedLongitude})
	}

	insertStatement := "insert into predicted_pois_sequence (client_id, " +
		"predicted_lat, " +
		"predicted_lon, " +
		"predicted_visit_time, " +
		"prediction_type, " +
		"geom) values " +
		"(:client_id, " +
		":predicted_lat, " +
		":predicted_lon, " +
		":predicted_visit_time, " +
		":prediction_type, " +
		"ST_GeomFromEWKT(:geom))"
	insertStatement = db.Rebind(insertStatement)
	_, err = db.NamedExec(insertStatement, sequence)
	if err != nil {
		return fmt.Errorf("unable to record predicted sequence for client %s, error: %w", clientID, err)
	}
	return nil
}

// NearbyPOIID returns the id of the stored POI closest to (lat, lon) within
// toleranceMeters, or DataMissing when none is close enough. The geography
// cast keeps the tolerance in meters.
func NearbyPOIID(db *sqlx.DB, clientID string, lat float64, lon float64, toleranceMeters float64) (int64, error) {
	var id int64
	statementString := db.Rebind("select poi_id from pois " +
		"where client_id = ? " +
		"and ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography, ?) " +
		"order by ST_DistanceSphere(geom, ST_SetSRID(ST_MakePoint(?, ?), 4326)) " +
		"limit 1")
	err := db.Get(&id, statementString, clientID, lon, lat, toleranceMeters, lon, lat)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fault.New(fault.DataMissing, "no poi near %f,%f for client %s", lat, lon, clientID)
	}
	if err != nil {
		return 0, fmt.Errorf("unable to find poi near %f,%f for client %s, error: %w", lat, lon, clientID, err)
	}
	return id, nil
}

// CombinedPOIHead returns the single routing target for clientID from the
// combined view: predicted entries first, then rank, then the most imminent
// predicted visit, then recency.
func CombinedPOIHead(db *sqlx.DB, clientID string) (*CombinedPOI, error) {
	combined := CombinedPOI{}
	statementString := db.Rebind("select client_id, poi_type, lat, lon, poi_rank, predicted_visit_time, created_at " +
		"from view_combined_pois where client_id = ? " +
		"order by (case when poi_type like 'predicted_%' then 0 else 1 end), " +
		"poi_rank desc, " +
		"coalesce(predicted_visit_time, now()) desc nulls last, " +
		"created_at desc " +
		"limit 1")
	err := db.Get(&combined, statementString, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.DataMissing, "no combined poi for client %s", clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve combined poi for client %s, error: %w", clientID, err)
	}
	return &combined, nil
}
