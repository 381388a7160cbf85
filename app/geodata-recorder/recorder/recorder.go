// Package recorder ingests client telemetry from the broker. Each message is
// one session window with its located points; the recorder stores the window
// and the points and drops whatever it cannot parse so one bad client never
// stops ingestion.
package recorder

import (
	"encoding/json"
	"fmt"
	logger "log"
	"strings"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/business/data/geodata"
	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/jmoiron/sqlx"
)

// TopicTemplate is the subscription filter for client session telemetry.
const TopicTemplate = "client/+/session/+/"

// sessionPayload is the JSON body published per session window. Times arrive
// as RFC3339 strings; points missing lat, lon or a usable timestamp are
// dropped individually.
type sessionPayload struct {
	StartTime  string            `json:"start_time"`
	EndTime    string            `json:"end_time"`
	Trajectory []trajectoryPoint `json:"trajectory"`
}

type trajectoryPoint struct {
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Elevation *float64 `json:"elevation"`
	Speed     *float64 `json:"speed"`
	Activity  *string  `json:"activity"`
	Timestamp string   `json:"timestamp"`
}

// Recorder persists session windows and located points received over MQTT.
type Recorder struct {
	log *logger.Logger
	db  *sqlx.DB
}

// New creates a Recorder.
func New(log *logger.Logger, db *sqlx.DB) *Recorder {
	return &Recorder{
		log: log,
		db:  db,
	}
}

// HandleMessage is the broker callback. Errors are logged and swallowed, the
// subscription must outlive any single message.
func (r *Recorder) HandleMessage(topic string, payload []byte) {
	if err := r.record(topic, payload); err != nil {
		if fault.KindOf(err) == fault.Malformed {
			r.log.Printf("dropping telemetry message on %s: %v", topic, err)
			return
		}
		r.log.Printf("unable to record telemetry message on %s: %v", topic, err)
	}
}

func (r *Recorder) record(topic string, payload []byte) error {
	clientID, err := ClientIDFromTopic(topic)
	if err != nil {
		return err
	}

	message, err := decodePayload(payload)
	if err != nil {
		return err
	}

	start, startOK := parseTime(message.StartTime)
	end, endOK := parseTime(message.EndTime)
	if !startOK || !endOK {
		return fault.New(fault.Malformed, "session payload for client %s is missing its window", clientID)
	}

	session, err := geodata.UpsertSession(r.db, clientID, start, end)
	if err != nil {
		return err
	}

	points := collectPoints(clientID, session.SessionID, message.Trajectory)
	if len(points) == 0 {
		r.log.Printf("no valid points in payload for client %s session %d", clientID, session.SessionID)
		return nil
	}

	if err := geodata.RecordPoints(points, r.db); err != nil {
		return fmt.Errorf("unable to record %d points for session %d, error: %w",
			len(points), session.SessionID, err)
	}

	r.log.Printf("recorded %d points for client %s session %d", len(points), clientID, session.SessionID)
	return nil
}

// ClientIDFromTopic extracts the client id from a session telemetry topic of
// the form client/{client_id}/session/{session_id}/.
func ClientIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return "", fault.New(fault.Malformed, "unexpected telemetry topic %q", topic)
	}
	return parts[1], nil
}

func decodePayload(payload []byte) (*sessionPayload, error) {
	var message sessionPayload
	if err := json.Unmarshal(payload, &message); err != nil {
		return nil, fault.Wrap(fault.Malformed, err, "unable to decode session payload")
	}
	return &message, nil
}

// collectPoints converts the payload points a session can persist. Points
// without lat, lon or a parseable timestamp are skipped.
func collectPoints(clientID string, sessionID int64, trajectory []trajectoryPoint) []*geodata.Point {
	points := make([]*geodata.Point, 0, len(trajectory))
	for _, tp := range trajectory {
		timestamp, ok := parseTime(tp.Timestamp)
		if tp.Lat == nil || tp.Lon == nil || !ok {
			continue
		}
		points = append(points, &geodata.Point{
			ClientID:  clientID,
			SessionID: sessionID,
			Latitude:  *tp.Lat,
			Longitude: *tp.Lon,
			Elevation: tp.Elevation,
			Speed:     tp.Speed,
			Activity:  tp.Activity,
			Timestamp: timestamp,
		})
	}
	return points
}

// parseTime accepts RFC3339 with or without fractional seconds. Mobile
// clients have been seen sending the literal "null".
func parseTime(value string) (time.Time, bool) {
	if value == "" || value == "null" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}
