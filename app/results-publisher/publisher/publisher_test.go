package publisher

import (
	"encoding/json"
	"errors"
	"io"
	logger "log"
	"testing"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/business/data/route"
)

type fakeSource struct {
	rows []*route.PublishableRoute
	err  error
}

func (s *fakeSource) FreshRoutes(time.Time) ([]*route.PublishableRoute, error) {
	return s.rows, s.err
}

type fakeDestination struct {
	published []publishedMessage
	failures  int
}

type publishedMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

func (d *fakeDestination) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if d.failures > 0 {
		d.failures--
		return errors.New("broker unavailable")
	}
	d.published = append(d.published, publishedMessage{topic: topic, qos: qos, retained: retained, payload: payload})
	return nil
}

func testPublisher(source routeSource, dest destination) *Publisher {
	return newWithSource(logger.New(io.Discard, "", 0), source, dest, Config{
		PollInterval: 5 * time.Second,
		Freshness:    60 * time.Second,
		DedupWindow:  10 * time.Minute,
	})
}

func publishableRow(clientID string, sessionID int64, createdAt time.Time) *route.PublishableRoute {
	stopID := "S100"
	return &route.PublishableRoute{
		ClientID:       clientID,
		SessionID:      sessionID,
		StopID:         &stopID,
		DestinationLat: 59.34,
		DestinationLon: 18.09,
		Path:           "LINESTRING(18.07 59.33, 18.09 59.34)",
		SegmentType:    route.SegmentMultimodal,
		CreatedAt:      createdAt,
	}
}

// The same row observed in consecutive polls must produce exactly one
// outbound message.
func Test_PublishFresh_dedupsAcrossPolls(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{rows: []*route.PublishableRoute{
		publishableRow("c1", 42, now.Add(-10*time.Second)),
	}}
	dest := &fakeDestination{}
	p := testPublisher(source, dest)

	for i := 0; i < 2; i++ {
		if _, err := p.PublishFresh(now.Add(time.Duration(i) * 5 * time.Second)); err != nil {
			t.Fatalf("PublishFresh() error = %v", err)
		}
	}

	if len(dest.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(dest.published))
	}

	msg := dest.published[0]
	if msg.topic != "results/client/c1/session/42/" {
		t.Errorf("topic = %q", msg.topic)
	}
	if msg.qos != 1 || !msg.retained {
		t.Errorf("qos = %d retained = %v, want 1 and true", msg.qos, msg.retained)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(msg.payload, &body); err != nil {
		t.Fatalf("payload does not parse: %v", err)
	}
	if body["client_id"] != "c1" || body["stop_id"] != "S100" {
		t.Errorf("payload = %v", body)
	}
	if body["route_path"] != "LINESTRING(18.07 59.33, 18.09 59.34)" {
		t.Errorf("route_path = %v", body["route_path"])
	}
	dst, ok := body["destination"].(map[string]interface{})
	if !ok || dst["lat"] != 59.34 || dst["lon"] != 18.09 {
		t.Errorf("destination = %v", body["destination"])
	}
}

// A failed publish leaves the key unmarked so the next poll retries it.
func Test_PublishFresh_retriesAfterFailure(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{rows: []*route.PublishableRoute{
		publishableRow("c1", 42, now.Add(-10*time.Second)),
	}}
	dest := &fakeDestination{failures: 1}
	p := testPublisher(source, dest)

	published, err := p.PublishFresh(now)
	if err != nil {
		t.Fatalf("PublishFresh() error = %v", err)
	}
	if published != 0 {
		t.Fatalf("published %d messages with the broker down, want 0", published)
	}

	published, err = p.PublishFresh(now.Add(5 * time.Second))
	if err != nil {
		t.Fatalf("PublishFresh() error = %v", err)
	}
	if published != 1 || len(dest.published) != 1 {
		t.Errorf("retry published %d messages (total %d), want 1", published, len(dest.published))
	}
}

// A new created_at on the same (client, session) is a fresh result.
func Test_PublishFresh_newCreatedAtIsNewResult(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{rows: []*route.PublishableRoute{
		publishableRow("c1", 42, now.Add(-10*time.Second)),
	}}
	dest := &fakeDestination{}
	p := testPublisher(source, dest)

	if _, err := p.PublishFresh(now); err != nil {
		t.Fatalf("PublishFresh() error = %v", err)
	}
	source.rows = []*route.PublishableRoute{
		publishableRow("c1", 42, now.Add(2 * time.Second)),
	}
	if _, err := p.PublishFresh(now.Add(5 * time.Second)); err != nil {
		t.Fatalf("PublishFresh() error = %v", err)
	}

	if len(dest.published) != 2 {
		t.Errorf("published %d messages, want 2", len(dest.published))
	}
}

// Keys age out of the dedup set once their rows fall past the window.
func Test_evict_boundsTheDedupSet(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{rows: []*route.PublishableRoute{
		publishableRow("c1", 42, now.Add(-10*time.Second)),
	}}
	dest := &fakeDestination{}
	p := testPublisher(source, dest)

	if _, err := p.PublishFresh(now); err != nil {
		t.Fatalf("PublishFresh() error = %v", err)
	}
	if len(p.seen) != 1 {
		t.Fatalf("seen set holds %d keys, want 1", len(p.seen))
	}

	source.rows = nil
	if _, err := p.PublishFresh(now.Add(11 * time.Minute)); err != nil {
		t.Fatalf("PublishFresh() error = %v", err)
	}
	if len(p.seen) != 0 {
		t.Errorf("seen set holds %d keys after the window, want 0", len(p.seen))
	}
}

func Test_topicFor(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     string
	}{
		{name: "full template", template: "results/client/{client_id}/session/{session_id}/", want: "results/client/c1/session/42/"},
		{name: "flat template without session", template: "results/{client_id}", want: "results/c1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := topicFor(tt.template, "c1", 42); got != tt.want {
				t.Errorf("topicFor() = %q, want %q", got, tt.want)
			}
		})
	}
}
