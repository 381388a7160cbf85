// Package publisher polls the freshest chosen routes and reroutes and pushes
// each one to the owning client's per-session topic exactly once per process.
// The dedup window is time bounded so the seen set cannot grow without limit.
package publisher

import (
	"encoding/json"
	"fmt"
	logger "log"
	"os"
	"strings"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/business/data/route"
	"github.com/jmoiron/sqlx"
)

// DefaultTopicTemplate is the per-client results topic. Templates without
// the session placeholder are tolerated for brokers with flat layouts.
const DefaultTopicTemplate = "results/client/{client_id}/session/{session_id}/"

// resultQoS delivers each result at least once.
const resultQoS byte = 1

// Config carries the publisher tunables.
type Config struct {
	PollInterval time.Duration
	// Freshness bounds how far back a poll looks for publishable rows.
	Freshness time.Duration
	// DedupWindow bounds how long a published key is remembered. Rows older
	// than the window cannot reappear in a poll, so their keys are dropped.
	DedupWindow   time.Duration
	TopicTemplate string
}

// destination is the broker surface the publisher needs.
type destination interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// routeSource yields the publishable rows for one poll.
type routeSource interface {
	FreshRoutes(cutoff time.Time) ([]*route.PublishableRoute, error)
}

// dbRouteSource reads publishable rows from the database.
type dbRouteSource struct {
	db *sqlx.DB
}

func (s *dbRouteSource) FreshRoutes(cutoff time.Time) ([]*route.PublishableRoute, error) {
	return route.FreshPublishableRoutes(s.db, cutoff)
}

// resultKey identifies one published row within the dedup window.
type resultKey struct {
	clientID  string
	sessionID int64
	createdAt time.Time
}

// resultMessage is the JSON body published per chosen route.
type resultMessage struct {
	ClientID    string            `json:"client_id"`
	SessionID   int64             `json:"session_id"`
	StopID      *string           `json:"stop_id"`
	Destination resultDestination `json:"destination"`
	RoutePath   string            `json:"route_path"`
	Timestamp   string            `json:"timestamp"`
}

type resultDestination struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Publisher polls and publishes chosen routes.
type Publisher struct {
	log    *logger.Logger
	cfg    Config
	source routeSource
	dest   destination
	seen   map[resultKey]time.Time
}

// New creates a Publisher reading from the database and publishing to dest.
func New(log *logger.Logger, db *sqlx.DB, dest destination, cfg Config) *Publisher {
	p := newWithSource(log, &dbRouteSource{db: db}, dest, cfg)
	return p
}

func newWithSource(log *logger.Logger, source routeSource, dest destination, cfg Config) *Publisher {
	if cfg.TopicTemplate == "" {
		cfg.TopicTemplate = DefaultTopicTemplate
	}
	return &Publisher{
		log:    log,
		cfg:    cfg,
		source: source,
		dest:   dest,
		seen:   make(map[resultKey]time.Time),
	}
}

// Run polls until the shutdown signal fires. Failed polls are logged and the
// loop keeps its cadence; the broker wrapper handles reconnection underneath.
func (p *Publisher) Run(shutdownSignal chan os.Signal) error {
	sleepChan := make(chan bool)
	sleep := time.Duration(0)

	for {
		go func(d time.Duration) {
			time.Sleep(d)
			sleepChan <- true
		}(sleep)

		select {
		case <-shutdownSignal:
			p.log.Printf("publisher loop exiting on shutdown signal")
			return nil
		case <-sleepChan:
			break
		}
		sleep = p.cfg.PollInterval

		published, err := p.PublishFresh(time.Now().UTC())
		if err != nil {
			p.log.Printf("publish poll failed: %v", err)
			continue
		}
		if published > 0 {
			p.log.Printf("published %d results", published)
		}
	}
}

// PublishFresh runs one poll: fetch rows inside the freshness window, publish
// every unseen key and evict keys that aged out of the dedup window. A failed
// publish leaves its key unmarked so the next poll retries it. Returns the
// number of messages sent.
func (p *Publisher) PublishFresh(now time.Time) (int, error) {
	rows, err := p.source.FreshRoutes(now.Add(-p.cfg.Freshness))
	if err != nil {
		return 0, err
	}

	published := 0
	for _, row := range rows {
		key := resultKey{
			clientID:  row.ClientID,
			sessionID: row.SessionID,
			createdAt: row.CreatedAt,
		}
		if _, ok := p.seen[key]; ok {
			continue
		}

		payload, err := json.Marshal(resultMessage{
			ClientID:  row.ClientID,
			SessionID: row.SessionID,
			StopID:    row.StopID,
			Destination: resultDestination{
				Lat: row.DestinationLat,
				Lon: row.DestinationLon,
			},
			RoutePath: row.Path,
			Timestamp: row.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			p.log.Printf("unable to encode result for client %s: %v", row.ClientID, err)
			continue
		}

		topic := topicFor(p.cfg.TopicTemplate, row.ClientID, row.SessionID)
		if err := p.dest.Publish(topic, resultQoS, true, payload); err != nil {
			p.log.Printf("publish to %s failed, will retry next poll: %v", topic, err)
			continue
		}

		p.seen[key] = row.CreatedAt
		published++
	}

	p.evict(now)
	return published, nil
}

// evict drops dedup keys whose rows are past the window and can no longer
// show up in a poll.
func (p *Publisher) evict(now time.Time) {
	cutoff := now.Add(-p.cfg.DedupWindow)
	for key, createdAt := range p.seen {
		if createdAt.Before(cutoff) {
			delete(p.seen, key)
		}
	}
}

// topicFor expands the topic template for one client session.
func topicFor(template string, clientID string, sessionID int64) string {
	topic := strings.ReplaceAll(template, "{client_id}", clientID)
	topic = strings.ReplaceAll(topic, "{session_id}", fmt.Sprintf("%d", sessionID))
	return topic
}
