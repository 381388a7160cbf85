// Package monitor polls the GTFS-realtime feeds and flattens their entities
// into the live transit tables. Each feed fails independently: a bad fetch
// or decode logs and leaves the other feeds to load on the same tick.
package monitor

import (
	logger "log"
	"os"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/UrbanOSLabs/mobilitycast/business/data/livetransit"
	"github.com/UrbanOSLabs/mobilitycast/foundation/httpclient"
	"github.com/jmoiron/sqlx"
	"google.golang.org/protobuf/proto"
)

const fetchTimeout = 30 * time.Second

// FeedURLs locates the three realtime feeds.
type FeedURLs struct {
	VehiclePositions string
	TripUpdates      string
	ServiceAlerts    string
}

// Config carries the monitor tunables.
type Config struct {
	Feeds FeedURLs
	Poll  time.Duration
}

// Monitor polls and records realtime feeds.
type Monitor struct {
	log *logger.Logger
	db  *sqlx.DB
}

// New creates a Monitor.
func New(log *logger.Logger, db *sqlx.DB) *Monitor {
	return &Monitor{log: log, db: db}
}

// Run polls the feeds on a fixed cadence until the shutdown signal fires.
func (m *Monitor) Run(cfg Config, shutdownSignal chan os.Signal) error {
	sleepChan := make(chan bool)
	sleep := time.Duration(0)

	for {
		go func(d time.Duration) {
			time.Sleep(d)
			sleepChan <- true
		}(sleep)

		select {
		case <-shutdownSignal:
			m.log.Printf("monitor loop exiting on shutdown signal")
			return nil
		case <-sleepChan:
			break
		}
		sleep = cfg.Poll

		m.pollOnce(cfg.Feeds, time.Now().UTC())
	}
}

// feedLoad fetches, decodes and records one feed.
type feedLoad struct {
	name string
	url  string
	load func(feed *gtfs.FeedMessage, now time.Time) (int, error)
}

// pollOnce loads all three feeds, isolating failures per feed.
func (m *Monitor) pollOnce(feeds FeedURLs, now time.Time) {
	loads := []feedLoad{
		{name: "vehicle_positions", url: feeds.VehiclePositions, load: m.loadVehiclePositions},
		{name: "trip_updates", url: feeds.TripUpdates, load: m.loadTripUpdates},
		{name: "service_alerts", url: feeds.ServiceAlerts, load: m.loadServiceAlerts},
	}
	for _, fl := range loads {
		feed, err := fetchFeed(fl.url)
		if err != nil {
			m.log.Printf("unable to fetch %s feed, error: %v", fl.name, err)
			continue
		}
		rows, err := fl.load(feed, now)
		if err != nil {
			m.log.Printf("unable to record %s feed, error: %v", fl.name, err)
			continue
		}
		m.log.Printf("recorded %d rows from %s feed", rows, fl.name)
	}
}

func fetchFeed(url string) (*gtfs.FeedMessage, error) {
	payload, err := httpclient.FetchBytes(url, fetchTimeout)
	if err != nil {
		return nil, err
	}
	feed := gtfs.FeedMessage{}
	if err := proto.Unmarshal(payload, &feed); err != nil {
		return nil, err
	}
	return &feed, nil
}

func (m *Monitor) loadVehiclePositions(feed *gtfs.FeedMessage, now time.Time) (int, error) {
	arrivals := flattenVehiclePositions(feed, now)
	return len(arrivals), livetransit.RecordVehicleArrivals(arrivals, m.db)
}

func (m *Monitor) loadTripUpdates(feed *gtfs.FeedMessage, now time.Time) (int, error) {
	updates := flattenTripUpdates(feed, now)
	return len(updates), livetransit.RecordTripUpdates(updates, m.db)
}

func (m *Monitor) loadServiceAlerts(feed *gtfs.FeedMessage, now time.Time) (int, error) {
	alerts := flattenServiceAlerts(feed, now)
	return len(alerts), livetransit.RecordServiceAlerts(alerts, m.db)
}
