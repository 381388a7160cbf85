// Package staticgtfs downloads the static GTFS zip and upserts its tables
// into the database. The feed is fetched conditionally: a sidecar file holds
// the Last-Modified header of the last load, and a 304 response skips the
// whole cycle. Table loads are isolated so one malformed file cannot abort
// the rest of the feed.
package staticgtfs

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	logger "log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/business/data/transit"
	"github.com/UrbanOSLabs/mobilitycast/foundation/httpclient"
	"github.com/gocarina/gocsv"
	"github.com/jmoiron/sqlx"
	"github.com/spkg/bom"
)

// Config carries the loader tunables.
type Config struct {
	FeedURL string
	// StatePath is the sidecar file holding the Last-Modified header of the
	// last successful download.
	StatePath   string
	DownloadDir string
	// Refresh is the loop interval. Zero disables the loop and runs once.
	Refresh time.Duration
}

// Loader downloads and records static GTFS feeds.
type Loader struct {
	log *logger.Logger
	db  *sqlx.DB
}

// New creates a Loader.
func New(log *logger.Logger, db *sqlx.DB) *Loader {
	return &Loader{log: log, db: db}
}

// Run refreshes the feed on the configured interval until the shutdown
// signal fires. With Refresh zero the feed is loaded once and Run returns.
func (l *Loader) Run(cfg Config, shutdownSignal chan os.Signal) error {
	if cfg.Refresh == 0 {
		l.log.Printf("refresh loop disabled, loading feed once")
		return l.RefreshOnce(cfg)
	}

	sleepChan := make(chan bool)
	sleep := time.Duration(0)

	for {
		go func(d time.Duration) {
			time.Sleep(d)
			sleepChan <- true
		}(sleep)

		select {
		case <-shutdownSignal:
			l.log.Printf("loader loop exiting on shutdown signal")
			return nil
		case <-sleepChan:
			break
		}
		sleep = cfg.Refresh

		if err := l.RefreshOnce(cfg); err != nil {
			l.log.Printf("feed refresh failed: %v", err)
		}
	}
}

// RefreshOnce performs one conditional download and load cycle.
func (l *Loader) RefreshOnce(cfg Config) error {
	if err := os.MkdirAll(cfg.DownloadDir, os.ModePerm); err != nil {
		return fmt.Errorf("unable to create download directory %s, error: %w", cfg.DownloadDir, err)
	}

	zipPath := filepath.Join(cfg.DownloadDir, "gtfs.zip")
	downloaded, err := httpclient.DownloadRemoteFileIfModified(zipPath, cfg.FeedURL, readLastModified(cfg.StatePath))
	if errors.Is(err, httpclient.ErrNotModified) {
		l.log.Printf("feed not modified since last load, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to download feed from %s, error: %w", cfg.FeedURL, err)
	}
	defer func() {
		if err := os.Remove(zipPath); err != nil {
			l.log.Printf("unable to remove downloaded zip %s, error: %v", zipPath, err)
		}
	}()
	l.log.Printf("downloaded %d bytes from %s", downloaded.Size, cfg.FeedURL)

	loaded, failed, err := l.loadZip(zipPath)
	if err != nil {
		return err
	}
	l.log.Printf("feed load summary: %d tables updated, %d failed", loaded, failed)

	// only remember the timestamp once every table landed, so a partial
	// load is retried on the next cycle
	if failed == 0 {
		writeLastModified(l.log, cfg.StatePath, downloaded.RemoteFileInfo.LastModified)
	}
	return nil
}

// tableLoad parses one file of the zip and records its rows.
type tableLoad struct {
	filename string
	load     func(r io.Reader, db *sqlx.DB) (int, error)
}

// tableLoads lists the feed files in dependency order.
func tableLoads() []tableLoad {
	return []tableLoad{
		{filename: "routes.txt", load: loadRoutes},
		{filename: "calendar.txt", load: loadCalendars},
		{filename: "calendar_dates.txt", load: loadCalendarDates},
		{filename: "stops.txt", load: loadStops},
		{filename: "trips.txt", load: loadTrips},
		{filename: "stop_times.txt", load: loadStopTimes},
	}
}

// loadZip records every known table in the zip. Returns counts of loaded and
// failed tables; only opening the archive itself is a hard error.
func (l *Loader) loadZip(zipPath string) (int, int, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, 0, fmt.Errorf("unable to open feed zip %s, error: %w", zipPath, err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			l.log.Printf("unable to close feed zip %s, error: %v", zipPath, err)
		}
	}()

	files := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files[filepath.Base(f.Name)] = f
	}

	loaded, failed := 0, 0
	for _, table := range tableLoads() {
		f, ok := files[table.filename]
		if !ok {
			l.log.Printf("feed zip is missing %s, skipping", table.filename)
			continue
		}
		rows, err := l.loadFile(f, table)
		if err != nil {
			l.log.Printf("unable to load %s, error: %v", table.filename, err)
			failed++
			continue
		}
		l.log.Printf("loaded %d rows from %s", rows, table.filename)
		loaded++
	}
	return loaded, failed, nil
}

func (l *Loader) loadFile(f *zip.File, table tableLoad) (int, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			l.log.Printf("unable to close %s, error: %v", table.filename, err)
		}
	}()
	return table.load(rc, l.db)
}

func loadStops(r io.Reader, db *sqlx.DB) (int, error) {
	stops, err := parseStops(r)
	if err != nil {
		return 0, err
	}
	return len(stops), transit.RecordStops(stops, db)
}

func loadRoutes(r io.Reader, db *sqlx.DB) (int, error) {
	routes, err := parseRoutes(r)
	if err != nil {
		return 0, err
	}
	return len(routes), transit.RecordRoutes(routes, db)
}

func loadTrips(r io.Reader, db *sqlx.DB) (int, error) {
	trips, err := parseTrips(r)
	if err != nil {
		return 0, err
	}
	return len(trips), transit.RecordTrips(trips, db)
}

func loadStopTimes(r io.Reader, db *sqlx.DB) (int, error) {
	stopTimes, err := parseStopTimes(r)
	if err != nil {
		return 0, err
	}
	return len(stopTimes), transit.RecordStopTimes(stopTimes, db)
}

func loadCalendars(r io.Reader, db *sqlx.DB) (int, error) {
	calendars, err := parseCalendars(r)
	if err != nil {
		return 0, err
	}
	return len(calendars), transit.RecordCalendars(calendars, db)
}

func loadCalendarDates(r io.Reader, db *sqlx.DB) (int, error) {
	dates, err := parseCalendarDates(r)
	if err != nil {
		return 0, err
	}
	return len(dates), transit.RecordCalendarDates(dates, db)
}

// The parse functions read one feed CSV through a BOM-stripping reader.
// Feeds in the wild prefix the header row with a UTF-8 BOM often enough
// that every file goes through the same reader.

func parseStops(r io.Reader) ([]*transit.Stop, error) {
	stops := make([]*transit.Stop, 0)
	if err := gocsv.Unmarshal(bom.NewReader(r), &stops); err != nil {
		return nil, fmt.Errorf("unable to parse stops, error: %w", err)
	}
	return stops, nil
}

func parseRoutes(r io.Reader) ([]*transit.Route, error) {
	routes := make([]*transit.Route, 0)
	if err := gocsv.Unmarshal(bom.NewReader(r), &routes); err != nil {
		return nil, fmt.Errorf("unable to parse routes, error: %w", err)
	}
	return routes, nil
}

func parseTrips(r io.Reader) ([]*transit.Trip, error) {
	trips := make([]*transit.Trip, 0)
	if err := gocsv.Unmarshal(bom.NewReader(r), &trips); err != nil {
		return nil, fmt.Errorf("unable to parse trips, error: %w", err)
	}
	return trips, nil
}

func parseStopTimes(r io.Reader) ([]*transit.StopTime, error) {
	stopTimes := make([]*transit.StopTime, 0)
	if err := gocsv.Unmarshal(bom.NewReader(r), &stopTimes); err != nil {
		return nil, fmt.Errorf("unable to parse stop times, error: %w", err)
	}
	return stopTimes, nil
}

func parseCalendars(r io.Reader) ([]*transit.Calendar, error) {
	calendars := make([]*transit.Calendar, 0)
	if err := gocsv.Unmarshal(bom.NewReader(r), &calendars); err != nil {
		return nil, fmt.Errorf("unable to parse calendar, error: %w", err)
	}
	return calendars, nil
}

func parseCalendarDates(r io.Reader) ([]*transit.CalendarDate, error) {
	dates := make([]*transit.CalendarDate, 0)
	if err := gocsv.Unmarshal(bom.NewReader(r), &dates); err != nil {
		return nil, fmt.Errorf("unable to parse calendar dates, error: %w", err)
	}
	return dates, nil
}

// readLastModified returns the remembered Last-Modified header, or empty
// when no state file exists yet.
func readLastModified(statePath string) string {
	raw, err := os.ReadFile(statePath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func writeLastModified(log *logger.Logger, statePath string, lastModified string) {
	if lastModified == "" {
		return
	}
	if err := os.WriteFile(statePath, []byte(lastModified), 0644); err != nil {
		log.Printf("unable to write feed state file %s, error: %v", statePath, err)
	}
}
