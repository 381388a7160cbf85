package main

import (
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/app/gtfs-monitor/monitor"
	"github.com/UrbanOSLabs/mobilitycast/foundation/database"
	"github.com/ardanlabs/conf"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "GTFS_MONITOR : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args conf.Args
		DB   struct {
			User       string `conf:"default:postgres"`
			Password   string `conf:"default:postgres,noprint"`
			Host       string `conf:"default:0.0.0.0"`
			Port       string `conf:"default:5432"`
			Name       string `conf:"default:postgres"`
			DisableTLS bool   `conf:"default:true"`
		}
		GTFS struct {
			// URL is the realtime feed base; the three feed names are
			// appended to it.
			URL   string `conf:"default:https://opendata.samtrafiken.se/gtfs-rt/sl"`
			RTKey string `conf:"noprint"`
		}
		PollSeconds int `conf:"default:60"`
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Poll GTFS-realtime feeds into the live transit tables"
	const prefix = "MONITOR"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	// =========================================================================
	// Start Database

	log.Println("main: Initializing database support")

	db, err := database.OpenWithRetry(log, database.Config{
		User:       cfg.DB.User,
		Password:   cfg.DB.Password,
		Host:       cfg.DB.Host,
		Port:       cfg.DB.Port,
		Name:       cfg.DB.Name,
		DisableTLS: cfg.DB.DisableTLS,
	}, 5, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Printf("main: Database Stopping : %s", cfg.DB.Host)
		if err := db.Close(); err != nil {
			log.Printf("main: error closing database: %v", err)
		}
	}()

	mon := monitor.New(log, db)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	return mon.Run(monitor.Config{
		Feeds: monitor.FeedURLs{
			VehiclePositions: feedURL(cfg.GTFS.URL, "VehiclePositions.pb", cfg.GTFS.RTKey),
			TripUpdates:      feedURL(cfg.GTFS.URL, "TripUpdates.pb", cfg.GTFS.RTKey),
			ServiceAlerts:    feedURL(cfg.GTFS.URL, "ServiceAlerts.pb", cfg.GTFS.RTKey),
		},
		Poll: time.Duration(cfg.PollSeconds) * time.Second,
	}, shutdown)
}

// feedURL joins the feed base with one feed file and its access key.
func feedURL(base string, feed string, key string) string {
	url := strings.TrimRight(base, "/") + "/" + feed
	if key != "" {
		url += "?key=" + key
	}
	return url
}
