package main

import (
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/app/gtfs-loader/staticgtfs"
	"github.com/UrbanOSLabs/mobilitycast/foundation/database"
	"github.com/ardanlabs/conf"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "GTFS_LOADER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
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
			// URL may carry a {key} placeholder filled from StaticKey.
			URL       string `conf:"default:https://transport.example.com/gtfs/static.zip"`
			StaticKey string `conf:"noprint"`
			// StaticRefresh is the loop interval, or "false" to load once.
			StaticRefresh string `conf:"default:26h"`
		}
		StatePath   string `conf:"default:/tmp/gtfs/last_modified.txt"`
		DownloadDir string `conf:"default:/tmp/gtfs"`
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Load the static GTFS feed into the gtfs_* tables"
	const prefix = "LOADER"
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

	refresh := time.Duration(0)
	if !strings.EqualFold(cfg.GTFS.StaticRefresh, "false") {
		refresh, err = time.ParseDuration(cfg.GTFS.StaticRefresh)
		if err != nil {
			return fmt.Errorf("parsing refresh interval %q: %w", cfg.GTFS.StaticRefresh, err)
		}
	}

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

	loader := staticgtfs.New(log, db)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	return loader.Run(staticgtfs.Config{
		FeedURL:     strings.ReplaceAll(cfg.GTFS.URL, "{key}", cfg.GTFS.StaticKey),
		StatePath:   cfg.StatePath,
		DownloadDir: cfg.DownloadDir,
		Refresh:     refresh,
	}, shutdown)
}
