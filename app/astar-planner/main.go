package main

import (
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/app/astar-planner/planner"
	"github.com/UrbanOSLabs/mobilitycast/business/routing"
	"github.com/UrbanOSLabs/mobilitycast/foundation/database"
	"github.com/ardanlabs/conf"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "ASTAR_PLANNER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
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
		OverpassEndpoint   string `conf:"default:https://overpass-api.de/api/interpreter"`
		GraphCacheDir      string `conf:"default:/tmp/roadgraphs"`
		InitialWaitSeconds int    `conf:"default:60"`
		SleepSeconds       int    `conf:"default:10"`
		ErrorSleepSeconds  int    `conf:"default:30"`
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Plan walking routes from client locations to POI and stop targets"
	const prefix = "ASTAR"
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

	source := routing.NewGraphSource(log, cfg.OverpassEndpoint, cfg.GraphCacheDir)
	p := planner.New(log, db, source)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	return p.Run(planner.Config{
		InitialWait: time.Duration(cfg.InitialWaitSeconds) * time.Second,
		Sleep:       time.Duration(cfg.SleepSeconds) * time.Second,
		ErrorSleep:  time.Duration(cfg.ErrorSleepSeconds) * time.Second,
	}, shutdown)
}
