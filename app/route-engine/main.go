package main

import (
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/app/route-engine/engine"
	"github.com/UrbanOSLabs/mobilitycast/business/mlmodel"
	"github.com/UrbanOSLabs/mobilitycast/foundation/database"
	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
	"github.com/ardanlabs/conf"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "ROUTE_ENGINE : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
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
		InitialWaitSeconds  int           `conf:"default:24"`
		PlannerSleepSeconds int           `conf:"default:300"`
		RerouteTickSeconds  int           `conf:"default:5"`
		ThreadJoinTimeout   time.Duration `conf:"default:15s"`
		WorkerPoolSize      int           `conf:"default:8"`
		ModelDir            string        `conf:"default:/app/saved_models"`
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Plan, score and continuously revise the advised route per client"
	const prefix = "ROUTING"
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

	// =========================================================================
	// Load Model

	// A missing model is not fatal: the engine routes every decision
	// through the distance heuristic until artifacts appear.
	eng := engine.New(log, db, nil)
	model, err := mlmodel.Load(log, cfg.ModelDir)
	switch {
	case err == nil:
		eng = engine.New(log, db, model)
	case fault.KindOf(err) == fault.DataMissing || fault.KindOf(err) == fault.Malformed:
		log.Printf("main: running without scoring model: %v", err)
	default:
		return fmt.Errorf("loading model artifacts: %w", err)
	}

	engineCfg := engine.Config{
		InitialWait:    time.Duration(cfg.InitialWaitSeconds) * time.Second,
		PlannerSleep:   time.Duration(cfg.PlannerSleepSeconds) * time.Second,
		RerouteTick:    time.Duration(cfg.RerouteTickSeconds) * time.Second,
		JoinTimeout:    cfg.ThreadJoinTimeout,
		WorkerPoolSize: cfg.WorkerPoolSize,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Both loops share the shutdown channel. Forward the signal to each so
	// neither loop swallows it for the other.
	plannerShutdown := make(chan os.Signal, 1)
	rerouteShutdown := make(chan os.Signal, 1)
	go func() {
		sig := <-shutdown
		plannerShutdown <- sig
		rerouteShutdown <- sig
	}()

	errs := make(chan error, 2)
	go func() {
		errs <- eng.RunPlannerLoop(engineCfg, plannerShutdown)
	}()
	go func() {
		errs <- eng.RunRerouteLoop(engineCfg, rerouteShutdown)
	}()

	if err := <-errs; err != nil {
		return err
	}
	return <-errs
}
