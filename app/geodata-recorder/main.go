package main

import (
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/app/geodata-recorder/recorder"
	"github.com/UrbanOSLabs/mobilitycast/foundation/database"
	"github.com/UrbanOSLabs/mobilitycast/foundation/mqttconn"
	"github.com/ardanlabs/conf"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "GEODATA_RECORDER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
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
		MQTT struct {
			Broker string `conf:"default:0.0.0.0"`
			Port   int    `conf:"default:1883"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Record client session telemetry from the broker into the database"
	const prefix = "RECORDER"
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
	// Start Broker

	log.Println("main: Initializing broker support")

	conn, err := mqttconn.Connect(log, mqttconn.Config{
		Broker:         cfg.MQTT.Broker,
		Port:           cfg.MQTT.Port,
		ClientIDPrefix: "geodata-recorder",
	})
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer conn.Close()

	rec := recorder.New(log, db)
	if err := conn.Subscribe(recorder.TopicTemplate, 1, rec.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to telemetry: %w", err)
	}
	log.Printf("main: subscribed to %s", recorder.TopicTemplate)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown
	log.Println("main: shutdown signal received")
	return nil
}
